package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/obs"
)

func TestFormatAlert(t *testing.T) {
	line := FormatAlert(model.OpsAlert{
		Kind:             model.AlertPartialReconciliation,
		BookingID:        "b1",
		GatewayPaymentID: "pay_1",
		Status:           model.StatusCancelled,
		PaymentStatus:    model.PaymentRefunded,
		Reason:           "status advance after payment failed",
		At:               time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	want := `[2026-03-01T09:00:00Z] partial_reconciliation | booking_id=b1 | status=cancelled | payment_status=refunded | gateway_payment_id=pay_1 | reason="status advance after payment failed"` + "\n"
	if line != want {
		t.Fatalf("expected\n%s got\n%s", want, line)
	}
}

func TestConsumerHandleAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops", "reconciliation.log")
	c := &AlertConsumer{LogPath: path, Log: obs.Discard()}

	for _, id := range []string{"b1", "b2"} {
		body, _ := json.Marshal(model.OpsAlert{Kind: model.AlertRefundRequired, BookingID: id})
		if err := c.handle(body); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "booking_id=b2") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestConsumerHandleRejectsGarbage(t *testing.T) {
	c := &AlertConsumer{LogPath: filepath.Join(t.TempDir(), "x.log"), Log: obs.Discard()}
	if err := c.handle([]byte("{")); err == nil {
		t.Fatal("expected error for bad json")
	}
	if err := c.handle([]byte(`{"kind":"refund_required"}`)); err == nil {
		t.Fatal("expected error for missing booking id")
	}
}

// Set AMQP_TEST_URL to run against a real broker.
func TestFanoutRoundTrip(t *testing.T) {
	url := os.Getenv("AMQP_TEST_URL")
	if url == "" {
		t.Skip("AMQP_TEST_URL not set")
	}
	b := NewFanoutBroadcaster(url, "booking.events.test", obs.Discard())
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got := make(chan feed.Envelope, 1)
	go b.Listen(ctx, func(env feed.Envelope) { got <- env })
	time.Sleep(500 * time.Millisecond)

	if err := b.Broadcast(ctx, feed.Envelope{Origin: "a", Event: model.TransitionEvent{BookingID: "b1", Seq: 3}}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case env := <-got:
		if env.Event.Seq != 3 {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-ctx.Done():
		t.Fatal("no envelope received")
	}
}
