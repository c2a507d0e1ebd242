package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
)

// FanoutBroadcaster relays feed envelopes through a fanout exchange.
// Every instance binds its own exclusive queue, so each one sees every
// event once.  It implements feed.Broadcaster.
type FanoutBroadcaster struct {
	url      string
	exchange string
	log      *slog.Logger
	s        *session
}

// NewFanoutBroadcaster returns a broadcaster on the named exchange.
func NewFanoutBroadcaster(url, exchange string, log *slog.Logger) *FanoutBroadcaster {
	declare := func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil)
	}
	return &FanoutBroadcaster{
		url:      url,
		exchange: exchange,
		log:      log,
		s:        &session{url: url, setup: declare},
	}
}

// Broadcast publishes env.  Relay messages are transient: peers recover
// anything lost from the event log.
func (b *FanoutBroadcaster) Broadcast(ctx context.Context, env feed.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.s.publish(ctx, b.exchange, "", amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Listen consumes the exchange until ctx is done, reconnecting as needed.
func (b *FanoutBroadcaster) Listen(ctx context.Context, handle func(feed.Envelope)) error {
	for {
		conn, err := dial(ctx, b.url, "feed-relay", b.log)
		if err != nil {
			return nil
		}
		err = b.listen(ctx, conn, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("feed relay: listen loop ended, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *FanoutBroadcaster) listen(ctx context.Context, conn *amqp.Connection, handle func(feed.Envelope)) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	b.log.Info("feed relay subscribed", "transport", "amqp", "exchange", b.exchange, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var env feed.Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.log.Warn("feed relay: bad envelope", "error", err)
				continue
			}
			handle(env)
		}
	}
}

// Close releases the publishing connection.
func (b *FanoutBroadcaster) Close() error { return b.s.Close() }
