package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// AlertPublisher sends operational alerts to a durable queue.  It
// implements payment.Alerter.
type AlertPublisher struct {
	queue string
	s     *session
}

// NewAlertPublisher returns a publisher for the named queue.  Nothing is
// dialled until the first alert.
func NewAlertPublisher(url, queue string) *AlertPublisher {
	return &AlertPublisher{
		queue: queue,
		s: &session{url: url, setup: func(ch *amqp.Channel) error {
			// Durable so alerts survive broker restarts.
			_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
			return err
		}},
	}
}

// Alert publishes a to the queue as a persistent JSON message.
func (p *AlertPublisher) Alert(ctx context.Context, a model.OpsAlert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.s.publish(ctx, "", p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(a.Kind),
		Body:         body,
	})
}

// Close releases the broker connection.
func (p *AlertPublisher) Close() error { return p.s.Close() }
