// Package queue carries the RabbitMQ side of the service: the fanout
// exchange that relays booking events between instances, and the durable
// queue operational alerts are published to and consumed from.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const maxBackoff = 30 * time.Second

// dial connects to url, retrying with exponential backoff until it
// succeeds or ctx is done.
func dial(ctx context.Context, url, name string, log *slog.Logger) (*amqp.Connection, error) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("broker dial failed", "component", name, "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// session is a lazily opened publishing channel.  A failed publish drops
// the connection so the next call dials again.
type session struct {
	url   string
	setup func(ch *amqp.Channel) error

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.resetLocked()
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if s.setup != nil {
		if err := s.setup(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}
	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *session) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		s.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (s *session) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.ch, s.conn = nil, nil
}

// Close releases the connection.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}
