// Package notify forwards chat notifications to a RabbitMQ queue so that
// off-site staff tooling can pick them up.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Envelope is the body of every published message.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

type AMQP struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

// Dial connects and declares the durable queue with its dead letter queue.
func Dial(url, queue string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp.Dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("Channel: %w", err)
	}

	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("QueueDeclare(%s): %w", dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("QueueDeclare(%s): %w", queue, err)
	}

	a := newAMQP(ch, queue)
	a.conn = conn
	return a, nil
}

func newAMQP(ch channel, queue string) *AMQP {
	return &AMQP{ch: ch, queue: queue, now: time.Now}
}

// Publish sends payload as a persistent JSON message. The message id is a
// ULID, so consumers can order and deduplicate deliveries.
func (a *AMQP) Publish(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s): %w", kind, err)
	}

	now := a.now()
	env := Envelope{ID: ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(), Kind: kind, SentAt: now, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("json.Marshal(envelope): %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         kind,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
