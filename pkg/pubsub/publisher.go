package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/caseflow/pkg/schemas/common"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("publish not confirmed by broker")

// Publish sends env and waits for the broker confirm or ctx, whichever
// comes first. The envelope metadata travels as AMQP properties; Body is sent
// as is.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, env common.Envelope) error {
	if env.Meta.ID == "" {
		return fmt.Errorf("envelope.Meta.ID is required")
	}
	if env.Meta.Type == "" {
		return fmt.Errorf("envelope.Meta.Type is required")
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}

	_, pool := c.current()
	if pool == nil {
		return ErrConnClosed
	}
	ch, err := pool.Borrow(ctx, c.config.PoolRetryDelayMs)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, c.publishing(env))
	if err != nil {
		pool.Discard(ch)
		c.config.Metrics.published("error")
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		// The confirm may still arrive; the channel cannot be reused safely.
		pool.Discard(ch)
		c.config.Metrics.published("timeout")
		return fmt.Errorf("await confirm %s: %w", env.Meta.Type, err)
	}
	pool.Return(ch)
	if !ok {
		c.config.Metrics.published("nack")
		return fmt.Errorf("publish %s: %w", env.Meta.Type, ErrNacked)
	}
	c.config.Metrics.published("ack")
	return nil
}

func (c *Client) publishing(env common.Envelope) amqp.Publishing {
	p := amqp.Publishing{
		ContentType:   env.ContentType,
		Body:          env.Body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         c.config.Producer,
		Headers:       amqp.Table{typeHeader: env.Meta.Type},
	}
	if env.Meta.Producer != nil {
		p.AppId = *env.Meta.Producer
	}
	return p
}
