package pubsub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/caseflow/pkg/schemas/common"
)

// typeHeader carries the message type for producers that do not set the
// AMQP type property.
const typeHeader = "type"

var (
	// ErrAlreadySettled is returned by a second Ack or Defer.
	ErrAlreadySettled = errors.New("delivery already settled")
	// ErrNoReplyRoute is returned when neither reply-to nor a default reply
	// routing key is known.
	ErrNoReplyRoute = errors.New("no reply route for delivery")
)

type replyPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, env common.Envelope) error
}

// Delivery is one consumed message together with the means to answer and
// settle it. It is settled at most once.
type Delivery struct {
	raw      amqp.Delivery
	pub      replyPublisher
	consumer string

	replyExchange string
	replyKey      string
	retry         bool
	final         func(amqp.Delivery) error
	metrics       *Metrics

	settled atomic.Bool
}

func (d *Delivery) ID() string { return d.raw.MessageId }

// Type returns the AMQP type property, falling back to the "type" header.
func (d *Delivery) Type() string {
	if d.raw.Type != "" {
		return d.raw.Type
	}
	if v, ok := d.raw.Headers[typeHeader].(string); ok {
		return v
	}
	return ""
}

func (d *Delivery) HasPayload() bool { return len(d.raw.Body) > 0 }

// Open returns the message body. It stays valid until the delivery is settled.
func (d *Delivery) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(d.raw.Body)), nil
}

// Redelivered reports whether the broker delivered this message before.
func (d *Delivery) Redelivered() bool { return d.raw.Redelivered }

// Reply publishes env to the delivery's reply-to queue through the default
// exchange, or to the configured reply exchange and routing key.
func (d *Delivery) Reply(ctx context.Context, env common.Envelope) error {
	exchange, key := d.replyExchange, d.replyKey
	if d.raw.ReplyTo != "" {
		exchange, key = "", d.raw.ReplyTo
	}
	if key == "" {
		return ErrNoReplyRoute
	}
	return d.pub.Publish(ctx, exchange, key, env)
}

func (d *Delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	d.metrics.delivered(d.consumer, "ack")
	return d.raw.Ack(false)
}

// Defer returns the delivery to the broker without acknowledging it. With
// retry enabled it goes through the dead letter stage, otherwise it is
// requeued. ErrPoison reasons are copied to the final queue and dropped.
func (d *Delivery) Defer(reason error) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if errors.Is(reason, ErrPoison) {
		d.metrics.delivered(d.consumer, "poison")
		if d.final != nil {
			if err := d.final(d.raw); err != nil {
				_ = d.raw.Nack(false, true)
				return err
			}
			return d.raw.Ack(false)
		}
		return d.raw.Nack(false, false)
	}
	d.metrics.delivered(d.consumer, "deferred")
	return d.raw.Nack(false, !d.retry)
}
