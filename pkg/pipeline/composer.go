package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/roboricindustries/caseflow/pkg/container"
	"github.com/roboricindustries/caseflow/pkg/schemas/common"
)

// ErrNoDelivery is returned for messages without a settle handle.
var ErrNoDelivery = errors.New("pipeline: message has no delivery")

// DefaultReplyTimeout bounds one reply when no timeout is configured.
const DefaultReplyTimeout = 30 * time.Second

// Composer builds reply envelopes and hands them to the message's delivery.
type Composer struct {
	producer string
	timeout  time.Duration
	now      func() time.Time
}

func NewComposer(producer string, timeout time.Duration) *Composer {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Composer{producer: producer, timeout: timeout, now: time.Now}
}

// Reply sends exactly one reply correlated with msg. It does not acknowledge
// msg; a transport error or timeout is returned as is.
func (c *Composer) Reply(ctx context.Context, msg InboundMessage, spec ReplySpec) (common.SentReply, error) {
	if msg.Delivery == nil {
		return common.SentReply{}, ErrNoDelivery
	}
	if spec.Type == "" {
		return common.SentReply{}, errors.New("pipeline: reply without type")
	}

	env := common.Envelope{
		Meta: common.Meta{
			ID:            uuid.NewString(),
			CorrelationID: msg.ID,
			Time:          c.now().UTC(),
			Type:          spec.Type,
		},
	}
	if c.producer != "" {
		producer := c.producer
		env.Meta.Producer = &producer
	}
	if spec.Attachment != nil {
		body, err := container.Pack(container.File{
			Name:     spec.Attachment.Name,
			MimeType: attachmentType(spec.Attachment.Name),
			Data:     []byte(spec.Attachment.Text),
		})
		if err != nil {
			return common.SentReply{}, fmt.Errorf("pipeline: pack attachment: %w", err)
		}
		env.ContentType = container.MimeType
		env.Body = body
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := msg.Delivery.Reply(ctx, env); err != nil {
		return common.SentReply{}, fmt.Errorf("pipeline: send %s: %w", spec.Type, err)
	}
	return common.SentReply{ID: env.Meta.ID, Type: spec.Type}, nil
}

// Ack acknowledges msg after its reply was sent.
func (c *Composer) Ack(msg InboundMessage) error {
	if msg.Delivery == nil {
		return ErrNoDelivery
	}
	if err := msg.Delivery.Ack(); err != nil {
		return fmt.Errorf("pipeline: ack %s: %w", msg.ID, err)
	}
	return nil
}

func attachmentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return ""
}
