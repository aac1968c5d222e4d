package pipeline

import (
	"context"
	"io"

	"github.com/roboricindustries/caseflow/pkg/schemas/common"
)

// Delivery settles one inbound message on its transport.
type Delivery interface {
	// Reply publishes env and returns once the transport confirmed it.
	Reply(ctx context.Context, env common.Envelope) error
	// Ack marks the message handled. It must follow a successful reply.
	Ack() error
	// Defer hands the message back to the transport without acknowledging it.
	Defer(reason error) error
}

// InboundMessage is one request as seen by the dispatcher. It lives for a
// single dispatch.
type InboundMessage struct {
	ID          string
	Type        string
	HasPayload  bool
	Redelivered bool
	// Open returns the packed payload. Only valid during the dispatch.
	Open     func() (io.ReadCloser, error)
	Delivery Delivery
}

// Attachment is a named text document packed into a reply.
type Attachment struct {
	Name string
	Text string
}

// ReplySpec is what a handler decided to answer.
type ReplySpec struct {
	Type       string
	Attachment *Attachment
}

// Outcome is the result of one dispatch.
type Outcome int

const (
	// OutcomeReplied means one reply was sent and the message was acknowledged.
	OutcomeReplied Outcome = iota
	// OutcomeUnclaimed means no route matched; nothing was sent or acknowledged.
	OutcomeUnclaimed
	// OutcomeFailed means an infrastructure error left the message unacknowledged.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeUnclaimed:
		return "unclaimed"
	default:
		return "failed"
	}
}
