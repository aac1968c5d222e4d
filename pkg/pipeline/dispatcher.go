package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roboricindustries/caseflow/pkg/container"
	"github.com/roboricindustries/caseflow/pkg/schema"
)

// ErrUnhandledType is the reason given when an unclaimed message is deferred.
var ErrUnhandledType = errors.New("pipeline: unhandled message type")

// Validator checks payload text against a named schema.
type Validator interface {
	Validate(text string, ref schema.Ref) schema.Result
	Has(ref schema.Ref) bool
	Require(refs ...schema.Ref) error
}

// Dispatcher routes inbound messages to their handler and settles them.
// Registry and validator are read-only, so Dispatch may run concurrently.
type Dispatcher struct {
	registry  *Registry
	catalog   Catalog
	validator Validator
	results   ResultSource
	composer  *Composer

	log                 *slog.Logger
	metrics             *Metrics
	rejectInvalidDigest bool
	maxContainerBytes   int64
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRejectInvalidDigest answers containers whose manifest digests do not
// match with an invalid request reply instead of only logging them.
func WithRejectInvalidDigest(reject bool) Option {
	return func(d *Dispatcher) { d.rejectInvalidDigest = reject }
}

func WithMaxContainerBytes(n int64) Option {
	return func(d *Dispatcher) { d.maxContainerBytes = n }
}

func New(registry *Registry, validator Validator, results ResultSource, composer *Composer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:          registry,
		catalog:           registry.Catalog(),
		validator:         validator,
		results:           results,
		composer:          composer,
		log:               slog.Default(),
		maxContainerBytes: container.DefaultLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "dispatcher")
	return d
}

// Dispatch handles one message. A matched message gets exactly one reply and
// is then acknowledged. An unmatched one is logged and left untouched. When an
// error is returned the message was not acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) (Outcome, error) {
	start := time.Now()
	if msg.Delivery == nil {
		return OutcomeFailed, ErrNoDelivery
	}

	route, ok := d.registry.Lookup(msg.Type)
	if !ok {
		d.log.Warn("unhandled message type",
			slog.String("type", msg.Type),
			slog.String("message_id", msg.ID),
		)
		d.metrics.observe("unknown", OutcomeUnclaimed, start)
		return OutcomeUnclaimed, nil
	}

	log := d.log.With(
		slog.String("message_id", msg.ID),
		slog.String("type", msg.Type),
		slog.String("kind", route.Kind.String()),
	)
	log.Info("message received",
		slog.Bool("has_payload", msg.HasPayload),
		slog.Bool("redelivered", msg.Redelivered),
	)

	spec, err := d.handle(ctx, route, msg, log)
	if err != nil {
		d.metrics.observe(route.Kind.String(), OutcomeFailed, start)
		return OutcomeFailed, fmt.Errorf("pipeline: handle %s: %w", route.Kind, err)
	}
	if spec.Type == d.catalog.InvalidRequestType {
		d.metrics.rejected(route.Kind)
	}

	sent, err := d.composer.Reply(ctx, msg, spec)
	if err != nil {
		d.metrics.observe(route.Kind.String(), OutcomeFailed, start)
		return OutcomeFailed, err
	}
	d.metrics.replied(sent.Type)

	if err := d.composer.Ack(msg); err != nil {
		d.metrics.observe(route.Kind.String(), OutcomeFailed, start)
		return OutcomeFailed, err
	}

	log.Info("message handled",
		slog.String("reply_id", sent.ID),
		slog.String("reply_type", sent.Type),
	)
	d.metrics.observe(route.Kind.String(), OutcomeReplied, start)
	return OutcomeReplied, nil
}

// Run dispatches messages from in one at a time until in is closed or ctx is
// done. Messages that fail or stay unclaimed are deferred.
func (d *Dispatcher) Run(ctx context.Context, in <-chan InboundMessage) error {
	d.log.Info("dispatcher started")
	defer d.log.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.process(ctx, msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, msg InboundMessage) {
	outcome, err := d.Dispatch(ctx, msg)
	switch {
	case err != nil:
		d.log.Error("dispatch failed",
			slog.String("message_id", msg.ID),
			slog.String("type", msg.Type),
			slog.Any("error", err),
		)
		d.deferMessage(msg, err)
	case outcome == OutcomeUnclaimed:
		d.deferMessage(msg, ErrUnhandledType)
	}
}

func (d *Dispatcher) deferMessage(msg InboundMessage, reason error) {
	if msg.Delivery == nil {
		return
	}
	if err := msg.Delivery.Defer(reason); err != nil {
		d.log.Error("defer failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}
}
