package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Channel pool (confirm mode)
// -----------------------------------------------------------------------------

var (
	ErrPoolClosed = errors.New("channel pool closed")
	ErrConnClosed = errors.New("amqp connection closed")
)

const defaultPoolSize = 16

// ChannelPool keeps a bounded number of publisher channels alive. Every
// channel it hands out is in confirm mode.
// Invariant: len(permits) == total channels (idle + borrowed) <= capacity.
type ChannelPool struct {
	conn     *amqp.Connection
	pool     chan *amqp.Channel
	capacity int

	closed  atomic.Bool
	newChMu sync.Mutex
	permits chan struct{}
}

func NewChannelPool(conn *amqp.Connection, capacity int) (*ChannelPool, error) {
	if conn == nil {
		return nil, ErrConnClosed
	}
	if capacity <= 0 {
		capacity = defaultPoolSize
	}
	return &ChannelPool{
		conn:     conn,
		pool:     make(chan *amqp.Channel, capacity),
		capacity: capacity,
		permits:  make(chan struct{}, capacity),
	}, nil
}

func (cp *ChannelPool) Borrow(ctx context.Context, retryDelayMs int) (*amqp.Channel, error) {
	if cp.closed.Load() {
		return nil, ErrPoolClosed
	}
	delay := time.Duration(retryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ch, ok := <-cp.pool:
			if !ok {
				return nil, ErrPoolClosed
			}
			if cp.conn.IsClosed() || ch.IsClosed() {
				_ = SafeClose(ch)
				nch, err := cp.newChannelLocked()
				if err != nil {
					if !sleepCtx(ctx, delay) {
						return nil, ctx.Err()
					}
					continue
				}
				return nch, nil
			}
			return ch, nil

		default:
			if cp.conn.IsClosed() {
				return nil, ErrConnClosed
			}
			// try to grow by acquiring a permit
			select {
			case cp.permits <- struct{}{}:
				nch, err := cp.newChannelLocked()
				if err != nil {
					<-cp.permits
					if !sleepCtx(ctx, delay) {
						return nil, ctx.Err()
					}
					continue
				}
				return nch, nil

			case <-ctx.Done():
				return nil, ctx.Err()

			case <-time.After(delay):
				// retry to see if a channel was returned
			}
		}
	}
}

func (cp *ChannelPool) Return(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	if cp.closed.Load() || cp.conn.IsClosed() || ch.IsClosed() {
		_ = SafeClose(ch)
		// if it was borrowed (permit held), try to release a permit
		select {
		case <-cp.permits:
		default:
		}
		return
	}
	select {
	case cp.pool <- ch:
	default:
		// pool over capacity: close and release permit
		_ = SafeClose(ch)
		select {
		case <-cp.permits:
		default:
		}
	}
}

// Discard closes a borrowed channel that must not be reused, e.g. one with
// an unanswered confirm.
func (cp *ChannelPool) Discard(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	_ = SafeClose(ch)
	select {
	case <-cp.permits:
	default:
	}
}

func (cp *ChannelPool) Close() {
	if cp.closed.Swap(true) {
		return
	}
	close(cp.pool)
	for ch := range cp.pool {
		_ = SafeClose(ch)
		select {
		case <-cp.permits:
		default:
		}
	}
}

func (cp *ChannelPool) newChannelLocked() (*amqp.Channel, error) {
	cp.newChMu.Lock()
	defer cp.newChMu.Unlock()
	if cp.conn.IsClosed() {
		return nil, ErrConnClosed
	}
	ch, err := cp.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = SafeClose(ch)
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	return ch, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
