package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Consumer model (generic, supervised)
// -----------------------------------------------------------------------------

// RetrySpec configures the DLX-based retry pipeline.
type RetrySpec struct {
	Enabled     bool
	TTL         time.Duration
	MaxAttempts int

	DeadExchange  string
	DeadQueue     string
	FinalExchange string
	FinalQueue    string
}

// ConsumerSpec defines a single consumer.
type ConsumerSpec struct {
	Name         string
	Exchange     string // main exchange to bind
	ExchangeKind string // kind of exchange default: topic
	Queue        string
	BindingKey   string // routing key for main bind & requeue
	Prefetch     int    // 0 => use global default
	Retry        *RetrySpec

	// If true, poison messages are published to final DLQ then Acked.
	// If false, poison messages are just Acked (no copy kept).
	PoisonToFinal bool

	// Sink receives every delivery that passed the attempt and identity
	// checks. The receiver owns settling it.
	Sink chan<- *Delivery
}

// ErrPoison indicates non-retriable "bad content", e.g. a message that
// cannot be correlated with a reply.
var ErrPoison = errors.New("poison message")

func (s ConsumerSpec) retryEnabled() bool { return s.Retry != nil && s.Retry.Enabled }

func (c *Client) RunWithConsumers(ctx context.Context, specs ...ConsumerSpec) error {
	c.consumerClosed = make(chan string, len(specs)*2)
	c.consumerSpecs = make(map[string]ConsumerSpec, len(specs))

	for _, s := range specs {
		if s.Sink == nil {
			return fmt.Errorf("start %s: consumer has no sink", s.Name)
		}
		c.consumerSpecs[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("start %s: %w", s.Name, err)
		}
	}

	conn, _ := c.current()
	errCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	base := Dsec(c.config.ReconnectBackoffBaseSeconds, 1)
	capd := Dsec(c.config.ReconnectBackoffCapSeconds, 30)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.consumerClosed:
			if s, ok := c.consumerSpecs[name]; ok {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer failed", slog.String("name", name), slog.Any("error", err))
				}
			}

		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			c.logger.Error("amqp connection closed, reconnecting", slog.Any("error", err))

			backoff := base
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if rerr := c.reconnect(ctx); rerr != nil {
					wait := JitteredDelay(backoff, capd, c.config.ReconnectJitterPercent)
					c.logger.Error("reconnect failed", slog.Any("error", rerr), slog.Duration("retry_in", wait))
					if !sleepCtx(ctx, wait) {
						return ctx.Err()
					}
					if backoff*2 < capd {
						backoff *= 2
					}
					continue
				}

				// success → restart all consumers on new conn
				for _, s := range c.consumerSpecs {
					if err := c.startConsumer(ctx, s); err != nil {
						c.logger.Error("restart consumer after reconnect failed", slog.String("name", s.Name), slog.Any("error", err))
					}
				}
				conn, _ = c.current()
				errCh = conn.NotifyClose(make(chan *amqp.Error, 1))
				break
			}
		}
	}
}

// startConsumer declares the per-consumer topology and runs the loop.
func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	conn, _ := c.current()
	if conn == nil || conn.IsClosed() {
		return ErrConnClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	pf := spec.Prefetch
	if pf <= 0 {
		pf = c.config.ConsumerPrefetch
		if pf <= 0 {
			pf = 1
		}
	}
	if err := ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}

	if err := c.declareConsumerTopology(ch, spec); err != nil {
		_ = ch.Close()
		return err
	}

	msgs, err := ch.Consume(spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	finalEx := FirstNonEmpty(TryFinalEx(spec), spec.Queue+".final")
	toFinal := func(d amqp.Delivery) error { return PublishFinal(ch, finalEx, d) }

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return

			case <-closeCh:
				// best-effort drain pending deliveries to requeue faster
				for {
					select {
					case d, ok := <-msgs:
						if !ok {
							goto drained
						}
						_ = d.Nack(false, true)
					default:
						goto drained
					}
				}
			drained:
				select {
				case c.consumerClosed <- spec.Name:
				default:
				}
				_ = ch.Close()
				return

			case d, ok := <-msgs:
				if !ok {
					_ = ch.Close()
					return
				}

				// Check max attempts for main queue (if retry enabled)
				if spec.retryEnabled() && spec.Retry.MaxAttempts > 0 {
					if DeathCount(d, spec.Queue) >= spec.Retry.MaxAttempts {
						c.logger.Warn("retries exhausted",
							slog.String("consumer", spec.Name),
							slog.String("message_id", d.MessageId),
							slog.String("type", d.Type),
						)
						_ = toFinal(d)
						_ = d.Ack(false)
						c.config.Metrics.delivered(spec.Name, "exhausted")
						continue
					}
				}

				del := c.newDelivery(spec, d, toFinal)

				// A reply cannot be correlated without a message id.
				if d.MessageId == "" {
					c.logger.Warn("delivery without message id", slog.String("consumer", spec.Name), slog.String("type", del.Type()))
					_ = del.Defer(ErrPoison)
					continue
				}

				select {
				case spec.Sink <- del:
					c.config.Metrics.delivered(spec.Name, "forwarded")
				case <-ctx.Done():
					_ = d.Nack(false, true)
					_ = ch.Close()
					return
				}
			}
		}
	}()

	c.logger.Info("consumer started", slog.String("name", spec.Name), slog.String("queue", spec.Queue), slog.Int("prefetch", pf))
	return nil
}

func (c *Client) newDelivery(spec ConsumerSpec, d amqp.Delivery, toFinal func(amqp.Delivery) error) *Delivery {
	del := &Delivery{
		raw:           d,
		pub:           c,
		consumer:      spec.Name,
		replyExchange: c.config.DefaultReplyExchange,
		replyKey:      c.config.DefaultReplyRoutingKey,
		retry:         spec.retryEnabled(),
		metrics:       c.config.Metrics,
	}
	if spec.PoisonToFinal {
		del.final = toFinal
	}
	return del
}

// declareConsumerTopology declares main queue/bind, DLX/TTL queue, and final queue.
func (c *Client) declareConsumerTopology(ch *amqp.Channel, s ConsumerSpec) error {
	exKind := s.ExchangeKind
	if exKind == "" {
		exKind = "topic"
	}
	if err := ch.ExchangeDeclare(s.Exchange, exKind, true, false, false, false, nil); err != nil {
		return err
	}
	// Main queue (optionally DLX to deadEx)
	mainArgs := amqp.Table{}
	if s.retryEnabled() {
		mainArgs["x-dead-letter-exchange"] = FirstNonEmpty(s.Retry.DeadExchange, s.Queue+".dead")
	}
	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, mainArgs); err != nil {
		return err
	}
	if err := ch.QueueBind(s.Queue, s.BindingKey, s.Exchange, false, nil); err != nil {
		return err
	}

	needFinal := s.retryEnabled() || s.PoisonToFinal

	// DLX/TTL retry stage
	if s.retryEnabled() {
		deadEx := FirstNonEmpty(s.Retry.DeadExchange, s.Queue+".dead")
		deadQ := FirstNonEmpty(s.Retry.DeadQueue, s.Queue+".dead")
		if err := ch.ExchangeDeclare(deadEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(deadQ, true, false, false, false, retryQueueArgs(s)); err != nil {
			return err
		}
		if err := ch.QueueBind(deadQ, "", deadEx, false, nil); err != nil {
			return err
		}
	}

	// Final DLQ (for exhausted retries and/or poison)
	if needFinal {
		finalEx := FirstNonEmpty(TryFinalEx(s), s.Queue+".final")
		finalQ := FirstNonEmpty(TryFinalQ(s), s.Queue+".final")
		if err := ch.ExchangeDeclare(finalEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(finalQ, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(finalQ, "", finalEx, false, nil); err != nil {
			return err
		}
	}

	return nil
}

// retryQueueArgs routes expired messages back to the main exchange.
func retryQueueArgs(s ConsumerSpec) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             int32(s.Retry.TTL / time.Millisecond),
		"x-dead-letter-exchange":    s.Exchange,
		"x-dead-letter-routing-key": s.BindingKey,
	}
}

// Reconnect the whole stack and re-declare exchanges.
func (c *Client) reconnect(ctx context.Context) error {
	const op = "rabbitmq.reconnect"

	oldConn, oldPool := c.current()
	if oldPool != nil {
		oldPool.Close()
	}
	if oldConn != nil && !oldConn.IsClosed() {
		_ = oldConn.Close()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	tempCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := c.setupExchanges(tempCh); err != nil {
		tempCh.Close()
		conn.Close()
		return fmt.Errorf("declare exchanges: %w", err)
	}
	tempCh.Close()

	pool, err := NewChannelPool(conn, c.config.PublishPoolSize)
	if err != nil {
		conn.Close()
		return fmt.Errorf("new pool: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pool = pool
	c.mu.Unlock()

	c.config.Metrics.reconnected()
	c.logger.With("op", op).Info("reconnected")
	return nil
}
