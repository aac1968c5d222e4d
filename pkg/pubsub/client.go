package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type Client struct {
	mu     sync.RWMutex
	conn   *amqp.Connection
	pool   *ChannelPool
	config RabbitMQConfig
	logger *slog.Logger

	consumerWG     sync.WaitGroup
	consumerClosed chan string
	consumerSpecs  map[string]ConsumerSpec
}

func NewClient(ctx context.Context, config RabbitMQConfig, logger *slog.Logger) (*Client, error) {
	const op = "rabbitmq.NewClient"

	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, _ := url.Parse(config.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host), slog.Bool("tls", config.TLS != nil))

	// Dial (amqp library has no ctx; we just enforce a time boundary)
	timeoutSec := config.ConnTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client := &Client{
		config: config,
		logger: logger,
	}
	conn, err := client.dial(dialCtx)
	if err != nil {
		logger.With("op", op).Error("dial failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	client.conn = conn

	// Declare exchanges once on a throwaway channel
	tempCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := client.setupExchanges(tempCh); err != nil {
		tempCh.Close()
		client.Close()
		return nil, err
	}
	_ = tempCh.Close()

	pool, err := NewChannelPool(conn, config.PublishPoolSize)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create channel pool: %w", err)
	}
	client.pool = pool

	logger.With("op", op).Info("client ready")
	return client, nil
}

func (c *Client) dial(ctx context.Context) (*amqp.Connection, error) {
	if c.config.Dialer != nil {
		return c.config.Dialer(ctx, c.config.URL)
	}
	return DialWithRetry(ctx, ConnectionOptions{
		URL:           c.config.URL,
		TLS:           c.config.TLS,
		RetryAttempts: c.config.DialAttempts,
		Delay:         c.config.DialDelay,
		Logger:        c.logger,
	})
}

// setupExchanges declares only exchanges here.
// Queues/bindings are per-consumer (so they can carry DLX/TTL args).
func (c *Client) setupExchanges(ch *amqp.Channel) error {
	declare := func(ex string) error {
		if ex == "" {
			return nil
		}
		return ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil)
	}
	if err := declare(c.config.DefaultReplyExchange); err != nil {
		return fmt.Errorf("declare reply exchange: %w", err)
	}
	return nil
}

// Ready reports whether the connection is open.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) current() (*amqp.Connection, *ChannelPool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.pool
}

// Close stops consumers, closes pool and connection.
func (c *Client) Close() {
	done := make(chan struct{})
	go func() {
		c.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	conn, pool := c.current()
	if pool != nil {
		pool.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
