package pubsub

import (
	"context"
	"crypto/tls"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig defines client config and topology defaults
type RabbitMQConfig struct {
	URL string
	// TLS is used for amqps URLs. Nil means the library defaults.
	TLS                         *tls.Config
	Producer                    string
	PublishPoolSize             int
	ConsumerPrefetch            int
	ConnTimeoutSeconds          int
	PoolRetryDelayMs            int
	DialAttempts                int
	DialDelay                   time.Duration
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int
	Dialer                      func(ctx context.Context, url string) (*amqp.Connection, error)
	Metrics                     *Metrics

	// Replies without a reply-to address go here.
	DefaultReplyExchange   string
	DefaultReplyRoutingKey string
}
