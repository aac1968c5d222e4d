// Package service wires the broker consumer, the dispatcher and the probe
// listener into one supervised process.
package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/tomb.v2"

	"github.com/roboricindustries/caseflow/pkg/config"
	"github.com/roboricindustries/caseflow/pkg/pipeline"
	"github.com/roboricindustries/caseflow/pkg/pubsub"
	"github.com/roboricindustries/caseflow/pkg/schema"
	politisk "github.com/roboricindustries/caseflow/pkg/schemas/politisk/v1"
)

const shutdownTimeout = 10 * time.Second

// Run connects to the broker and processes messages until ctx is cancelled
// or one of the workers fails.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	const op = "service.Run"
	log := logger.With("op", op)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher, err := NewDispatcher(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client, err := pubsub.NewClient(ctx, rabbitConfig(cfg, pubsub.NewMetrics(reg)), logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer client.Close()

	deliveries := make(chan *pubsub.Delivery, cfg.AMQP.Prefetch)
	inbound := make(chan pipeline.InboundMessage, cfg.AMQP.Prefetch)
	spec := consumerSpec(cfg, deliveries)

	log.Info("subscribing",
		slog.String("account_id", cfg.Account.ID),
		slog.String("queue", spec.Queue),
		slog.String("binding_key", spec.BindingKey),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newHTTPHandler(client.Ready, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	t, tctx := tomb.WithContext(ctx)
	t.Go(func() error { return client.RunWithConsumers(tctx, spec) })
	t.Go(func() error { return forward(tctx, deliveries, inbound) })
	t.Go(func() error { return dispatcher.Run(tctx, inbound) })
	t.Go(func() error {
		log.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("stopped", slog.Any("error", err))
	return err
}

// NewDispatcher loads the schemas and result documents and builds a
// dispatcher over the default catalog. Missing documents fail here rather than
// per message.
func NewDispatcher(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*pipeline.Dispatcher, error) {
	schemas := politisk.Schemas()
	if cfg.Pipeline.SchemaDir != "" {
		schemas = os.DirFS(cfg.Pipeline.SchemaDir)
	}
	var results fs.FS = politisk.Results()
	if cfg.Pipeline.ResultDir != "" {
		results = os.DirFS(cfg.Pipeline.ResultDir)
	}

	validator, err := schema.Load(schemas, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("schemas loaded", slog.Any("refs", validator.Refs()))
	registry, err := pipeline.NewRegistry(pipeline.DefaultCatalog())
	if err != nil {
		return nil, err
	}
	source := pipeline.FSResults{FS: results}
	if err := registry.Check(validator, source); err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithRejectInvalidDigest(cfg.Pipeline.RejectInvalidDigest),
		pipeline.WithMaxContainerBytes(cfg.Pipeline.MaxContainerBytes),
	}
	if reg != nil {
		opts = append(opts, pipeline.WithMetrics(pipeline.NewMetrics(reg)))
	}
	composer := pipeline.NewComposer(cfg.Account.Producer, cfg.Pipeline.ReplyTimeout)
	return pipeline.New(registry, validator, source, composer, opts...), nil
}

func rabbitConfig(cfg *config.Config, metrics *pubsub.Metrics) pubsub.RabbitMQConfig {
	rc := pubsub.RabbitMQConfig{
		URL:                         cfg.AMQP.URL,
		Producer:                    cfg.Account.Producer,
		PublishPoolSize:             cfg.AMQP.PublishPoolSize,
		ConsumerPrefetch:            cfg.AMQP.Prefetch,
		DialAttempts:                cfg.AMQP.DialAttempts,
		DialDelay:                   cfg.AMQP.DialDelay,
		ReconnectBackoffBaseSeconds: cfg.AMQP.ReconnectBaseSeconds,
		ReconnectBackoffCapSeconds:  cfg.AMQP.ReconnectCapSeconds,
		DefaultReplyExchange:        cfg.AMQP.ReplyExchange,
		DefaultReplyRoutingKey:      cfg.AMQP.ReplyRoutingKey,
		Metrics:                     metrics,
	}
	if cfg.AMQP.TLS.Enabled {
		rc.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.AMQP.TLS.InsecureSkipVerify,
		}
	}
	return rc
}

func consumerSpec(cfg *config.Config, sink chan<- *pubsub.Delivery) pubsub.ConsumerSpec {
	spec := pubsub.ConsumerSpec{
		Name:          "inbox",
		Exchange:      cfg.AMQP.Exchange,
		Queue:         cfg.AMQP.Queue,
		BindingKey:    cfg.AMQP.BindingKey,
		Prefetch:      cfg.AMQP.Prefetch,
		PoisonToFinal: true,
		Sink:          sink,
	}
	if cfg.AMQP.Retry.Enabled {
		spec.Retry = &pubsub.RetrySpec{
			Enabled:     true,
			TTL:         cfg.AMQP.Retry.TTL,
			MaxAttempts: cfg.AMQP.Retry.MaxAttempts,
		}
	}
	return spec
}

// forward turns broker deliveries into dispatcher messages. Deliveries still
// buffered at shutdown are requeued by the broker when the channel closes.
func forward(ctx context.Context, in <-chan *pubsub.Delivery, out chan<- pipeline.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-in:
			select {
			case out <- inbound(d):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func inbound(d *pubsub.Delivery) pipeline.InboundMessage {
	return pipeline.InboundMessage{
		ID:          d.ID(),
		Type:        d.Type(),
		HasPayload:  d.HasPayload(),
		Redelivered: d.Redelivered(),
		Open:        d.Open,
		Delivery:    d,
	}
}
