package pubsub

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestDeathCount(t *testing.T) {
	cases := map[string]struct {
		headers amqp.Table
		want    int
	}{
		"no header":   {headers: nil, want: 0},
		"wrong shape": {headers: amqp.Table{"x-death": "nope"}, want: 0},
		"other queue": {headers: amqp.Table{"x-death": []any{
			amqp.Table{"queue": "other", "count": int64(4)},
		}}, want: 0},
		"matching int64": {headers: amqp.Table{"x-death": []any{
			amqp.Table{"queue": "other", "count": int64(9)},
			amqp.Table{"queue": "inbox", "count": int64(3)},
		}}, want: 3},
		"matching int32": {headers: amqp.Table{"x-death": []any{
			amqp.Table{"queue": "inbox", "count": int32(2)},
		}}, want: 2},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeathCount(amqp.Delivery{Headers: tc.headers}, "inbox"))
		})
	}
}

func TestJitteredDelayBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		d := JitteredDelay(base, 12*time.Second, 20)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, BackoffDelay(time.Second, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(time.Second, 3))
	assert.Equal(t, MaxDelay, BackoffDelay(time.Second, 10))
	assert.Equal(t, time.Second, BackoffDelay(time.Second, 0))
}

func TestSmallHelpers(t *testing.T) {
	assert.Equal(t, "a", FirstNonEmpty("a", "b"))
	assert.Equal(t, "b", FirstNonEmpty("", "b"))
	assert.Equal(t, 5*time.Second, Dsec(0, 5))
	assert.Equal(t, 2*time.Second, Dsec(2, 5))

	spec := ConsumerSpec{Queue: "inbox", Retry: &RetrySpec{Enabled: true, FinalExchange: "fx"}}
	assert.Equal(t, "fx", TryFinalEx(spec))
	assert.Equal(t, "", TryFinalQ(spec))
	assert.True(t, spec.retryEnabled())
	assert.False(t, ConsumerSpec{}.retryEnabled())
}

func TestRetryQueueArgs(t *testing.T) {
	spec := ConsumerSpec{
		Exchange:   "fiks",
		BindingKey: "inbox.#",
		Retry:      &RetrySpec{Enabled: true, TTL: 30 * time.Second},
	}
	assert.Equal(t, amqp.Table{
		"x-message-ttl":             int32(30000),
		"x-dead-letter-exchange":    "fiks",
		"x-dead-letter-routing-key": "inbox.#",
	}, retryQueueArgs(spec))
}

func TestFinalPublishingKeepsIdentity(t *testing.T) {
	d := amqp.Delivery{
		MessageId:     "m-1",
		CorrelationId: "c-1",
		Type:          "request.v1",
		ReplyTo:       "amq.gen",
		Body:          []byte("x"),
	}
	p := finalPublishing(d)
	assert.Equal(t, "m-1", p.MessageId)
	assert.Equal(t, "c-1", p.CorrelationId)
	assert.Equal(t, "request.v1", p.Type)
	assert.Equal(t, "amq.gen", p.ReplyTo)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
}

func TestPublishingCarriesMeta(t *testing.T) {
	producer := "caseflow"
	c := &Client{config: RabbitMQConfig{Producer: "fallback"}}
	env := envelopeFixture(&producer)

	p := c.publishing(env)
	assert.Equal(t, "r-1", p.MessageId)
	assert.Equal(t, "in-1", p.CorrelationId)
	assert.Equal(t, "received.v1", p.Type)
	assert.Equal(t, "caseflow", p.AppId)
	assert.Equal(t, "received.v1", p.Headers["type"])
	assert.Equal(t, []byte("zip"), p.Body)

	env.Meta.Producer = nil
	assert.Equal(t, "fallback", c.publishing(env).AppId)
}
