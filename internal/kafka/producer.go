// Package kafka bridges the route-event bus to an external collector:
// it produces one JSON record per Add/Withdraw event, mirroring the
// broker client construction this daemon's teacher used for its own
// (consumer-side) Kafka pipelines, but in reverse.
package kafka

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// Producer publishes route-event records to a single topic.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
	ready  atomic.Bool
}

func NewProducer(brokers []string, topic, clientID string, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Producer, error) {
	p := &Producer{topic: topic, logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	p.client = client
	p.ready.Store(true)
	return p, nil
}

// Publish produces one record carrying value, fire-and-forget with a
// logged callback on failure (the route-event bus has no retry path
// back to the publisher).
func (p *Producer) Publish(ctx context.Context, key, value []byte) {
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.ready.Store(false)
			p.logger.Error("kafka producer: publish failed", zap.Error(err))
			return
		}
		p.ready.Store(true)
	})
}

// Ready reports whether the most recent publish (if any) succeeded.
// Before the first publish it optimistically reports true.
func (p *Producer) Ready() bool {
	return p.ready.Load()
}

// Flush blocks until every in-flight produce has been acknowledged or
// ctx expires, used during graceful shutdown.
func (p *Producer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

func (p *Producer) Close() {
	p.client.CloseAllowingRebalance()
}

// WaitReady blocks briefly so callers can surface a connection failure
// at startup instead of silently dropping the first few events.
func (p *Producer) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.client.Ping(context.Background()) == nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
