package main

import (
	"context"
	"encoding/json"
	"net"

	"go.uber.org/zap"

	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/internal/kafka"
	"github.com/route-beacon/bgpspeaker/internal/metrics"
)

// routeEventRecord is the JSON record published to Kafka for every
// route-event-bus event, for a downstream collector to index.
type routeEventRecord struct {
	AFI      string   `json:"afi"`
	Action   string   `json:"action"`
	SrcID    string   `json:"src_id"`
	Prefixes []string `json:"prefixes"`
}

// kafkaBridge subscribes to the route-event bus and republishes every
// Add/Withdraw event as a Kafka record; it never contends for a peer
// bgp-id, so OnCollision always concedes.
type kafkaBridge struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

func (b *kafkaBridge) publish(afi, action, srcID string, prefixes []string) {
	metrics.RouteEventsTotal.WithLabelValues(afi, action).Inc()
	rec := routeEventRecord{AFI: afi, Action: action, SrcID: srcID, Prefixes: prefixes}
	data, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error("kafka bridge: marshal failed", zap.Error(err))
		return
	}
	b.producer.Publish(context.Background(), []byte(srcID), data)
}

func (b *kafkaBridge) OnAdd4(ev bus.Add4) {
	prefixes := make([]string, len(ev.Prefixes))
	for i, p := range ev.Prefixes {
		prefixes[i] = p.String()
	}
	b.publish("ipv4", "add", net.IP(ev.SrcID[:]).String(), prefixes)
}

func (b *kafkaBridge) OnWithdraw4(ev bus.Withdraw4) {
	prefixes := make([]string, len(ev.Prefixes))
	for i, p := range ev.Prefixes {
		prefixes[i] = p.String()
	}
	b.publish("ipv4", "withdraw", net.IP(ev.SrcID[:]).String(), prefixes)
}

func (b *kafkaBridge) OnAdd6(ev bus.Add6) {
	prefixes := make([]string, len(ev.Prefixes))
	for i, p := range ev.Prefixes {
		prefixes[i] = p.String()
	}
	b.publish("ipv6", "add", net.IP(ev.SrcID[:]).String(), prefixes)
}

func (b *kafkaBridge) OnWithdraw6(ev bus.Withdraw6) {
	prefixes := make([]string, len(ev.Prefixes))
	for i, p := range ev.Prefixes {
		prefixes[i] = p.String()
	}
	b.publish("ipv6", "withdraw", net.IP(ev.SrcID[:]).String(), prefixes)
}

func (b *kafkaBridge) OnCollision(bus.Collision) bool { return false }
