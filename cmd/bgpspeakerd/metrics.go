package main

import (
	"context"
	"time"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/fsm"
	"github.com/route-beacon/bgpspeaker/internal/metrics"
	"github.com/route-beacon/bgpspeaker/rib"
)

var allStates = []fsm.State{fsm.Idle, fsm.OpenSent, fsm.OpenConfirm, fsm.Established, fsm.Broken}

// metricsPoller republishes per-session FSM state and RIB size as
// prometheus gauges every few seconds, since the core packages expose
// state only through pull-style accessors (FSM.State(), Table4/Table6
// Walk) with no push channel of their own.
func metricsPoller(ctx context.Context, sessions map[string]*session, rib4 *rib.Table4, rib6 *rib.Table6) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollOnce(sessions, rib4, rib6)
		}
	}
}

// lastPolledState holds each session's state as of the previous poll.
var lastPolledState = map[string]fsm.State{}

func pollOnce(sessions map[string]*session, rib4 *rib.Table4, rib6 *rib.Table6) {
	for name, s := range sessions {
		current := s.fsm.State()
		if prev, seen := lastPolledState[name]; seen && prev != current {
			metrics.SessionTransitionsTotal.WithLabelValues(name).Inc()
		}
		lastPolledState[name] = current
		for _, st := range allStates {
			v := 0.0
			if st == current {
				v = 1
			}
			metrics.SessionState.WithLabelValues(name, st.String()).Set(v)
		}
	}

	count4 := 0
	rib4.Walk(func(bgp.Prefix4, *rib.Entry4) { count4++ })
	metrics.RIBPrefixes.WithLabelValues("ipv4").Set(float64(count4))

	count6 := 0
	rib6.Walk(func(bgp.Prefix6, *rib.Entry6) { count6++ })
	metrics.RIBPrefixes.WithLabelValues("ipv6").Set(float64(count6))
}
