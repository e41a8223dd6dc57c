package fsm_test

import (
	"testing"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/fsm"
)

// TestCollisionResolutionPicksExactlyOneSurvivor covers §4.6.5: two
// sessions that both end up contending for the same peer bgp-id must
// resolve deterministically to exactly one survivor, the one with the
// numerically higher local router-id, and the loser must tear itself
// down with E_CEASE/E_COLLISION.
func TestCollisionResolutionPicksExactlyOneSurvivor(t *testing.T) {
	peerID := [4]byte{9, 9, 9, 9}
	lowID := [4]byte{1, 1, 1, 1}
	highID := [4]byte{2, 2, 2, 2}

	b := bus.New()

	cfgLow := baseConfig()
	cfgLow.RouterID = lowID
	cfgLow.PeerASN = 65099
	cfgLow.Bus = b
	outLow := &recordingSink{}
	cfgLow.OutHandler = outLow
	low := fsm.New(cfgLow)

	cfgHigh := baseConfig()
	cfgHigh.RouterID = highID
	cfgHigh.PeerASN = 65099
	cfgHigh.Bus = b
	outHigh := &recordingSink{}
	cfgHigh.OutHandler = outHigh
	high := fsm.New(cfgHigh)

	low.Start()
	outLow.drain()
	low.Run(openFrame(65099, false, 0, 90, peerID, false))
	if low.State() != fsm.OpenConfirm {
		t.Fatalf("low state = %v, want OpenConfirm before the collision exists", low.State())
	}
	outLow.drain()

	high.Start()
	outHigh.drain()
	high.Run(openFrame(65099, false, 0, 90, peerID, false))

	if low.State() != fsm.Idle {
		t.Fatalf("low (lower router-id) state = %v, want Idle", low.State())
	}
	if high.State() != fsm.OpenConfirm {
		t.Fatalf("high (higher router-id) state = %v, want OpenConfirm", high.State())
	}

	lowFrames := outLow.drain()
	if len(lowFrames) == 0 {
		t.Fatalf("expected low to send a collision notification")
	}
	n := decodeNotification(t, lowFrames[len(lowFrames)-1])
	if n.Code != bgp.ErrCease || n.Subcode != bgp.ErrCeaseCollision {
		t.Fatalf("low's notification = %+v, want ErrCease/ErrCeaseCollision", n)
	}
}

// TestNoCollisionDetectionSkipsResolution covers the escape hatch: with
// NoCollisionDetection set, two sessions contending for the same peer
// bgp-id must both be left alone.
func TestNoCollisionDetectionSkipsResolution(t *testing.T) {
	peerID := [4]byte{9, 9, 9, 9}
	b := bus.New()

	cfgLow := baseConfig()
	cfgLow.RouterID = [4]byte{1, 1, 1, 1}
	cfgLow.PeerASN = 65099
	cfgLow.Bus = b
	cfgLow.NoCollisionDetection = true
	outLow := &recordingSink{}
	cfgLow.OutHandler = outLow
	low := fsm.New(cfgLow)

	cfgHigh := baseConfig()
	cfgHigh.RouterID = [4]byte{2, 2, 2, 2}
	cfgHigh.PeerASN = 65099
	cfgHigh.Bus = b
	cfgHigh.NoCollisionDetection = true
	outHigh := &recordingSink{}
	cfgHigh.OutHandler = outHigh
	high := fsm.New(cfgHigh)

	low.Start()
	low.Run(openFrame(65099, false, 0, 90, peerID, false))
	high.Start()
	high.Run(openFrame(65099, false, 0, 90, peerID, false))

	if low.State() != fsm.OpenConfirm || high.State() != fsm.OpenConfirm {
		t.Fatalf("states = %v/%v, want both OpenConfirm", low.State(), high.State())
	}
}
