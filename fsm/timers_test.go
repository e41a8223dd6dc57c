package fsm_test

import (
	"testing"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/clock"
	"github.com/route-beacon/bgpspeaker/fsm"
)

// TestHoldTimerExpiryGoesIdle covers the literal hold_timer=120 scenario:
// 121 seconds of silence past the last received message must expire the
// hold timer and drop the session to Idle with E_HOLD.
func TestHoldTimerExpiryGoesIdle(t *testing.T) {
	clk := clock.NewFake(1000)
	cfg := baseConfig()
	cfg.HoldTimer = 120
	cfg.Clock = clk
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 120)

	clk.Advance(121)
	f.Tick()

	if f.State() != fsm.Idle {
		t.Fatalf("state = %v, want Idle", f.State())
	}
	frames := out.drain()
	if len(frames) == 0 {
		t.Fatalf("expected a notification to be sent on hold expiry")
	}
	n := decodeNotification(t, frames[len(frames)-1])
	if n.Code != bgp.ErrHoldExpired {
		t.Fatalf("notification code = %d, want ErrHoldExpired", n.Code)
	}
}

// TestKeepaliveSentAtOneThirdHold covers the companion half of the same
// scenario: at 41 seconds (just past negotiatedHold/3 = 40) a keepalive
// must go out and the session must stay Established.
func TestKeepaliveSentAtOneThirdHold(t *testing.T) {
	clk := clock.NewFake(1000)
	cfg := baseConfig()
	cfg.HoldTimer = 120
	cfg.Clock = clk
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 120)

	clk.Advance(41)
	f.Tick()

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established", f.State())
	}
	frames := out.drain()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want exactly 1 keepalive", len(frames))
	}
	msg, notif := bgp.DecodeMessage(frames[0], false)
	if notif != nil {
		t.Fatalf("decode failed: %+v", notif)
	}
	if _, ok := msg.(*bgp.Keepalive); !ok {
		t.Fatalf("got %T, want *bgp.Keepalive", msg)
	}
}

func TestTickBeforeHoldExpirySendsNothing(t *testing.T) {
	clk := clock.NewFake(1000)
	cfg := baseConfig()
	cfg.HoldTimer = 120
	cfg.Clock = clk
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 120)

	clk.Advance(10)
	f.Tick()

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established", f.State())
	}
	if len(out.drain()) != 0 {
		t.Fatalf("expected no traffic before either timer fires")
	}
}

// TestZeroHoldTimeDisablesTimers covers the "0 from either side disables
// the hold timer entirely" rule: once negotiated to 0, Tick must never
// expire the session no matter how much time passes.
func TestZeroHoldTimeDisablesTimers(t *testing.T) {
	clk := clock.NewFake(1000)
	cfg := baseConfig()
	cfg.HoldTimer = 0
	cfg.Clock = clk
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 180)

	if f.Status().NegotiatedHold != 0 {
		t.Fatalf("NegotiatedHold = %d, want 0", f.Status().NegotiatedHold)
	}
	clk.Advance(100000)
	f.Tick()

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established", f.State())
	}
	if len(out.drain()) != 0 {
		t.Fatalf("expected no traffic with the hold timer disabled")
	}
}

func TestTickIsNoopInIdle(t *testing.T) {
	cfg := baseConfig()
	out := &recordingSink{}
	cfg.OutHandler = out
	f := fsm.New(cfg)

	f.Tick()

	if f.State() != fsm.Idle {
		t.Fatalf("state = %v, want Idle", f.State())
	}
	if len(out.drain()) != 0 {
		t.Fatalf("Tick in Idle must not send anything")
	}
}
