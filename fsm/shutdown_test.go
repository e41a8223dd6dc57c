package fsm_test

import (
	"testing"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/fsm"
)

func TestStopSendsRFC8203ShutdownNotification(t *testing.T) {
	cfg := baseConfig()
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	f.Stop("maintenance window")

	if f.State() != fsm.Idle {
		t.Fatalf("state = %v, want Idle", f.State())
	}
	frames := out.drain()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	n := decodeNotification(t, frames[0])
	if n.Code != bgp.ErrCease || n.Subcode != bgp.ErrCeaseAdminShutdown {
		t.Fatalf("notification = %+v, want ErrCease/ErrCeaseAdminShutdown", n)
	}
	if len(n.Data) == 0 || int(n.Data[0]) != len("maintenance window") {
		t.Fatalf("shutdown data = %v, want a length-prefixed reason", n.Data)
	}
	if string(n.Data[1:]) != "maintenance window" {
		t.Fatalf("shutdown reason = %q, want %q", n.Data[1:], "maintenance window")
	}
}

func TestStopIsNoopInIdle(t *testing.T) {
	cfg := baseConfig()
	out := &recordingSink{}
	cfg.OutHandler = out
	f := fsm.New(cfg)

	f.Stop("shouldn't matter")

	if len(out.drain()) != 0 {
		t.Fatalf("Stop in Idle must not send anything")
	}
}

func TestResetHardClearsNegotiatedStateWithoutNotifying(t *testing.T) {
	cfg := baseConfig()
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	f.ResetHard()

	if f.State() != fsm.Idle {
		t.Fatalf("state = %v, want Idle", f.State())
	}
	if len(out.drain()) != 0 {
		t.Fatalf("ResetHard must never send a notification")
	}
	status := f.Status()
	if status.RemoteASN != 0 || status.NegotiatedHold != 0 || status.RemoteRouterID != [4]byte{} {
		t.Fatalf("negotiated session state not cleared: %+v", status)
	}
}

func TestResetHardRecoversFromBroken(t *testing.T) {
	cfg := baseConfig()
	out := &recordingSink{fail: true}
	cfg.OutHandler = out
	f := fsm.New(cfg)

	f.Start()
	if f.State() != fsm.Broken {
		t.Fatalf("state = %v, want Broken", f.State())
	}
	if f.BrokenReason() == nil {
		t.Fatalf("BrokenReason() = nil, want a wrapped error")
	}

	f.ResetHard()
	if f.State() != fsm.Idle {
		t.Fatalf("state after ResetHard = %v, want Idle", f.State())
	}
}

func TestSendFailureDuringStopGoesBroken(t *testing.T) {
	cfg := baseConfig()
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)
	out.fail = true

	f.Stop("going down anyway")

	if f.State() != fsm.Broken {
		t.Fatalf("state = %v, want Broken", f.State())
	}
}
