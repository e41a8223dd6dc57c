package fsm_test

import (
	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/fsm"
)

// recordingSink captures every frame written to it and can be made to
// fail on demand, to exercise the FSM's Broken transition.
type recordingSink struct {
	frames [][]byte
	fail   bool
}

func (s *recordingSink) HandleOut(buf []byte) bool {
	if s.fail {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), buf...))
	return true
}

func (s *recordingSink) drain() [][]byte {
	out := s.frames
	s.frames = nil
	return out
}

func (s *recordingSink) messages(fourByteASN bool) []bgp.Message {
	var out []bgp.Message
	for _, f := range s.frames {
		m, n := bgp.DecodeMessage(f, fourByteASN)
		if n != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func openFrame(asn uint16, fourByte bool, fourByteASN uint32, hold uint16, routerID [4]byte, mpv6 bool) []byte {
	o := &bgp.Open{Version: 4, MyASN: asn, HoldTime: hold, BGPIdentifier: routerID}
	if fourByte {
		o.HasFourByteASN = true
		o.FourByteASN = fourByteASN
	}
	if mpv6 {
		o.MPFamilies = []bgp.MPFamily{{AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast}}
	}
	return bgp.EncodeMessage(o)
}

func keepaliveFrame() []byte {
	return bgp.EncodeMessage(&bgp.Keepalive{})
}

func updateFrame(u *bgp.Update) []byte {
	return bgp.EncodeMessage(u)
}

// pump relays whatever each sink has accumulated into the other FSM's
// Run, repeating until both sinks go quiet. It never calls Run from
// inside HandleOut, so it never re-enters either FSM's own lock.
func pump(a, b *fsm.FSM, sa, sb *recordingSink) {
	for i := 0; i < 50; i++ {
		fa := sa.drain()
		fb := sb.drain()
		if len(fa) == 0 && len(fb) == 0 {
			return
		}
		for _, f := range fa {
			b.Run(f)
		}
		for _, f := range fb {
			a.Run(f)
		}
	}
}

// recordingLogger captures every Log call for assertions on ring-3
// soft-failure diagnostics.
type recordingLogger struct {
	entries []string
}

func (l *recordingLogger) Log(level fsm.Level, msg string, fields ...fsm.Field) {
	l.entries = append(l.entries, msg)
}

func (l *recordingLogger) has(substr string) bool {
	for _, e := range l.entries {
		if e == substr {
			return true
		}
	}
	return false
}

// spySubscriber records every bus event delivered to it, standing in
// for a second co-hosted session when a test only needs to observe the
// bus traffic rather than drive a full second FSM.
type spySubscriber struct {
	adds4      []bus.Add4
	withdraws4 []bus.Withdraw4
	adds6      []bus.Add6
	withdraws6 []bus.Withdraw6
}

func (s *spySubscriber) OnAdd4(ev bus.Add4)           { s.adds4 = append(s.adds4, ev) }
func (s *spySubscriber) OnWithdraw4(ev bus.Withdraw4) { s.withdraws4 = append(s.withdraws4, ev) }
func (s *spySubscriber) OnAdd6(ev bus.Add6)           { s.adds6 = append(s.adds6, ev) }
func (s *spySubscriber) OnWithdraw6(ev bus.Withdraw6) { s.withdraws6 = append(s.withdraws6, ev) }
func (s *spySubscriber) OnCollision(bus.Collision) bool { return false }

// establish drives a freshly-created FSM through a full active-side
// handshake against a synthetic peer, leaving it Established with an
// empty local RIB contribution from that peer.
func establish(cfg fsm.Config, peerASN uint32, peerRouterID [4]byte, peerHold uint16) (*fsm.FSM, *recordingSink) {
	out := &recordingSink{}
	cfg.OutHandler = out
	f := fsm.New(cfg)
	f.Start()
	f.Run(openFrame(uint16(peerASN), peerASN > 0xFFFF, peerASN, peerHold, peerRouterID, false))
	f.Run(keepaliveFrame())
	out.drain()
	return f, out
}
