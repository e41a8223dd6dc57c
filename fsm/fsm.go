// Package fsm implements the per-session BGP-4 state machine (§4.6):
// it drives one peer's Idle/OpenSent/OpenConfirm/Established/Broken
// lifecycle, owns that peer's slice of the shared RIB, and publishes
// and reacts to route events on the shared bus.
package fsm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/sink"
)

// FSM is one BGP session. All exported methods take fsm.mu, so a
// single FSM can safely be driven from one goroutine feeding it bytes
// and another calling Tick/Stop/Status concurrently (§5).
type FSM struct {
	mu  sync.Mutex
	cfg Config

	sink  *sink.Sink
	subID bus.SubscriptionID

	state              State
	remoteOpen         *bgp.Open
	remoteASN          uint32
	remoteRouterID     [4]byte
	negotiatedHold     uint16
	fourByteNegotiated bool
	ipv6Negotiated     bool

	lastRecv         uint64
	lastSent         uint64
	lastNotification *bgp.Notification
	brokenErr        error
}

// New builds an FSM for one peer session. If cfg.Bus is set, the FSM
// subscribes itself so it both publishes its own route changes and
// reacts to every other co-hosted session's (§4.5).
func New(cfg Config) *FSM {
	cfg.fillDefaults()
	f := &FSM{cfg: cfg, sink: sink.New(), state: Idle}
	if cfg.Bus != nil {
		f.subID = cfg.Bus.Subscribe(f)
	}
	return f
}

// twoByteASN maps a possibly four-byte ASN onto its wire-compatible
// two-byte form, falling back to AS_TRANS (§4.2.1). Mirrors the
// unexported downgradeASN helper in bgp/as4.go, which this package
// cannot call directly.
func twoByteASN(asn uint32) uint16 {
	if asn <= 0xFFFF {
		return uint16(asn)
	}
	return bgp.AS_TRANS
}

func hostOrder(id [4]byte) uint32 {
	return uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
}

// send frames and writes m, transitioning to Broken on a write failure
// (§6: the host's OutputSink is the only way bytes leave the FSM, and
// a false return means the library has no path to recover the peer).
func (f *FSM) send(m bgp.Message) bool {
	buf := bgp.EncodeMessage(m)
	if !f.cfg.OutHandler.HandleOut(buf) {
		f.goBroken(errors.New("output sink rejected message write"))
		return false
	}
	f.lastSent = f.cfg.Clock.Now()
	return true
}

func (f *FSM) goBroken(err error) {
	f.state = Broken
	f.brokenErr = err
	f.cfg.LogHandler.Log(LevelError, "session broken", Field{Key: "error", Value: err})
}

// Start begins the active side of a session: Idle -> OpenSent.
func (f *FSM) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Idle {
		return
	}
	now := f.cfg.Clock.Now()
	f.lastRecv = now
	if !f.send(f.buildLocalOpen()) {
		return
	}
	f.state = OpenSent
}

// Run feeds freshly read transport bytes through the sink, dispatching
// every complete message it yields (§4.3/§4.6).
func (f *FSM) Run(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Broken {
		return
	}
	f.sink.Pour(data)
	for {
		msg, notif, ok := f.sink.Next(f.fourByteNegotiated)
		if !ok {
			return
		}
		if notif != nil {
			f.onProtocolError(notif)
			return
		}
		f.dispatch(msg)
		if f.state == Broken {
			return
		}
	}
}

// onProtocolError handles a decode-time failure attributable to the
// peer's bytes (a ring-1 violation the codec itself detected): the
// peer is told why, and the session returns to Idle.
func (f *FSM) onProtocolError(n *bgp.Notification) {
	f.goIdleInternal(true, n)
}

func (f *FSM) dispatch(msg bgp.Message) {
	switch m := msg.(type) {
	case *bgp.Open:
		f.handleOpen(m)
	case *bgp.Update:
		f.handleUpdate(m)
	case *bgp.Keepalive:
		f.handleKeepalive()
	case *bgp.Notification:
		f.handlePeerNotification(m)
	}
}

func (f *FSM) handleKeepalive() {
	switch f.state {
	case OpenConfirm:
		f.lastRecv = f.cfg.Clock.Now()
		f.state = Established
		f.cfg.LogHandler.Log(LevelInfo, "session established", Field{Key: "peer", Value: f.remoteRouterID})
		f.onEstablished()
	case Established:
		f.lastRecv = f.cfg.Clock.Now()
	default:
		f.sendNotificationAndGoIdle(bgp.NewNotification(bgp.ErrFSM, fsmErrorSubcodeForState(f.state), nil))
	}
}

func (f *FSM) handlePeerNotification(n *bgp.Notification) {
	f.lastRecv = f.cfg.Clock.Now()
	f.cfg.LogHandler.Log(LevelInfo, "peer sent notification", Field{Key: "code", Value: n.Code}, Field{Key: "subcode", Value: n.Subcode})
	f.goIdleInternal(false, n)
}

func (f *FSM) sendNotificationAndGoIdle(n *bgp.Notification) {
	f.goIdleInternal(true, n)
}

// goIdleInternal is the single path back to Idle from any connected
// state: optionally notifies the peer, records the notification,
// discards the peer's RIB contribution, and resets the sink (§4.6.1).
func (f *FSM) goIdleInternal(sendNotif bool, n *bgp.Notification) {
	wasConnected := f.state != Idle
	if sendNotif && n != nil {
		f.send(n)
	}
	if n != nil {
		f.lastNotification = n
	}
	if f.state != Broken {
		f.state = Idle
	}
	f.remoteOpen = nil
	if wasConnected {
		f.discardPeerRoutes()
	}
	f.sink.Reset()
}

func (f *FSM) discardPeerRoutes() {
	if f.cfg.RIB4 != nil {
		unreachable4, _ := f.cfg.RIB4.Discard(f.remoteRouterID)
		if len(unreachable4) > 0 && f.cfg.Bus != nil {
			f.cfg.Bus.PublishWithdraw4(f.subID, bus.Withdraw4{SrcID: f.remoteRouterID, Prefixes: unreachable4})
		}
	}
	if f.cfg.RIB6 != nil {
		unreachable6, _ := f.cfg.RIB6.Discard(f.remoteRouterID)
		if len(unreachable6) > 0 && f.cfg.Bus != nil {
			f.cfg.Bus.PublishWithdraw6(f.subID, bus.Withdraw6{SrcID: f.remoteRouterID, Prefixes: unreachable6})
		}
	}
}

// Tick drives the hold and keepalive timers (§4.6.6); a host not using
// cfg.NoAutotick calls this roughly once a second.
func (f *FSM) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != OpenSent && f.state != OpenConfirm && f.state != Established {
		return
	}
	now := f.cfg.Clock.Now()
	if f.negotiatedHold == 0 {
		return
	}
	if now >= f.lastRecv+uint64(f.negotiatedHold) {
		f.goIdleInternal(true, bgp.NewNotification(bgp.ErrHoldExpired, 0, nil))
		return
	}
	if f.state != Established {
		return
	}
	interval := uint64(f.negotiatedHold) / 3
	if interval == 0 {
		interval = 1
	}
	if now >= f.lastSent+interval {
		f.send(&bgp.Keepalive{})
	}
}

// Stop performs an administrative shutdown (§4.6.1, RFC 8203): it is a
// no-op unless the session is connected.
func (f *FSM) Stop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Idle || f.state == Broken {
		return
	}
	f.goIdleInternal(true, bgp.ShutdownNotification(bgp.ErrCeaseAdminShutdown, reason))
}

// ResetHard forces the session back to Idle regardless of its current
// state, discarding the peer's RIB contribution. Unlike Stop, it never
// sends a notification — it is meant for when the underlying transport
// is already gone.
func (f *FSM) ResetHard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	wasConnected := f.state != Idle
	f.sink.Reset()
	f.state = Idle
	f.remoteOpen = nil
	if wasConnected {
		f.discardPeerRoutes()
	}
	f.remoteRouterID = [4]byte{}
	f.remoteASN = 0
	f.negotiatedHold = 0
	f.fourByteNegotiated = false
	f.ipv6Negotiated = false
	f.brokenErr = nil
}

func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		State:              f.state,
		LocalASN:           f.cfg.ASN,
		RemoteASN:          f.remoteASN,
		RemoteRouterID:     f.remoteRouterID,
		NegotiatedHold:     f.negotiatedHold,
		FourByteNegotiated: f.fourByteNegotiated,
		LastRecv:           f.lastRecv,
		LastSent:           f.lastSent,
		LastNotification:   f.lastNotification,
	}
}

// BrokenReason returns the ring-2 invariant violation that put the FSM
// into Broken, or nil if it never entered that state.
func (f *FSM) BrokenReason() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.brokenErr == nil {
		return nil
	}
	return errors.WithMessage(f.brokenErr, "fsm: session broken")
}
