package fsm

import (
	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
)

func fsmErrorSubcodeForState(s State) uint8 {
	switch s {
	case OpenSent:
		return bgp.ErrFSMOpenSent
	case OpenConfirm:
		return bgp.ErrFSMOpenConfirm
	case Established:
		return bgp.ErrFSMEstablished
	default:
		return 0
	}
}

// buildLocalOpen assembles the OPEN this FSM sends, carrying the
// four-octet-ASN and/or MP-BGP IPv6 capabilities per §4.2.1/§4.2's
// negotiation rules.
func (f *FSM) buildLocalOpen() *bgp.Open {
	o := &bgp.Open{
		Version:       4,
		MyASN:         twoByteASN(f.cfg.ASN),
		HoldTime:      f.cfg.HoldTimer,
		BGPIdentifier: f.cfg.RouterID,
	}
	if f.cfg.Use4BAsn {
		o.HasFourByteASN = true
		o.FourByteASN = f.cfg.ASN
	}
	if f.cfg.MPBGPIPv6 {
		o.MPFamilies = []bgp.MPFamily{{AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast}}
	}
	return o
}

// validateOpen checks an inbound OPEN against this session's
// expectations (§4.6.2). PeerASN of 0 means "accept any AS", unlike
// bgp.Open.Validate's always-strict check.
func (f *FSM) validateOpen(o *bgp.Open) *bgp.Notification {
	if f.cfg.PeerASN != 0 && o.ASN() != f.cfg.PeerASN {
		return bgp.NewNotification(bgp.ErrOpen, bgp.ErrOpenPeerAS, nil)
	}
	if o.BGPIdentifier == [4]byte{} {
		return bgp.NewNotification(bgp.ErrOpen, bgp.ErrOpenBGPID, nil)
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return bgp.NewNotification(bgp.ErrOpen, bgp.ErrOpenHoldTime, nil)
	}
	return nil
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func (f *FSM) acceptRemoteOpen(o *bgp.Open) {
	f.remoteOpen = o
	f.remoteASN = o.ASN()
	f.remoteRouterID = o.BGPIdentifier
	f.negotiatedHold = min16(f.cfg.HoldTimer, o.HoldTime)
	f.fourByteNegotiated = f.cfg.Use4BAsn && o.HasFourByteASN
	f.ipv6Negotiated = f.cfg.MPBGPIPv6 && o.SupportsIPv6Unicast()
	f.lastRecv = f.cfg.Clock.Now()
}

// publishCollisionAndConcede announces ownership of the peer bgp-id to
// every other co-hosted FSM and, if one of them claims priority, tears
// this session back down (§4.6.5). Returns true if this FSM must
// concede (the caller should stop processing the OPEN immediately).
func (f *FSM) publishCollisionAndConcede() bool {
	if f.cfg.Bus == nil || f.cfg.NoCollisionDetection {
		return false
	}
	anySurvivor := f.cfg.Bus.PublishCollision(f.subID, bus.Collision{PeerID: f.remoteRouterID, LocalID: f.cfg.RouterID})
	if !anySurvivor {
		return false
	}
	f.goIdleInternal(true, bgp.NewNotification(bgp.ErrCease, bgp.ErrCeaseCollision, nil))
	return true
}

func (f *FSM) handleOpen(o *bgp.Open) {
	switch f.state {
	case Idle:
		if n := f.validateOpen(o); n != nil {
			f.sendNotificationAndGoIdle(n)
			return
		}
		f.acceptRemoteOpen(o)
		if f.publishCollisionAndConcede() {
			return
		}
		if !f.send(f.buildLocalOpen()) {
			return
		}
		if !f.send(&bgp.Keepalive{}) {
			return
		}
		f.state = OpenConfirm
	case OpenSent:
		if n := f.validateOpen(o); n != nil {
			f.sendNotificationAndGoIdle(n)
			return
		}
		f.acceptRemoteOpen(o)
		if f.publishCollisionAndConcede() {
			return
		}
		if !f.send(&bgp.Keepalive{}) {
			return
		}
		f.state = OpenConfirm
	default:
		f.sendNotificationAndGoIdle(bgp.NewNotification(bgp.ErrFSM, fsmErrorSubcodeForState(f.state), nil))
	}
}
