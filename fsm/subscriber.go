package fsm

import (
	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
)

// OnAdd4 reacts to another co-hosted session's newly-best IPv4 routes
// by re-advertising them, applying egress filtering, nexthop handling,
// and AS_PATH prepend exactly as the initial Established RIB walk does
// (§4.6.4, §4.5).
func (f *FSM) OnAdd4(ev bus.Add4) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Established {
		return
	}
	var accepted []bgp.Prefix4
	for _, p := range ev.Prefixes {
		if f.cfg.OutFilters4.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}
	peerIsIBGP := f.cfg.isIBGP(f.remoteASN)
	attrs := f.prepareOutgoingAttrs(ev.Attrs, peerIsIBGP)
	f.rewriteNextHop4(attrs, peerIsIBGP)
	f.send(&bgp.Update{PathAttributes: attrs, NLRI: accepted})
}

func (f *FSM) OnWithdraw4(ev bus.Withdraw4) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Established {
		return
	}
	var accepted []bgp.Prefix4
	for _, p := range ev.Prefixes {
		if f.cfg.OutFilters4.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}
	f.send(&bgp.Update{WithdrawnRoutes: accepted})
}

func (f *FSM) OnAdd6(ev bus.Add6) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Established || !f.ipv6Negotiated {
		return
	}
	var accepted []bgp.Prefix6
	for _, p := range ev.Prefixes {
		if f.cfg.OutFilters6.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}
	peerIsIBGP := f.cfg.isIBGP(f.remoteASN)
	attrs := f.prepareOutgoingAttrs(ev.Attrs, peerIsIBGP)
	f.rewriteNextHop6(attrs, peerIsIBGP)
	attrs = rebuildMPReach(attrs, accepted)
	f.send(&bgp.Update{PathAttributes: attrs})
}

func (f *FSM) OnWithdraw6(ev bus.Withdraw6) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Established || !f.ipv6Negotiated {
		return
	}
	var accepted []bgp.Prefix6
	for _, p := range ev.Prefixes {
		if f.cfg.OutFilters6.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}
	mu := bgp.Attribute{
		Type: bgp.AttrMPUnreachNLRI, Flags: bgp.AttrFlags{Optional: true},
		AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast, MPUnreach: bgp.MPUnreach{NLRI: accepted},
	}
	f.send(&bgp.Update{PathAttributes: bgp.AttributeList{mu}})
}

// OnCollision implements §4.6.5's single-winner resolution: an event
// not about this session's own peer is ignored; otherwise the session
// with the numerically higher router-id survives, and the loser tears
// itself down with E_CEASE/E_COLLISION before conceding.
func (f *FSM) OnCollision(ev bus.Collision) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.NoCollisionDetection {
		return false
	}
	if f.state != OpenConfirm && f.state != Established {
		return false
	}
	if f.remoteRouterID != ev.PeerID {
		return false
	}
	if hostOrder(f.cfg.RouterID) > hostOrder(ev.LocalID) {
		return true
	}
	f.goIdleInternal(true, bgp.NewNotification(bgp.ErrCease, bgp.ErrCeaseCollision, nil))
	return false
}
