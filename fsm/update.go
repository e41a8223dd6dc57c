package fsm

import (
	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/rib"
)

func (f *FSM) handleUpdate(u *bgp.Update) {
	if f.state != Established {
		f.sendNotificationAndGoIdle(bgp.NewNotification(bgp.ErrFSM, fsmErrorSubcodeForState(f.state), nil))
		return
	}
	f.lastRecv = f.cfg.Clock.Now()
	if u.IsEndOfRIB() {
		return
	}

	f.processWithdrawals4(u.WithdrawnRoutes)
	if mu, ok := u.PathAttributes.Get(bgp.AttrMPUnreachNLRI); ok && mu.AFI == bgp.AFIIPv6 && mu.SAFI == bgp.SAFIUnicast {
		f.processWithdrawals6(mu.MPUnreach.NLRI)
	}
	if len(u.NLRI) > 0 {
		f.processAnnouncement4(u.NLRI, u.PathAttributes)
	}
	if mr, ok := u.PathAttributes.Get(bgp.AttrMPReachNLRI); ok && mr.AFI == bgp.AFIIPv6 && mr.SAFI == bgp.SAFIUnicast {
		f.processAnnouncement6(mr.MPReach.NLRI, mr.MPReach.NextHopGlobal, u.PathAttributes)
	}
}

func (f *FSM) processWithdrawals4(prefixes []bgp.Prefix4) {
	if len(prefixes) == 0 || f.cfg.RIB4 == nil {
		return
	}
	var unreachable []bgp.Prefix4
	for _, p := range prefixes {
		newBest, changed, existed := f.cfg.RIB4.Withdraw(f.remoteRouterID, p)
		if existed && changed && newBest == nil {
			unreachable = append(unreachable, p)
		}
	}
	if len(unreachable) > 0 && f.cfg.Bus != nil {
		f.cfg.Bus.PublishWithdraw4(f.subID, bus.Withdraw4{SrcID: f.remoteRouterID, Prefixes: unreachable})
	}
}

func (f *FSM) processWithdrawals6(prefixes []bgp.Prefix6) {
	if len(prefixes) == 0 || f.cfg.RIB6 == nil {
		return
	}
	var unreachable []bgp.Prefix6
	for _, p := range prefixes {
		newBest, changed, existed := f.cfg.RIB6.Withdraw(f.remoteRouterID, p)
		if existed && changed && newBest == nil {
			unreachable = append(unreachable, p)
		}
	}
	if len(unreachable) > 0 && f.cfg.Bus != nil {
		f.cfg.Bus.PublishWithdraw6(f.subID, bus.Withdraw6{SrcID: f.remoteRouterID, Prefixes: unreachable})
	}
}

// restoreFourByteAttrs merges AS4_PATH/AS4_AGGREGATOR back into
// AS_PATH/AGGREGATOR per RFC 6793 §4.2.3, and drops the AS4_* wire
// artifacts from the list the FSM works with internally from here on.
func restoreFourByteAttrs(attrs bgp.AttributeList) bgp.AttributeList {
	as4path, hasAS4Path := attrs.Get(bgp.AttrAS4Path)
	as4agg, hasAS4Agg := attrs.Get(bgp.AttrAS4Aggregator)
	if !hasAS4Path && !hasAS4Agg {
		return attrs
	}
	out := make(bgp.AttributeList, 0, len(attrs))
	for _, a := range attrs {
		switch a.Type {
		case bgp.AttrAS4Path, bgp.AttrAS4Aggregator:
			continue
		case bgp.AttrASPath:
			if hasAS4Path {
				a.ASPath = bgp.RestorePath(a.ASPath, &as4path.AS4Path)
			}
		case bgp.AttrAggregator:
			if hasAS4Agg {
				a.Aggregator = as4agg.AS4Aggregator
			}
		}
		out = append(out, a)
	}
	return out
}

func containsASN(p bgp.ASPath, asn uint32) bool {
	for _, seg := range p.Segments {
		for _, a := range seg.ASNs {
			if a == asn {
				return true
			}
		}
	}
	return false
}

func (f *FSM) processAnnouncement4(prefixes []bgp.Prefix4, attrs bgp.AttributeList) {
	if f.cfg.RIB4 == nil {
		return
	}
	nhAttr, _ := attrs.Get(bgp.AttrNextHop)
	if !f.validNextHop4(nhAttr.NextHop) {
		f.cfg.LogHandler.Log(LevelWarn, "dropping announcement: invalid next-hop", Field{Key: "nexthop", Value: nhAttr.NextHop})
		return
	}

	restored := attrs
	if !f.fourByteNegotiated {
		restored = restoreFourByteAttrs(attrs)
	}
	apAttr, _ := restored.Get(bgp.AttrASPath)
	if !f.cfg.AllowLocalAS && containsASN(apAttr.ASPath, f.cfg.ASN) {
		f.cfg.LogHandler.Log(LevelWarn, "dropping announcement: own ASN in AS_PATH")
		return
	}

	var accepted []bgp.Prefix4
	for _, p := range prefixes {
		if f.cfg.InFilters4.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}

	bundle := rib.NewBundle(restored)
	var added []bgp.Prefix4
	for _, p := range accepted {
		best, changed := f.cfg.RIB4.PeerInsert(f.remoteRouterID, p, bundle, f.cfg.Weight, nhAttr.NextHop)
		if changed && best != nil && best.SrcID == f.remoteRouterID {
			added = append(added, p)
		}
	}
	if len(added) > 0 && f.cfg.Bus != nil {
		f.cfg.Bus.PublishAdd4(f.subID, bus.Add4{SrcID: f.remoteRouterID, Attrs: bundle.Attrs, Prefixes: added})
	}
}

func (f *FSM) processAnnouncement6(prefixes []bgp.Prefix6, nexthop [16]byte, attrs bgp.AttributeList) {
	if f.cfg.RIB6 == nil {
		return
	}
	if !f.validNextHop6(nexthop) {
		f.cfg.LogHandler.Log(LevelWarn, "dropping announcement: invalid next-hop", Field{Key: "nexthop", Value: nexthop})
		return
	}

	restored := attrs
	if !f.fourByteNegotiated {
		restored = restoreFourByteAttrs(attrs)
	}
	apAttr, _ := restored.Get(bgp.AttrASPath)
	if !f.cfg.AllowLocalAS && containsASN(apAttr.ASPath, f.cfg.ASN) {
		f.cfg.LogHandler.Log(LevelWarn, "dropping announcement: own ASN in AS_PATH")
		return
	}

	var accepted []bgp.Prefix6
	for _, p := range prefixes {
		if f.cfg.InFilters6.Evaluate(p) {
			accepted = append(accepted, p)
		}
	}
	if len(accepted) == 0 {
		return
	}

	bundle := rib.NewBundle(restored)
	var added []bgp.Prefix6
	for _, p := range accepted {
		best, changed := f.cfg.RIB6.PeerInsert(f.remoteRouterID, p, bundle, f.cfg.Weight, nexthop)
		if changed && best != nil && best.SrcID == f.remoteRouterID {
			added = append(added, p)
		}
	}
	if len(added) > 0 && f.cfg.Bus != nil {
		f.cfg.Bus.PublishAdd6(f.subID, bus.Add6{SrcID: f.remoteRouterID, Attrs: bundle.Attrs, Prefixes: added})
	}
}

type groupAccumulator4 struct {
	attrs    bgp.AttributeList
	prefixes []bgp.Prefix4
}

type groupAccumulator6 struct {
	attrs    bgp.AttributeList
	prefixes []bgp.Prefix6
}

// onEstablished walks the local RIB grouped by update-group-id and
// emits one Update per group, the initial route exchange of §4.6.4.
func (f *FSM) onEstablished() {
	f.emitInitialRIB4()
	if f.ipv6Negotiated {
		f.emitInitialRIB6()
	}
}

func (f *FSM) emitInitialRIB4() {
	if f.cfg.RIB4 == nil {
		return
	}
	groups := map[uint64]*groupAccumulator4{}
	var order []uint64
	f.cfg.RIB4.Walk(func(p bgp.Prefix4, e *rib.Entry4) {
		acc, ok := groups[e.Bundle.GroupID]
		if !ok {
			acc = &groupAccumulator4{attrs: e.Bundle.Attrs}
			groups[e.Bundle.GroupID] = acc
			order = append(order, e.Bundle.GroupID)
		}
		acc.prefixes = append(acc.prefixes, p)
	})
	peerIsIBGP := f.cfg.isIBGP(f.remoteASN)
	for _, gid := range order {
		acc := groups[gid]
		var accepted []bgp.Prefix4
		for _, p := range acc.prefixes {
			if f.cfg.OutFilters4.Evaluate(p) {
				accepted = append(accepted, p)
			}
		}
		if len(accepted) == 0 {
			continue
		}
		attrs := f.prepareOutgoingAttrs(acc.attrs, peerIsIBGP)
		f.rewriteNextHop4(attrs, peerIsIBGP)
		if !f.send(&bgp.Update{PathAttributes: attrs, NLRI: accepted}) {
			return
		}
	}
}

func (f *FSM) emitInitialRIB6() {
	if f.cfg.RIB6 == nil {
		return
	}
	groups := map[uint64]*groupAccumulator6{}
	var order []uint64
	f.cfg.RIB6.Walk(func(p bgp.Prefix6, e *rib.Entry6) {
		acc, ok := groups[e.Bundle.GroupID]
		if !ok {
			acc = &groupAccumulator6{attrs: e.Bundle.Attrs}
			groups[e.Bundle.GroupID] = acc
			order = append(order, e.Bundle.GroupID)
		}
		acc.prefixes = append(acc.prefixes, p)
	})
	peerIsIBGP := f.cfg.isIBGP(f.remoteASN)
	for _, gid := range order {
		acc := groups[gid]
		var accepted []bgp.Prefix6
		for _, p := range acc.prefixes {
			if f.cfg.OutFilters6.Evaluate(p) {
				accepted = append(accepted, p)
			}
		}
		if len(accepted) == 0 {
			continue
		}
		attrs := f.prepareOutgoingAttrs(acc.attrs, peerIsIBGP)
		f.rewriteNextHop6(attrs, peerIsIBGP)
		attrs = rebuildMPReach(attrs, accepted)
		if !f.send(&bgp.Update{PathAttributes: attrs}) {
			return
		}
	}
}
