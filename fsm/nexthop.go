package fsm

import "github.com/route-beacon/bgpspeaker/bgp"

// validNextHop4 implements §4.2's NextHop validation: not unspecified,
// not loopback, not multicast or reserved (class E), and, unless
// disabled, inside the configured peering LAN.
func (f *FSM) validNextHop4(nh [4]byte) bool {
	if nh == [4]byte{} {
		return false
	}
	if nh[0] == 127 {
		return false
	}
	if nh[0] >= 224 {
		return false
	}
	if f.cfg.NoNexthopCheck4 {
		return true
	}
	lan := f.cfg.PeeringLAN4
	if lan.Length == 0 && lan.Addr == [4]byte{} {
		return true // no peering LAN configured: no restriction
	}
	return lan.Includes(bgp.Prefix4{Addr: nh, Length: 32})
}

// validNextHop6 is the IPv6 counterpart: not unspecified, not
// multicast, and, unless disabled, inside the configured peering LAN.
func (f *FSM) validNextHop6(nh [16]byte) bool {
	if nh == [16]byte{} {
		return false
	}
	if nh[0] == 0xff {
		return false
	}
	if f.cfg.NoNexthopCheck6 {
		return true
	}
	lan := f.cfg.PeeringLAN6
	if lan.Length == 0 && lan.Addr == [16]byte{} {
		return true
	}
	return lan.Includes(bgp.Prefix6{Addr: nh, Length: 128})
}

// effectiveNextHop4 applies ibgp_alter_nexthop and the forced/default
// nexthop overrides before an attribute bundle crosses to the peer
// (§4.6.4).
func (f *FSM) effectiveNextHop4(current [4]byte, peerIsIBGP bool) [4]byte {
	if f.cfg.ForcedDefaultNexthop4 {
		return f.cfg.DefaultNexthop4
	}
	if peerIsIBGP && !f.cfg.IBGPAlterNexthop {
		return current
	}
	if current == [4]byte{} && f.cfg.DefaultNexthop4 != [4]byte{} {
		return f.cfg.DefaultNexthop4
	}
	if f.cfg.IBGPAlterNexthop {
		return f.cfg.RouterID
	}
	return current
}

func (f *FSM) effectiveNextHop6(current [16]byte, peerIsIBGP bool) [16]byte {
	if f.cfg.ForcedDefaultNexthop6 {
		return f.cfg.DefaultNexthop6Global
	}
	if peerIsIBGP && !f.cfg.IBGPAlterNexthop {
		return current
	}
	if current == [16]byte{} && f.cfg.DefaultNexthop6Global != [16]byte{} {
		return f.cfg.DefaultNexthop6Global
	}
	return current
}

func (f *FSM) rewriteNextHop4(attrs bgp.AttributeList, peerIsIBGP bool) {
	for i := range attrs {
		if attrs[i].Type == bgp.AttrNextHop {
			attrs[i].NextHop = f.effectiveNextHop4(attrs[i].NextHop, peerIsIBGP)
		}
	}
}

func (f *FSM) rewriteNextHop6(attrs bgp.AttributeList, peerIsIBGP bool) {
	for i := range attrs {
		if attrs[i].Type == bgp.AttrMPReachNLRI && attrs[i].AFI == bgp.AFIIPv6 {
			attrs[i].MPReach.NextHopGlobal = f.effectiveNextHop6(attrs[i].MPReach.NextHopGlobal, peerIsIBGP)
		}
	}
}

// rebuildMPReach replaces the NLRI carried by a bundle's MP_REACH_NLRI
// attribute with exactly the prefixes this particular Update is
// advertising (the bundle's own NLRI reflects every prefix sharing the
// attribute set, not just the ones a given egress filter pass kept).
func rebuildMPReach(attrs bgp.AttributeList, prefixes []bgp.Prefix6) bgp.AttributeList {
	for i := range attrs {
		if attrs[i].Type == bgp.AttrMPReachNLRI && attrs[i].AFI == bgp.AFIIPv6 {
			attrs[i].MPReach.NLRI = prefixes
			return attrs
		}
	}
	return append(attrs, bgp.Attribute{
		Type: bgp.AttrMPReachNLRI, Flags: bgp.AttrFlags{Optional: true},
		AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast, MPReach: bgp.MPReach{NLRI: prefixes},
	})
}

// prepareOutgoingAttrs applies the egress-side attribute transforms
// common to both address families (§4.6.4): stripping optional
// non-transitive attributes and LOCAL_PREF for EBGP, prepending the
// local ASN for EBGP, and downgrading to a two-byte AS_PATH (plus an
// AS4_PATH/AS4_AGGREGATOR companion) when the peer never negotiated
// four-byte ASNs. Per-AFI next-hop rewriting happens separately via
// rewriteNextHop4/6, since the two address families keep the value in
// different attribute fields.
func (f *FSM) prepareOutgoingAttrs(bundleAttrs bgp.AttributeList, peerIsIBGP bool) bgp.AttributeList {
	out := bundleAttrs.Clone()

	filtered := out[:0]
	for _, a := range out {
		if !peerIsIBGP && a.Flags.Optional && !a.Flags.Transitive {
			continue
		}
		if !peerIsIBGP && a.Type == bgp.AttrLocalPref {
			continue
		}
		filtered = append(filtered, a)
	}
	out = filtered

	if !peerIsIBGP {
		for i := range out {
			if out[i].Type == bgp.AttrASPath {
				out[i].ASPath = bgp.Prepend(out[i].ASPath, f.cfg.ASN, 1)
			}
		}
	}

	if !f.fourByteNegotiated {
		out = downgradeOutgoingASNs(out)
	}
	return out
}

// downgradeOutgoingASNs narrows AS_PATH (and AGGREGATOR, if present)
// to two-byte ASNs for a peer that didn't negotiate RFC 6793, adding
// the AS4_PATH/AS4_AGGREGATOR companions when anything didn't fit.
func downgradeOutgoingASNs(attrs bgp.AttributeList) bgp.AttributeList {
	ap, ok := attrs.Get(bgp.AttrASPath)
	if ok {
		twoByte, as4 := bgp.DowngradePath(ap.ASPath)
		for i := range attrs {
			if attrs[i].Type == bgp.AttrASPath {
				attrs[i].ASPath = twoByte
			}
		}
		if as4 != nil {
			attrs = append(attrs, bgp.Attribute{
				Type: bgp.AttrAS4Path, Flags: bgp.AttrFlags{Optional: true, Transitive: true},
				AS4Path: *as4,
			})
		}
	}

	if agg, ok := attrs.Get(bgp.AttrAggregator); ok && agg.Aggregator.ASN > 0xFFFF {
		full := agg.Aggregator
		for i := range attrs {
			if attrs[i].Type == bgp.AttrAggregator {
				attrs[i].Aggregator.ASN = uint32(twoByteASN(full.ASN))
			}
		}
		attrs = append(attrs, bgp.Attribute{
			Type: bgp.AttrAS4Aggregator, Flags: bgp.AttrFlags{Optional: true, Transitive: true},
			AS4Aggregator: full,
		})
	}
	return attrs
}
