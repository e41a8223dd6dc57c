package fsm_test

import (
	"net/netip"
	"testing"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/fsm"
	"github.com/route-beacon/bgpspeaker/rib"
)

func mustPrefix4(t *testing.T, s string, length uint8) bgp.Prefix4 {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	p, err := bgp.NewPrefix4(addr, length)
	if err != nil {
		t.Fatalf("NewPrefix4: %v", err)
	}
	return p
}

func wellFormedAttrs(nexthop [4]byte, asPath bgp.ASPath) bgp.AttributeList {
	return bgp.AttributeList{
		{Type: bgp.AttrOrigin, Flags: bgp.AttrFlags{Transitive: true}, Origin: bgp.OriginIGP},
		{Type: bgp.AttrASPath, Flags: bgp.AttrFlags{Transitive: true}, ASPath: asPath},
		{Type: bgp.AttrNextHop, Flags: bgp.AttrFlags{Transitive: true}, NextHop: nexthop},
	}
}

// TestRouteExchangeAcrossTwoPeeredSessions covers the scenario of a
// route originated locally on one session becoming visible, keyed by
// that session's peer bgp-id, in the other session's RIB once the
// two are peered and Established; it also checks the Add4 bus event
// reaches a third observer, and that a subsequent peer withdrawal
// clears the slot and is published in turn.
func TestRouteExchangeAcrossTwoPeeredSessions(t *testing.T) {
	aID := [4]byte{1, 1, 1, 1}
	bID := [4]byte{2, 2, 2, 2}
	prefix := mustPrefix4(t, "192.0.2.0", 24)
	nexthopA := [4]byte{198, 51, 100, 1}

	ribA := rib.NewTable4()
	ribA.LocalInsert(prefix, nexthopA, 100)

	ribB := rib.NewTable4()
	spy := &spySubscriber{}
	busB := bus.New()
	busB.Subscribe(spy)

	cfgA := baseConfig()
	cfgA.RouterID = aID
	cfgA.PeerASN = 65002
	cfgA.RIB4 = ribA

	cfgB := baseConfig()
	cfgB.ASN = 65002
	cfgB.PeerASN = 65001
	cfgB.RouterID = bID
	cfgB.RIB4 = ribB
	cfgB.Bus = busB

	outA := &recordingSink{}
	outB := &recordingSink{}
	cfgA.OutHandler = outA
	cfgB.OutHandler = outB
	a := fsm.New(cfgA)
	b := fsm.New(cfgB)

	a.Start()
	pump(a, b, outA, outB)

	if a.State() != fsm.Established || b.State() != fsm.Established {
		t.Fatalf("states = %v/%v, want Established/Established", a.State(), b.State())
	}

	addr := prefix.Net()
	entry, ok := ribB.LookupSrc(aID, addr)
	if !ok {
		t.Fatalf("B's RIB has no entry keyed by A's router-id")
	}
	if entry.Prefix.Equal(prefix) == false {
		t.Fatalf("entry prefix = %v, want %v", entry.Prefix, prefix)
	}
	count := 0
	ribB.Walk(func(bgp.Prefix4, *rib.Entry4) { count++ })
	if count != 1 {
		t.Fatalf("ribB has %d entries, want exactly 1", count)
	}
	if len(spy.adds4) != 1 || len(spy.adds4[0].Prefixes) != 1 {
		t.Fatalf("spy saw %d Add4 events, want 1 carrying 1 prefix: %+v", len(spy.adds4), spy.adds4)
	}
	if spy.adds4[0].SrcID != aID {
		t.Fatalf("Add4 SrcID = %v, want %v", spy.adds4[0].SrcID, aID)
	}

	// Now a direct peer withdrawal on B (as if A's wire sent one)
	// must clear the slot and publish Withdraw4.
	b.Run(updateFrame(&bgp.Update{WithdrawnRoutes: []bgp.Prefix4{prefix}}))
	if _, ok := ribB.LookupSrc(aID, addr); ok {
		t.Fatalf("entry still present after withdrawal")
	}
	if len(spy.withdraws4) != 1 {
		t.Fatalf("spy saw %d Withdraw4 events, want 1", len(spy.withdraws4))
	}
}

func TestMissingWellKnownAttributeGoesIdleWithNotification(t *testing.T) {
	cfg := baseConfig()
	f, out := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	badAttrs := bgp.AttributeList{
		{Type: bgp.AttrASPath, Flags: bgp.AttrFlags{Transitive: true}},
		{Type: bgp.AttrNextHop, Flags: bgp.AttrFlags{Transitive: true}, NextHop: [4]byte{198, 51, 100, 1}},
	}
	f.Run(updateFrame(&bgp.Update{
		NLRI:           []bgp.Prefix4{mustPrefix4(t, "192.0.2.0", 24)},
		PathAttributes: badAttrs,
	}))

	if f.State() != fsm.Idle {
		t.Fatalf("state = %v, want Idle", f.State())
	}
	status := f.Status()
	if status.LastNotification == nil {
		t.Fatalf("LastNotification is nil")
	}
	if status.LastNotification.Code != bgp.ErrUpdate || status.LastNotification.Subcode != bgp.ErrUpdateMissWellKnown {
		t.Fatalf("notification = %+v, want ErrUpdate/ErrUpdateMissWellKnown", status.LastNotification)
	}
	frames := out.drain()
	n := decodeNotification(t, frames[len(frames)-1])
	if n.Code != bgp.ErrUpdate || n.Subcode != bgp.ErrUpdateMissWellKnown {
		t.Fatalf("sent notification = %+v, want ErrUpdate/ErrUpdateMissWellKnown", n)
	}
}

func TestOwnASNInPathIsDroppedSilently(t *testing.T) {
	cfg := baseConfig()
	logger := &recordingLogger{}
	cfg.LogHandler = logger
	f, _ := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	pathWithLocalASN := bgp.ASPath{Segments: []bgp.ASPathSegment{{Type: bgp.ASSequence, ASNs: []uint32{65002, 65001}}}}
	f.Run(updateFrame(&bgp.Update{
		NLRI:           []bgp.Prefix4{mustPrefix4(t, "192.0.2.0", 24)},
		PathAttributes: wellFormedAttrs([4]byte{198, 51, 100, 1}, pathWithLocalASN),
	}))

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established (AS-loop is a ring-3 soft drop)", f.State())
	}
}

func TestAllowLocalASAcceptsOwnASNInPath(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowLocalAS = true
	f, _ := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	pathWithLocalASN := bgp.ASPath{Segments: []bgp.ASPathSegment{{Type: bgp.ASSequence, ASNs: []uint32{65002, 65001}}}}
	f.Run(updateFrame(&bgp.Update{
		NLRI:           []bgp.Prefix4{mustPrefix4(t, "192.0.2.0", 24)},
		PathAttributes: wellFormedAttrs([4]byte{198, 51, 100, 1}, pathWithLocalASN),
	}))

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established", f.State())
	}
}

func TestInvalidNextHopDropsAnnouncementSilently(t *testing.T) {
	cfg := baseConfig()
	cfg.RIB4 = rib.NewTable4()
	f, _ := establish(cfg, 65002, [4]byte{10, 0, 0, 2}, 90)

	loopback := [4]byte{127, 0, 0, 1}
	path := bgp.ASPath{Segments: []bgp.ASPathSegment{{Type: bgp.ASSequence, ASNs: []uint32{65002}}}}
	f.Run(updateFrame(&bgp.Update{
		NLRI:           []bgp.Prefix4{mustPrefix4(t, "192.0.2.0", 24)},
		PathAttributes: wellFormedAttrs(loopback, path),
	}))

	if f.State() != fsm.Established {
		t.Fatalf("state = %v, want Established (bad next-hop is a ring-3 soft drop)", f.State())
	}
	count := 0
	cfg.RIB4.Walk(func(bgp.Prefix4, *rib.Entry4) { count++ })
	if count != 0 {
		t.Fatalf("RIB has %d entries, want 0", count)
	}
}
