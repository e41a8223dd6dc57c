package bgp

import "testing"

func TestMPReachIPv6RoundTrip(t *testing.T) {
	a := Attribute{AFI: AFIIPv6, SAFI: SAFIUnicast}
	a.MPReach.NextHopGlobal[0] = 0xFE
	a.MPReach.NextHopGlobal[1] = 0x80
	a.MPReach.NLRI = []Prefix6{{Length: 64}}
	a.MPReach.NLRI[0].Addr[0] = 0x20
	a.MPReach.NLRI[0].Addr[1] = 0x01

	encoded := encodeMPReach(a)
	decoded, n := decodeMPReach(encoded)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if decoded.MPReach.NextHopGlobal != a.MPReach.NextHopGlobal {
		t.Fatalf("next hop mismatch: %v vs %v", decoded.MPReach.NextHopGlobal, a.MPReach.NextHopGlobal)
	}
	if len(decoded.MPReach.NLRI) != 1 || decoded.MPReach.NLRI[0] != a.MPReach.NLRI[0] {
		t.Fatalf("NLRI mismatch: %+v vs %+v", decoded.MPReach.NLRI, a.MPReach.NLRI)
	}
}

func TestMPReachLinkLocalNextHop(t *testing.T) {
	a := Attribute{AFI: AFIIPv6, SAFI: SAFIUnicast}
	a.MPReach.HasLinkLocal = true
	a.MPReach.NextHopLinkLocal[0] = 0xFE

	encoded := encodeMPReach(a)
	decoded, n := decodeMPReach(encoded)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !decoded.MPReach.HasLinkLocal || decoded.MPReach.NextHopLinkLocal != a.MPReach.NextHopLinkLocal {
		t.Fatalf("link-local next hop not preserved: %+v", decoded.MPReach)
	}
}

func TestMPReachOpaqueForOtherAFI(t *testing.T) {
	raw := []byte{0, 1, 1, 4, 10, 0, 0, 1, 0, 24, 192, 168, 1}
	a, n := decodeMPReach(raw)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if a.AFI != 1 || a.SAFI != 1 || len(a.Raw) != len(raw) {
		t.Fatalf("expected opaque passthrough, got %+v", a)
	}
	if reencoded := encodeMPReach(a); len(reencoded) != len(raw) {
		t.Fatalf("re-encode length = %d, want %d", len(reencoded), len(raw))
	}
}

func TestMPUnreachIPv6RoundTrip(t *testing.T) {
	a := Attribute{AFI: AFIIPv6, SAFI: SAFIUnicast}
	a.MPUnreach.NLRI = []Prefix6{{Length: 32}}
	a.MPUnreach.NLRI[0].Addr[0] = 0x20

	encoded := encodeMPUnreach(a)
	decoded, n := decodeMPUnreach(encoded)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(decoded.MPUnreach.NLRI) != 1 || decoded.MPUnreach.NLRI[0] != a.MPUnreach.NLRI[0] {
		t.Fatalf("NLRI mismatch: %+v vs %+v", decoded.MPUnreach.NLRI, a.MPUnreach.NLRI)
	}
}
