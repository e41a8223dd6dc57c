package bgp

import "testing"

func TestParseUpdateWithdrawnOnly(t *testing.T) {
	withdrawn := buildPrefix4(24, 192, 168, 1, 0)
	body := buildUpdateBody(withdrawn, nil, nil)

	u, n := ParseUpdate(body, true)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(u.WithdrawnRoutes) != 1 {
		t.Fatalf("got %d withdrawn routes, want 1", len(u.WithdrawnRoutes))
	}
	want := Prefix4{Addr: [4]byte{192, 168, 1, 0}, Length: 24}
	if u.WithdrawnRoutes[0] != want {
		t.Fatalf("withdrawn = %+v, want %+v", u.WithdrawnRoutes[0], want)
	}
	if u.IsEndOfRIB() {
		t.Fatal("withdrawn-only update should not be end-of-RIB")
	}
}

func TestParseUpdateAnnouncementRoundTrip(t *testing.T) {
	origin := buildPathAttr(wellKnownFlags().encode(), byte(AttrOrigin), []byte{OriginIGP})
	aspath := buildPathAttr(wellKnownFlags().encode(), byte(AttrASPath),
		[]byte{byte(ASSequence), 1, 0, 0, 0xFD, 0xEA})
	nexthop := buildPathAttr(wellKnownFlags().encode(), byte(AttrNextHop), []byte{10, 0, 0, 1})
	attrs := append(append(origin, aspath...), nexthop...)
	nlri := buildPrefix4(24, 203, 0, 113, 0)

	body := buildUpdateBody(nil, attrs, nlri)
	u, n := ParseUpdate(body, true)
	if n != nil {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(u.NLRI) != 1 || u.NLRI[0].Length != 24 {
		t.Fatalf("NLRI = %+v", u.NLRI)
	}
	if len(u.PathAttributes) != 3 {
		t.Fatalf("got %d attributes, want 3", len(u.PathAttributes))
	}

	reencoded := u.Body()
	u2, n2 := ParseUpdate(reencoded, true)
	if n2 != nil {
		t.Fatalf("unexpected notification on re-parse: %+v", n2)
	}
	if len(u2.NLRI) != 1 || u2.NLRI[0] != u.NLRI[0] {
		t.Fatalf("round trip NLRI mismatch: %+v vs %+v", u2.NLRI, u.NLRI)
	}
}

func TestParseUpdateMissingWellKnownAttribute(t *testing.T) {
	nlri := buildPrefix4(24, 203, 0, 113, 0)
	body := buildUpdateBody(nil, nil, nlri)
	_, n := ParseUpdate(body, true)
	if n == nil || n.Code != ErrUpdate || n.Subcode != ErrUpdateMissWellKnown {
		t.Fatalf("expected MISSING_WELL_KNOWN_ATTRIBUTE, got %+v", n)
	}
}

func TestIsEndOfRIB(t *testing.T) {
	u := &Update{}
	if !u.IsEndOfRIB() {
		t.Fatal("empty update should be end-of-RIB")
	}
}
