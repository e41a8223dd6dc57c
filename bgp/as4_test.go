package bgp

import "testing"

func TestDowngradeAndRestorePath(t *testing.T) {
	original := ASPath{FourByte: true, Segments: []ASPathSegment{
		{Type: ASSequence, ASNs: []uint32{64512, 400000, 64513}},
	}}

	twoByte, as4 := DowngradePath(original)
	if as4 == nil {
		t.Fatal("expected an AS4_PATH companion attribute for a path containing a four-byte ASN")
	}
	want := []uint32{64512, AS_TRANS, 64513}
	for i, asn := range twoByte.Segments[0].ASNs {
		if asn != want[i] {
			t.Fatalf("downgraded ASN[%d] = %d, want %d", i, asn, want[i])
		}
	}

	restored := RestorePath(twoByte, as4)
	if restored.Length() != original.Length() {
		t.Fatalf("restored length = %d, want %d", restored.Length(), original.Length())
	}
	for i, asn := range restored.Segments[0].ASNs {
		if asn != original.Segments[0].ASNs[i] {
			t.Fatalf("restored ASN[%d] = %d, want %d", i, asn, original.Segments[0].ASNs[i])
		}
	}
}

func TestDowngradeNoAS4WhenAllTwoByteClean(t *testing.T) {
	original := ASPath{FourByte: true, Segments: []ASPathSegment{
		{Type: ASSequence, ASNs: []uint32{100, 200}},
	}}
	_, as4 := DowngradePath(original)
	if as4 != nil {
		t.Fatalf("expected no AS4_PATH for an all-two-byte-clean path, got %+v", as4)
	}
}

func TestPrependWithinSegment(t *testing.T) {
	path := ASPath{FourByte: true, Segments: []ASPathSegment{
		{Type: ASSequence, ASNs: []uint32{100}},
	}}
	got := Prepend(path, 200, 2)
	want := []uint32{200, 200, 100}
	if len(got.Segments) != 1 || len(got.Segments[0].ASNs) != 3 {
		t.Fatalf("prepend = %+v", got)
	}
	for i, asn := range got.Segments[0].ASNs {
		if asn != want[i] {
			t.Fatalf("prepend[%d] = %d, want %d", i, asn, want[i])
		}
	}
}

func TestPrependSplitsOversizeSegment(t *testing.T) {
	path := ASPath{FourByte: true}
	got := Prepend(path, 64512, maxSegmentASNsFourByte+1)
	if len(got.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(got.Segments))
	}
	if len(got.Segments[0].ASNs) != maxSegmentASNsFourByte {
		t.Fatalf("first segment has %d ASNs, want %d", len(got.Segments[0].ASNs), maxSegmentASNsFourByte)
	}
	if len(got.Segments[1].ASNs) != 1 {
		t.Fatalf("second segment has %d ASNs, want 1", len(got.Segments[1].ASNs))
	}
}

func TestHostOrderU32(t *testing.T) {
	id := [4]byte{192, 0, 2, 1}
	got := hostOrderU32(id)
	want := uint32(192)<<24 | uint32(0)<<16 | uint32(2)<<8 | uint32(1)
	if got != want {
		t.Fatalf("hostOrderU32 = %d, want %d", got, want)
	}
}
