package bgp

import "encoding/binary"

// AFI/SAFI values this library gives structured treatment to (§4.2,
// RFC 4760). Any other AFI/SAFI pair round-trips opaquely via
// Attribute.Raw.
const (
	AFIIPv6         = 2
	SAFIUnicast     = 1
	nextHopLenOne   = 16
	nextHopLenTwo   = 32
)

func decodeMPReach(value []byte) (Attribute, *Notification) {
	if len(value) < 5 {
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	nhLen := int(value[3])
	off := 4

	a := Attribute{AFI: afi, SAFI: safi}

	if afi != AFIIPv6 || safi != SAFIUnicast {
		a.Raw = append([]byte(nil), value...)
		return a, nil
	}

	if nhLen != nextHopLenOne && nhLen != nextHopLenTwo {
		return a, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
	}
	if off+nhLen > len(value) {
		return a, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
	}
	copy(a.MPReach.NextHopGlobal[:], value[off:off+16])
	off += 16
	if nhLen == nextHopLenTwo {
		copy(a.MPReach.NextHopLinkLocal[:], value[off:off+16])
		a.MPReach.HasLinkLocal = true
		off += 16
	}
	if off >= len(value) {
		return a, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
	}
	off++ // reserved SNPA-count octet, always zero
	for off < len(value) {
		p, n, err := DecodePrefix6(value[off:])
		if err != nil {
			return a, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
		}
		a.MPReach.NLRI = append(a.MPReach.NLRI, p)
		off += n
	}
	return a, nil
}

func encodeMPReach(a Attribute) []byte {
	if a.AFI != AFIIPv6 || a.SAFI != SAFIUnicast {
		return a.Raw
	}
	nhLen := nextHopLenOne
	if a.MPReach.HasLinkLocal {
		nhLen = nextHopLenTwo
	}
	out := make([]byte, 4, 4+nhLen+1+32)
	binary.BigEndian.PutUint16(out[0:2], a.AFI)
	out[2] = a.SAFI
	out[3] = byte(nhLen)
	out = append(out, a.MPReach.NextHopGlobal[:]...)
	if a.MPReach.HasLinkLocal {
		out = append(out, a.MPReach.NextHopLinkLocal[:]...)
	}
	out = append(out, 0) // reserved
	for _, p := range a.MPReach.NLRI {
		out = append(out, p.EncodeNLRI()...)
	}
	return out
}

func decodeMPUnreach(value []byte) (Attribute, *Notification) {
	if len(value) < 3 {
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	a := Attribute{AFI: afi, SAFI: safi}

	if afi != AFIIPv6 || safi != SAFIUnicast {
		a.Raw = append([]byte(nil), value...)
		return a, nil
	}

	off := 3
	for off < len(value) {
		p, n, err := DecodePrefix6(value[off:])
		if err != nil {
			return a, NewNotification(ErrUpdate, ErrUpdateOptAttr, value)
		}
		a.MPUnreach.NLRI = append(a.MPUnreach.NLRI, p)
		off += n
	}
	return a, nil
}

func encodeMPUnreach(a Attribute) []byte {
	if a.AFI != AFIIPv6 || a.SAFI != SAFIUnicast {
		return a.Raw
	}
	out := make([]byte, 3)
	binary.BigEndian.PutUint16(out[0:2], a.AFI)
	out[2] = a.SAFI
	for _, p := range a.MPUnreach.NLRI {
		out = append(out, p.EncodeNLRI()...)
	}
	return out
}
