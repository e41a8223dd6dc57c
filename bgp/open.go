package bgp

import "encoding/binary"

const bgpVersion4 = 4

// Open is a decoded OPEN message (§3, §4.6.2). MyASN is the two-byte
// field as transmitted (AS_TRANS when the speaker negotiated a
// four-byte ASN above 0xFFFF); FourByteASN/HasFourByteASN carry the
// RFC 6793 capability value, which callers should prefer once present.
type Open struct {
	Version       uint8
	MyASN         uint16
	HoldTime      uint16
	BGPIdentifier [4]byte

	HasFourByteASN bool
	FourByteASN    uint32

	MPFamilies      []MPFamily
	RawCapabilities []RawCapability
}

// ASN returns the speaker's advertised AS number, preferring the
// four-byte capability value over the two-byte field (§4.2.1).
func (o *Open) ASN() uint32 {
	if o.HasFourByteASN {
		return o.FourByteASN
	}
	return uint32(o.MyASN)
}

// SupportsIPv6Unicast reports whether the peer advertised the
// AFI=IPv6/SAFI=unicast multiprotocol capability.
func (o *Open) SupportsIPv6Unicast() bool {
	for _, f := range o.MPFamilies {
		if f.AFI == AFIIPv6 && f.SAFI == SAFIUnicast {
			return true
		}
	}
	return false
}

// ParseOpen decodes an OPEN message body.
func ParseOpen(body []byte) (*Open, *Notification) {
	if len(body) < 10 {
		return nil, NewNotification(ErrHeader, ErrHeaderLength, nil)
	}
	o := &Open{
		Version:  body[0],
		MyASN:    binary.BigEndian.Uint16(body[1:3]),
		HoldTime: binary.BigEndian.Uint16(body[3:5]),
	}
	copy(o.BGPIdentifier[:], body[5:9])
	optLen := int(body[9])
	off := 10
	if off+optLen > len(body) {
		return nil, NewNotification(ErrHeader, ErrHeaderLength, nil)
	}
	opts := body[off : off+optLen]

	p := 0
	for p < len(opts) {
		if p+2 > len(opts) {
			return nil, NewNotification(ErrOpen, ErrOpenOptParam, nil)
		}
		ptype := opts[p]
		plen := int(opts[p+1])
		p += 2
		if p+plen > len(opts) {
			return nil, NewNotification(ErrOpen, ErrOpenOptParam, nil)
		}
		pval := opts[p : p+plen]
		p += plen

		if ptype != optParamCapabilities {
			continue
		}
		families, fourByte, raw, n := decodeCapabilities(pval)
		if n != nil {
			return nil, n
		}
		o.MPFamilies = append(o.MPFamilies, families...)
		o.RawCapabilities = append(o.RawCapabilities, raw...)
		if len(fourByte) > 0 {
			o.HasFourByteASN = true
			o.FourByteASN = fourByte[0]
		}
	}

	if o.Version != bgpVersion4 {
		return nil, NewNotification(ErrOpen, ErrOpenVersion, []byte{bgpVersion4})
	}
	return o, nil
}

func (o *Open) Body() []byte {
	caps := encodeCapabilities(o)
	var opts []byte
	if len(caps) > 0 {
		opts = append(opts, optParamCapabilities, byte(len(caps)))
		opts = append(opts, caps...)
	}

	out := make([]byte, 10, 10+len(opts))
	out[0] = o.Version
	binary.BigEndian.PutUint16(out[1:3], o.MyASN)
	binary.BigEndian.PutUint16(out[3:5], o.HoldTime)
	copy(out[5:9], o.BGPIdentifier[:])
	out[9] = byte(len(opts))
	return append(out, opts...)
}

// Validate checks an inbound OPEN against the local session's
// expectations (§4.6.2): the peer AS must match the configured remote
// AS, the BGP identifier must be non-zero, and the hold time must be
// zero (meaning no keepalives) or at least 3 seconds.
func (o *Open) Validate(expectedRemoteASN uint32) *Notification {
	if o.ASN() != expectedRemoteASN {
		return NewNotification(ErrOpen, ErrOpenPeerAS, nil)
	}
	if o.BGPIdentifier == [4]byte{} {
		return NewNotification(ErrOpen, ErrOpenBGPID, nil)
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return NewNotification(ErrOpen, ErrOpenHoldTime, nil)
	}
	return nil
}
