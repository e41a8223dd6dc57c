package bgp

import "encoding/binary"

// Update is a decoded UPDATE message (§3). IPv6 reachability/
// unreachability rides inside PathAttributes as MP_REACH_NLRI /
// MP_UNREACH_NLRI (§4.2); WithdrawnRoutes and NLRI are always IPv4,
// per the wire format's dedicated fields.
type Update struct {
	WithdrawnRoutes []Prefix4
	PathAttributes  AttributeList
	NLRI            []Prefix4
}

// ParseUpdate decodes an UPDATE message body. fourByteASN selects the
// AS_PATH/AGGREGATOR width, per the capability negotiated at OPEN. The
// returned *Notification, if non-nil, is the first attribute- or
// structure-level error found; the partially decoded Update is still
// returned so a caller that wants to log the rest of the message can.
func ParseUpdate(body []byte, fourByteASN bool) (*Update, *Notification) {
	u := &Update{}
	off := 0

	if off+2 > len(body) {
		return u, NewNotification(ErrUpdate, ErrUpdateUnspecific, nil)
	}
	wlen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+wlen > len(body) {
		return u, NewNotification(ErrUpdate, ErrUpdateUnspecific, nil)
	}
	wbuf := body[off : off+wlen]
	off += wlen
	for len(wbuf) > 0 {
		p, n, err := DecodePrefix4(wbuf)
		if err != nil {
			return u, NewNotification(ErrUpdate, ErrUpdateNetwork, nil)
		}
		u.WithdrawnRoutes = append(u.WithdrawnRoutes, p)
		wbuf = wbuf[n:]
	}

	if off+2 > len(body) {
		return u, NewNotification(ErrUpdate, ErrUpdateUnspecific, nil)
	}
	alen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+alen > len(body) {
		return u, NewNotification(ErrUpdate, ErrUpdateUnspecific, nil)
	}
	abuf := body[off : off+alen]
	off += alen
	attrs, n := DecodeAttributes(abuf, fourByteASN)
	u.PathAttributes = attrs
	if n != nil {
		return u, n
	}

	nbuf := body[off:]
	for len(nbuf) > 0 {
		p, consumed, err := DecodePrefix4(nbuf)
		if err != nil {
			return u, NewNotification(ErrUpdate, ErrUpdateNetwork, nil)
		}
		u.NLRI = append(u.NLRI, p)
		nbuf = nbuf[consumed:]
	}

	if len(u.NLRI) > 0 {
		if _, ok := u.PathAttributes.Get(AttrOrigin); !ok {
			return u, NewNotification(ErrUpdate, ErrUpdateMissWellKnown, []byte{byte(AttrOrigin)})
		}
		if _, ok := u.PathAttributes.Get(AttrASPath); !ok {
			return u, NewNotification(ErrUpdate, ErrUpdateMissWellKnown, []byte{byte(AttrASPath)})
		}
		if _, ok := u.PathAttributes.Get(AttrNextHop); !ok {
			return u, NewNotification(ErrUpdate, ErrUpdateMissWellKnown, []byte{byte(AttrNextHop)})
		}
	}

	return u, nil
}

func (u *Update) Body() []byte {
	var out []byte

	wbuf := make([]byte, 0, len(u.WithdrawnRoutes)*5)
	for _, p := range u.WithdrawnRoutes {
		wbuf = append(wbuf, p.EncodeNLRI()...)
	}
	wlen := make([]byte, 2)
	binary.BigEndian.PutUint16(wlen, uint16(len(wbuf)))
	out = append(out, wlen...)
	out = append(out, wbuf...)

	abuf := EncodeAttributes(u.PathAttributes)
	alen := make([]byte, 2)
	binary.BigEndian.PutUint16(alen, uint16(len(abuf)))
	out = append(out, alen...)
	out = append(out, abuf...)

	for _, p := range u.NLRI {
		out = append(out, p.EncodeNLRI()...)
	}
	return out
}

// IsEndOfRIB reports whether this UPDATE is the IPv4 end-of-RIB marker:
// no withdrawn routes, no attributes, no NLRI.
func (u *Update) IsEndOfRIB() bool {
	return len(u.WithdrawnRoutes) == 0 && len(u.PathAttributes) == 0 && len(u.NLRI) == 0
}
