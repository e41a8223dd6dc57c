package bgp

import (
	"encoding/binary"
	"fmt"
)

// Path attribute type codes (§3, §4.2).
type AttrType uint8

const (
	AttrOrigin          AttrType = 1
	AttrASPath          AttrType = 2
	AttrNextHop         AttrType = 3
	AttrMED             AttrType = 4
	AttrLocalPref       AttrType = 5
	AttrAtomicAggregate AttrType = 6
	AttrAggregator      AttrType = 7
	AttrCommunity       AttrType = 8
	AttrMPReachNLRI     AttrType = 14
	AttrMPUnreachNLRI   AttrType = 15
	AttrAS4Path         AttrType = 17
	AttrAS4Aggregator   AttrType = 18
)

// Attribute flag bits, high nibble of the flags octet (§4.2).
const (
	flagOptional   = 0x80
	flagTransitive = 0x40
	flagPartial    = 0x20
	flagExtended   = 0x10
)

type AttrFlags struct {
	Optional   bool
	Transitive bool
	Partial    bool
	Extended   bool
}

func decodeFlags(b byte) AttrFlags {
	return AttrFlags{
		Optional:   b&flagOptional != 0,
		Transitive: b&flagTransitive != 0,
		Partial:    b&flagPartial != 0,
		Extended:   b&flagExtended != 0,
	}
}

func (f AttrFlags) encode() byte {
	var b byte
	if f.Optional {
		b |= flagOptional
	}
	if f.Transitive {
		b |= flagTransitive
	}
	if f.Partial {
		b |= flagPartial
	}
	if f.Extended {
		b |= flagExtended
	}
	return b
}

// wellKnownFlags returns the canonical (optional, transitive) flag pair for
// the well-known, always-transitive attribute types (§3 invariant:
// "Well-known attributes must be transitive").
func wellKnownFlags() AttrFlags { return AttrFlags{Optional: false, Transitive: true} }
func optTransFlags() AttrFlags  { return AttrFlags{Optional: true, Transitive: true} }
func optNonTransFlags() AttrFlags {
	return AttrFlags{Optional: true, Transitive: false}
}

// Origin values (§4.2).
const (
	OriginIGP        = 0
	OriginEGP        = 1
	OriginIncomplete = 2
)

// Aggregator is the value of the AGGREGATOR / AS4_AGGREGATOR attribute:
// the AS number and BGP identifier of the router that formed the
// aggregate route.
type Aggregator struct {
	ASN uint32
	ID  [4]byte
}

// MPReach is the parsed body of MP_REACH_NLRI for AFI=IPv6/SAFI=unicast
// (§4.2); other AFI/SAFI pairs are preserved opaquely via Attribute.Raw.
type MPReach struct {
	NextHopGlobal   [16]byte
	NextHopLinkLocal [16]byte
	HasLinkLocal    bool
	NLRI            []Prefix6
}

// MPUnreach is the parsed body of MP_UNREACH_NLRI for AFI=IPv6/SAFI=unicast.
type MPUnreach struct {
	NLRI []Prefix6
}

// Attribute is the tagged union over the concrete path attribute types
// (§3). Exactly the fields relevant to Type are populated; Raw holds the
// verbatim value bytes for Unknown (and for any MP_REACH/MP_UNREACH whose
// AFI/SAFI this library doesn't special-case, per §4.2's "preserved
// opaquely").
type Attribute struct {
	Type  AttrType
	Flags AttrFlags

	Origin        uint8
	ASPath        ASPath
	NextHop       [4]byte
	MED           uint32
	LocalPref     uint32
	Aggregator    Aggregator
	Community     []uint32
	AS4Path       ASPath
	AS4Aggregator Aggregator
	MPReach       MPReach
	MPUnreach     MPUnreach

	AFI  uint16 // populated for MP_REACH_NLRI / MP_UNREACH_NLRI
	SAFI uint8

	Raw []byte // Unknown attributes, and opaque MP_* bodies

	// Err records a parse failure attributable to this attribute, per
	// §7/§9: "attribute-level errors are captured on the attribute
	// object and forwarded through the enclosing message to the FSM."
	Err *Notification
}

// Clone deep-copies the attribute. Per §9's design note, an attribute
// carrying a parse error cannot be cloned.
func (a Attribute) Clone() Attribute {
	if a.Err != nil {
		panic("bgp: Clone called on an attribute with a recorded parse error")
	}
	c := a
	c.ASPath = a.ASPath.clone()
	c.AS4Path = a.AS4Path.clone()
	c.Community = append([]uint32(nil), a.Community...)
	c.MPReach.NLRI = append([]Prefix6(nil), a.MPReach.NLRI...)
	c.MPUnreach.NLRI = append([]Prefix6(nil), a.MPUnreach.NLRI...)
	c.Raw = append([]byte(nil), a.Raw...)
	return c
}

// AttributeList is a path attribute list, unordered per §8's round-trip
// property.
type AttributeList []Attribute

func (l AttributeList) Get(t AttrType) (Attribute, bool) {
	for _, a := range l {
		if a.Type == t {
			return a, true
		}
	}
	return Attribute{}, false
}

func (l AttributeList) Clone() AttributeList {
	out := make(AttributeList, len(l))
	for i, a := range l {
		out[i] = a.Clone()
	}
	return out
}

// EncodeAttributes serializes a path attribute list.
func EncodeAttributes(attrs AttributeList) []byte {
	var out []byte
	for _, a := range attrs {
		out = append(out, encodeAttribute(a)...)
	}
	return out
}

func encodeAttribute(a Attribute) []byte {
	value := encodeAttrValue(a)
	flags := a.Flags
	flags.Extended = len(value) > 255
	header := []byte{flags.encode(), byte(a.Type)}
	if flags.Extended {
		lb := make([]byte, 2)
		binary.BigEndian.PutUint16(lb, uint16(len(value)))
		header = append(header, lb...)
	} else {
		header = append(header, byte(len(value)))
	}
	return append(header, value...)
}

// DecodeAttributes parses a path attribute list. fourByteASN selects the
// AS_PATH/AGGREGATOR ASN width (§4.2.1, negotiated at OPEN). The first
// attribute-level error encountered (if any) is returned for the caller
// to forward as a Notification (§7); parsing continues best-effort past
// it so the caller can decide whether to keep going.
func DecodeAttributes(buf []byte, fourByteASN bool) (AttributeList, *Notification) {
	var out AttributeList
	var firstErr *Notification
	seen := map[AttrType]bool{}

	offset := 0
	for offset < len(buf) {
		if offset+2 > len(buf) {
			return out, firstErrOr(firstErr, NewNotification(ErrUpdate, ErrUpdateAttrLen, nil))
		}
		flagsByte := buf[offset]
		typeCode := buf[offset+1]
		offset += 2
		flags := decodeFlags(flagsByte)

		var length int
		if flags.Extended {
			if offset+2 > len(buf) {
				return out, firstErrOr(firstErr, NewNotification(ErrUpdate, ErrUpdateAttrLen, nil))
			}
			length = int(binary.BigEndian.Uint16(buf[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(buf) {
				return out, firstErrOr(firstErr, NewNotification(ErrUpdate, ErrUpdateAttrLen, nil))
			}
			length = int(buf[offset])
			offset++
		}
		if offset+length > len(buf) {
			return out, firstErrOr(firstErr, NewNotification(ErrUpdate, ErrUpdateAttrLen, nil))
		}
		value := buf[offset : offset+length]
		offset += length

		at := AttrType(typeCode)
		if seen[at] {
			n := NewNotification(ErrUpdate, ErrUpdateAttrList, nil)
			if firstErr == nil {
				firstErr = n
			}
			continue
		}
		seen[at] = true

		a, n := decodeAttrValue(at, flags, value, fourByteASN)
		a.Type = at
		a.Flags = flags
		if n != nil {
			a.Err = n
			if firstErr == nil {
				firstErr = n
			}
		}
		// §3 invariant: well-known attributes must be transitive. A
		// well-known type code arriving with the optional bit set breaks
		// the same invariant.
		wellKnownType := at == AttrOrigin || at == AttrASPath || at == AttrNextHop ||
			at == AttrLocalPref || at == AttrAtomicAggregate
		if (!flags.Optional || wellKnownType) && (flags.Optional || !flags.Transitive) {
			n := NewNotification(ErrUpdate, ErrUpdateBadWellKnown, value)
			a.Err = n
			if firstErr == nil {
				firstErr = n
			}
		}
		// §3 invariant: optional non-transitive must not be partial.
		if flags.Optional && !flags.Transitive && flags.Partial {
			n := NewNotification(ErrUpdate, ErrUpdateAttrFlags, value)
			a.Err = n
			if firstErr == nil {
				firstErr = n
			}
		}
		out = append(out, a)
	}
	return out, firstErr
}

func firstErrOr(existing, fallback *Notification) *Notification {
	if existing != nil {
		return existing
	}
	return fallback
}

func decodeAttrValue(t AttrType, flags AttrFlags, value []byte, fourByteASN bool) (Attribute, *Notification) {
	switch t {
	case AttrOrigin:
		return decodeOrigin(value)
	case AttrASPath:
		return decodeASPath(value, fourByteASN)
	case AttrNextHop:
		return decodeNextHop(value)
	case AttrMED:
		return decodeFixed32(value, func(a *Attribute, v uint32) { a.MED = v }, ErrUpdateAttrLen)
	case AttrLocalPref:
		return decodeFixed32(value, func(a *Attribute, v uint32) { a.LocalPref = v }, ErrUpdateAttrLen)
	case AttrAtomicAggregate:
		if len(value) != 0 {
			return Attribute{}, NewNotification(ErrUpdate, ErrUpdateAttrLen, value)
		}
		return Attribute{}, nil
	case AttrAggregator:
		return decodeAggregator(value, fourByteASN)
	case AttrCommunity:
		return decodeCommunity(value)
	case AttrMPReachNLRI:
		return decodeMPReach(value)
	case AttrMPUnreachNLRI:
		return decodeMPUnreach(value)
	case AttrAS4Path:
		a, n := decodeASPath(value, true)
		a.AS4Path, a.ASPath = a.ASPath, ASPath{}
		return a, n
	case AttrAS4Aggregator:
		a, n := decodeAggregator(value, true)
		a.AS4Aggregator, a.Aggregator = a.Aggregator, Aggregator{}
		return a, n
	default:
		if !flags.Optional {
			return Attribute{Raw: value}, NewNotification(ErrUpdate, ErrUpdateBadWellKnown, []byte{byte(t)})
		}
		return Attribute{Raw: append([]byte(nil), value...)}, nil
	}
}

func encodeAttrValue(a Attribute) []byte {
	switch a.Type {
	case AttrOrigin:
		return []byte{a.Origin}
	case AttrASPath:
		return a.ASPath.encode(isFourByteASPath(a))
	case AttrNextHop:
		return append([]byte(nil), a.NextHop[:]...)
	case AttrMED, AttrLocalPref:
		b := make([]byte, 4)
		if a.Type == AttrMED {
			binary.BigEndian.PutUint32(b, a.MED)
		} else {
			binary.BigEndian.PutUint32(b, a.LocalPref)
		}
		return b
	case AttrAtomicAggregate:
		return nil
	case AttrAggregator:
		return encodeAggregator(a.Aggregator, false)
	case AttrCommunity:
		b := make([]byte, 4*len(a.Community))
		for i, c := range a.Community {
			binary.BigEndian.PutUint32(b[i*4:i*4+4], c)
		}
		return b
	case AttrMPReachNLRI:
		return encodeMPReach(a)
	case AttrMPUnreachNLRI:
		return encodeMPUnreach(a)
	case AttrAS4Path:
		return a.AS4Path.encode(true)
	case AttrAS4Aggregator:
		return encodeAggregator(a.AS4Aggregator, true)
	default:
		return a.Raw
	}
}

// isFourByteASPath reports whether this attribute's AS_PATH should be
// encoded with four-byte ASNs. It follows ASPath.FourByte, the width the
// path was decoded with or built for.
func isFourByteASPath(a Attribute) bool {
	return a.ASPath.FourByte
}

func decodeOrigin(value []byte) (Attribute, *Notification) {
	if len(value) != 1 {
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateAttrLen, value)
	}
	if value[0] > OriginIncomplete {
		return Attribute{Origin: value[0]}, NewNotification(ErrUpdate, ErrUpdateOrigin, value)
	}
	return Attribute{Origin: value[0]}, nil
}

func decodeNextHop(value []byte) (Attribute, *Notification) {
	if len(value) != 4 {
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateAttrLen, value)
	}
	var a Attribute
	copy(a.NextHop[:], value)
	return a, nil
}

func decodeFixed32(value []byte, set func(*Attribute, uint32), subcode uint8) (Attribute, *Notification) {
	if len(value) != 4 {
		return Attribute{}, NewNotification(ErrUpdate, subcode, value)
	}
	var a Attribute
	set(&a, binary.BigEndian.Uint32(value))
	return a, nil
}

func decodeAggregator(value []byte, fourByte bool) (Attribute, *Notification) {
	switch {
	case fourByte && len(value) == 8:
		ag := Aggregator{ASN: binary.BigEndian.Uint32(value[0:4])}
		copy(ag.ID[:], value[4:8])
		return Attribute{Aggregator: ag}, nil
	case !fourByte && len(value) == 6:
		ag := Aggregator{ASN: uint32(binary.BigEndian.Uint16(value[0:2]))}
		copy(ag.ID[:], value[2:6])
		return Attribute{Aggregator: ag}, nil
	default:
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateAttrLen, value)
	}
}

func encodeAggregator(ag Aggregator, fourByte bool) []byte {
	if fourByte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint32(b[0:4], ag.ASN)
		copy(b[4:8], ag.ID[:])
		return b
	}
	b := make([]byte, 6)
	binary.BigEndian.PutUint16(b[0:2], uint16(ag.ASN))
	copy(b[2:6], ag.ID[:])
	return b
}

// decodeCommunity accepts any length that is a multiple of 4 (§9: RFC
// 1997 is correct; the source's "must be exactly 4" variant is wrong).
func decodeCommunity(value []byte) (Attribute, *Notification) {
	if len(value)%4 != 0 {
		return Attribute{}, NewNotification(ErrUpdate, ErrUpdateAttrLen, value)
	}
	a := Attribute{Community: make([]uint32, len(value)/4)}
	for i := range a.Community {
		a.Community[i] = binary.BigEndian.Uint32(value[i*4 : i*4+4])
	}
	return a, nil
}

func (a Attribute) String() string {
	return fmt.Sprintf("%s(flags=%v)", attrName(a.Type), a.Flags)
}

func attrName(t AttrType) string {
	switch t {
	case AttrOrigin:
		return "ORIGIN"
	case AttrASPath:
		return "AS_PATH"
	case AttrNextHop:
		return "NEXT_HOP"
	case AttrMED:
		return "MULTI_EXIT_DISC"
	case AttrLocalPref:
		return "LOCAL_PREF"
	case AttrAtomicAggregate:
		return "ATOMIC_AGGREGATE"
	case AttrAggregator:
		return "AGGREGATOR"
	case AttrCommunity:
		return "COMMUNITY"
	case AttrMPReachNLRI:
		return "MP_REACH_NLRI"
	case AttrMPUnreachNLRI:
		return "MP_UNREACH_NLRI"
	case AttrAS4Path:
		return "AS4_PATH"
	case AttrAS4Aggregator:
		return "AS4_AGGREGATOR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}
