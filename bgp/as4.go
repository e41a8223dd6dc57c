package bgp

import "encoding/binary"

// AS_TRANS is the reserved two-byte ASN used as a sentinel in AS_PATH and
// AGGREGATOR when a four-byte ASN has no two-byte representation (§4.2.1,
// RFC 6793).
const AS_TRANS = 23456

type ASPathSegmentType uint8

const (
	ASSet      ASPathSegmentType = 1
	ASSequence ASPathSegmentType = 2
)

// maxSegmentASNs is the largest number of ASNs a single AS_PATH segment
// may hold, bounded by the one-byte segment-length octet and by the
// two-byte ASN width when the path is encoded that way (§4.2.2).
const (
	maxSegmentASNsFourByte = 127
	maxSegmentASNsTwoByte  = 255
)

type ASPathSegment struct {
	Type ASPathSegmentType
	ASNs []uint32
}

// ASPath is a decoded AS_PATH or AS4_PATH attribute value: an ordered
// list of segments. FourByte records whether the segment this value was
// parsed from used four-byte ASNs, so a later re-encode without
// renegotiation reproduces the same wire width.
type ASPath struct {
	Segments []ASPathSegment
	FourByte bool
}

func (p ASPath) clone() ASPath {
	out := ASPath{Segments: make([]ASPathSegment, len(p.Segments)), FourByte: p.FourByte}
	for i, s := range p.Segments {
		out.Segments[i] = ASPathSegment{Type: s.Type, ASNs: append([]uint32(nil), s.ASNs...)}
	}
	return out
}

// Length is the AS_PATH length used for route selection (§4.4): the
// count of ASNs across all AS_SEQUENCE segments, plus one per AS_SET
// segment regardless of its member count.
func (p ASPath) Length() int {
	n := 0
	for _, s := range p.Segments {
		if s.Type == ASSequence {
			n += len(s.ASNs)
		} else {
			n++
		}
	}
	return n
}

// Origin returns the rightmost (origin) ASN of the path, and false if
// the path is empty.
func (p ASPath) Origin() (uint32, bool) {
	for i := len(p.Segments) - 1; i >= 0; i-- {
		s := p.Segments[i]
		if len(s.ASNs) > 0 {
			return s.ASNs[len(s.ASNs)-1], true
		}
	}
	return 0, false
}

func decodeASPath(value []byte, fourByte bool) (Attribute, *Notification) {
	width := 2
	if fourByte {
		width = 4
	}
	var path ASPath
	path.FourByte = fourByte

	off := 0
	for off < len(value) {
		if off+2 > len(value) {
			return Attribute{}, NewNotification(ErrUpdate, ErrUpdateASPath, value)
		}
		segType := ASPathSegmentType(value[off])
		count := int(value[off+1])
		off += 2
		if segType != ASSet && segType != ASSequence {
			return Attribute{}, NewNotification(ErrUpdate, ErrUpdateASPath, value)
		}
		need := count * width
		if off+need > len(value) {
			return Attribute{}, NewNotification(ErrUpdate, ErrUpdateASPath, value)
		}
		seg := ASPathSegment{Type: segType, ASNs: make([]uint32, count)}
		for i := 0; i < count; i++ {
			if fourByte {
				seg.ASNs[i] = binary.BigEndian.Uint32(value[off : off+4])
			} else {
				seg.ASNs[i] = uint32(binary.BigEndian.Uint16(value[off : off+2]))
			}
			off += width
		}
		path.Segments = append(path.Segments, seg)
	}
	return Attribute{ASPath: path}, nil
}

func (p ASPath) encode(fourByte bool) []byte {
	var out []byte
	for _, s := range p.Segments {
		out = append(out, byte(s.Type), byte(len(s.ASNs)))
		for _, asn := range s.ASNs {
			if fourByte {
				b := make([]byte, 4)
				binary.BigEndian.PutUint32(b, asn)
				out = append(out, b...)
			} else {
				b := make([]byte, 2)
				binary.BigEndian.PutUint16(b, downgradeASN(asn))
				out = append(out, b...)
			}
		}
	}
	return out
}

// downgradeASN maps a four-byte ASN onto its two-byte wire form, or onto
// AS_TRANS when it has none (§4.2.1).
func downgradeASN(asn uint32) uint16 {
	if asn <= 0xFFFF {
		return uint16(asn)
	}
	return AS_TRANS
}

// DowngradePath builds the two-byte AS_PATH plus the companion AS4_PATH
// attribute that a BGP4 speaker sends to a peer that did not negotiate
// four-byte ASN support (§4.2.1). The returned AS4_PATH attribute is nil
// when the original path contained no ASN above 0xFFFF, matching the
// RFC 6793 guidance against sending a redundant AS4_PATH.
func DowngradePath(path ASPath) (twoByte ASPath, as4 *ASPath) {
	twoByte = ASPath{FourByte: false, Segments: make([]ASPathSegment, len(path.Segments))}
	needsAS4 := false
	for i, s := range path.Segments {
		asns := make([]uint32, len(s.ASNs))
		for j, asn := range s.ASNs {
			asns[j] = uint32(downgradeASN(asn))
			if asn > 0xFFFF {
				needsAS4 = true
			}
		}
		twoByte.Segments[i] = ASPathSegment{Type: s.Type, ASNs: asns}
	}
	if !needsAS4 {
		return twoByte, nil
	}
	full := path.clone()
	full.FourByte = true
	return twoByte, &full
}

// RestorePath reconstructs the original four-byte AS_PATH from a
// downgraded AS_PATH and its companion AS4_PATH, per RFC 6793 §4.2.3:
// AS4_PATH's segments replace the trailing (oldest-appended, i.e.
// rightmost) run of the two-byte path that carries no AS_TRANS holes
// beyond what AS4_PATH covers. When the segment shapes don't line up
// (a malformed or absent AS4_PATH), the two-byte path is returned
// widened to uint32 with AS_TRANS preserved verbatim, per the
// "best-effort, never fatal" guidance for this merge.
func RestorePath(twoByte ASPath, as4 *ASPath) ASPath {
	if as4 == nil || len(as4.Segments) == 0 {
		return twoByte.clone()
	}
	newLen, oldLen := asCount(*as4), asCount(twoByte)
	if newLen > oldLen {
		return twoByte.clone()
	}
	skip := oldLen - newLen
	out := ASPath{FourByte: true}
	remaining := skip
	as4idx := 0
	for _, s := range twoByte.Segments {
		if remaining >= len(s.ASNs) {
			remaining -= len(s.ASNs)
			out.Segments = append(out.Segments, ASPathSegment{Type: s.Type, ASNs: append([]uint32(nil), s.ASNs...)})
			continue
		}
		kept := s.ASNs[remaining:]
		asns := append([]uint32(nil), s.ASNs[:remaining]...)
		remaining = 0
		for range kept {
			asns = append(asns, nextASN(as4, &as4idx))
		}
		out.Segments = append(out.Segments, ASPathSegment{Type: s.Type, ASNs: asns})
	}
	return out
}

func asCount(p ASPath) int {
	n := 0
	for _, s := range p.Segments {
		n += len(s.ASNs)
	}
	return n
}

func nextASN(p *ASPath, idx *int) uint32 {
	i := *idx
	for _, s := range p.Segments {
		if i < len(s.ASNs) {
			*idx++
			return s.ASNs[i]
		}
		i -= len(s.ASNs)
	}
	return AS_TRANS
}

// Prepend returns a new AS_PATH with count copies of asn pushed onto the
// front as an AS_SEQUENCE, splitting across additional segments once the
// leading segment would exceed the per-width segment-size bound (§4.2.2).
func Prepend(path ASPath, asn uint32, count int) ASPath {
	if count <= 0 {
		return path.clone()
	}
	maxLen := maxSegmentASNsTwoByte
	if path.FourByte {
		maxLen = maxSegmentASNsFourByte
	}
	prepended := make([]uint32, count)
	for i := range prepended {
		prepended[i] = asn
	}
	out := path.clone()
	if len(out.Segments) > 0 && out.Segments[0].Type == ASSequence {
		out.Segments[0].ASNs = append(prepended, out.Segments[0].ASNs...)
	} else {
		out.Segments = append([]ASPathSegment{{Type: ASSequence, ASNs: prepended}}, out.Segments...)
	}
	return splitOversizeSegments(out, maxLen)
}

func splitOversizeSegments(path ASPath, maxLen int) ASPath {
	var out []ASPathSegment
	for _, s := range path.Segments {
		if s.Type != ASSequence || len(s.ASNs) <= maxLen {
			out = append(out, s)
			continue
		}
		for off := 0; off < len(s.ASNs); off += maxLen {
			end := off + maxLen
			if end > len(s.ASNs) {
				end = len(s.ASNs)
			}
			out = append(out, ASPathSegment{Type: ASSequence, ASNs: append([]uint32(nil), s.ASNs[off:end]...)})
		}
	}
	path.Segments = out
	return path
}

// hostOrderU32 interprets a raw BGP identifier (always carried in
// network/big-endian order on the wire) as a host-order uint32,
// regardless of the host's native endianness. The fsm package's
// collision resolution (§4.6.5) does not call it; it uses its own
// equivalent, hostOrder in fsm/fsm.go.
func hostOrderU32(id [4]byte) uint32 {
	return binary.BigEndian.Uint32(id[:])
}
