package bgp

import "encoding/binary"

// Capability codes (§4.9, RFC 5492 registry).
const (
	CapMultiprotocol = 1
	CapFourOctetASN  = 65
)

// Optional parameter type carrying the capability list within OPEN
// (RFC 5492).
const optParamCapabilities = 2

// MPFamily is one AFI/SAFI pair advertised via the multiprotocol
// capability (RFC 4760).
type MPFamily struct {
	AFI  uint16
	SAFI uint8
}

// RawCapability preserves a capability this library does not otherwise
// model, verbatim, so a speaker that just forwards OPEN parameters never
// silently drops one (§4.9).
type RawCapability struct {
	Code  uint8
	Value []byte
}

func decodeCapabilities(value []byte) ([]MPFamily, []uint32, []RawCapability, *Notification) {
	var families []MPFamily
	var fourByteASNs []uint32
	var raw []RawCapability

	off := 0
	for off < len(value) {
		if off+2 > len(value) {
			return nil, nil, nil, NewNotification(ErrOpen, ErrOpenOptParam, value)
		}
		code := value[off]
		length := int(value[off+1])
		off += 2
		if off+length > len(value) {
			return nil, nil, nil, NewNotification(ErrOpen, ErrOpenOptParam, value)
		}
		cv := value[off : off+length]
		off += length

		switch code {
		case CapMultiprotocol:
			if length != 4 {
				return nil, nil, nil, NewNotification(ErrOpen, ErrOpenOptParam, value)
			}
			families = append(families, MPFamily{AFI: binary.BigEndian.Uint16(cv[0:2]), SAFI: cv[3]})
		case CapFourOctetASN:
			if length != 4 {
				return nil, nil, nil, NewNotification(ErrOpen, ErrOpenOptParam, value)
			}
			fourByteASNs = append(fourByteASNs, binary.BigEndian.Uint32(cv))
		default:
			raw = append(raw, RawCapability{Code: code, Value: append([]byte(nil), cv...)})
		}
	}
	return families, fourByteASNs, raw, nil
}

func encodeCapabilities(o *Open) []byte {
	var out []byte
	for _, f := range o.MPFamilies {
		v := make([]byte, 4)
		binary.BigEndian.PutUint16(v[0:2], f.AFI)
		v[3] = f.SAFI
		out = append(out, CapMultiprotocol, byte(len(v)))
		out = append(out, v...)
	}
	if o.HasFourByteASN {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, o.FourByteASN)
		out = append(out, CapFourOctetASN, byte(len(v)))
		out = append(out, v...)
	}
	for _, c := range o.RawCapabilities {
		out = append(out, c.Code, byte(len(c.Value)))
		out = append(out, c.Value...)
	}
	return out
}
