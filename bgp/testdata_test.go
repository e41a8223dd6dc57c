package bgp

import "encoding/binary"

// buildUpdateBody assembles an UPDATE message body from its three
// sections, mirroring the shape of a real wire UPDATE.
func buildUpdateBody(withdrawn, pathAttrs, nlri []byte) []byte {
	var out []byte
	wlen := make([]byte, 2)
	binary.BigEndian.PutUint16(wlen, uint16(len(withdrawn)))
	out = append(out, wlen...)
	out = append(out, withdrawn...)

	alen := make([]byte, 2)
	binary.BigEndian.PutUint16(alen, uint16(len(pathAttrs)))
	out = append(out, alen...)
	out = append(out, pathAttrs...)

	out = append(out, nlri...)
	return out
}

// buildPathAttr builds one flags/type/length/value path attribute,
// choosing the one- or two-byte length form from the data size.
func buildPathAttr(flags, typeCode byte, data []byte) []byte {
	if len(data) > 255 {
		flags |= flagExtended
		lb := make([]byte, 2)
		binary.BigEndian.PutUint16(lb, uint16(len(data)))
		return append([]byte{flags, typeCode, lb[0], lb[1]}, data...)
	}
	return append([]byte{flags, typeCode, byte(len(data))}, data...)
}

func buildPrefix4(length uint8, addr ...byte) []byte {
	n := (int(length) + 7) / 8
	out := append([]byte{length}, addr[:n]...)
	return out
}

func frameMessage(msgType uint8, body []byte) []byte {
	return Frame(msgType, body)
}
