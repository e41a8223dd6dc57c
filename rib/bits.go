package rib

// bitString4 and bitString6 render the top length bits of addr as a
// string of '0'/'1' characters, the radix-tree key whose prefix
// relation between keys is exactly the BGP prefix containment relation
// (§4.1), so armon/go-radix's longest-stored-prefix-of-a-key walk
// directly implements longest-prefix-match (§4.4).
func bitString4(addr [4]byte, length uint8) string {
	return bitString(addr[:], length)
}

func bitString6(addr [16]byte, length uint8) string {
	return bitString(addr[:], length)
}

func bitString(addr []byte, length uint8) string {
	buf := make([]byte, length)
	for i := uint8(0); i < length; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if addr[byteIdx]&(1<<bitIdx) != 0 {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}
