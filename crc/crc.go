// Package crc implements the CRC-8 used by Sensirion humidity sensors:
// polynomial 0x31 (x^8 + x^5 + x^4 + 1), init 0xff, no reflection, no final xor.
package crc

const CRC_POLY_31 byte = 0x31
const CRC_INIT_SENSIRION byte = 0xff

func CRC8_p31(crc, data byte) byte {
	crc ^= data
	var i byte = 0
	for ; i < 8; i++ {
		if (crc & 0x80) != 0 {
			crc <<= 1
			crc ^= CRC_POLY_31
		} else {
			crc <<= 1
		}
	}
	return crc
}

func CRC8_p31_2(b1, b2 byte) byte {
	out := CRC8_p31(CRC_INIT_SENSIRION, b1)
	out = CRC8_p31(out, b2)
	return out
}

func CRC8_p31_n(crc byte, bs []byte) byte {
	for _, b := range bs {
		crc = CRC8_p31(crc, b)
	}
	return crc
}

// Check reports whether word (2 bytes) is followed by its valid checksum.
func Check(b []byte) bool {
	return len(b) >= 3 && CRC8_p31_2(b[0], b[1]) == b[2]
}
