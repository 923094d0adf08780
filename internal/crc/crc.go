// Package crc implements the two checksum variants the N54 core needs:
// the CCITT CRC-16 used for BMW's zoned calibration checksums, and the
// BMW flavor of CRC-32 used for the trailing image checksum.
package crc

// CRC16 is a CCITT CRC-16 accumulator (poly 0x1021, MSB-first, no final
// XOR). Zero value is the initial state for a running checksum that has not
// been seeded; callers that need the BMW-zone checksum seed with 0xFFFF.
type CRC16 uint16

// Single folds one byte into the accumulator.
func (c *CRC16) Single(b byte) {
	crc := *c
	crc ^= CRC16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	*c = crc
}

// Block16 computes a CCITT CRC-16 over data, seeded at 0xFFFF, matching the
// BMW zoned-checksum convention (spec.md §4.5).
func Block16(data []byte) uint16 {
	c := CRC16(0xFFFF)
	for _, b := range data {
		c.Single(b)
	}
	return uint16(c)
}

// bmw32Poly is the BMW ECU's CRC-32 polynomial, used MSB-first (each byte is
// shifted in from the top, mirroring CRC16.Single rather than the bit-
// reflected table form used by zlib/CRC-32C).
const bmw32Poly uint32 = 0x1EDC6F41

// bmw32Single folds one byte into the accumulator, MSB-first.
func bmw32Single(c uint32, b byte) uint32 {
	c ^= uint32(b) << 24
	for i := 0; i < 8; i++ {
		if c&0x80000000 != 0 {
			c = (c << 1) ^ bmw32Poly
		} else {
			c <<= 1
		}
	}
	return c
}

// BMW32 computes the BMW flavor of CRC-32 over data: polynomial 0x1EDC6F41
// shifted in MSB-first, init 0xFFFFFFFF, final XOR 0xFFFFFFFF (spec.md
// §3/§4.5).
func BMW32(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = bmw32Single(c, b)
	}
	return c ^ 0xFFFFFFFF
}
