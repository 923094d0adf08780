// Package checksum implements BMW's zoned CRC-16 and trailing CRC-32
// validation, forbidden-region gating, and binary/ROM-ID validation
// (component C5). The CRC primitives live in internal/crc; this package
// applies them to the zone layout in pkg/memmap.
package checksum

import (
	"encoding/binary"
	"fmt"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/internal/crc"
	"github.com/n54diag/core/pkg/memmap"
)

// CRC16 computes the CCITT CRC-16 BMW uses for zone checksums.
func CRC16(data []byte) uint16 { return crc.Block16(data) }

// CRC32 computes the BMW flavor of CRC-32 used for the trailing checksum.
func CRC32(data []byte) uint32 { return crc.BMW32(data) }

// Mismatch describes one failed zone or trailer comparison.
type Mismatch struct {
	Zone     string
	Computed uint32
	Stored   uint32
}

func (m Mismatch) String() string {
	return fmt.Sprintf("zone %s: computed=0x%X stored=0x%X", m.Zone, m.Computed, m.Stored)
}

// ValidateZones computes CRC-16 over each zone in v and compares it to the
// little-endian value stored at the zone's checksum offset. Zones that
// extend past len(image) are skipped, not failed (spec.md §4.5).
func ValidateZones(image []byte, v memmap.Variant) []Mismatch {
	var mismatches []Mismatch
	for _, z := range v.Zones {
		if int(z.ChecksumAt)+2 > len(image) || int(z.End) > len(image) {
			continue
		}
		computed := CRC16(image[z.Start:z.End])
		stored := binary.LittleEndian.Uint16(image[z.ChecksumAt : z.ChecksumAt+2])
		if computed != stored {
			mismatches = append(mismatches, Mismatch{Zone: z.Name, Computed: uint32(computed), Stored: uint32(stored)})
		}
	}
	return mismatches
}

// ValidateTrailer checks the trailing CRC-32 over image[:-4] against the
// little-endian value stored in the last 4 bytes. Images shorter than 4
// bytes are considered to have no trailer and pass trivially.
func ValidateTrailer(image []byte) (bool, Mismatch) {
	if len(image) < 4 {
		return true, Mismatch{}
	}
	computed := CRC32(image[:len(image)-4])
	stored := binary.LittleEndian.Uint32(image[len(image)-4:])
	if computed != stored {
		return false, Mismatch{Zone: "trailer", Computed: computed, Stored: stored}
	}
	return true, Mismatch{}
}

// RecalculateAll writes zone CRC-16 values and the trailing CRC-32 into
// image in place, used before flashing a freshly modified image.
func RecalculateAll(image []byte, v memmap.Variant) {
	for _, z := range v.Zones {
		if int(z.ChecksumAt)+2 > len(image) || int(z.End) > len(image) {
			continue
		}
		computed := CRC16(image[z.Start:z.End])
		binary.LittleEndian.PutUint16(image[z.ChecksumAt:z.ChecksumAt+2], computed)
	}
	if len(image) >= 4 {
		computed := CRC32(image[:len(image)-4])
		binary.LittleEndian.PutUint32(image[len(image)-4:], computed)
	}
}

// CheckForbidden returns an error unless [addr, addr+size) is disjoint from
// every forbidden region in v.
func CheckForbidden(addr, size uint32, v memmap.Variant) error {
	end := addr + size
	for _, region := range v.ForbiddenRegions {
		if addr < region[1] && end > region[0] {
			return n54.NewError(n54.KindForbiddenRegion,
				fmt.Sprintf("write [0x%X, 0x%X) overlaps forbidden region [0x%X, 0x%X)", addr, end, region[0], region[1]), nil)
		}
	}
	return nil
}

// ValidateBinary checks data's size against v's whitelist and, for images
// large enough to plausibly be a full binary, its ROM-ID signature at
// v.ROMIDOffset. It returns every problem found rather than stopping at
// the first.
func ValidateBinary(data []byte, v memmap.Variant) (bool, []string) {
	var errs []string
	if len(data) == 0 {
		return false, []string{"binary data is empty"}
	}

	validSizes := append([]uint32{v.FullImageSize}, v.CalibrationSizes...)
	sizeOK := false
	for _, s := range validSizes {
		if uint32(len(data)) == s {
			sizeOK = true
			break
		}
	}
	if !sizeOK {
		errs = append(errs, fmt.Sprintf("invalid data size: %d bytes, expected one of %v", len(data), validSizes))
	}

	if len(data) >= 1024*1024 {
		matched := false
		for _, sig := range v.ROMIDSignatures {
			end := int(v.ROMIDOffset) + len(sig)
			if end > len(data) {
				continue
			}
			if string(data[v.ROMIDOffset:end]) == string(sig) {
				matched = true
				break
			}
		}
		if !matched {
			errs = append(errs, fmt.Sprintf("ROM-ID validation failed for %s at offset 0x%X", v.Name, v.ROMIDOffset))
		}
	}

	return len(errs) == 0, errs
}

// CheckDataIntegrity rejects empty, non-4-byte-aligned, all-0x00, and
// all-0xFF payloads.
func CheckDataIntegrity(data []byte) error {
	if len(data) == 0 {
		return n54.NewError(n54.KindBinaryValidation, "data is empty", nil)
	}
	if len(data)%4 != 0 {
		return n54.NewError(n54.KindBinaryValidation, fmt.Sprintf("data length %d is not 4-byte aligned", len(data)), nil)
	}
	allZero, allFF := true, true
	for _, b := range data {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allFF = false
		}
		if !allZero && !allFF {
			break
		}
	}
	if allZero {
		return n54.NewError(n54.KindBinaryValidation, "data is all zeros, likely corrupted", nil)
	}
	if allFF {
		return n54.NewError(n54.KindBinaryValidation, "data is all 0xFF, likely erased/corrupted", nil)
	}
	return nil
}
