package checksum

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/memmap"
)

func TestValidateZonesDetectsMismatch(t *testing.T) {
	v := memmap.MSD80
	image := make([]byte, v.Zones[0].ChecksumAt+2)
	computed := CRC16(image[v.Zones[0].Start:v.Zones[0].End])
	binary.LittleEndian.PutUint16(image[v.Zones[0].ChecksumAt:], computed+1)

	mismatches := ValidateZones(image, v)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "A", mismatches[0].Zone)
}

func TestValidateZonesSkipsTruncatedZones(t *testing.T) {
	v := memmap.MSD80
	image := make([]byte, 10) // far shorter than any zone
	assert.Empty(t, ValidateZones(image, v))
}

func TestRecalculateAllProducesValidTrailer(t *testing.T) {
	v := memmap.MSD80
	image := make([]byte, v.Zones[len(v.Zones)-1].ChecksumAt+2+4)
	for i := range image {
		image[i] = byte(i)
	}
	RecalculateAll(image, v)

	assert.Empty(t, ValidateZones(image, v))
	ok, _ := ValidateTrailer(image)
	assert.True(t, ok)
}

func TestValidateTrailerShortImagePassesTrivially(t *testing.T) {
	ok, _ := ValidateTrailer([]byte{1, 2, 3})
	assert.True(t, ok)
}

func TestCheckForbiddenRejectsOverlap(t *testing.T) {
	err := CheckForbidden(0x054A00, 0x200, memmap.MSD80)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindForbiddenRegion))
}

func TestCheckForbiddenAllowsDisjointWrite(t *testing.T) {
	err := CheckForbidden(0x810000, 0x1000, memmap.MSD80)
	assert.NoError(t, err)
}

func TestValidateBinarySizeAndRomId(t *testing.T) {
	data := make([]byte, 0x200000)
	copy(data[memmap.MSD80.ROMIDOffset:], memmap.MSD80.ROMIDSignatures[0])
	ok, errs := ValidateBinary(data, memmap.MSD80)
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateBinaryRejectsBadSize(t *testing.T) {
	ok, errs := ValidateBinary(make([]byte, 123), memmap.MSD80)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestValidateBinarySkipsRomIdForSmallCalibration(t *testing.T) {
	ok, errs := ValidateBinary(make([]byte, 0x40000), memmap.MSD80)
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestCheckDataIntegrityRejectsAllZero(t *testing.T) {
	err := CheckDataIntegrity(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindBinaryValidation))
}

func TestCheckDataIntegrityRejectsUnaligned(t *testing.T) {
	err := CheckDataIntegrity([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCheckDataIntegrityAcceptsOrdinaryData(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	assert.NoError(t, CheckDataIntegrity(data))
}
