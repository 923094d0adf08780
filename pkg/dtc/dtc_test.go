package dtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSkipsHeaderWhenProvidedAndMatching(t *testing.T) {
	resp := []byte{0x59, 0x02, 0x03, 0x00, 0x09}
	codes := Parse(resp, 0x59)
	assert.Len(t, codes, 1)
	assert.Equal(t, "P0300", codes[0].Code)
	assert.True(t, codes[0].Confirmed)
}

func TestParseNoHeaderStartsAtZero(t *testing.T) {
	resp := []byte{0x03, 0x00, 0x09}
	codes := Parse(resp, 0)
	assert.Len(t, codes, 1)
	assert.Equal(t, "P0300", codes[0].Code)
}

func TestParseRejectsMismatchedHeader(t *testing.T) {
	resp := []byte{0x7F, 0x02, 0x03, 0x00, 0x09}
	codes := Parse(resp, 0x59)
	assert.Nil(t, codes)
}

func TestParseUCodeOffsetTweak(t *testing.T) {
	// type bits 11 = U, number 0x1001 before tweak -> 0x0001 after.
	hi := byte(0xC0) | byte(0x10) // type=U, high bits of 0x1001
	codes := Parse([]byte{hi, 0x01, 0x00}, 0)
	assert.Len(t, codes, 1)
	assert.Equal(t, "U0001", codes[0].Code)
}

func TestParseMultipleTriplets(t *testing.T) {
	resp := []byte{
		0x03, 0x00, 0x01, // P0300, pending
		0x03, 0x01, 0x80, // P0301, active
	}
	codes := Parse(resp, 0)
	assert.Len(t, codes, 2)
	assert.True(t, codes[0].Pending)
	assert.True(t, codes[1].Active)
}

func TestParseUnknownCodeFallsBack(t *testing.T) {
	codes := Parse([]byte{0x3F, 0xFF, 0x00}, 0)
	assert.Len(t, codes, 1)
	assert.Equal(t, "Unknown DTC", codes[0].Description)
	assert.Equal(t, "Unknown", codes[0].Severity)
}

func TestSetLookupOverridesBuiltin(t *testing.T) {
	t.Cleanup(func() { SetLookup(nil) })
	SetLookup(func(code string) (string, string, bool) {
		if code == "P0300" {
			return "custom description", "Custom", true
		}
		return "", "", false
	})
	codes := Parse([]byte{0x03, 0x00, 0x00}, 0)
	assert.Equal(t, "custom description", codes[0].Description)
}
