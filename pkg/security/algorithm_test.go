package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardAlgorithmKnownVector(t *testing.T) {
	alg, ok := Get("standard")
	require.True(t, ok)
	key, err := alg([]byte{0x12, 0x34})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC7, 0x23}, key)
}

func TestV1AlgorithmCrossXor(t *testing.T) {
	alg, ok := Get("v1")
	require.True(t, ok)
	seed := []byte{0x11, 0x22, 0x33, 0x44}
	key, err := alg(seed)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11^0x48), key[0])
	assert.Equal(t, byte(0x22^0x4D), key[1])
	assert.Equal(t, byte(0x33^0x11), key[2])
	assert.Equal(t, byte(0x44^0x22), key[3])
}

func TestV2AlgorithmRejectsWrongSeedLength(t *testing.T) {
	alg, ok := Get("v2")
	require.True(t, ok)
	_, err := alg([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestV3AlgorithmKnownPattern(t *testing.T) {
	alg, ok := Get("v3")
	require.True(t, ok)
	seed := []byte{0x00, 0x00, 0x00, 0x00}
	key, err := alg(seed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42, 0x4D, 0x42, 0x4D}, key)
}

func TestRftxAlgorithmKnownPattern(t *testing.T) {
	alg, ok := Get("rftx")
	require.True(t, ok)
	seed := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	key, err := alg(seed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF ^ 0x52, 0xFF ^ 0x46, 0xFF ^ 0x54, 0xFF ^ 0x58}, key)
}

func TestDefaultOrderTriesRftxLast(t *testing.T) {
	assert.Equal(t, "rftx", DefaultOrder[len(DefaultOrder)-1])
}
