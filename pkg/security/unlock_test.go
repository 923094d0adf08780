package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n54 "github.com/n54diag/core"
)

type fakeRequester struct {
	seeds        map[byte][]byte
	acceptedKeys map[byte][]byte // level -> key that the ECU accepts
}

func (f *fakeRequester) RequestSeed(level byte) ([]byte, bool, error) {
	seed, ok := f.seeds[level]
	return seed, ok, nil
}

func (f *fakeRequester) SendKey(level byte, key []byte) (bool, error) {
	want, ok := f.acceptedKeys[level]
	if !ok {
		return false, nil
	}
	for i := range key {
		if key[i] != want[i] {
			return false, nil
		}
	}
	return true, nil
}

func TestUnlockSucceedsOnFirstMatchingAlgorithm(t *testing.T) {
	seed := []byte{0x12, 0x34}
	standardKey, _ := standardAlgorithm(seed)

	req := &fakeRequester{
		seeds:        map[byte][]byte{0x01: seed},
		acceptedKeys: map[byte][]byte{0x01: standardKey},
	}

	level, alg, err := Unlock(req, DefaultLevels, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), level)
	assert.Equal(t, "standard", alg)
}

func TestUnlockFallsBackToLaterAlgorithm(t *testing.T) {
	seed := []byte{0x11, 0x22, 0x33, 0x44}
	v3Key, _ := v3Algorithm(seed)

	req := &fakeRequester{
		seeds:        map[byte][]byte{0x01: seed},
		acceptedKeys: map[byte][]byte{0x01: v3Key},
	}

	level, alg, err := Unlock(req, DefaultLevels, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), level)
	assert.Equal(t, "v3", alg)
}

func TestUnlockFallsBackToLaterLevel(t *testing.T) {
	seed17 := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	rftxKey, _ := rftxAlgorithm(seed17)

	req := &fakeRequester{
		seeds:        map[byte][]byte{0x11: seed17},
		acceptedKeys: map[byte][]byte{0x11: rftxKey},
	}

	level, alg, err := Unlock(req, DefaultLevels, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), level)
	assert.Equal(t, "rftx", alg)
}

func TestUnlockFailsWhenNoCombinationWorks(t *testing.T) {
	req := &fakeRequester{
		seeds:        map[byte][]byte{0x01: {0x01, 0x02, 0x03, 0x04}},
		acceptedKeys: map[byte][]byte{},
	}

	_, _, err := Unlock(req, DefaultLevels, DefaultOrder)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindSecurityAccessDeny))
}
