// Package security implements UDS Security Access (service 0x27) seed->key
// algorithms and the level/algorithm fallback unlock protocol (component
// C4). Algorithms are registered by name, mirroring the interface registry
// the core CAN layer uses for transport backends.
package security

import n54 "github.com/n54diag/core"

// Algorithm computes a key from a seed. Implementations validate seed
// length themselves and return IllegalArgument on mismatch.
type Algorithm func(seed []byte) ([]byte, error)

var algorithms = map[string]Algorithm{}

func init() {
	Register("standard", standardAlgorithm)
	Register("v1", v1Algorithm)
	Register("v2", v2Algorithm)
	Register("v3", v3Algorithm)
	Register("rftx", rftxAlgorithm)
}

// Register adds or replaces a named algorithm.
func Register(name string, fn Algorithm) { algorithms[name] = fn }

// Get looks up a registered algorithm by name.
func Get(name string) (Algorithm, bool) {
	fn, ok := algorithms[name]
	return fn, ok
}

// DefaultOrder is the fallback order tried by Unlock for each level
// (spec.md §4.4); rftx is supplemented from the original tool's algorithm
// set and tried last since it was never part of the distilled default set.
var DefaultOrder = []string{"standard", "v1", "v2", "v3", "rftx"}

// standardAlgorithm: key = ((seed ^ 0x5A3C) + 0x7F1B) & 0xFFFF, 2-byte seed
// (a 4-byte seed uses only its first two bytes).
func standardAlgorithm(seed []byte) ([]byte, error) {
	var seedInt uint16
	switch len(seed) {
	case 2:
		seedInt = uint16(seed[0])<<8 | uint16(seed[1])
	case 4:
		seedInt = uint16(seed[0])<<8 | uint16(seed[1])
	default:
		return nil, n54.NewError(n54.KindIllegalArgument, "standard algorithm expects a 2 or 4 byte seed", nil)
	}
	keyInt := (seedInt ^ 0x5A3C) + 0x7F1B
	return []byte{byte(keyInt >> 8), byte(keyInt)}, nil
}

// v1Algorithm: 4-byte seed, XOR with 'HM' plus a cross-XOR against the
// seed's own leading bytes.
func v1Algorithm(seed []byte) ([]byte, error) {
	if len(seed) != 4 {
		return nil, n54.NewError(n54.KindIllegalArgument, "v1 algorithm expects a 4 byte seed", nil)
	}
	key := make([]byte, 4)
	key[0] = seed[0] ^ 0x48
	key[1] = seed[1] ^ 0x4D
	key[2] = seed[2] ^ seed[0]
	key[3] = seed[3] ^ seed[1]
	return key, nil
}

// v2Algorithm: swap byte pairs, then XOR with a repeating 'MH' pattern.
func v2Algorithm(seed []byte) ([]byte, error) {
	if len(seed) != 4 {
		return nil, n54.NewError(n54.KindIllegalArgument, "v2 algorithm expects a 4 byte seed", nil)
	}
	rotated := [4]byte{seed[1], seed[0], seed[3], seed[2]}
	key := make([]byte, 4)
	pattern := [4]byte{0x4D, 0x48, 0x4D, 0x48}
	for i := range key {
		key[i] = rotated[i] ^ pattern[i]
	}
	return key, nil
}

// v3Algorithm: XOR with a repeating 'BM' pattern.
func v3Algorithm(seed []byte) ([]byte, error) {
	if len(seed) != 4 {
		return nil, n54.NewError(n54.KindIllegalArgument, "v3 algorithm expects a 4 byte seed", nil)
	}
	key := make([]byte, 4)
	pattern := [4]byte{0x42, 0x4D, 0x42, 0x4D}
	for i := range key {
		key[i] = seed[i] ^ pattern[i]
	}
	return key, nil
}

// rftxAlgorithm: XOR with a repeating 'RFTX' pattern.
func rftxAlgorithm(seed []byte) ([]byte, error) {
	if len(seed) != 4 {
		return nil, n54.NewError(n54.KindIllegalArgument, "rftx algorithm expects a 4 byte seed", nil)
	}
	key := make([]byte, 4)
	pattern := [4]byte{0x52, 0x46, 0x54, 0x58}
	for i := range key {
		key[i] = seed[i] ^ pattern[i]
	}
	return key, nil
}
