package security

import "fmt"

// reveal, when true, disables masking in MaskSecret. Default false: seeds
// and keys must never land in logs unmasked unless explicitly opted in
// (spec.md §4.4).
var reveal = false

// SetReveal toggles whether MaskSecret returns the raw hex instead of a
// masked form. Intended to be wired to a single CLI flag.
func SetReveal(v bool) { reveal = v }

// MaskSecret renders seed/key bytes for logging: the first byte visible,
// the remainder starred, unless reveal has been enabled.
func MaskSecret(data []byte) string {
	if reveal {
		return fmt.Sprintf("% X", data)
	}
	if len(data) == 0 {
		return ""
	}
	masked := fmt.Sprintf("%02X", data[0])
	for range data[1:] {
		masked += "**"
	}
	return masked
}
