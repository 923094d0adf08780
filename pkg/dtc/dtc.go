// Package dtc parses UDS/KWP diagnostic trouble code triplets (component
// C7): code/status decode plus a small built-in description table with an
// override hook for a fuller external database.
package dtc

import "fmt"

// Code is one decoded diagnostic trouble code.
type Code struct {
	Code        string // e.g. "P0300"
	Status      byte
	Pending     bool
	Confirmed   bool
	Active      bool
	Description string
	Severity    string
}

var prefixes = [4]byte{'P', 'C', 'B', 'U'}

// Parse decodes a DTC response into Codes (spec.md §4.7). header, if
// non-zero, is the expected positive-response header byte (e.g. 0x59 for
// UDS 0x19); when it is supplied and matches response[0], the first two
// bytes (header + subfunction) are skipped before the triplet stream
// begins. Malformed trailing bytes that don't form a full triplet are
// ignored.
func Parse(response []byte, header byte) []Code {
	if len(response) < 3 {
		return nil
	}

	offset := 0
	if header != 0 {
		if response[0] != header {
			return nil
		}
		offset = 2
	}

	var codes []Code
	for offset+2 < len(response) {
		hi := response[offset]
		lo := response[offset+1]
		status := response[offset+2]
		offset += 3

		prefix := prefixes[(hi>>6)&0x03]
		number := uint16(hi&0x3F)<<8 | uint16(lo)
		if prefix == 'U' && number >= 0x1000 && number < 0x2000 {
			number -= 0x1000
		}

		code := fmt.Sprintf("%c%04X", prefix, number)
		desc, severity, ok := lookup(code)
		if !ok {
			desc, severity = "Unknown DTC", "Unknown"
		}

		codes = append(codes, Code{
			Code:        code,
			Status:      status,
			Pending:     status&0x01 != 0,
			Confirmed:   status&0x08 != 0,
			Active:      status&0x80 != 0 || status&0x08 != 0,
			Description: desc,
			Severity:    severity,
		})
	}
	return codes
}
