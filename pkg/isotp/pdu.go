// Package isotp implements ISO 15765-2 segmentation/reassembly (component
// C2 of spec.md): Single/First/Consecutive frames and Flow Control, over an
// n54.Bus. It knows nothing about UDS service semantics, only about moving
// an opaque payload of up to 4095 bytes across 8-byte CAN frames.
package isotp

import n54 "github.com/n54diag/core"

// MaxPayload is the largest payload ISO-TP can carry in one transaction
// (12-bit length field, spec.md §3).
const MaxPayload = 4095

// pci upper-nibble frame types (spec.md §6).
const (
	pciSingleFrame       byte = 0x0
	pciFirstFrame        byte = 0x1
	pciConsecutiveFrame  byte = 0x2
	pciFlowControl       byte = 0x3
)

// FlowStatus is the FC status field.
type FlowStatus byte

const (
	ContinueToSend FlowStatus = 0
	Wait           FlowStatus = 1
	Overflow       FlowStatus = 2
)

// flowControlFrame builds an 8-byte FC frame.
func flowControlFrame(status FlowStatus, blockSize, stMin byte) n54.Frame {
	return n54.NewFrame(0, []byte{pciFlowControl<<4 | byte(status)&0x0F, blockSize, stMin})
}

// singleFrame builds an SF frame for data of length 1..7.
func singleFrame(data []byte) (n54.Frame, error) {
	if len(data) == 0 || len(data) > 7 {
		return n54.Frame{}, n54.NewError(n54.KindIllegalArgument, "single frame payload must be 1..7 bytes", nil)
	}
	buf := make([]byte, 0, 8)
	buf = append(buf, pciSingleFrame<<4|byte(len(data)))
	buf = append(buf, data...)
	return n54.NewFrame(0, buf), nil
}

// firstFrame builds an FF frame: 2-byte PCI (type+12-bit length) then up to
// 6 payload bytes.
func firstFrame(totalLen int, first6 []byte) (n54.Frame, error) {
	if totalLen < 0 || totalLen > MaxPayload {
		return n54.Frame{}, n54.NewError(n54.KindIllegalArgument, "first frame total length out of range", nil)
	}
	buf := make([]byte, 8)
	buf[0] = pciFirstFrame<<4 | byte((totalLen>>8)&0x0F)
	buf[1] = byte(totalLen)
	copy(buf[2:], first6)
	return n54.NewFrame(0, buf), nil
}

// consecutiveFrame builds a CF frame: sequence nibble then up to 7 payload
// bytes.
func consecutiveFrame(seq byte, payload []byte) n54.Frame {
	buf := make([]byte, 8)
	buf[0] = pciConsecutiveFrame<<4 | (seq & 0x0F)
	copy(buf[1:], payload)
	return n54.NewFrame(0, buf)
}

// decodeFlowControl parses an FC frame's payload.
func decodeFlowControl(data [8]byte) (status FlowStatus, blockSize, stMin byte, ok bool) {
	if data[0]>>4 != pciFlowControl {
		return 0, 0, 0, false
	}
	return FlowStatus(data[0] & 0x0F), data[1], data[2], true
}

// stMinMicros decodes an ST_min byte per ISO 15765-2 into microseconds:
// 0x00-0x7F is milliseconds, 0xF1-0xF9 is 100-900 microseconds, anything
// else defaults to the minimum (0).
func stMinMicros(b byte) int {
	switch {
	case b <= 0x7F:
		return int(b) * 1000
	case b >= 0xF1 && b <= 0xF9:
		return int(b-0xF0) * 100
	default:
		return 0
	}
}
