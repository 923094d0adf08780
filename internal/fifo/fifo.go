// Package fifo provides a small circular byte buffer used by pkg/isotp to
// reassemble multi-frame ISO-TP payloads without per-frame allocation.
package fifo

import "github.com/n54diag/core/internal/crc"

// Fifo is a circular byte buffer. A nil *crc.CRC16 passed to Write means
// "don't accumulate a checksum".
type Fifo struct {
	buffer   []byte
	writePos int
	readPos  int
}

// New allocates a Fifo with the given capacity (one byte is always kept
// free to distinguish full from empty, matching the teacher's
// internal/fifo.Fifo).
func New(size int) *Fifo {
	return &Fifo{buffer: make([]byte, size+1)}
}

// Reset empties the buffer.
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

// Space returns free byte capacity.
func (f *Fifo) Space() int {
	s := f.readPos - f.writePos - 1
	if s < 0 {
		s += len(f.buffer)
	}
	return s
}

// Occupied returns the number of buffered bytes.
func (f *Fifo) Occupied() int {
	s := f.writePos - f.readPos
	if s < 0 {
		s += len(f.buffer)
	}
	return s
}

// Write appends as much of buf as fits, optionally folding each written
// byte into runningCRC, and returns the number of bytes written.
func (f *Fifo) Write(buf []byte, runningCRC *crc.CRC16) int {
	n := 0
	for _, b := range buf {
		next := f.writePos + 1
		if next == len(f.buffer) {
			next = 0
		}
		if next == f.readPos {
			break
		}
		f.buffer[f.writePos] = b
		f.writePos = next
		n++
		if runningCRC != nil {
			runningCRC.Single(b)
		}
	}
	return n
}

// Read copies up to len(buf) bytes out of the FIFO and returns the count.
func (f *Fifo) Read(buf []byte) int {
	n := 0
	for n < len(buf) && f.readPos != f.writePos {
		buf[n] = f.buffer[f.readPos]
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
		n++
	}
	return n
}

// ReadAll drains the entire FIFO into a freshly allocated slice.
func (f *Fifo) ReadAll() []byte {
	out := make([]byte, f.Occupied())
	f.Read(out)
	return out
}
