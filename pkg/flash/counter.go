package flash

import (
	"bytes"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
)

// flashCounterZeroAddr and flashCounterBackupAddr are the NVRAM offsets
// touched by the flash-counter reset helper (spec.md §4.6.5).
const (
	flashCounterZeroAddr   uint32 = 0x1F0000
	flashCounterBackupAddr uint32 = 0x1FF000
)

// ResetFlashCounter is the best-effort helper of spec.md §4.6.5: it
// backs up the current counter bytes to flashCounterBackupAddr, then
// writes four zero bytes at flashCounterZeroAddr. confirmed gates
// whether the write actually runs, mirroring the {true,false,ask}
// setting the spec describes: the caller is responsible for resolving
// "ask" to a boolean before calling this. Failures here are returned to
// the caller, who is expected (per spec.md) to log and swallow them
// rather than fail the parent flash operation.
func (o *Operation) ResetFlashCounter(confirmed bool) error {
	if !confirmed {
		log.Info("[FLASH] flash counter reset not confirmed, skipping")
		return nil
	}

	current, err := o.readMemoryChunk(flashCounterZeroAddr, 4)
	if err != nil {
		return n54.NewError(n54.KindWriteFailure, "failed to read current flash counter for backup", err)
	}
	if err := o.writeMemoryChunk(flashCounterBackupAddr, current); err != nil {
		return n54.NewError(n54.KindWriteFailure, "failed to back up flash counter", err)
	}

	zero := bytes.Repeat([]byte{0x00}, 4)
	if err := o.writeMemoryChunk(flashCounterZeroAddr, zero); err != nil {
		return n54.NewError(n54.KindWriteFailure, "failed to reset flash counter", err)
	}

	log.Info("[FLASH] flash counter reset to zero, backup stored at 0x1FF000")
	return nil
}
