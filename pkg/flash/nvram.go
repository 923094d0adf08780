package flash

import (
	"bytes"
	"context"
	"io"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/security"
	"github.com/n54diag/core/pkg/uds"
)

// NVRAMBlockSize is the transfer block size for the NVRAM pipeline
// (spec.md §4.6.3), larger than the calibration pipeline's because NVRAM
// writes are small and don't need to interleave with long-running CRC
// recomputation.
const NVRAMBlockSize = 2048

// FlashNVRAM writes data into the NVRAM region at addr, with a mandatory
// pre-write read-back backed up to backupSink and a post-write byte
// comparison read-back (spec.md §4.6.3). A verification mismatch surfaces
// as ChecksumMismatch rather than a silent partial success.
func (o *Operation) FlashNVRAM(ctx context.Context, addr uint32, data []byte, backupSink io.Writer) (WriteResult, error) {
	// The general forbidden-region list covers the whole NVRAM region
	// (spec.md §3) to keep arbitrary writers out; this pipeline is the
	// one caller allowed to target it, so it checks region membership
	// directly instead of going through checksum.CheckForbidden.
	nvram, ok := o.regionEnd("NVRAM")
	if !ok || addr < nvram.start || addr+uint32(len(data)) > nvram.end {
		return WriteResult{}, o.fail(n54.NewError(n54.KindForbiddenRegion, "write target is outside the NVRAM region", nil))
	}

	o.transition(StateValidating, 0, "backing up %d bytes of NVRAM at 0x%X", len(data), addr)
	if err := o.backupRegion(addr, uint32(len(data)), backupSink); err != nil {
		return WriteResult{}, o.fail(err)
	}

	if err := o.checkBattery(); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateSessionEntry, 20, "entering programming session")
	o.enterBmwExtendedSession()
	if err := o.enterSession(uds.SessionProgramming); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateUnlocking, 25, "unlocking security access")
	if err := o.unlock(security.DefaultLevels); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.client.StartTesterPresent()
	defer o.client.StopTesterPresent()

	o.transition(StateTransferring, 30, "writing %d bytes to 0x%X", len(data), addr)
	if err := o.writeNVRAMBlocks(ctx, addr, data); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateVerifyingChecksum, 90, "reading back for verification")
	readBack, err := o.readBack(addr, len(data))
	if err != nil {
		return WriteResult{}, o.fail(n54.NewError(n54.KindChecksumMismatch, "post-write read-back failed", err))
	}
	if !bytes.Equal(readBack, data) {
		return WriteResult{}, o.fail(n54.NewError(n54.KindChecksumMismatch, "post-write read-back did not match written data", nil))
	}

	o.transition(StateDone, 100, "NVRAM write verified: %d bytes at 0x%X", len(data), addr)
	return WriteResult{BytesWritten: len(data)}, nil
}

type regionSpan struct{ start, end uint32 }

func (o *Operation) regionEnd(name string) (regionSpan, bool) {
	for _, r := range o.variant.Regions {
		if r.Name == name {
			return regionSpan{start: r.Start, end: r.End()}, true
		}
	}
	return regionSpan{}, false
}

func (o *Operation) writeNVRAMBlocks(ctx context.Context, addr uint32, data []byte) error {
	cursor := addr
	written := 0
	for written < len(data) {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		end := written + NVRAMBlockSize
		if end > len(data) {
			end = len(data)
		}
		if err := o.writeMemoryChunk(cursor, data[written:end]); err != nil {
			return n54.NewError(n54.KindWriteFailure, "write_memory_by_address failed", err)
		}
		cursor += uint32(end - written)
		written = end
		o.progress("writing NVRAM", 30+int(55*written/len(data)))
	}
	return nil
}

func (o *Operation) readBack(addr uint32, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := o.backupRegion(addr, uint32(size), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
