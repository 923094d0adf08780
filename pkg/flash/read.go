package flash

import (
	"context"
	"io"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/security"
	"github.com/n54diag/core/pkg/uds"
)

// ReadMemory streams size bytes starting at addr to sink in
// MaxTransferSize chunks (spec.md §4.6.1): enter Programming session,
// unlock, then loop read_memory. No writes occur and no forbidden-region
// check is needed for reads.
func (o *Operation) ReadMemory(ctx context.Context, addr, size uint32, sink io.Writer) error {
	o.transition(StateSessionEntry, 0, "entering programming session")
	if err := o.enterSession(uds.SessionProgramming); err != nil {
		return o.fail(err)
	}

	o.transition(StateUnlocking, 5, "unlocking security access")
	if err := o.unlock(security.DefaultLevels); err != nil {
		return o.fail(err)
	}

	o.transition(StateTransferring, 10, "reading %d bytes from 0x%X", size, addr)
	cursor := addr
	remaining := size
	total := size
	for remaining > 0 {
		if err := checkCancelled(ctx); err != nil {
			return o.fail(err)
		}
		n := uint32(MaxTransferSize)
		if remaining < n {
			n = remaining
		}
		data, err := o.readMemoryChunk(cursor, int(n))
		if err != nil {
			return o.fail(n54.NewError(n54.KindBusIoError, "read_memory failed", err))
		}
		if _, werr := sink.Write(data); werr != nil {
			return o.fail(n54.NewError(n54.KindWriteFailure, "read sink write failed", werr))
		}
		cursor += n
		remaining -= n
		if total > 0 {
			o.progress("reading", int(100*(total-remaining)/total))
		}
	}

	o.transition(StateDone, 100, "read complete: %d bytes from 0x%X", size, addr)
	return nil
}

// ReadCalibration reads one of the variant's Calibration region sizes
// starting at the region's base address. It is a thin convenience over
// ReadMemory for the common "dump calibration" case.
func (o *Operation) ReadCalibration(ctx context.Context, sink io.Writer) error {
	for _, r := range o.variant.Regions {
		if r.Name == "Calibration" {
			return o.ReadMemory(ctx, r.Start, r.Size, sink)
		}
	}
	return n54.NewError(n54.KindIllegalArgument, "variant has no Calibration region", nil)
}
