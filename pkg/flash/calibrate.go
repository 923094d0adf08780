package flash

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/checksum"
	"github.com/n54diag/core/pkg/security"
	"github.com/n54diag/core/pkg/uds"
)

// WriteResult is the outcome of a successful write pipeline. A failed
// pipeline never returns a WriteResult: it returns a typed error instead
// (spec.md §4.6.2, "never a silent failure").
type WriteResult struct {
	BytesWritten  int
	ChecksumZone  byte
	CounterReset  bool
}

// FlashCalibration runs the pre-flight, transfer, and post-action
// pipeline of spec.md §4.6.2 against the variant's Calibration region.
// Every pre-flight gate is a hard failure: the pipeline never starts a
// download unless the image already validates.
func (o *Operation) FlashCalibration(ctx context.Context, image []byte, resetCounter bool) (WriteResult, error) {
	addr, ok := o.regionStart("Calibration")
	if !ok {
		return WriteResult{}, n54.NewError(n54.KindIllegalArgument, "variant has no Calibration region", nil)
	}
	return o.flashRegionPipeline(ctx, addr, image, resetCounter, false)
}

// regionStart looks up a named region's base address.
func (o *Operation) regionStart(name string) (uint32, bool) {
	for _, r := range o.variant.Regions {
		if r.Name == name {
			return r.Start, true
		}
	}
	return 0, false
}

// flashRegionPipeline implements spec.md §4.6.2 steps 1-13 against one
// contiguous region. allowForbidden permits writing into a region the
// memory map marks forbidden, used only by the full-binary recovery
// pipeline (spec.md §4.6.4) for the Boot region. fullImageChecks selects
// the calibration-image-shaped validation (size whitelist, ROM-ID, zone
// CRCs, trailing CRC-32): it applies to a standalone calibration image,
// not to an arbitrary region slice cut out of an already-validated full
// binary, which only gets the basic data-integrity sanity check.
func (o *Operation) flashRegionPipeline(ctx context.Context, addr uint32, image []byte, resetCounter, allowForbidden bool) (WriteResult, error) {
	return o.flashRegionPipelineWithValidation(ctx, addr, image, resetCounter, allowForbidden, true)
}

func (o *Operation) flashRegionPipelineWithValidation(ctx context.Context, addr uint32, image []byte, resetCounter, allowForbidden, fullImageChecks bool) (WriteResult, error) {
	o.transition(StateValidating, 0, "validating image (%d bytes) for %s", len(image), o.variant.Name)
	if err := checksum.CheckDataIntegrity(image); err != nil {
		return WriteResult{}, o.fail(err)
	}
	if fullImageChecks {
		if ok, errs := checksum.ValidateBinary(image, o.variant); !ok {
			return WriteResult{}, o.fail(n54.NewError(n54.KindBinaryValidation, strings.Join(errs, "; "), nil))
		}
		if mismatches := checksum.ValidateZones(image, o.variant); len(mismatches) > 0 {
			return WriteResult{}, o.fail(n54.NewError(n54.KindChecksumMismatch, mismatchSummary(mismatches), nil))
		}
		if ok, mm := checksum.ValidateTrailer(image); !ok {
			return WriteResult{}, o.fail(n54.NewError(n54.KindChecksumMismatch, mm.String(), nil))
		}
	}

	if !allowForbidden {
		if err := checksum.CheckForbidden(addr, uint32(len(image)), o.variant); err != nil {
			return WriteResult{}, o.fail(err)
		}
	}

	if err := o.checkBattery(); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateSessionEntry, 5, "entering programming session")
	o.enterBmwExtendedSession()
	if err := o.enterSession(uds.SessionProgramming); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateUnlocking, 10, "unlocking security access")
	if err := o.unlock(security.DefaultLevels); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StatePreconditions, 15, "checking programming preconditions")
	o.runPreconditionRoutine()

	o.transition(StateDownloading, 20, "requesting download of %d bytes at 0x%X", len(image), addr)
	blockSize, err := o.requestDownload(addr, uint32(len(image)))
	if err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.client.StartTesterPresent()
	defer o.client.StopTesterPresent()

	o.transition(StateTransferring, 25, "transferring %d bytes in blocks of %d", len(image), blockSize)
	if err := o.transferAll(ctx, image, blockSize); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateExiting, 85, "closing transfer")
	if err := o.requestTransferExit(); err != nil {
		return WriteResult{}, o.fail(err)
	}

	o.transition(StateVerifyingChecksum, 90, "verifying ECU-side checksum (routine 0x%04X)", o.cfg.RoutineChecksum)
	if err := o.verifyChecksumRoutine(0); err != nil {
		return WriteResult{}, o.fail(err)
	}

	result := WriteResult{BytesWritten: len(image), ChecksumZone: 0}
	o.transition(StatePostActions, 95, "running post-actions")
	if resetCounter {
		if err := o.ResetFlashCounter(true); err != nil {
			log.Warnf("[FLASH] flash counter reset failed (non-fatal): %v", err)
		} else {
			result.CounterReset = true
		}
	}

	o.transition(StateDone, 100, "flash complete: %d bytes written at 0x%X", len(image), addr)
	return result, nil
}

// transferAll sends image in blockSize-1 byte chunks (one byte of every
// block is the sequence counter), cycling the sequence 1..255->0 and
// re-checking battery voltage every 20 blocks (spec.md §4.6.2 step 9).
func (o *Operation) transferAll(ctx context.Context, image []byte, blockSize int) error {
	chunkSize := blockSize - 1
	if chunkSize <= 0 {
		chunkSize = MaxTransferSize - 1
	}
	seq := byte(1)
	total := len(image)
	written := 0
	blockCount := 0
	for written < total {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		end := written + chunkSize
		if end > total {
			end = total
		}
		if err := o.transferChunk(seq, image[written:end]); err != nil {
			return n54.NewError(n54.KindWriteFailure, fmt.Sprintf("transfer_data failed at offset %d", written), err)
		}
		written = end
		seq++
		blockCount++
		if blockCount%20 == 0 {
			if err := o.checkBattery(); err != nil {
				return err
			}
		}
		o.progress("transferring", 25+int(60*written/total))
	}
	return nil
}

func mismatchSummary(mismatches []checksum.Mismatch) string {
	parts := make([]string, len(mismatches))
	for i, m := range mismatches {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}
