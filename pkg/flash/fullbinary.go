package flash

import (
	"context"
	"strings"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/checksum"
)

// RegionResult is one named region's outcome within a full-binary flash.
type RegionResult struct {
	Name   string
	Result WriteResult
}

// fullBinarySegment maps one region to its place in the flat full-image
// byte buffer (fileOffset) and the device address used for its own
// request_download (deviceAddr). Boot, Calibration, and Program live in
// a page-windowed flash bank addressed from 0x800000 and are packed
// contiguously at the front of the image file; NVRAM is addressed
// linearly within the same 0-2MiB range as the image itself, so its
// file offset equals its device address. The span between the packed
// firmware regions and NVRAM is spec.md §4.6.4's "Reserved" region: it
// is part of the full dump but nothing in it is reprogrammed.
type fullBinarySegment struct {
	name       string
	fileOffset uint32
	size       uint32
	deviceAddr uint32
}

func (o *Operation) fullBinarySegments() ([]fullBinarySegment, bool) {
	boot, ok := o.regionEnd("Boot")
	if !ok {
		return nil, false
	}
	calibration, ok := o.regionEnd("Calibration")
	if !ok {
		return nil, false
	}
	program, ok := o.regionEnd("Program")
	if !ok {
		return nil, false
	}
	nvram, ok := o.regionEnd("NVRAM")
	if !ok {
		return nil, false
	}

	var offset uint32
	segments := []fullBinarySegment{
		{name: "Boot", fileOffset: offset, size: boot.end - boot.start, deviceAddr: boot.start},
	}
	offset += boot.end - boot.start
	segments = append(segments, fullBinarySegment{name: "Calibration", fileOffset: offset, size: calibration.end - calibration.start, deviceAddr: calibration.start})
	offset += calibration.end - calibration.start
	segments = append(segments, fullBinarySegment{name: "Program", fileOffset: offset, size: program.end - program.start, deviceAddr: program.start})
	segments = append(segments, fullBinarySegment{name: "NVRAM", fileOffset: nvram.start, size: nvram.end - nvram.start, deviceAddr: nvram.start})
	return segments, true
}

// FlashFullBinary splits image into the variant's Boot, Calibration,
// Program, and NVRAM segments and runs the write pipeline once per
// segment against its own device address, finishing with a soft reset
// (spec.md §4.6.4). It is the recovery path: unlike FlashCalibration, it
// is permitted to write the Boot region, so callers must be certain the
// image is a verified full dump before using it.
func (o *Operation) FlashFullBinary(ctx context.Context, image []byte, resetCounter bool) ([]RegionResult, error) {
	if uint32(len(image)) != o.variant.FullImageSize {
		return nil, o.fail(n54.NewError(n54.KindBinaryValidation,
			"full binary size does not match variant's expected image size", nil))
	}
	if ok, errs := checksum.ValidateBinary(image, o.variant); !ok {
		return nil, o.fail(n54.NewError(n54.KindBinaryValidation, strings.Join(errs, "; "), nil))
	}

	segments, ok := o.fullBinarySegments()
	if !ok {
		return nil, o.fail(n54.NewError(n54.KindIllegalArgument, "variant is missing a region required for full-binary layout", nil))
	}

	var results []RegionResult
	for i, seg := range segments {
		if seg.fileOffset+seg.size > uint32(len(image)) {
			return results, o.fail(n54.NewError(n54.KindBinaryValidation, "segment "+seg.name+" exceeds image bounds", nil))
		}
		slice := image[seg.fileOffset : seg.fileOffset+seg.size]
		lastSegment := i == len(segments)-1
		resetThisSegment := resetCounter && lastSegment

		// Only the Calibration segment carries zone/trailer CRCs; the
		// whole image's size and ROM-ID were already checked above.
		fullImageChecks := seg.name == "Calibration"

		result, err := o.flashRegionPipelineWithValidation(ctx, seg.deviceAddr, slice, resetThisSegment, true, fullImageChecks)
		if err != nil {
			return results, err
		}
		results = append(results, RegionResult{Name: seg.name, Result: result})
	}

	o.transition(StatePostActions, 98, "requesting final soft reset")
	if err := o.softReset(); err != nil {
		return results, o.fail(err)
	}

	o.transition(StateDone, 100, "full binary flash complete across %d segments", len(results))
	return results, nil
}
