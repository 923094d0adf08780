package memmap

import (
	"strconv"
	"strings"

	n54 "github.com/n54diag/core"
)

// parseRegionLine parses "start,size,writable,crc" (decimal or 0x-hex
// integers, writable/crc as "true"/"false") into a Region named name.
func parseRegionLine(name, value string) (Region, error) {
	fields := strings.Split(value, ",")
	if len(fields) != 4 {
		return Region{}, n54.NewError(n54.KindIllegalArgument, "region override must have 4 comma-separated fields: start,size,writable,crc", nil)
	}
	start, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 0, 32)
	if err != nil {
		return Region{}, n54.NewError(n54.KindIllegalArgument, "invalid region start: "+fields[0], err)
	}
	size, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 0, 32)
	if err != nil {
		return Region{}, n54.NewError(n54.KindIllegalArgument, "invalid region size: "+fields[1], err)
	}
	writable, err := strconv.ParseBool(strings.TrimSpace(fields[2]))
	if err != nil {
		return Region{}, n54.NewError(n54.KindIllegalArgument, "invalid writable flag: "+fields[2], err)
	}
	crcProtected, err := strconv.ParseBool(strings.TrimSpace(fields[3]))
	if err != nil {
		return Region{}, n54.NewError(n54.KindIllegalArgument, "invalid crc flag: "+fields[3], err)
	}
	return Region{
		Name:         name,
		Start:        uint32(start),
		Size:         uint32(size),
		Writable:     writable,
		CRCProtected: crcProtected,
	}, nil
}
