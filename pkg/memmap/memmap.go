// Package memmap holds the per-ECU-variant memory layout: region table,
// CRC-protected zones, and forbidden (never-write) regions. This is the
// reference data pkg/checksum and pkg/flash gate writes against.
package memmap

import "gopkg.in/ini.v1"

// Region is one named span of ECU address space.
type Region struct {
	Name       string
	Start      uint32
	Size       uint32
	Writable   bool
	CRCProtected bool
}

// End returns the exclusive end address of the region.
func (r Region) End() uint32 { return r.Start + r.Size }

// Zone is a CRC-16-protected span of a calibration image, with the
// checksum stored little-endian immediately following the span.
type Zone struct {
	Name       string
	Start      uint32
	End        uint32 // exclusive
	ChecksumAt uint32
}

// Variant is the full memory map for one ECU family member.
type Variant struct {
	Name              string
	Regions           []Region
	Zones             []Zone
	ForbiddenRegions  [][2]uint32 // [start, end) in absolute image offsets
	ROMIDOffset       uint32
	ROMIDSignatures   [][]byte
	FullImageSize     uint32
	CalibrationSizes  []uint32
}

// MSD80 is the baseline N54 ECU memory map (spec.md §3).
var MSD80 = Variant{
	Name: "MSD80",
	Regions: []Region{
		{Name: "Boot", Start: 0x800000, Size: 64 * 1024, Writable: false},
		{Name: "Calibration", Start: 0x810000, Size: 256 * 1024, Writable: true, CRCProtected: true},
		{Name: "Program", Start: 0x850000, Size: 704 * 1024, Writable: false},
		{Name: "NVRAM", Start: 0x1F0000, Size: 64 * 1024, Writable: true},
	},
	Zones: []Zone{
		{Name: "A", Start: 0x00000, End: 0x40302, ChecksumAt: 0x40302},
		{Name: "B", Start: 0x40304, End: 0x80302, ChecksumAt: 0x80302},
		{Name: "C", Start: 0x80304, End: 0xC0302, ChecksumAt: 0xC0302},
		{Name: "D", Start: 0xC0304, End: 0xC0342, ChecksumAt: 0xC0342},
	},
	ForbiddenRegions: [][2]uint32{
		{0x00000, 0x08000},
		{0x054A90, 0x054B50},
		{0x05AD20, 0x05AD80},
		{0x1F0000, 0x200000},
	},
	ROMIDOffset: 0x8000,
	ROMIDSignatures: [][]byte{
		[]byte("I8A0S"), // 2008+ 535i/535xi
		[]byte("I8A0P"), // performance variant
		[]byte("I850S"), // 335i variant
	},
	FullImageSize:    0x200000,
	CalibrationSizes: []uint32{0x40000, 0x80000},
}

// MSD81 doubles the calibration region relative to MSD80 (spec.md §3 note);
// zones and forbidden regions carry over since they describe the
// calibration image layout, not the doubled program/calibration split.
var MSD81 = func() Variant {
	v := MSD80
	v.Name = "MSD81"
	v.Regions = append([]Region(nil), MSD80.Regions...)
	for i, r := range v.Regions {
		if r.Name == "Calibration" {
			v.Regions[i].Size = r.Size * 2
		}
	}
	v.ROMIDSignatures = [][]byte{
		[]byte("I9A0S"), // 2010+ variant
		[]byte("I9A0P"), // performance variant
	}
	return v
}()

var registry = map[string]Variant{
	"MSD80": MSD80,
	"MSD81": MSD81,
}

// Get looks up a variant by name.
func Get(name string) (Variant, bool) {
	v, ok := registry[name]
	return v, ok
}

// Register adds or replaces a variant, used by LoadOverrides.
func Register(v Variant) { registry[v.Name] = v }

// LoadOverrides reads an INI file describing additional or replacement
// regions for a variant, following the same ini.v1 section-per-entity
// convention as the rest of the core's configuration. Section names are
// variant names; each key in a section is "RegionName" with a comma
// separated "start,size,writable,crc" value.
func LoadOverrides(path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		base, ok := Get(section.Name())
		if !ok {
			base = Variant{Name: section.Name()}
		}
		for _, key := range section.Keys() {
			region, perr := parseRegionLine(key.Name(), key.String())
			if perr != nil {
				return perr
			}
			base.Regions = upsertRegion(base.Regions, region)
		}
		Register(base)
	}
	return nil
}

func upsertRegion(regions []Region, r Region) []Region {
	for i, existing := range regions {
		if existing.Name == r.Name {
			regions[i] = r
			return regions
		}
	}
	return append(regions, r)
}
