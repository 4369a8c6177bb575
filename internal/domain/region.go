package domain

import "fmt"

// Region is a three-letter administrative region identifier, e.g. "JHM".
type Region string

// regionCodes lists every region with its two-digit file-naming code, in code order.
var regionCodes = []struct {
	region Region
	code   string
}{
	{"PHA", "00"},
	{"STC", "01"},
	{"JHC", "02"},
	{"PLK", "03"},
	{"ULK", "04"},
	{"HKK", "05"},
	{"JHM", "06"},
	{"MSK", "07"},
	{"OLK", "14"},
	{"ZLK", "15"},
	{"VYS", "16"},
	{"PAK", "17"},
	{"LBK", "18"},
	{"KVK", "19"},
}

var (
	regionByCode = make(map[string]Region, len(regionCodes))
	codeByRegion = make(map[Region]string, len(regionCodes))
)

func init() {
	for _, rc := range regionCodes {
		if _, dup := regionByCode[rc.code]; dup {
			panic(fmt.Sprintf("domain: duplicate region code %q", rc.code))
		}
		regionByCode[rc.code] = rc.region
		codeByRegion[rc.region] = rc.code
	}
}

// RegionByCode resolves a two-digit file code ("06") to its region (JHM).
func RegionByCode(code string) (Region, bool) {
	r, ok := regionByCode[code]
	return r, ok
}

// ParseRegion validates a three-letter identifier.
func ParseRegion(s string) (Region, error) {
	r := Region(s)
	if _, ok := codeByRegion[r]; !ok {
		return "", fmt.Errorf("unknown region %q", s)
	}
	return r, nil
}

// Code returns the two-digit file code, or "" for an unknown region.
func (r Region) Code() string {
	return codeByRegion[r]
}

// Valid reports whether r belongs to the closed region set.
func (r Region) Valid() bool {
	_, ok := codeByRegion[r]
	return ok
}

func (r Region) String() string { return string(r) }

// Regions returns all regions ordered by file code.
func Regions() []Region {
	out := make([]Region, len(regionCodes))
	for i, rc := range regionCodes {
		out[i] = rc.region
	}
	return out
}
