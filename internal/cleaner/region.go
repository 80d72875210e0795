package cleaner

import (
	"regexp"
	"strings"

	"github.com/maltedev/listing-harvester/internal/models"
)

// Unknown labels a district or region that could not be determined.
const Unknown = "Tidak Diketahui"

var districtPattern = regexp.MustCompile(`Kec\.\s*([^,]+)`)

// District returns the name following "Kec." up to the next comma.
func District(address string) string {
	if isMissing(address) {
		return Unknown
	}
	m := districtPattern.FindStringSubmatch(address)
	if m == nil {
		return Unknown
	}
	if d := strings.TrimSpace(m[1]); d != "" {
		return d
	}
	return Unknown
}

// RegionPolicy classifies an address into a city or regency by substring.
// Markers and districts are matched case-insensitively.
type RegionPolicy struct {
	City    string
	Regency string

	CityMarker    string
	RegencyMarker string
	// AreaMarker is the bare place name. An address with only the area
	// marker is the city when it names a CityDistricts entry and the
	// regency otherwise.
	AreaMarker    string
	CityDistricts []string
}

func DefaultRegionPolicy() RegionPolicy {
	return RegionPolicy{
		City:          "Kota Cirebon",
		Regency:       "Kabupaten Cirebon",
		CityMarker:    "kota cirebon",
		RegencyMarker: "kabupaten cirebon",
		AreaMarker:    "cirebon",
		CityDistricts: []string{"kesambi", "harjamukti", "kejaksan", "lemahwungkuk", "pekalipan"},
	}
}

// Classify checks the city marker first since it is the more specific one.
func (p RegionPolicy) Classify(address string) string {
	if isMissing(address) {
		return Unknown
	}
	addr := strings.ToLower(address)

	switch {
	case p.CityMarker != "" && strings.Contains(addr, strings.ToLower(p.CityMarker)):
		return p.City
	case p.RegencyMarker != "" && strings.Contains(addr, strings.ToLower(p.RegencyMarker)):
		return p.Regency
	case p.AreaMarker != "" && strings.Contains(addr, strings.ToLower(p.AreaMarker)):
		for _, d := range p.CityDistricts {
			if d != "" && strings.Contains(addr, strings.ToLower(d)) {
				return p.City
			}
		}
		return p.Regency
	}
	return Unknown
}

func isMissing(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == models.Missing
}
