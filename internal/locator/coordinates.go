package locator

import (
	"strconv"
	"strings"
)

type Coordinates struct {
	Lat float64
	Lng float64
}

// String renders "lat,lng" with the shortest exact float representation.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// ParseCoordinates reads the first two comma-separated numbers following
// the first '@' of a maps URL, e.g. ".../@-6.7295044,108.4773185,15z/...".
func ParseCoordinates(rawURL string) (Coordinates, bool) {
	_, rest, ok := strings.Cut(rawURL, "@")
	if !ok {
		return Coordinates{}, false
	}
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}

	parts := strings.SplitN(rest, ",", 3)
	if len(parts) < 2 {
		return Coordinates{}, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinates{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinates{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lng: lng}, true
}
