// Package cleaner normalizes harvested business listings for analysis:
// defaults for missing names and categories, numeric ratings and
// coordinates, district and region labels, contact presence flags and
// duplicate removal.
package cleaner

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// OutputColumns is the cleaned column order. Columns whose source is absent
// from the input are dropped.
var OutputColumns = []string{
	"index", "name", "name_clean", "category", "category_clean",
	"rating", "rating_clean", "total_reviews", "address",
	"kecamatan", "wilayah",
	"phone", "phone_clean", "has_phone",
	"website", "website_clean", "has_website",
	"hours", "coordinates", "latitude", "longitude",
	"scraped_at",
}

// derivedFrom maps each computed column to the input column it needs.
var derivedFrom = map[string]string{
	"name_clean":     "name",
	"category_clean": "category",
	"rating_clean":   "rating",
	"kecamatan":      "address",
	"wilayah":        "address",
	"phone_clean":    "phone",
	"has_phone":      "phone",
	"website_clean":  "website",
	"has_website":    "website",
	"latitude":       "coordinates",
	"longitude":      "coordinates",
}

type Options struct {
	DefaultName     string
	DefaultCategory string
	Region          RegionPolicy
}

func DefaultOptions() Options {
	return Options{
		DefaultName:     "Cafe Tanpa Nama",
		DefaultCategory: "Cafe/Kedai Kopi",
		Region:          DefaultRegionPolicy(),
	}
}

type Report struct {
	Input             int            `json:"input"`
	Output            int            `json:"output"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	Unnamed           int            `json:"unnamed"`
	ValidRatings      int            `json:"valid_ratings"`
	MeanRating        float64        `json:"mean_rating"`
	ValidCoordinates  int            `json:"valid_coordinates"`
	Districts         int            `json:"districts"`
	Regions           map[string]int `json:"regions"`
	WithPhone         int            `json:"with_phone"`
	WithWebsite       int            `json:"with_website"`
}

type Table struct {
	Header []string
	Rows   [][]string
}

type Cleaner struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{opts: opts, logger: logger.With("component", "cleaner")}
}

// Clean derives the cleaned columns for every row and removes rows whose
// (name, address) pair was already seen.
func (c *Cleaner) Clean(in Table) (Table, Report) {
	col := make(map[string]int, len(in.Header))
	for i, h := range in.Header {
		col[h] = i
	}
	has := func(name string) bool { _, ok := col[name]; return ok }

	var header []string
	for _, name := range OutputColumns {
		src, derived := derivedFrom[name]
		if (derived && has(src)) || (!derived && has(name)) {
			header = append(header, name)
		}
	}

	report := Report{Input: len(in.Rows), Regions: map[string]int{}}
	seen := make(map[[2]string]bool, len(in.Rows))
	districts := map[string]bool{}
	var ratingSum float64
	out := make([][]string, 0, len(in.Rows))

	for _, row := range in.Rows {
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		key := [2]string{get("name"), get("address")}
		if seen[key] {
			report.DuplicatesRemoved++
			continue
		}
		seen[key] = true

		values := c.derive(get)
		cells := make([]string, len(header))
		for i, name := range header {
			if v, ok := values[name]; ok {
				cells[i] = v
			} else {
				cells[i] = get(name)
			}
		}
		out = append(out, cells)

		if has("name") && isMissing(get("name")) {
			report.Unnamed++
		}
		if v := values["rating_clean"]; v != "" {
			f, _ := strconv.ParseFloat(v, 64)
			ratingSum += f
			report.ValidRatings++
		}
		if values["latitude"] != "" {
			report.ValidCoordinates++
		}
		if has("address") {
			districts[values["kecamatan"]] = true
			report.Regions[values["wilayah"]]++
		}
		if values["has_phone"] == "True" {
			report.WithPhone++
		}
		if values["has_website"] == "True" {
			report.WithWebsite++
		}
	}

	report.Output = len(out)
	report.Districts = len(districts)
	if report.ValidRatings > 0 {
		report.MeanRating = ratingSum / float64(report.ValidRatings)
	}

	c.logger.Info("data cleaned",
		"input", report.Input,
		"output", report.Output,
		"duplicates_removed", report.DuplicatesRemoved,
		"valid_ratings", report.ValidRatings,
		"valid_coordinates", report.ValidCoordinates,
		"districts", report.Districts,
		"with_phone", report.WithPhone,
		"with_website", report.WithWebsite)
	for _, region := range sortedKeys(report.Regions) {
		c.logger.Info("region distribution", "region", region, "count", report.Regions[region])
	}

	return Table{Header: header, Rows: out}, report
}

func (c *Cleaner) derive(get func(string) string) map[string]string {
	v := map[string]string{}

	v["name_clean"] = orDefault(get("name"), c.opts.DefaultName)
	v["category_clean"] = orDefault(get("category"), c.opts.DefaultCategory)

	if r, ok := ParseRating(get("rating")); ok {
		v["rating_clean"] = strconv.FormatFloat(r, 'f', -1, 64)
	}

	address := get("address")
	v["kecamatan"] = District(address)
	v["wilayah"] = c.opts.Region.Classify(address)

	v["has_phone"], v["phone_clean"] = presence(get("phone"))
	v["has_website"], v["website_clean"] = presence(get("website"))

	if lat, lng, ok := SplitCoordinates(get("coordinates")); ok {
		v["latitude"] = strconv.FormatFloat(lat, 'f', -1, 64)
		v["longitude"] = strconv.FormatFloat(lng, 'f', -1, 64)
	}
	return v
}

// ParseRating reads a comma-decimal rating ("4,5" gives 4.5).
func ParseRating(raw string) (float64, bool) {
	if isMissing(raw) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// SplitCoordinates parses "lat,lng".
func SplitCoordinates(raw string) (float64, float64, bool) {
	if isMissing(raw) {
		return 0, 0, false
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func orDefault(v, def string) string {
	if isMissing(v) {
		return def
	}
	return v
}

func presence(v string) (flag, clean string) {
	if isMissing(v) {
		return "False", ""
	}
	return "True", v
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
