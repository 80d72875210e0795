package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionPolicy_Classify(t *testing.T) {
	p := DefaultRegionPolicy()
	tests := []struct {
		address string
		want    string
	}{
		{"Jl. Siliwangi No.1, Kec. Kejaksan, Kota Cirebon, Jawa Barat", "Kota Cirebon"},
		{"Jl. Raya Sumber, Kec. Sumber, Kabupaten Cirebon, Jawa Barat", "Kabupaten Cirebon"},
		{"jl. pemuda, KOTA CIREBON", "Kota Cirebon"},
		{"Jl. Kesambi Raya, Cirebon", "Kota Cirebon"},
		{"Jl. Tuparev, Kedawung, Cirebon", "Kabupaten Cirebon"},
		{"Jl. Asia Afrika, Bandung", Unknown},
		{"N/A", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.address))
		})
	}
}

func TestRegionPolicy_Configurable(t *testing.T) {
	p := RegionPolicy{
		City: "Kota Bandung", Regency: "Kabupaten Bandung",
		CityMarker: "kota bandung", RegencyMarker: "kabupaten bandung",
		AreaMarker: "bandung", CityDistricts: []string{"Coblong"},
	}
	assert.Equal(t, "Kota Bandung", p.Classify("Jl. Dago, Coblong, Bandung"))
	assert.Equal(t, "Kabupaten Bandung", p.Classify("Jl. Raya Banjaran, Bandung"))
}

func TestDistrict(t *testing.T) {
	assert.Equal(t, "Kejaksan", District("Jl. Kartini No. 5, Kec. Kejaksan, Kota Cirebon"))
	assert.Equal(t, "Harjamukti", District("Jl. Ciremai Raya, Kec.Harjamukti, Kota Cirebon"))
	assert.Equal(t, Unknown, District("Jl. Kartini, Kota Cirebon"))
	assert.Equal(t, Unknown, District("N/A"))
}

func TestParseRatingAndCoordinates(t *testing.T) {
	r, ok := ParseRating("4,5")
	assert.True(t, ok)
	assert.Equal(t, 4.5, r)
	_, ok = ParseRating("N/A")
	assert.False(t, ok)
	_, ok = ParseRating("bagus")
	assert.False(t, ok)

	lat, lng, ok := SplitCoordinates("-6.7295044,108.4773185")
	assert.True(t, ok)
	assert.Equal(t, -6.7295044, lat)
	assert.Equal(t, 108.4773185, lng)
	_, _, ok = SplitCoordinates("-6.7,108.4,17z")
	assert.False(t, ok)
}

func TestClean(t *testing.T) {
	in := Table{
		Header: []string{"index", "name", "category", "rating", "total_reviews", "address", "phone", "website", "hours", "coordinates", "scraped_at"},
		Rows: [][]string{
			{"1", "Kopi Senja", "Kedai Kopi", "4,5", "120", "Jl. Kartini, Kec. Kejaksan, Kota Cirebon", "0231 123", "https://senja.id", "N/A", "-6.71,108.55", "2025-01-01 10:00:00"},
			{"2", "N/A", "N/A", "N/A", "N/A", "Jl. Tuparev, Kec. Kedawung, Kabupaten Cirebon", "N/A", "N/A", "N/A", "N/A", "2025-01-01 10:00:02"},
			{"3", "Kopi Senja", "Kafe", "4,0", "5", "Jl. Kartini, Kec. Kejaksan, Kota Cirebon", "N/A", "N/A", "N/A", "-6.71,108.55", "2025-01-01 10:00:04"},
		},
	}

	out, report := New(DefaultOptions(), nil).Clean(in)
	assert.Equal(t, OutputColumns, out.Header)
	require.Len(t, out.Rows, 2)

	row := func(i int) map[string]string {
		m := map[string]string{}
		for j, h := range out.Header {
			m[h] = out.Rows[i][j]
		}
		return m
	}

	first := row(0)
	assert.Equal(t, "Kopi Senja", first["name_clean"])
	assert.Equal(t, "4.5", first["rating_clean"])
	assert.Equal(t, "Kejaksan", first["kecamatan"])
	assert.Equal(t, "Kota Cirebon", first["wilayah"])
	assert.Equal(t, "True", first["has_phone"])
	assert.Equal(t, "0231 123", first["phone_clean"])
	assert.Equal(t, "-6.71", first["latitude"])
	assert.Equal(t, "108.55", first["longitude"])

	second := row(1)
	assert.Equal(t, "Cafe Tanpa Nama", second["name_clean"])
	assert.Equal(t, "Cafe/Kedai Kopi", second["category_clean"])
	assert.Equal(t, "", second["rating_clean"])
	assert.Equal(t, "False", second["has_website"])
	assert.Equal(t, "", second["website_clean"])
	assert.Equal(t, "Kabupaten Cirebon", second["wilayah"])
	assert.Equal(t, "", second["latitude"])

	assert.Equal(t, Report{
		Input:             3,
		Output:            2,
		DuplicatesRemoved: 1,
		Unnamed:           1,
		ValidRatings:      1,
		MeanRating:        4.5,
		ValidCoordinates:  1,
		Districts:         2,
		Regions:           map[string]int{"Kota Cirebon": 1, "Kabupaten Cirebon": 1},
		WithPhone:         1,
		WithWebsite:       1,
	}, report)
}

func TestClean_DropsColumnsWithoutSource(t *testing.T) {
	in := Table{
		Header: []string{"index", "title", "link", "scraped_at"},
		Rows:   [][]string{{"1", "Cafe list", "https://x", "2025-01-01 10:00:00"}},
	}
	out, report := New(DefaultOptions(), nil).Clean(in)
	assert.Equal(t, []string{"index", "scraped_at"}, out.Header)
	assert.Equal(t, [][]string{{"1", "2025-01-01 10:00:00"}}, out.Rows)
	assert.Empty(t, report.Regions)
}
