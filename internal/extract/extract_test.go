package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/automation/automationtest"
	"github.com/maltedev/listing-harvester/internal/locator"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/schema"
)

var fixed = time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)

func testOptions() Options {
	return Options{DetailTimeout: time.Second, URLChangeTimeout: 50 * time.Millisecond, PollInterval: time.Millisecond}
}

func newExtractor() *Extractor {
	return New(nil, testOptions(), nil).WithClock(func() time.Time { return fixed })
}

func detailPanel(name string) map[string][]*automationtest.Node {
	panel := map[string][]*automationtest.Node{
		"h1.DUwDvf":                           automationtest.TextNode(name),
		"button.DkEaL":                        automationtest.TextNode("Kafe"),
		"div.F7nice span[aria-hidden='true']": automationtest.TextNode("4,5"),
	}
	panel["button[data-item-id='address'] div.fontBodyMedium"] = automationtest.TextNode("Jl. Siliwangi, Kec. Kesambi, Kota Cirebon")
	return panel
}

func card(name string) *automationtest.Node {
	return &automationtest.Node{
		Name:   name,
		Detail: detailPanel(name),
		URL:    "https://www.google.com/maps/place/" + name + "/@-6.72,108.55,17z",
	}
}

func TestExtract_ClickVariant(t *testing.T) {
	page := &automationtest.Page{}
	ref := card("Kopi Senja")

	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 7)
	require.NoError(t, err)

	assert.Equal(t, 7, rec.Index)
	assert.Equal(t, fixed, rec.ScrapedAt)
	assert.Equal(t, schema.Maps().Schema.Keys(), rec.Keys()[1:len(rec.Keys())-1])

	name, _ := rec.Get("name")
	assert.Equal(t, "Kopi Senja", name)
	phone, _ := rec.Get("phone")
	assert.Equal(t, models.Missing, phone)
	coords, _ := rec.Get("coordinates")
	assert.Equal(t, "-6.72,108.55", coords)
	assert.Equal(t, 1, page.Clicks(ref))
}

func TestExtract_RetriesOnceAfterScrollIntoView(t *testing.T) {
	page := &automationtest.Page{}
	ref := card("Kopi Senja")
	ref.ClickErrs = []error{automation.ErrIntercepted}

	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 1)
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Equal(t, 2, page.Clicks(ref))
	assert.Equal(t, 1, page.IntoViewCalls(ref))
}

func TestExtract_SecondFailureSkips(t *testing.T) {
	page := &automationtest.Page{}
	ref := card("Kopi Senja")
	ref.ClickAlways = automation.ErrStale

	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 3)
	assert.Nil(t, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActivation))
	assert.False(t, automation.IsFatal(err))
	assert.Equal(t, 2, page.Clicks(ref))
	assert.Equal(t, 1, page.IntoViewCalls(ref))
}

func TestExtract_UnexpectedClickErrorIsNotRetried(t *testing.T) {
	page := &automationtest.Page{}
	ref := card("Kopi Senja")
	ref.ClickAlways = errors.New("protocol error")

	_, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 3)
	assert.True(t, errors.Is(err, ErrActivation))
	assert.Equal(t, 1, page.Clicks(ref))
	assert.Zero(t, page.IntoViewCalls(ref))
}

func TestExtract_DetailTimeoutStillExtracts(t *testing.T) {
	page := &automationtest.Page{}
	ref := &automationtest.Node{Name: "no detail"}

	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 2)
	require.NoError(t, err)
	for _, key := range schema.Maps().Schema.Keys() {
		v, ok := rec.Get(key)
		assert.True(t, ok, key)
		assert.Equal(t, models.Missing, v, key)
	}
}

func TestExtract_ClosedPageIsFatal(t *testing.T) {
	page := &automationtest.Page{}
	require.NoError(t, page.Close())

	_, err := newExtractor().Extract(context.Background(), page, card("x"), schema.Maps(), 1)
	require.Error(t, err)
	assert.True(t, automation.IsFatal(err))
	assert.False(t, errors.Is(err, ErrActivation))
}

func TestExtract_InlineVariantUsesCardScope(t *testing.T) {
	page := &automationtest.Page{
		Root: map[string][]*automationtest.Node{"h3": automationtest.TextNode("page heading")},
	}
	ref := &automationtest.Node{
		Name: "result",
		Children: map[string][]*automationtest.Node{
			"h3":                 automationtest.TextNode("Cafe Cirebon - Top 10"),
			"a":                  automationtest.AttrNode("", map[string]string{"href": "https://example.com/cafe"}),
			"div[data-sncf='1']": automationtest.TextNode("Daftar kafe terbaik."),
		},
	}

	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Google(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "Cafe Cirebon - Top 10", "https://example.com/cafe", "Daftar kafe terbaik.", "2025-03-01 10:00:00"}, rec.Values())
	assert.Zero(t, page.Clicks(ref))
}

func TestExtract_WaitsForURLChange(t *testing.T) {
	page := &automationtest.Page{}
	require.NoError(t, page.Navigate(context.Background(), "https://www.google.com/maps/search/kopi"))

	ref := card("Kopi Senja")
	rec, err := newExtractor().Extract(context.Background(), page, ref, schema.Maps(), 1)
	require.NoError(t, err)
	coords, _ := rec.Get("coordinates")
	assert.Equal(t, "-6.72,108.55", coords)

	// A card whose click leaves the URL alone waits out the bounded timeout.
	same := &automationtest.Node{Name: "same", Detail: detailPanel("Same")}
	start := time.Now()
	rec, err = newExtractor().Extract(context.Background(), page, same, schema.Maps(), 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), testOptions().URLChangeTimeout)
	coords, _ = rec.Get("coordinates")
	assert.Equal(t, models.Missing, coords)
}

func TestExtract_UnchangedURLDoesNotReusePreviousCoordinates(t *testing.T) {
	ctx := context.Background()
	page := &automationtest.Page{}
	require.NoError(t, page.Navigate(ctx, "https://www.google.com/maps/search/kopi/@-6.70,108.50,14z"))

	first := card("Kopi Satu")
	second := &automationtest.Node{Name: "Kopi Dua", Detail: detailPanel("Kopi Dua")}
	third := card("Kopi Tiga")
	third.URL = "https://www.google.com/maps/place/Kopi+Tiga/@-6.75,108.61,17z"

	e := newExtractor()
	var coords []string
	for i, ref := range []*automationtest.Node{first, second, third} {
		rec, err := e.Extract(ctx, page, ref, schema.Maps(), i+1)
		require.NoError(t, err)
		name, _ := rec.Get("name")
		assert.Equal(t, ref.Name, name)
		c, _ := rec.Get("coordinates")
		coords = append(coords, c)
	}
	assert.Equal(t, []string{"-6.72,108.55", models.Missing, "-6.75,108.61"}, coords)
}

func TestExtract_DisabledURLWaitKeepsPageCoordinates(t *testing.T) {
	ctx := context.Background()
	page := &automationtest.Page{}
	require.NoError(t, page.Navigate(ctx, "https://www.google.com/maps/place/Kopi/@-6.72,108.55,17z"))

	opts := testOptions()
	opts.URLChangeTimeout = 0
	e := New(nil, opts, nil)

	ref := &automationtest.Node{Name: "Kopi", Detail: detailPanel("Kopi")}
	rec, err := e.Extract(ctx, page, ref, schema.Maps(), 1)
	require.NoError(t, err)
	coords, _ := rec.Get("coordinates")
	assert.Equal(t, "-6.72,108.55", coords)
}

func TestExtract_CustomLocator(t *testing.T) {
	e := New(locator.New(nil), Options{}, nil)
	assert.Equal(t, 100*time.Millisecond, e.opts.PollInterval)
}
