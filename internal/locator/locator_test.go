package locator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/automation/automationtest"
	"github.com/maltedev/listing-harvester/internal/snapshot"
)

func ratingField() FieldSpec {
	return FieldSpec{
		Name: "rating",
		Candidates: []Candidate{
			{Strategy: ByCSSClass, Selector: "div.F7nice span[aria-hidden='true']", Refine: FirstNumericToken},
			{Strategy: ByCSSClass, Selector: "span.ceNzKf", Refine: FirstNumericToken},
			{Strategy: ByCSSClass, Selector: "div.fontDisplayLarge", Refine: FirstNumericToken},
		},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		root        map[string][]*automationtest.Node
		wantValue   string
		wantMatched int
	}{
		{
			name:        "first candidate wins",
			root:        map[string][]*automationtest.Node{"div.F7nice span[aria-hidden='true']": automationtest.TextNode("4,5")},
			wantValue:   "4,5",
			wantMatched: 0,
		},
		{
			name: "falls through to later candidate",
			root: map[string][]*automationtest.Node{
				"span.ceNzKf":          automationtest.TextNode(""),
				"div.fontDisplayLarge": automationtest.TextNode("4,7 ★★★★"),
			},
			wantValue:   "4,7",
			wantMatched: 2,
		},
		{
			name:        "refiner rejection is a miss",
			root:        map[string][]*automationtest.Node{"span.ceNzKf": automationtest.TextNode("No reviews")},
			wantValue:   DefaultSentinel,
			wantMatched: NoMatch,
		},
		{
			name:        "all miss yields default",
			root:        map[string][]*automationtest.Node{},
			wantValue:   DefaultSentinel,
			wantMatched: NoMatch,
		},
		{
			name: "stale element is a miss",
			root: map[string][]*automationtest.Node{
				"div.F7nice span[aria-hidden='true']": {{Name: "stale", TextErr: automation.ErrStale}},
				"span.ceNzKf":                         automationtest.TextNode("3,9"),
			},
			wantValue:   "3,9",
			wantMatched: 1,
		},
	}

	loc := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &automationtest.Page{Root: tt.root}
			res, err := loc.Resolve(context.Background(), page, ratingField(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, res.Value)
			assert.Equal(t, tt.wantMatched, res.Matched)
			assert.Equal(t, tt.wantMatched != NoMatch, res.Hit())
		})
	}
}

func TestResolve_CustomDefault(t *testing.T) {
	field := FieldSpec{Name: "shop", Default: "unknown", Candidates: []Candidate{{Selector: "span.shop"}}}
	res, err := New(nil).Resolve(context.Background(), &automationtest.Page{}, field, nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Value)
	assert.False(t, res.Hit())
}

func TestResolve_ClosedPageIsFatal(t *testing.T) {
	page := &automationtest.Page{}
	require.NoError(t, page.Close())

	res, err := New(nil).Resolve(context.Background(), page, ratingField(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, automation.ErrClosed))
	assert.Equal(t, DefaultSentinel, res.Value)
}

func TestResolve_ScopedToCard(t *testing.T) {
	card := &automationtest.Node{
		Name:     "card",
		Children: map[string][]*automationtest.Node{"span.name": automationtest.TextNode("Kopi Kenangan")},
	}
	page := &automationtest.Page{Root: map[string][]*automationtest.Node{"span.name": automationtest.TextNode("page level")}}

	field := FieldSpec{Name: "name", Candidates: []Candidate{{Strategy: ByCSSClass, Selector: "span.name"}}}
	res, err := New(nil).Resolve(context.Background(), page, field, card)
	require.NoError(t, err)
	assert.Equal(t, "Kopi Kenangan", res.Value)
}

func TestResolve_Modes(t *testing.T) {
	page := &automationtest.Page{Root: map[string][]*automationtest.Node{
		"a.phone":   automationtest.AttrNode("", map[string]string{"href": "tel:+62 231 123456"}),
		"a.site":    automationtest.AttrNode("kopi.id", map[string]string{"href": "/url?q=kopi"}),
		"button.hr": automationtest.AttrNode("", map[string]string{"aria-label": "Hours: Open 08.00"}),
	}}
	loc := New(nil)
	ctx := context.Background()

	phone := FieldSpec{Name: "phone", Candidates: []Candidate{
		{Strategy: ByHref, Selector: "a.phone", Mode: ModeTextOrAttribute, Attribute: "href", Refine: StripTel},
	}}
	res, err := loc.Resolve(ctx, page, phone, nil)
	require.NoError(t, err)
	assert.Equal(t, "+62 231 123456", res.Value)

	website := FieldSpec{Name: "website", Candidates: []Candidate{
		{Strategy: ByHref, Selector: "a.site", Mode: ModeAttribute, Attribute: "href", Refine: HTTPOnly},
		{Strategy: ByCSSClass, Selector: "a.site", Mode: ModeText},
	}}
	res, err = loc.Resolve(ctx, page, website, nil)
	require.NoError(t, err)
	assert.Equal(t, "kopi.id", res.Value)
	assert.Equal(t, 1, res.Matched)

	hours := FieldSpec{Name: "hours", Candidates: []Candidate{
		{Strategy: ByARIALabel, Selector: "button.hr", Mode: ModeAttribute, Attribute: "aria-label"},
	}}
	res, err = loc.Resolve(ctx, page, hours, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hours: Open 08.00", res.Value)
}

func TestResolve_URLCoordinates(t *testing.T) {
	page := &automationtest.Page{}
	require.NoError(t, page.Navigate(context.Background(),
		"https://www.google.com/maps/place/Kopi/@-6.7295044,108.4773185,15z/data=!4m6"))

	field := FieldSpec{Name: "coordinates", Candidates: []Candidate{{Strategy: ByURL, Mode: ModeURLCoordinates}}}
	res, err := New(nil).Resolve(context.Background(), page, field, nil)
	require.NoError(t, err)
	assert.Equal(t, "-6.7295044,108.4773185", res.Value)
	assert.Equal(t, 0, res.Matched)
}

func TestResolveWith_StaleURLMisses(t *testing.T) {
	ctx := context.Background()
	page := &automationtest.Page{Root: map[string][]*automationtest.Node{
		"span.coords": automationtest.TextNode("-6.70,108.50"),
	}}
	require.NoError(t, page.Navigate(ctx, "https://www.google.com/maps/place/Old/@-6.72,108.55,17z"))

	urlOnly := FieldSpec{Name: "coordinates", Candidates: []Candidate{{Strategy: ByURL, Mode: ModeURLCoordinates}}}
	res, err := New(nil).ResolveWith(ctx, page, urlOnly, nil, Options{StaleURL: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultSentinel, res.Value)
	assert.False(t, res.Hit())

	withFallback := FieldSpec{Name: "coordinates", Candidates: []Candidate{
		{Strategy: ByURL, Mode: ModeURLCoordinates},
		{Strategy: ByCSSClass, Selector: "span.coords"},
	}}
	res, err = New(nil).ResolveWith(ctx, page, withFallback, nil, Options{StaleURL: true})
	require.NoError(t, err)
	assert.Equal(t, "-6.70,108.50", res.Value)
	assert.Equal(t, 1, res.Matched)

	res, err = New(nil).ResolveWith(ctx, page, urlOnly, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "-6.72,108.55", res.Value)
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Coordinates
		ok   bool
	}{
		{"maps place url", "https://www.google.com/maps/place/X/@-6.7295044,108.4773185,15z/data=abc", Coordinates{-6.7295044, 108.4773185}, true},
		{"no zoom token", "https://maps/@1.5,2.25", Coordinates{1.5, 2.25}, true},
		{"query string after", "https://maps/@10,20?hl=id", Coordinates{10, 20}, true},
		{"no at sign", "https://www.google.com/maps/search/kopi", Coordinates{}, false},
		{"single number", "https://maps/@1.5z", Coordinates{}, false},
		{"not numeric", "https://maps/@abc,def,15z", Coordinates{}, false},
		{"out of range", "https://maps/@95,10,15z", Coordinates{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCoordinates(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	c, _ := ParseCoordinates("https://maps/@-6.7295044,108.4773185,15z")
	assert.Equal(t, "-6.7295044,108.4773185", c.String())
}

func TestRefiners(t *testing.T) {
	v, ok := FirstNumericToken("4,5 ★★★★★")
	assert.True(t, ok)
	assert.Equal(t, "4,5", v)
	_, ok = FirstNumericToken("Belum ada ulasan")
	assert.False(t, ok)

	v, ok = Parenthesized("4,5 (1.234)")
	assert.True(t, ok)
	assert.Equal(t, "1.234", v)
	_, ok = Parenthesized("1.234 reviews")
	assert.False(t, ok)

	v, _ = StripTel("tel:0231-123")
	assert.Equal(t, "0231-123", v)

	_, ok = HTTPOnly("/url?q=x")
	assert.False(t, ok)

	v, ok = FirstLine("\n  Jl. Kartini\nCirebon")
	assert.True(t, ok)
	assert.Equal(t, "Jl. Kartini", v)

	v, ok = AfterLabel("Phone: 0231 123456 ")
	assert.True(t, ok)
	assert.Equal(t, "0231 123456", v)
	v, ok = AfterLabel("(0231) 123456")
	assert.True(t, ok)
	assert.Equal(t, "(0231) 123456", v)
	v, _ = AfterLabel("Buka 10:00")
	assert.Equal(t, "Buka 10:00", v)
	_, ok = AfterLabel("Phone:")
	assert.False(t, ok)
}

func TestResolve_Snapshot(t *testing.T) {
	const html = `<html><body>
<div role="main">
  <h1 class="DUwDvf">Kopi Kenangan</h1>
  <div class="F7nice"><span aria-hidden="true">4,6</span><span aria-label="1.024 reviews">(1.024)</span></div>
  <button data-item-id="address"><div class="fontBodyMedium">Jl. Kartini No. 5, Kec. Kejaksan, Kota Cirebon</div></button>
  <a href="tel:+62231123456" aria-label="Phone"></a>
</div>
</body></html>`
	page, err := snapshot.New(html, "https://www.google.com/maps/place/Kopi/@-6.7,108.5,17z")
	require.NoError(t, err)
	ctx := context.Background()
	loc := New(nil)

	fields := []FieldSpec{
		{Name: "name", Candidates: []Candidate{{Strategy: ByCSSClass, Selector: "h1.DUwDvf"}}},
		{Name: "total_reviews", Candidates: []Candidate{{Strategy: ByARIALabel, Selector: "div.F7nice span[aria-label*='reviews']", Refine: Parenthesized}}},
		{Name: "address", Candidates: []Candidate{{Strategy: ByStableAttribute, Selector: "button[data-item-id='address'] div.fontBodyMedium"}}},
		{Name: "phone", Candidates: []Candidate{
			{Strategy: ByStableAttribute, Selector: "button[data-item-id*='phone'] div.fontBodyMedium"},
			{Strategy: ByHref, Selector: "a[href^='tel:']", Mode: ModeTextOrAttribute, Attribute: "href", Refine: StripTel},
		}},
		{Name: "coordinates", Candidates: []Candidate{{Strategy: ByURL, Mode: ModeURLCoordinates}}},
	}
	want := []string{"Kopi Kenangan", "1.024", "Jl. Kartini No. 5, Kec. Kejaksan, Kota Cirebon", "+62231123456", "-6.7,108.5"}

	for i, f := range fields {
		res, err := loc.Resolve(ctx, page, f, nil)
		require.NoError(t, err, f.Name)
		assert.Equal(t, want[i], res.Value, f.Name)
	}
}
