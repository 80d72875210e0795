package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/automation/automationtest"
	"github.com/maltedev/listing-harvester/internal/extract"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/snapshot"
)

type MockPacer struct {
	mock.Mock
}

func (m *MockPacer) Pace(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testConfig() Config {
	return Config{
		NavigationTimeout: time.Second,
		ResultsTimeout:    time.Second,
		MaxIterations:     10,
		Extract: extract.Options{
			DetailTimeout:    10 * time.Millisecond,
			URLChangeTimeout: 10 * time.Millisecond,
			PollInterval:     time.Millisecond,
		},
	}
}

func fullDetail(name string) map[string][]*automationtest.Node {
	detail := map[string][]*automationtest.Node{
		"h1.DUwDvf":                   automationtest.TextNode(name),
		"button.DkEaL":                automationtest.TextNode("Kafe"),
		"a[data-item-id='authority']": automationtest.AttrNode("kafe.id", map[string]string{"href": "https://kafe.id"}),
	}
	detail["div.F7nice span[aria-hidden='true']"] = automationtest.TextNode("4,5")
	detail["div.F7nice span[aria-label*='reviews']"] = automationtest.TextNode("(120)")
	detail["button[data-item-id='address'] div.fontBodyMedium"] = automationtest.TextNode("Jl. Kartini, Kec. Kejaksan, Kota Cirebon")
	detail["button[data-item-id*='phone'] div.fontBodyMedium"] = automationtest.TextNode("0231 200300")
	return detail
}

func mapsCards(n int) []*automationtest.Node {
	out := make([]*automationtest.Node, n)
	for i := range out {
		name := fmt.Sprintf("Kafe %d", i+1)
		out[i] = &automationtest.Node{
			Name:   name,
			Detail: fullDetail(name),
			URL:    fmt.Sprintf("https://www.google.com/maps/place/kafe-%d/@-6.7%d,108.5%d,17z", i+1, i+1, i+1),
		}
	}
	return out
}

// mapsPage shows five cards behind two scrolls: 3, then 4, then 5.
func mapsPage(cards []*automationtest.Node) *automationtest.Page {
	v := schema.Maps()
	heights := []float64{1000, 2000, 3000}
	return &automationtest.Page{
		Root: map[string][]*automationtest.Node{
			v.ResultsSelector:  automationtest.TextNode("results"),
			"div[role='feed']": automationtest.TextNode("feed"),
			"div.Nv2PK":        cards,
		},
		HeightAt:       func(s int) float64 { return heights[min(s, len(heights)-1)] },
		RevealSelector: "div.Nv2PK",
		RevealAt:       func(s int) int { return 3 + s },
	}
}

func indices(records []*models.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Index
	}
	return out
}

func assertInvariants(t *testing.T, res *Result, v schema.Variant) {
	t.Helper()
	assert.LessOrEqual(t, len(res.Records), res.Query.TargetCount)
	assert.LessOrEqual(t, len(res.Records), res.Discovered)
	assert.Equal(t, res.Attempted, res.Skipped+len(res.Records))

	wantKeys := append(append([]string{models.KeyIndex}, v.Schema.Keys()...), models.KeyScrapedAt)
	prev := 0
	for _, r := range res.Records {
		assert.Equal(t, wantKeys, r.Keys())
		assert.Greater(t, r.Index, prev)
		prev = r.Index
	}
}

func TestSession_ScenarioA_AllListingsExtracted(t *testing.T) {
	page := mapsPage(mapsCards(5))
	pacer := &MockPacer{}
	pacer.On("Pace", mock.Anything).Return(nil).Times(4)

	var states []State
	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), pacer, testConfig(), nil).
		WithObserver(func(st State) { states = append(states, st) })

	res, err := s.Run(context.Background(), Query{Query: "cafe", Location: "Cirebon", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, indices(res.Records))
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 5, res.Discovered)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []State{Navigating, ScrollDiscovery, Extracting, Completed}, states)
	assert.Equal(t, Completed, s.State())
	assert.True(t, page.Closed())
	assert.Equal(t, 1, page.CloseCount())
	assert.Equal(t, []string{"https://www.google.com/maps/search/cafe+Cirebon"}, page.Navigated())
	assertInvariants(t, res, schema.Maps())
	pacer.AssertExpectations(t)

	summary := res.Summary()
	assert.Equal(t, models.Summary{Total: 5, WithPhone: 5, WithWebsite: 5}, summary)
}

func TestSession_ScenarioB_ClickFailureSkipsOneListing(t *testing.T) {
	cards := mapsCards(5)
	cards[2].ClickAlways = automation.ErrIntercepted
	page := mapsPage(cards)

	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil)
	res, err := s.Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, []int{1, 2, 4, 5}, indices(res.Records))
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 5, res.Attempted)
	assert.Equal(t, 2, page.Clicks(cards[2]))
	assertInvariants(t, res, schema.Maps())
}

func TestSession_ScenarioC_MissingFieldDefaults(t *testing.T) {
	page := mapsPage(mapsCards(5))

	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil)
	res, err := s.Run(context.Background(), Query{Query: "cafe", TargetCount: 3})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	for _, r := range res.Records {
		hours, ok := r.Get("hours")
		assert.True(t, ok)
		assert.Equal(t, models.Missing, hours)

		for _, key := range []string{"name", "category", "rating", "total_reviews", "address", "phone", "website", "coordinates"} {
			v, _ := r.Get(key)
			assert.NotEqual(t, models.Missing, v, key)
		}
	}
	name, _ := res.Records[1].Get("name")
	assert.Equal(t, "Kafe 2", name)
	coords, _ := res.Records[1].Get("coordinates")
	assert.Equal(t, "-6.72,108.52", coords)
	assertInvariants(t, res, schema.Maps())
}

func TestSession_ScenarioD_NavigationTimeoutAborts(t *testing.T) {
	page := mapsPage(mapsCards(5))
	page.NavigateErr = fmt.Errorf("goto: %w", automation.ErrTimeout)

	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil)
	res, err := s.Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Aborted, res.Status)
	assert.True(t, errors.Is(res.Err, ErrNavigation))
	assert.True(t, errors.Is(res.Err, automation.ErrTimeout))
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.True(t, page.Closed())
	assert.Zero(t, page.Scrolls())
}

func TestSession_ResultsTimeoutAborts(t *testing.T) {
	page := &automationtest.Page{}

	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil)
	res, err := s.Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Aborted, res.Status)
	assert.True(t, errors.Is(res.Err, ErrResultsTimeout))
	assert.True(t, page.Closed())
}

func TestSession_OpenPageFailure(t *testing.T) {
	opener := &automationtest.Opener{Err: errors.New("browser not running")}

	res, err := NewSession(opener, schema.Maps(), nil, testConfig(), nil).
		Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)
	assert.Equal(t, Aborted, res.Status)
	assert.True(t, errors.Is(res.Err, ErrNavigation))
	assert.Equal(t, 1, opener.Opened())
}

func TestSession_NoContainerYieldsEmptyCompletedResult(t *testing.T) {
	v := schema.Maps()
	page := &automationtest.Page{
		Root: map[string][]*automationtest.Node{v.ResultsSelector: automationtest.TextNode("results")},
		HTML: "<html><body>nothing</body></html>",
	}
	cfg := testConfig()
	cfg.DiagnosticsDir = t.TempDir()

	res, err := NewSession(&automationtest.Opener{Page: page}, v, nil, cfg, nil).
		Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Status)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Attempted)
	assert.True(t, page.Closed())

	require.Len(t, res.Diagnostics, 2)
	assert.True(t, strings.HasSuffix(res.Diagnostics[0], ".png"))
	assert.Equal(t, page.Screenshots(), res.Diagnostics[:1])

	dump := res.Diagnostics[1]
	_, statErr := os.Stat(dump)
	require.NoError(t, statErr)
	replay, err := snapshot.Open(dump)
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/search/cafe", replay.CurrentURL())
}

func TestSession_InterruptedBetweenItems(t *testing.T) {
	page := mapsPage(mapsCards(5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pacer := &MockPacer{}
	pacer.On("Pace", mock.Anything).Return(nil).Once()
	pacer.On("Pace", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled).Once()

	res, err := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), pacer, testConfig(), nil).
		Run(ctx, Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Interrupted, res.Status)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Equal(t, []int{1, 2}, indices(res.Records))
	assert.True(t, page.Closed())
	assertInvariants(t, res, schema.Maps())
	pacer.AssertExpectations(t)
}

func TestSession_PageClosedMidRunAborts(t *testing.T) {
	cards := mapsCards(5)
	cards[1].ClickAlways = automation.ErrClosed
	page := mapsPage(cards)

	res, err := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil).
		Run(context.Background(), Query{Query: "cafe", TargetCount: 5})
	require.NoError(t, err)

	assert.Equal(t, Aborted, res.Status)
	assert.True(t, errors.Is(res.Err, ErrPageLost))
	assert.Equal(t, []int{1}, indices(res.Records))
	assert.Equal(t, 1, res.Skipped)
	assertInvariants(t, res, schema.Maps())
}

func TestSession_InlineVariant(t *testing.T) {
	v := schema.Google()
	results := make([]*automationtest.Node, 4)
	for i := range results {
		results[i] = &automationtest.Node{
			Name: fmt.Sprintf("r%d", i),
			Children: map[string][]*automationtest.Node{
				"h3": automationtest.TextNode(fmt.Sprintf("Result %d", i+1)),
				"a":  automationtest.AttrNode("", map[string]string{"href": fmt.Sprintf("https://example.com/%d", i+1)}),
			},
		}
	}
	page := &automationtest.Page{
		Root: map[string][]*automationtest.Node{
			v.ResultsSelector: automationtest.TextNode("search"),
			"div.g":           results,
		},
		HeightAt: func(int) float64 { return 900 },
	}

	res, err := NewSession(&automationtest.Opener{Page: page}, v, nil, testConfig(), nil).
		Run(context.Background(), Query{Query: "cafe cirebon", TargetCount: 10})
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Status)
	assert.True(t, res.Exhausted)
	assert.Equal(t, []int{1, 2, 3, 4}, indices(res.Records))
	desc, _ := res.Records[0].Get("description")
	assert.Equal(t, models.Missing, desc)
	assertInvariants(t, res, v)
}

func TestSession_SingleUse(t *testing.T) {
	page := mapsPage(mapsCards(1))
	s := NewSession(&automationtest.Opener{Page: page}, schema.Maps(), nil, testConfig(), nil)

	_, err := s.Run(context.Background(), Query{Query: "cafe", TargetCount: 1})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), Query{Query: "cafe", TargetCount: 1})
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestSession_InvalidQuery(t *testing.T) {
	opener := &automationtest.Opener{Page: &automationtest.Page{}}
	_, err := NewSession(opener, schema.Maps(), nil, testConfig(), nil).
		Run(context.Background(), Query{Query: " ", TargetCount: 5})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, opener.Opened())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "scroll_discovery", ScrollDiscovery.String())
	assert.True(t, Interrupted.Terminal())
	assert.False(t, Extracting.Terminal())
	b, _ := Completed.MarshalText()
	assert.Equal(t, "completed", string(b))
}
