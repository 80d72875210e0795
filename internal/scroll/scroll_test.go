package scroll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/automation/automationtest"
)

const (
	feed  = "div[role='feed']"
	cards = "div.Nv2PK"
)

func cardNodes(n int) []*automationtest.Node {
	out := make([]*automationtest.Node, n)
	for i := range out {
		out[i] = &automationtest.Node{Name: "card"}
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func mapsTarget() Target {
	return Target{
		Containers: []string{feed, "div.m6QErb"},
		References: []string{cards, "a.hfpxzc"},
	}
}

func TestDefaultMaxIterations(t *testing.T) {
	assert.Equal(t, 5, DefaultMaxIterations(0))
	assert.Equal(t, 5, DefaultMaxIterations(20))
	assert.Equal(t, 5, DefaultMaxIterations(50))
	assert.Equal(t, 12, DefaultMaxIterations(120))
}

func TestExhaust_StopsWhenExtentStable(t *testing.T) {
	heights := []float64{1000, 2000, 2000}
	page := &automationtest.Page{
		Root:     map[string][]*automationtest.Node{feed: cardNodes(1), cards: cardNodes(5)},
		HeightAt: func(s int) float64 { return heights[min(s, len(heights)-1)] },
	}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 50, 10, time.Second)
	require.NoError(t, err)
	assert.True(t, d.ContainerFound)
	assert.True(t, d.Exhausted)
	assert.Equal(t, 2, d.Iterations)
	assert.Len(t, d.References, 5)
	assert.Equal(t, cards, d.Selector)
}

func TestExhaust_NeverExceedsMaxIterations(t *testing.T) {
	page := &automationtest.Page{
		Root:     map[string][]*automationtest.Node{feed: cardNodes(1), cards: cardNodes(3)},
		HeightAt: func(s int) float64 { return float64(1000 * (s + 1)) },
	}

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	d, err := New(nil).WithSleep(sleep).Exhaust(context.Background(), page, mapsTarget(), 100, 4, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, d.Exhausted)
	assert.Equal(t, 4, d.Iterations)
	assert.Equal(t, 4, page.Scrolls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeps)
}

func TestExhaust_StopsAtTargetCount(t *testing.T) {
	page := &automationtest.Page{
		Root:           map[string][]*automationtest.Node{feed: cardNodes(1), cards: cardNodes(30)},
		HeightAt:       func(s int) float64 { return float64(1000 * (s + 1)) },
		RevealSelector: cards,
		RevealAt:       func(s int) int { return 5 + 5*s },
	}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 12, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Iterations)
	assert.Len(t, d.References, 15)
}

func TestExhaust_ContainerMissing(t *testing.T) {
	page := &automationtest.Page{Root: map[string][]*automationtest.Node{cards: cardNodes(3)}}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 10, 5, 0)
	require.NoError(t, err)
	assert.False(t, d.ContainerFound)
	assert.False(t, d.Exhausted)
	assert.Empty(t, d.References)
	assert.Zero(t, page.Scrolls())
}

func TestExhaust_FallsBackToSecondReferenceSelector(t *testing.T) {
	page := &automationtest.Page{
		Root:     map[string][]*automationtest.Node{"div.m6QErb": cardNodes(1), "a.hfpxzc": cardNodes(2)},
		HeightAt: func(int) float64 { return 500 },
	}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 10, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Iterations)
	assert.Equal(t, "a.hfpxzc", d.Selector)
	assert.Len(t, d.References, 2)
}

func TestExhaust_WindowTarget(t *testing.T) {
	page := &automationtest.Page{
		Root:     map[string][]*automationtest.Node{"div.g": cardNodes(4)},
		HeightAt: func(s int) float64 { return []float64{800, 800}[min(s, 1)] },
	}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page,
		Target{Window: true, References: []string{"div.g"}}, 10, 3, 0)
	require.NoError(t, err)
	assert.True(t, d.ContainerFound)
	assert.True(t, d.Exhausted)
	assert.Len(t, d.References, 4)
}

func TestExhaust_ScriptFailureStillCollects(t *testing.T) {
	page := &automationtest.Page{
		Root:      map[string][]*automationtest.Node{feed: cardNodes(1), cards: cardNodes(3)},
		ScriptErr: errors.New("evaluation failed"),
	}

	d, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 10, 5, 0)
	require.NoError(t, err)
	assert.Zero(t, d.Iterations)
	assert.Len(t, d.References, 3)
}

func TestExhaust_CancelledDuringWait(t *testing.T) {
	page := &automationtest.Page{
		Root:     map[string][]*automationtest.Node{feed: cardNodes(1), cards: cardNodes(3)},
		HeightAt: func(s int) float64 { return float64(s) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	d, err := New(nil).WithSleep(sleep).Exhaust(ctx, page, mapsTarget(), 10, 5, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, d.References, 3)
}

func TestExhaust_ClosedPage(t *testing.T) {
	page := &automationtest.Page{}
	require.NoError(t, page.Close())

	_, err := New(nil).WithSleep(noSleep).Exhaust(context.Background(), page, mapsTarget(), 10, 5, 0)
	assert.True(t, errors.Is(err, automation.ErrClosed))
}
