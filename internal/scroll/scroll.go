// Package scroll drives infinite-scroll result lists until they stop
// growing, a target count is visible or an iteration cap is hit.
package scroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
)

// Target names what to scroll and what to collect.
type Target struct {
	// Containers are tried in order; the first one found is scrolled.
	Containers []string
	// Window scrolls the document itself and ignores Containers.
	Window bool
	// References are tried in order; the first with any match is used.
	References []string
}

type Discovery struct {
	References []automation.Element
	// Selector is the reference selector that matched.
	Selector       string
	Exhausted      bool
	Iterations     int
	ContainerFound bool
}

// DefaultMaxIterations allows roughly one scroll per ten wanted results,
// never fewer than five.
func DefaultMaxIterations(targetCount int) int {
	return max(5, targetCount/10)
}

type Exhauster struct {
	logger *slog.Logger
	sleep  ratelimit.SleepFunc
}

func New(logger *slog.Logger) *Exhauster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exhauster{
		logger: logger.With("component", "scroll"),
		sleep:  ratelimit.Sleep,
	}
}

// WithSleep replaces the inter-iteration wait, for tests.
func (e *Exhauster) WithSleep(fn ratelimit.SleepFunc) *Exhauster {
	e.sleep = fn
	return e
}

// Exhaust scrolls at most maxIterations times. A missing container is not an
// error: the result is empty with Exhausted false. Script failures stop the
// scrolling but still collect what is visible. Returned errors are page or
// context failures; the Discovery holds whatever was found before them.
func (e *Exhauster) Exhaust(ctx context.Context, page automation.Page, target Target, targetCount, maxIterations int, delay time.Duration) (Discovery, error) {
	var d Discovery

	container, found, err := e.container(ctx, page, target)
	if err != nil {
		return d, err
	}
	if !found {
		e.logger.Warn("results container not found", "candidates", target.Containers)
		return d, nil
	}
	d.ContainerFound = true

	extentScript, bottomScript := automation.ScriptScrollExtent, automation.ScriptScrollToBottom
	if target.Window {
		extentScript, bottomScript = automation.ScriptWindowExtent, automation.ScriptWindowToBottom
	}

	var loopErr error
	for d.Iterations < maxIterations {
		before, err := e.measure(ctx, page, extentScript, container)
		if err != nil {
			loopErr = err
			break
		}
		if _, err := page.RunScript(ctx, bottomScript, container); err != nil {
			loopErr = err
			break
		}
		if err := e.sleep(ctx, delay); err != nil {
			loopErr = err
			break
		}
		after, err := e.measure(ctx, page, extentScript, container)
		if err != nil {
			loopErr = err
			break
		}
		d.Iterations++

		if after == before {
			d.Exhausted = true
			e.logger.Debug("scroll extent stable", "iteration", d.Iterations, "extent", after)
			break
		}

		if targetCount > 0 {
			refs, _, err := e.collect(ctx, page, target.References)
			if err != nil {
				loopErr = err
				break
			}
			if len(refs) >= targetCount {
				e.logger.Debug("target count visible", "iteration", d.Iterations, "references", len(refs))
				break
			}
		}
	}

	if loopErr != nil {
		if automation.IsFatal(loopErr) {
			d.References, d.Selector, _ = e.collect(context.WithoutCancel(ctx), page, target.References)
			return d, loopErr
		}
		e.logger.Warn("scrolling stopped early", "iteration", d.Iterations, "error", loopErr)
	}

	refs, selector, err := e.collect(ctx, page, target.References)
	if err != nil {
		return d, err
	}
	d.References, d.Selector = refs, selector

	e.logger.Info("scroll discovery finished",
		"references", len(refs),
		"iterations", d.Iterations,
		"exhausted", d.Exhausted)
	return d, nil
}

func (e *Exhauster) container(ctx context.Context, page automation.Page, target Target) (automation.Element, bool, error) {
	if target.Window {
		return nil, true, nil
	}
	for _, sel := range target.Containers {
		el, found, err := page.Locate(ctx, sel, nil)
		if err != nil {
			if automation.IsFatal(err) {
				return nil, false, err
			}
			continue
		}
		if found {
			e.logger.Debug("results container located", "selector", sel)
			return el, true, nil
		}
	}
	return nil, false, nil
}

func (e *Exhauster) measure(ctx context.Context, page automation.Page, script string, container automation.Element) (float64, error) {
	v, err := page.RunScript(ctx, script, container)
	if err != nil {
		return 0, err
	}
	extent, ok := automation.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("scroll extent: unexpected result %T", v)
	}
	return extent, nil
}

// collect returns the matches of the first reference selector that has any,
// in document order.
func (e *Exhauster) collect(ctx context.Context, page automation.Page, selectors []string) ([]automation.Element, string, error) {
	for _, sel := range selectors {
		refs, err := page.LocateAll(ctx, sel, nil)
		if err != nil {
			if automation.IsFatal(err) {
				return nil, "", err
			}
			continue
		}
		if len(refs) > 0 {
			return refs, sel, nil
		}
	}
	return nil, "", nil
}
