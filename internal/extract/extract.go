// Package extract turns one listing reference into a record.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/locator"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
	"github.com/maltedev/listing-harvester/internal/schema"
)

// ErrActivation means the detail view could not be opened; the listing is
// skipped.
var ErrActivation = errors.New("detail view activation failed")

type Options struct {
	// DetailTimeout bounds the wait for the detail panel selector.
	DetailTimeout time.Duration
	// URLChangeTimeout bounds the wait for the page URL to move after a
	// click. Zero disables the wait.
	URLChangeTimeout time.Duration
	PollInterval     time.Duration
}

func DefaultOptions() Options {
	return Options{
		DetailTimeout:    10 * time.Second,
		URLChangeTimeout: 5 * time.Second,
		PollInterval:     100 * time.Millisecond,
	}
}

type Extractor struct {
	locator *locator.Locator
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func New(loc *locator.Locator, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = locator.New(logger)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Extractor{
		locator: loc,
		opts:    opts,
		logger:  logger.With("component", "extractor"),
		now:     time.Now,
	}
}

// WithClock fixes scraped_at, for tests.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract activates ref if the variant needs it and resolves every schema
// field. Field misses become defaults and never fail the record. The error
// is ErrActivation (skip this listing) or a page-level failure.
func (e *Extractor) Extract(ctx context.Context, page automation.Page, ref automation.Element, v schema.Variant, index int) (*models.Record, error) {
	var (
		scope automation.Element
		opts  locator.Options
	)
	switch v.Activation {
	case schema.ActivateInline:
		scope = ref
	default:
		moved, err := e.activate(ctx, page, ref, v, index)
		if err != nil {
			return nil, err
		}
		opts.StaleURL = !moved
	}

	record := models.NewRecord(index, e.now(), len(v.Schema))
	misses := 0
	for _, field := range v.Schema {
		res, err := e.locator.ResolveWith(ctx, page, field, scope, opts)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", index, err)
		}
		if !res.Hit() {
			misses++
		}
		record.Set(field.Name, res.Value)
	}

	e.logger.Debug("record extracted", "index", index, "fields", len(v.Schema), "defaulted", misses)
	return record, nil
}

// activate opens the detail view of ref. moved is false when the variant
// expects the URL to change and it did not, so the URL still describes an
// earlier listing.
func (e *Extractor) activate(ctx context.Context, page automation.Page, ref automation.Element, v schema.Variant, index int) (moved bool, err error) {
	prevURL := page.CurrentURL()

	if err := page.Click(ctx, ref); err != nil {
		if automation.IsFatal(err) {
			return false, err
		}
		if !retryable(err) {
			return false, fmt.Errorf("listing %d: %w: %w", index, ErrActivation, err)
		}

		e.logger.Debug("click failed, scrolling into view", "index", index, "error", err)
		if err := page.ScrollIntoView(ctx, ref); err != nil && automation.IsFatal(err) {
			return false, err
		}
		if err := page.Click(ctx, ref); err != nil {
			if automation.IsFatal(err) {
				return false, err
			}
			return false, fmt.Errorf("listing %d: %w: %w", index, ErrActivation, err)
		}
	}

	moved = true
	if v.AwaitURLChange {
		if moved, err = e.awaitURLChange(ctx, page, prevURL); err != nil {
			return false, err
		}
		if !moved {
			e.logger.Warn("url unchanged after click, ignoring url-derived fields", "index", index, "url", prevURL)
		}
	}

	if v.DetailSelector != "" {
		if err := page.WaitFor(ctx, v.DetailSelector, e.opts.DetailTimeout); err != nil {
			if automation.IsFatal(err) {
				return false, err
			}
			e.logger.Warn("detail panel not confirmed, extracting anyway",
				"index", index, "selector", v.DetailSelector, "error", err)
		}
	}
	return moved, nil
}

// awaitURLChange polls until the URL differs from prev. Running out of time
// is not an error, but reports moved=false. A disabled wait reports true.
func (e *Extractor) awaitURLChange(ctx context.Context, page automation.Page, prev string) (bool, error) {
	if e.opts.URLChangeTimeout <= 0 {
		return true, nil
	}
	deadline := time.Now().Add(e.opts.URLChangeTimeout)
	for page.CurrentURL() == prev {
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := ratelimit.Sleep(ctx, e.opts.PollInterval); err != nil {
			return false, err
		}
	}
	return true, nil
}

func retryable(err error) bool {
	return errors.Is(err, automation.ErrStale) ||
		errors.Is(err, automation.ErrIntercepted) ||
		errors.Is(err, automation.ErrTimeout)
}
