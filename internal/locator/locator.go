// Package locator resolves a logical field to a value by walking an ordered
// chain of selector candidates.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/models"
)

// DefaultSentinel fills fields whose candidates all miss.
const DefaultSentinel = models.Missing

// NoMatch is the matched index of a Resolution that fell back to the default.
const NoMatch = -1

// Strategy tags how a candidate finds its element. It is informational:
// resolution treats every strategy the same.
type Strategy string

const (
	ByStableAttribute Strategy = "stable_attribute"
	ByCSSClass        Strategy = "css_class"
	ByARIALabel       Strategy = "aria_label"
	ByHref            Strategy = "href"
	ByURL             Strategy = "url"
)

// Mode decides what a matched element contributes.
type Mode int

const (
	// ModeText takes the element's text.
	ModeText Mode = iota
	// ModeAttribute takes Attribute.
	ModeAttribute
	// ModeTextOrAttribute takes the text, falling back to Attribute when empty.
	ModeTextOrAttribute
	// ModeAttributeOrText takes Attribute, falling back to the text.
	ModeAttributeOrText
	// ModeURLCoordinates ignores the selector and parses "lat,lng" from the
	// page URL.
	ModeURLCoordinates
)

// Refiner post-processes a raw value. Returning ok=false turns the
// candidate into a miss.
type Refiner func(raw string) (value string, ok bool)

// Candidate is one entry of a selector fallback chain.
type Candidate struct {
	Strategy  Strategy
	Selector  string
	Mode      Mode
	Attribute string
	Refine    Refiner
}

func (c Candidate) String() string {
	if c.Mode == ModeURLCoordinates {
		return "url:coordinates"
	}
	return fmt.Sprintf("%s:%s", c.Strategy, c.Selector)
}

// FieldSpec describes one output field.
type FieldSpec struct {
	Name       string
	Candidates []Candidate
	Default    string
}

// DefaultValue returns the configured default or DefaultSentinel.
func (f FieldSpec) DefaultValue() string {
	if f.Default == "" {
		return DefaultSentinel
	}
	return f.Default
}

// Resolution is the outcome of resolving one field.
type Resolution struct {
	Value   string
	Matched int
}

// Hit reports whether a candidate produced the value.
func (r Resolution) Hit() bool { return r.Matched != NoMatch }

// Options adjust one resolution.
type Options struct {
	// StaleURL means the page URL still belongs to an earlier listing, so
	// URL-derived candidates miss.
	StaleURL bool
}

type Locator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{logger: logger.With("component", "locator")}
}

// Resolve tries each candidate of field in order against scope (nil means
// the document root). The first non-empty value wins. A returned error is
// always a page-level failure; misses never produce one.
func (l *Locator) Resolve(ctx context.Context, page automation.Page, field FieldSpec, scope automation.Element) (Resolution, error) {
	return l.ResolveWith(ctx, page, field, scope, Options{})
}

func (l *Locator) ResolveWith(ctx context.Context, page automation.Page, field FieldSpec, scope automation.Element, opts Options) (Resolution, error) {
	for i, c := range field.Candidates {
		value, hit, err := l.try(ctx, page, c, scope, opts)
		if err != nil {
			return Resolution{Value: field.DefaultValue(), Matched: NoMatch}, fmt.Errorf("field %s candidate %d: %w", field.Name, i, err)
		}
		if hit {
			return Resolution{Value: value, Matched: i}, nil
		}
	}

	l.logger.Debug("field fell back to default", "field", field.Name, "candidates", len(field.Candidates))
	return Resolution{Value: field.DefaultValue(), Matched: NoMatch}, nil
}

// try evaluates a single candidate. Not-found and stale elements are
// misses; anything automation.IsFatal reports is returned.
func (l *Locator) try(ctx context.Context, page automation.Page, c Candidate, scope automation.Element, opts Options) (string, bool, error) {
	if c.Mode == ModeURLCoordinates {
		if opts.StaleURL {
			return "", false, nil
		}
		coords, ok := ParseCoordinates(page.CurrentURL())
		if !ok {
			return "", false, nil
		}
		return refine(c, coords.String())
	}

	el, found, err := page.Locate(ctx, c.Selector, scope)
	if err != nil {
		return "", false, classify(err)
	}
	if !found {
		return "", false, nil
	}

	raw, err := read(ctx, page, c, el)
	if err != nil {
		return "", false, classify(err)
	}
	return refine(c, raw)
}

func read(ctx context.Context, page automation.Page, c Candidate, el automation.Element) (string, error) {
	switch c.Mode {
	case ModeAttribute:
		v, _, err := page.Attribute(ctx, el, c.Attribute)
		return v, err
	case ModeTextOrAttribute:
		text, err := page.Text(ctx, el)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		v, _, err := page.Attribute(ctx, el, c.Attribute)
		return v, err
	case ModeAttributeOrText:
		v, _, err := page.Attribute(ctx, el, c.Attribute)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(v) != "" {
			return v, nil
		}
		return page.Text(ctx, el)
	default:
		return page.Text(ctx, el)
	}
}

func refine(c Candidate, raw string) (string, bool, error) {
	value := strings.TrimSpace(raw)
	if c.Refine != nil {
		var ok bool
		value, ok = c.Refine(value)
		if !ok {
			return "", false, nil
		}
		value = strings.TrimSpace(value)
	}
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// classify keeps page-level failures and swallows lookup misses.
func classify(err error) error {
	if automation.IsMiss(err) && !automation.IsFatal(err) {
		return nil
	}
	return err
}
