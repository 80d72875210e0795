package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/listing-harvester/internal/automation"
)

// readTimeout bounds text and attribute reads. A locator that matched a
// moment ago and no longer resolves is stale, not slow.
const readTimeout = 2 * time.Second

type element struct {
	loc  playwright.Locator
	desc string
}

func (e *element) String() string { return e.desc }

// Page adapts a playwright page to automation.Page. Elements are locators
// pinned to their match position.
type Page struct {
	browser *Browser
	page    playwright.Page
}

var _ automation.Page = (*Page)(nil)

func newPage(b *Browser, page playwright.Page) *Page {
	return &Page{browser: b, page: page}
}

// Raw exposes the underlying playwright page.
func (p *Page) Raw() playwright.Page { return p.page }

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.browser.NavigateWithRetry(ctx, p.page, url, p.browser.opts.NavigationRetries)
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(remainingMillis(ctx, timeout)),
	})
	return translate("wait for "+selector, err)
}

func (p *Page) root(scope automation.Element, selector string) (playwright.Locator, error) {
	if scope == nil {
		return p.page.Locator(selector), nil
	}
	e, ok := scope.(*element)
	if !ok || e == nil {
		return nil, automation.ErrStale
	}
	return e.loc.Locator(selector), nil
}

func (p *Page) Locate(ctx context.Context, selector string, scope automation.Element) (automation.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	loc, err := p.root(scope, selector)
	if err != nil {
		return nil, false, err
	}
	count, err := loc.Count()
	if err != nil {
		return nil, false, translate("locate "+selector, err)
	}
	if count == 0 {
		return nil, false, nil
	}
	return &element{loc: loc.First(), desc: selector}, true, nil
}

func (p *Page) LocateAll(ctx context.Context, selector string, scope automation.Element) ([]automation.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := p.root(scope, selector)
	if err != nil {
		return nil, err
	}
	count, err := loc.Count()
	if err != nil {
		return nil, translate("locate all "+selector, err)
	}
	out := make([]automation.Element, count)
	for i := 0; i < count; i++ {
		out[i] = &element{loc: loc.Nth(i), desc: fmt.Sprintf("%s >> nth=%d", selector, i)}
	}
	return out, nil
}

func (p *Page) Text(ctx context.Context, el automation.Element) (string, error) {
	e, err := p.element(ctx, el)
	if err != nil {
		return "", err
	}
	text, err := e.loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(float64(readTimeout.Milliseconds()))})
	if err != nil {
		return "", translateRead("text of "+e.desc, err)
	}
	return text, nil
}

func (p *Page) Attribute(ctx context.Context, el automation.Element, name string) (string, bool, error) {
	e, err := p.element(ctx, el)
	if err != nil {
		return "", false, err
	}
	v, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: playwright.Float(float64(readTimeout.Milliseconds()))})
	if err != nil {
		return "", false, translateRead(name+" of "+e.desc, err)
	}
	return v, v != "", nil
}

func (p *Page) Click(ctx context.Context, el automation.Element) error {
	e, err := p.element(ctx, el)
	if err != nil {
		return err
	}
	return translate("click "+e.desc, e.loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(remainingMillis(ctx, 5*time.Second)),
	}))
}

func (p *Page) ScrollIntoView(ctx context.Context, el automation.Element) error {
	e, err := p.element(ctx, el)
	if err != nil {
		return err
	}
	return translate("scroll into view "+e.desc, e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(remainingMillis(ctx, 5*time.Second)),
	}))
}

func (p *Page) RunScript(ctx context.Context, script string, target automation.Element) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target == nil {
		v, err := p.page.Evaluate(script)
		return v, translate("evaluate", err)
	}
	e, err := p.element(ctx, target)
	if err != nil {
		return nil, err
	}
	v, err := e.loc.Evaluate(script, nil)
	return v, translate("evaluate on "+e.desc, err)
}

func (p *Page) CurrentURL() string {
	return p.page.URL()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	return html, translate("content", err)
}

func (p *Page) Screenshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return translate("screenshot", err)
}

func (p *Page) Close() error {
	if p.page.IsClosed() {
		return nil
	}
	return p.page.Close()
}

func (p *Page) element(ctx context.Context, el automation.Element) (*element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.page.IsClosed() {
		return nil, automation.ErrClosed
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, automation.ErrStale
	}
	return e, nil
}

// translate maps playwright failures onto the automation error set.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, playwright.ErrTargetClosed),
		strings.Contains(msg, "Target page, context or browser has been closed"):
		return fmt.Errorf("%s: %w: %w", op, automation.ErrClosed, err)
	case strings.Contains(msg, "intercepts pointer events"):
		return fmt.Errorf("%s: %w: %w", op, automation.ErrIntercepted, err)
	case strings.Contains(msg, "not attached to the DOM"),
		strings.Contains(msg, "Element is detached"):
		return fmt.Errorf("%s: %w: %w", op, automation.ErrStale, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%s: %w: %w", op, automation.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// translateRead treats a read that times out as a stale element.
func translateRead(op string, err error) error {
	t := translate(op, err)
	if errors.Is(t, automation.ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, automation.ErrStale, err)
	}
	return t
}
