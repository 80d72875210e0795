// Package snapshot implements automation.Page over a saved HTML document so
// captured pages can be replayed offline against a variant schema.
package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/listing-harvester/internal/automation"
)

// URLMarker prefixes the first line of captured files and records the page
// URL at capture time.
const URLMarker = "<!-- harvester:url "

type element struct {
	sel  *goquery.Selection
	desc string
}

func (e *element) String() string { return e.desc }

type Page struct {
	mu     sync.Mutex
	doc    *goquery.Document
	html   string
	url    string
	closed bool
}

var _ automation.Page = (*Page)(nil)

// New parses html. pageURL is what CurrentURL reports.
func New(html, pageURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Page{doc: doc, html: html, url: pageURL}, nil
}

// Open loads a captured file. The URL marker line, when present, sets the
// page URL.
func Open(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	html := string(data)
	pageURL := "file://" + path

	sc := bufio.NewScanner(strings.NewReader(html))
	if sc.Scan() {
		first := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(first, URLMarker) {
			pageURL = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(first, URLMarker), "-->"))
		}
	}
	return New(html, pageURL)
}

// Capture renders html with the URL marker line Open understands.
func Capture(pageURL, html string) string {
	return URLMarker + pageURL + " -->\n" + html
}

// Navigate is a no-op: the document is fixed at construction.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.check(ctx)
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if p.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%s: %w", selector, automation.ErrTimeout)
	}
	return nil
}

func (p *Page) Locate(ctx context.Context, selector string, scope automation.Element) (automation.Element, bool, error) {
	root, err := p.scope(ctx, scope)
	if err != nil {
		return nil, false, err
	}
	found := root.Find(selector).First()
	if found.Length() == 0 {
		return nil, false, nil
	}
	return &element{sel: found, desc: selector}, true, nil
}

func (p *Page) LocateAll(ctx context.Context, selector string, scope automation.Element) ([]automation.Element, error) {
	root, err := p.scope(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []automation.Element
	root.Find(selector).Each(func(i int, s *goquery.Selection) {
		out = append(out, &element{sel: s, desc: fmt.Sprintf("%s[%d]", selector, i)})
	})
	return out, nil
}

func (p *Page) Text(ctx context.Context, el automation.Element) (string, error) {
	e, err := p.element(ctx, el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(e.sel.Text()), nil
}

func (p *Page) Attribute(ctx context.Context, el automation.Element, name string) (string, bool, error) {
	e, err := p.element(ctx, el)
	if err != nil {
		return "", false, err
	}
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Click succeeds without effect; a snapshot has no detail panels to open.
func (p *Page) Click(ctx context.Context, el automation.Element) error {
	_, err := p.element(ctx, el)
	return err
}

func (p *Page) ScrollIntoView(ctx context.Context, el automation.Element) error {
	_, err := p.element(ctx, el)
	return err
}

func (p *Page) RunScript(ctx context.Context, script string, target automation.Element) (any, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return nil, automation.ErrUnsupported
}

func (p *Page) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *Page) Screenshot(path string) error {
	return automation.ErrUnsupported
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return automation.ErrClosed
	}
	return nil
}

func (p *Page) scope(ctx context.Context, scope automation.Element) (*goquery.Selection, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if scope == nil {
		return p.doc.Selection, nil
	}
	e, ok := scope.(*element)
	if !ok {
		return nil, automation.ErrStale
	}
	return e.sel, nil
}

func (p *Page) element(ctx context.Context, el automation.Element) (*element, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, automation.ErrStale
	}
	return e, nil
}
