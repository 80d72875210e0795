// Package automationtest provides a scripted in-memory automation.Page for
// tests. Selectors are matched literally: a lookup for "h1.DUwDvf" returns
// whatever nodes were registered under exactly that key.
package automationtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/listing-harvester/internal/automation"
)

// Node is a fake DOM element.
type Node struct {
	Name     string
	Text     string
	Attrs    map[string]string
	Children map[string][]*Node

	// Detail replaces the page-level panel after a successful click.
	Detail map[string][]*Node
	// URL becomes the page URL after a successful click.
	URL string

	// ClickErrs are returned one per click attempt; once drained clicks succeed.
	ClickErrs []error
	// ClickAlways, when set, fails every click.
	ClickAlways error
	TextErr     error
}

func (n *Node) String() string { return n.Name }

// TextNode returns a single-element match list holding text.
func TextNode(text string) []*Node {
	return []*Node{{Name: text, Text: text}}
}

// AttrNode returns a single-element match list with attributes and text.
func AttrNode(text string, attrs map[string]string) []*Node {
	return []*Node{{Name: text, Text: text, Attrs: attrs}}
}

// Page is a fake automation.Page. Configure the exported fields before use.
type Page struct {
	Root map[string][]*Node

	NavigateErr error
	// WaitErr overrides every WaitFor result when set.
	WaitErr error
	// ScriptErr is returned by RunScript for the well-known scripts when set.
	ScriptErr error

	// HeightAt returns the scroll extent after the given number of
	// scroll-to-bottom calls.
	HeightAt func(scrolls int) float64
	// RevealAt limits how many nodes under RevealSelector are visible after
	// the given number of scrolls.
	RevealAt       func(scrolls int) int
	RevealSelector string

	HTML string

	mu          sync.Mutex
	url         string
	panel       map[string][]*Node
	closed      bool
	navigated   []string
	clicks      map[*Node]int
	intoView    map[*Node]int
	scrolls     int
	measures    int
	screenshots []string
	closeCount  int
}

var _ automation.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return automation.ErrClosed
	}
	p.navigated = append(p.navigated, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return automation.ErrClosed
	}
	if p.WaitErr != nil {
		return p.WaitErr
	}
	if len(p.lookupLocked(selector, nil)) > 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", selector, automation.ErrTimeout)
}

func (p *Page) Locate(ctx context.Context, selector string, scope automation.Element) (automation.Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, automation.ErrClosed
	}
	nodes := p.lookupLocked(selector, scope)
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return nodes[0], true, nil
}

func (p *Page) LocateAll(ctx context.Context, selector string, scope automation.Element) ([]automation.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, automation.ErrClosed
	}
	nodes := p.lookupLocked(selector, scope)
	out := make([]automation.Element, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out, nil
}

func (p *Page) lookupLocked(selector string, scope automation.Element) []*Node {
	if scope != nil {
		n, ok := scope.(*Node)
		if !ok {
			return nil
		}
		return n.Children[selector]
	}
	if nodes, ok := p.panel[selector]; ok {
		return nodes
	}
	nodes := p.Root[selector]
	if selector == p.RevealSelector && p.RevealAt != nil {
		if limit := p.RevealAt(p.scrolls); limit < len(nodes) {
			nodes = nodes[:limit]
		}
	}
	return nodes
}

func (p *Page) Text(ctx context.Context, el automation.Element) (string, error) {
	n, err := p.node(el)
	if err != nil {
		return "", err
	}
	if n.TextErr != nil {
		return "", n.TextErr
	}
	return n.Text, nil
}

func (p *Page) Attribute(ctx context.Context, el automation.Element, name string) (string, bool, error) {
	n, err := p.node(el)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (p *Page) Click(ctx context.Context, el automation.Element) error {
	n, err := p.node(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clicks == nil {
		p.clicks = make(map[*Node]int)
	}
	p.clicks[n]++
	if n.ClickAlways != nil {
		return n.ClickAlways
	}
	if len(n.ClickErrs) > 0 {
		err := n.ClickErrs[0]
		n.ClickErrs = n.ClickErrs[1:]
		return err
	}
	if n.Detail != nil {
		p.panel = n.Detail
	}
	if n.URL != "" {
		p.url = n.URL
	}
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el automation.Element) error {
	n, err := p.node(el)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intoView == nil {
		p.intoView = make(map[*Node]int)
	}
	p.intoView[n]++
	return nil
}

func (p *Page) RunScript(ctx context.Context, script string, target automation.Element) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, automation.ErrClosed
	}
	switch script {
	case automation.ScriptScrollExtent, automation.ScriptWindowExtent:
		if p.ScriptErr != nil {
			return nil, p.ScriptErr
		}
		p.measures++
		if p.HeightAt == nil {
			return 0.0, nil
		}
		return p.HeightAt(p.scrolls), nil
	case automation.ScriptScrollToBottom, automation.ScriptWindowToBottom:
		if p.ScriptErr != nil {
			return nil, p.ScriptErr
		}
		p.scrolls++
		return 0.0, nil
	}
	return nil, automation.ErrUnsupported
}

func (p *Page) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content(ctx context.Context) (string, error) {
	return p.HTML, nil
}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots = append(p.screenshots, path)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCount++
	return nil
}

func (p *Page) node(el automation.Element) (*Node, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, automation.ErrClosed
	}
	n, ok := el.(*Node)
	if !ok || n == nil {
		return nil, automation.ErrStale
	}
	return n, nil
}

// Recorded interactions.

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) Measures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.measures
}

func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

func (p *Page) Clicks(n *Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[n]
}

func (p *Page) IntoViewCalls(n *Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intoView[n]
}

// Opener hands out a single Page, for code that acquires its page itself.
type Opener struct {
	Page   *Page
	Err    error
	opened int
}

func (o *Opener) OpenPage(ctx context.Context) (automation.Page, error) {
	o.opened++
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Page, nil
}

func (o *Opener) Opened() int { return o.opened }
