// Package automation defines the browser-control capability the harvester
// consumes. Implementations live in internal/browser (playwright) and
// internal/snapshot (saved HTML).
package automation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("element not found")
	ErrStale       = errors.New("element is stale or detached")
	ErrIntercepted = errors.New("click intercepted")
	ErrTimeout     = errors.New("timeout waiting for condition")
	ErrClosed      = errors.New("page is closed")
	ErrUnsupported = errors.New("operation not supported by this page")
)

// Well-known scripts. Scripts that take an element receive it as their
// single argument.
const (
	ScriptScrollExtent   = `el => el.scrollHeight`
	ScriptScrollToBottom = `el => { el.scrollTop = el.scrollHeight; return el.scrollTop; }`

	ScriptWindowExtent   = `() => document.body.scrollHeight`
	ScriptWindowToBottom = `() => { window.scrollTo(0, document.body.scrollHeight); return window.scrollY; }`
)

// Element is an opaque handle to one DOM element. It is only valid for the
// Page that produced it and until that page navigates away.
type Element interface {
	String() string
}

// Page is a single browser tab. A nil scope means the document root.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches at least one element or the
	// timeout elapses (ErrTimeout).
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Locate returns the first match. found is false on an explicit miss;
	// err is reserved for driver failures.
	Locate(ctx context.Context, selector string, scope Element) (el Element, found bool, err error)
	LocateAll(ctx context.Context, selector string, scope Element) ([]Element, error)

	Text(ctx context.Context, el Element) (string, error)
	// Attribute reports ok=false when the attribute is absent.
	Attribute(ctx context.Context, el Element, name string) (value string, ok bool, err error)

	Click(ctx context.Context, el Element) error
	ScrollIntoView(ctx context.Context, el Element) error

	// RunScript evaluates script on the page, or against target when it is
	// not nil.
	RunScript(ctx context.Context, script string, target Element) (any, error)

	CurrentURL() string
	Content(ctx context.Context) (string, error)
	Screenshot(path string) error
	Close() error
}

// IsMiss reports whether err means "this lookup found nothing usable" as
// opposed to a failure of the page itself.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) || errors.Is(err, ErrTimeout)
}

// IsFatal reports whether err leaves the page unusable for further work.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ToFloat converts a numeric script result to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
