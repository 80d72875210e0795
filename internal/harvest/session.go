// Package harvest runs one search through navigation, scroll discovery and
// a bounded extraction pass.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/extract"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/scroll"
	"github.com/maltedev/listing-harvester/internal/snapshot"
)

var (
	ErrNavigation     = errors.New("navigation failed")
	ErrResultsTimeout = errors.New("results did not appear in time")
	ErrSessionUsed    = errors.New("session already started")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrPageLost       = errors.New("page lost during harvest")
)

type State int

const (
	Idle State = iota
	Navigating
	ScrollDiscovery
	Extracting
	Completed
	Aborted
	Interrupted
)

var stateNames = map[State]string{
	Idle:            "idle",
	Navigating:      "navigating",
	ScrollDiscovery: "scroll_discovery",
	Extracting:      "extracting",
	Completed:       "completed",
	Aborted:         "aborted",
	Interrupted:     "interrupted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == Completed || s == Aborted || s == Interrupted
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PageOpener hands the session a fresh page it then owns.
type PageOpener interface {
	OpenPage(ctx context.Context) (automation.Page, error)
}

type Query struct {
	Query       string `json:"query"`
	Location    string `json:"location"`
	TargetCount int    `json:"target_count"`
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if q.TargetCount < 1 {
		return fmt.Errorf("%w: target count must be at least 1", ErrInvalidQuery)
	}
	return nil
}

// Reference is one discovered listing. It is only meaningful on the page of
// the session that found it.
type Reference struct {
	Element   automation.Element
	Index     int
	SessionID string
}

type Config struct {
	NavigationTimeout time.Duration
	ResultsTimeout    time.Duration
	// MaxIterations caps scrolling; zero derives it from the target count.
	MaxIterations int
	ScrollDelay   time.Duration
	Extract       extract.Options
	// DiagnosticsDir receives screenshots and page dumps. Empty disables them.
	DiagnosticsDir string
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		ResultsTimeout:    15 * time.Second,
		ScrollDelay:       2 * time.Second,
		Extract:           extract.DefaultOptions(),
	}
}

type Result struct {
	SessionID   string           `json:"session_id"`
	Variant     string           `json:"variant"`
	Query       Query            `json:"query"`
	URL         string           `json:"url"`
	Status      State            `json:"status"`
	Records     []*models.Record `json:"records"`
	Discovered  int              `json:"discovered"`
	Attempted   int              `json:"attempted"`
	Skipped     int              `json:"skipped"`
	Exhausted   bool             `json:"exhausted"`
	Iterations  int              `json:"iterations"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
}

func (r *Result) Summary() models.Summary {
	return models.Summarize(r.Records)
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Session is single use. It owns its page from Run until Run returns.
type Session struct {
	id        string
	opener    PageOpener
	variant   schema.Variant
	cfg       Config
	pacer     ratelimit.Pacer
	exhauster *scroll.Exhauster
	extractor *extract.Extractor
	logger    *slog.Logger
	observer  func(State)

	mu    sync.Mutex
	state State
	used  bool
}

func NewSession(opener PageOpener, variant schema.Variant, pacer ratelimit.Pacer, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if pacer == nil {
		pacer = ratelimit.NoPacing{}
	}
	id := uuid.New().String()
	logger = logger.With("component", "harvest", "session_id", id, "variant", variant.Name)

	return &Session{
		id:        id,
		opener:    opener,
		variant:   variant,
		cfg:       cfg,
		pacer:     pacer,
		exhauster: scroll.New(logger),
		extractor: extract.New(nil, cfg.Extract, logger),
		logger:    logger,
	}
}

// WithObserver registers fn for every state change. fn runs synchronously.
func (s *Session) WithObserver(fn func(State)) *Session {
	s.observer = fn
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.observer != nil {
		s.observer(st)
	}
}

// Run harvests q. The returned error is only for misuse (a second Run or an
// invalid query); every run that gets going returns a Result, possibly
// empty, whose Status and Err explain how it ended.
func (s *Session) Run(ctx context.Context, q Query) (*Result, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.used = true
	s.mu.Unlock()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		SessionID: s.id,
		Variant:   s.variant.Name,
		Query:     q,
		URL:       s.variant.SearchURL(q.Query, q.Location),
		Records:   make([]*models.Record, 0, q.TargetCount),
		StartedAt: time.Now(),
	}

	s.setState(Navigating)
	page, err := s.opener.OpenPage(ctx)
	if err != nil {
		return s.finish(res, Aborted, fmt.Errorf("%w: open page: %w", ErrNavigation, err)), nil
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.logger.Warn("failed to close page", "error", err)
		}
	}()

	if st, err := s.navigate(ctx, page, res); err != nil {
		return s.finish(res, st, err), nil
	}

	s.setState(ScrollDiscovery)
	refs, err := s.discover(ctx, page, res)
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(res, Interrupted, err), nil
		}
		s.diagnose(page, res, "discovery_failed")
		return s.finish(res, Aborted, fmt.Errorf("%w: %w", ErrPageLost, err)), nil
	}

	s.setState(Extracting)
	st, err := s.extractAll(ctx, page, refs, res)
	return s.finish(res, st, err), nil
}

func (s *Session) navigate(ctx context.Context, page automation.Page, res *Result) (State, error) {
	s.logger.Info("navigating", "url", res.URL)

	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, res.URL); err != nil {
		if ctx.Err() != nil {
			return Interrupted, ctx.Err()
		}
		s.diagnose(page, res, "navigation_failed")
		return Aborted, fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	if err := page.WaitFor(ctx, s.variant.ResultsSelector, s.cfg.ResultsTimeout); err != nil {
		if ctx.Err() != nil {
			return Interrupted, ctx.Err()
		}
		s.diagnose(page, res, "results_timeout")
		s.dump(ctx, page, res, "results_timeout")
		return Aborted, fmt.Errorf("%w: %w", ErrResultsTimeout, err)
	}

	s.diagnose(page, res, "search")
	return Navigating, nil
}

func (s *Session) discover(ctx context.Context, page automation.Page, res *Result) ([]Reference, error) {
	maxIter := s.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = scroll.DefaultMaxIterations(res.Query.TargetCount)
	}

	target := scroll.Target{
		Containers: s.variant.Containers,
		Window:     s.variant.Window,
		References: s.variant.References,
	}
	d, err := s.exhauster.Exhaust(ctx, page, target, res.Query.TargetCount, maxIter, s.cfg.ScrollDelay)

	res.Discovered = len(d.References)
	res.Exhausted = d.Exhausted
	res.Iterations = d.Iterations

	refs := make([]Reference, len(d.References))
	for i, el := range d.References {
		refs[i] = Reference{Element: el, Index: i + 1, SessionID: s.id}
	}
	if err != nil {
		return refs, err
	}

	if len(refs) == 0 {
		s.logger.Warn("no listings discovered", "container_found", d.ContainerFound)
		s.dump(ctx, page, res, "empty")
	}
	return refs, nil
}

// extractAll walks the first min(target, discovered) references. Item work
// runs detached from ctx so cancellation lands between items.
func (s *Session) extractAll(ctx context.Context, page automation.Page, refs []Reference, res *Result) (State, error) {
	n := min(res.Query.TargetCount, len(refs))
	itemCtx := context.WithoutCancel(ctx)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("harvest interrupted", "collected", len(res.Records), "remaining", n-i)
			return Interrupted, err
		}
		if i > 0 {
			if err := s.pacer.Pace(ctx); err != nil {
				if ctx.Err() != nil {
					return Interrupted, ctx.Err()
				}
				s.logger.Warn("pacing failed", "error", err)
			}
		}

		ref := refs[i]
		res.Attempted++
		rec, err := s.extractOne(itemCtx, page, ref)
		if err != nil {
			res.Skipped++
			if errors.Is(err, automation.ErrClosed) {
				s.logger.Error("page closed during extraction", "index", ref.Index, "error", err)
				return Aborted, fmt.Errorf("%w: %w", ErrPageLost, err)
			}
			s.logger.Warn("listing skipped", "index", ref.Index, "error", err)
			continue
		}

		res.Records = append(res.Records, rec)
		s.logger.Info("listing extracted", "index", ref.Index, "progress", fmt.Sprintf("%d/%d", i+1, n))
	}
	return Completed, nil
}

func (s *Session) extractOne(ctx context.Context, page automation.Page, ref Reference) (rec *models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("listing %d: panic: %v", ref.Index, r)
		}
	}()
	return s.extractor.Extract(ctx, page, ref.Element, s.variant, ref.Index)
}

func (s *Session) finish(res *Result, st State, err error) *Result {
	res.Status = st
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
	res.FinishedAt = time.Now()
	s.setState(st)

	summary := res.Summary()
	attrs := []any{
		"status", st.String(),
		"records", summary.Total,
		"discovered", res.Discovered,
		"skipped", res.Skipped,
		"with_phone", summary.WithPhone,
		"with_website", summary.WithWebsite,
		"duration", res.Duration(),
	}
	if err != nil {
		s.logger.Warn("harvest finished with error", append(attrs, "error", err)...)
	} else {
		s.logger.Info("harvest finished", attrs...)
	}
	return res
}

func (s *Session) diagPath(res *Result, label, ext string) string {
	ts := time.Now().Format("20060102_150405")
	return filepath.Join(s.cfg.DiagnosticsDir, fmt.Sprintf("%s_%s_%s_%s.%s", s.variant.Name, label, ts, s.id[:8], ext))
}

func (s *Session) diagnose(page automation.Page, res *Result, label string) {
	if s.cfg.DiagnosticsDir == "" {
		return
	}
	path := s.diagPath(res, label, "png")
	if err := page.Screenshot(path); err != nil {
		s.logger.Debug("screenshot skipped", "path", path, "error", err)
		return
	}
	res.Diagnostics = append(res.Diagnostics, path)
}

// dump writes the page source in the capture format snapshot.Open reads.
func (s *Session) dump(ctx context.Context, page automation.Page, res *Result, label string) {
	if s.cfg.DiagnosticsDir == "" {
		return
	}
	html, err := page.Content(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Debug("page dump skipped", "error", err)
		return
	}
	if err := os.MkdirAll(s.cfg.DiagnosticsDir, 0o755); err != nil {
		s.logger.Warn("failed to create diagnostics dir", "error", err)
		return
	}
	path := s.diagPath(res, label, "html")
	if err := os.WriteFile(path, []byte(snapshot.Capture(page.CurrentURL(), html)), 0o644); err != nil {
		s.logger.Warn("failed to write page dump", "path", path, "error", err)
		return
	}
	res.Diagnostics = append(res.Diagnostics, path)
}
