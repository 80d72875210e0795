package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/listing-harvester/internal/harvest"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
	"github.com/maltedev/listing-harvester/internal/schema"
)

// Runner executes one harvest. observe, when set, sees every session state.
type Runner interface {
	Run(ctx context.Context, variant schema.Variant, q harvest.Query, observe func(harvest.State)) (*harvest.Result, error)
}

// SessionRunner runs each harvest in a fresh session on pages from opener,
// with its own randomized pacing between items.
type SessionRunner struct {
	opener  harvest.PageOpener
	cfg     harvest.Config
	paceMin time.Duration
	paceMax time.Duration
	logger  *slog.Logger
}

func NewSessionRunner(opener harvest.PageOpener, cfg harvest.Config, paceMin, paceMax time.Duration, logger *slog.Logger) *SessionRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRunner{opener: opener, cfg: cfg, paceMin: paceMin, paceMax: paceMax, logger: logger}
}

func (r *SessionRunner) Run(ctx context.Context, variant schema.Variant, q harvest.Query, observe func(harvest.State)) (*harvest.Result, error) {
	s := harvest.NewSession(r.opener, variant, ratelimit.NewThrottle(r.paceMin, r.paceMax), r.cfg, r.logger)
	if observe != nil {
		s.WithObserver(observe)
	}
	return s.Run(ctx, q)
}
