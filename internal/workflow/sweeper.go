package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/services"
	"docpipe/internal/session"
	"docpipe/internal/store"
)

// StaleClaimReason is recorded on sessions failed by the sweeper.
const StaleClaimReason = "stale claim"

// Sweeper fails running sessions whose claim is older than the stale
// threshold.
type Sweeper struct {
	store    *store.Store
	sessions *session.Manager
	after    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
	reclaimed int
}

// NewSweeper builds a sweeper. A non-positive threshold disables sweeping.
func NewSweeper(st *store.Store, sessions *session.Manager, after time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{store: st, sessions: sessions, after: after, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// SweepOnce fails every stale running session and returns how many it failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.after <= 0 {
		return 0, nil
	}
	now := s.now()
	stale, err := s.store.StaleSessions(ctx, now.Add(-s.after))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, sess := range stale {
		sessCtx := services.WithSessionID(services.WithDocumentID(ctx, sess.DocumentID), sess.ID)
		logger := logging.WithContext(sessCtx, s.logger)
		updated, err := s.sessions.ReportOutcome(sessCtx, sess.ID, lifecycle.Failed(StaleClaimReason))
		if err != nil {
			logging.ErrorWithContext(logger, "stale claim reclaim failed", "stale_claim_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the next sweep retries"),
			)
			continue
		}
		if updated == nil || updated.ErrorMessage != StaleClaimReason {
			// The worker reported while we were sweeping.
			continue
		}
		count++
		attrs := []logging.Attr{
			logging.Alert("worker_lost"),
			logging.String(logging.FieldImpact, "document returned to needs_manipulation with intents kept"),
		}
		if sess.ClaimedAt != nil {
			attrs = append(attrs, logging.Duration("claim_age", now.Sub(*sess.ClaimedAt)))
		}
		logging.WarnWithContext(logger, "stale claim reclaimed", "stale_claim_reclaimed", attrs...)
	}
	s.mu.Lock()
	s.lastSweep = now
	s.reclaimed += count
	s.mu.Unlock()
	return count, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if s.after <= 0 || interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("stale claim sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "stale_sweep_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
		}
	}
}

// Stats returns the last sweep time and the total sessions reclaimed.
func (s *Sweeper) Stats() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep, s.reclaimed
}
