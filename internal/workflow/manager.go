package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docpipe/internal/config"
	"docpipe/internal/logging"
	"docpipe/internal/services"
	"docpipe/internal/session"
	"docpipe/internal/store"
)

// Manager owns the worker lanes and the stale-claim sweeper.
type Manager struct {
	cfg           *config.Config
	store         *store.Store
	sessions      *session.Manager
	logger        *slog.Logger
	pollInterval  time.Duration
	retryInterval time.Duration
	sweepInterval time.Duration
	sweeper       *Sweeper

	mu      sync.RWMutex
	lanes   []*lane
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type lane struct {
	name    string
	busy    bool
	session string
	handled int
}

// NewManager constructs a workflow manager. Workers comes from
// cfg.Workflow.Workers; zero lanes leaves only the sweeper running, which is
// what a daemon that publishes to remote workers wants.
func NewManager(cfg *config.Config, st *store.Store, sessions *session.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:           cfg,
		store:         st,
		sessions:      sessions,
		logger:        logger,
		pollInterval:  seconds(cfg.Workflow.QueuePollInterval, 5),
		retryInterval: seconds(cfg.Workflow.ErrorRetryInterval, 10),
		sweepInterval: seconds(cfg.Workflow.SweepInterval, 60),
		sweeper:       NewSweeper(st, sessions, cfg.StaleClaimAfter(), logger),
	}
	workers := cfg.Workflow.Workers
	if cfg.RemoteDispatch() {
		workers = 0
	}
	for i := 0; i < workers; i++ {
		m.lanes = append(m.lanes, &lane{name: fmt.Sprintf("worker-%d", i+1)})
	}
	return m
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// Sweeper exposes the stale-claim sweeper for on-demand runs.
func (m *Manager) Sweeper() *Sweeper { return m.sweeper }

// Start launches the lanes and the sweeper loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	lanes := append([]*lane(nil), m.lanes...)
	m.wg.Add(len(lanes) + 1)
	m.mu.Unlock()

	for _, l := range lanes {
		go m.runLane(runCtx, l)
	}
	go func() {
		defer m.wg.Done()
		m.sweeper.Run(runCtx, m.sweepInterval)
	}()
	m.logger.Info("workflow started",
		logging.Int("lanes", len(lanes)),
		logging.Duration("poll_interval", m.pollInterval),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop cancels polling and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLane(ctx context.Context, l *lane) {
	defer m.wg.Done()
	laneCtx := services.WithLane(ctx, l.name)
	logger := logging.WithContext(laneCtx, m.logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, err := m.store.NextDispatched(laneCtx)
		if err != nil {
			m.handleFetchError(ctx, logger, err)
			continue
		}
		if sess == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}

		claimed, err := m.store.Claim(laneCtx, sess.ID)
		if errors.Is(err, store.ErrClaimLost) {
			logger.Debug("claim lost to another lane", logging.String(logging.FieldSessionID, sess.ID))
			continue
		}
		if err != nil {
			m.handleFetchError(ctx, logger, err)
			continue
		}
		m.runSession(laneCtx, logger, l, claimed)
	}
}

func (m *Manager) runSession(ctx context.Context, logger *slog.Logger, l *lane, sess *store.Session) {
	m.setBusy(l, sess.ID)
	defer m.setIdle(l)

	jobCtx := services.WithSessionID(services.WithDocumentID(context.WithoutCancel(ctx), sess.DocumentID), sess.ID)
	jobLogger := logging.WithContext(jobCtx, logger)
	jobLogger.Info("session claimed", logging.String(logging.FieldEventType, "session_claimed"))

	start := time.Now()
	if err := m.sessions.Run(jobCtx, sess); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(jobLogger, "session run failed", "session_run_failed",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldErrorHint, "see the session's error message for the recorded reason"),
		)
		return
	}
	jobLogger.Info("session run finished",
		logging.Duration("elapsed", time.Since(start)),
		logging.String(logging.FieldEventType, "session_run_finished"),
	)
}

func (m *Manager) handleFetchError(ctx context.Context, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	logger.Error("failed to fetch next session",
		logging.Error(err),
		logging.String(logging.FieldEventType, "session_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check database access"),
	)
	m.wait(ctx, m.retryInterval)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (m *Manager) setBusy(l *lane, sessionID string) {
	m.mu.Lock()
	l.busy = true
	l.session = sessionID
	m.mu.Unlock()
}

func (m *Manager) setIdle(l *lane) {
	m.mu.Lock()
	l.busy = false
	l.session = ""
	l.handled++
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
