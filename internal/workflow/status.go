package workflow

import (
	"context"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/logging"
)

// Status reports lane activity, session counts, and sweeper progress.
func (m *Manager) Status(ctx context.Context) api.WorkflowStatus {
	m.mu.RLock()
	status := api.WorkflowStatus{
		Running: m.running,
		Mode:    m.cfg.Dispatch.Mode,
		Lanes:   make([]api.LaneHealth, 0, len(m.lanes)),
	}
	for _, l := range m.lanes {
		status.Lanes = append(status.Lanes, api.LaneHealth{
			Name: l.name, Busy: l.busy, Session: l.session, Handled: l.handled,
		})
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	if sessionStats, err := m.store.SessionStats(ctx); err != nil {
		m.logger.Warn("failed to read session stats", logging.Error(err))
	} else {
		status.SessionStats = api.SessionStats(sessionStats)
	}
	if docStats, err := m.store.DocumentStats(ctx); err != nil {
		m.logger.Warn("failed to read document stats", logging.Error(err))
	} else {
		status.DocumentStats = api.DocumentStats(docStats)
	}

	lastSweep, reclaimed := m.sweeper.Stats()
	if !lastSweep.IsZero() {
		status.LastSweep = lastSweep.UTC().Format(time.RFC3339)
	}
	status.Reclaimed = reclaimed
	return status
}
