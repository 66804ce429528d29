package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
)

func marshalPlan(plan planner.Plan) (string, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(data), nil
}

func getSession(ctx context.Context, q queryer, id string) (*Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM processing_sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// GetSession loads a session or returns ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	return getSession(ctx, s.db, id)
}

// ListSessions returns a document's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, documentID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM processing_sessions WHERE document_id = ? ORDER BY created_at DESC, id",
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collect(rows, scanSession)
}

// MarkDispatched flags a queued session as handed to the worker pool. The
// first dispatch time is kept when called again; sessions that have already
// moved on are returned as they are.
func (s *Store) MarkDispatched(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := s.execWithRetry(ctx,
		`UPDATE processing_sessions SET dispatched_at = COALESCE(dispatched_at, ?), updated_at = ?
         WHERE id = ? AND status = ?`,
		formatTime(s.now()), formatTime(s.now()), sessionID, lifecycle.SessionQueued,
	); err != nil {
		return nil, fmt.Errorf("mark dispatched: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// NextDispatched returns the oldest dispatched session still waiting for a
// worker, or nil when there is none.
func (s *Store) NextDispatched(ctx context.Context) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+` FROM processing_sessions
         WHERE status = ? AND dispatched_at IS NOT NULL
         ORDER BY dispatched_at, created_at LIMIT 1`,
		lifecycle.SessionQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next dispatched session: %w", err)
	}
	return sess, nil
}

// StaleSessions returns running sessions claimed before cutoff.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM processing_sessions WHERE status = ? AND claimed_at < ? ORDER BY claimed_at",
		lifecycle.SessionRunning, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return collect(rows, scanSession)
}

// SessionStats counts sessions by status.
func (s *Store) SessionStats(ctx context.Context) (map[lifecycle.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM processing_sessions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[lifecycle.SessionStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[lifecycle.SessionStatus(status)] = count
	}
	return stats, rows.Err()
}

// DocumentStats counts documents by status.
func (s *Store) DocumentStats(ctx context.Context) (map[lifecycle.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM documents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[lifecycle.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[lifecycle.Status(status)] = count
	}
	return stats, rows.Err()
}
