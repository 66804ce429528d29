package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
	"docpipe/internal/services"
)

// MarkDirty moves a document to needs_manipulation and refreshes its change
// marker. Repeating it is a no-op apart from the marker timestamp.
func (s *Store) MarkDirty(ctx context.Context, documentID, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return markDirtyTx(ctx, tx, documentID, actor, s.now())
	})
}

func markDirtyTx(ctx context.Context, tx *sql.Tx, documentID, actor string, now time.Time) error {
	status, err := documentStatusTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if err := lifecycle.Check(documentID, lifecycle.OpMarkDirty, status); err != nil {
		return err
	}
	ts := formatTime(now)
	if status != lifecycle.StatusNeedsManipulation {
		if err := casDocument(ctx, tx, documentID, lifecycle.OpMarkDirty, status,
			"status = ?, updated_at = ?", lifecycle.StatusNeedsManipulation, ts); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO change_markers (document_id, first_changed_at, last_changed_at, changed_by)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(document_id) DO UPDATE SET last_changed_at = excluded.last_changed_at, changed_by = excluded.changed_by`,
		documentID, ts, ts, nullableString(actor),
	)
	if err != nil {
		return fmt.Errorf("upsert change marker: %w", err)
	}
	return nil
}

// Enqueue creates a queued session and moves the document to queued. A
// document with an active session is rejected with ErrConflict.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (*Session, error) {
	if p.ID == "" || p.DocumentID == "" {
		return nil, services.Invalid("sessionId", "session and document ids are required")
	}
	planJSON, err := marshalPlan(p.Plan)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := documentStatusTx(ctx, tx, p.DocumentID)
		if err != nil {
			return err
		}
		active, err := activeSessionTx(ctx, tx, p.DocumentID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: document %s already has %s session %s",
				services.ErrConflict, p.DocumentID, active.Status, active.ID)
		}
		if err := lifecycle.Check(p.DocumentID, lifecycle.OpEnqueue, status); err != nil {
			return err
		}
		ts := formatTime(s.now())
		_, err = tx.ExecContext(ctx,
			`INSERT INTO processing_sessions (
                id, document_id, strategy, status, acting_user, plan_json, request_json, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.DocumentID, p.Plan.Strategy, lifecycle.SessionQueued, nullableString(p.ActingUser),
			planJSON, nullableString(string(p.Request)), ts, ts,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: document %s already has an active session", services.ErrConflict, p.DocumentID)
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := casDocument(ctx, tx, p.DocumentID, lifecycle.OpEnqueue, status,
			"status = ?, updated_at = ?", lifecycle.StatusQueued, ts); err != nil {
			return err
		}
		out, err = getSession(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim moves a queued session to running and its document to processing.
// Exactly one of several concurrent claimants succeeds; the others receive
// ErrClaimLost.
func (s *Store) Claim(ctx context.Context, sessionID string) (*Session, error) {
	var out *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClaimLost, err)
		}
		if sess.Status != lifecycle.SessionQueued {
			return fmt.Errorf("%w: %w", ErrClaimLost, &services.TransitionError{
				Entity: "session", ID: sessionID, Op: string(lifecycle.OpClaim), From: string(sess.Status),
			})
		}
		ts := formatTime(s.now())
		if err := casDocument(ctx, tx, sess.DocumentID, lifecycle.OpClaim, lifecycle.StatusQueued,
			"status = ?, claimed_at = ?, updated_at = ?", lifecycle.StatusProcessing, ts, ts); err != nil {
			return fmt.Errorf("%w: %w", ErrClaimLost, err)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE processing_sessions SET status = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND status = ?",
			lifecycle.SessionRunning, ts, ts, sessionID, lifecycle.SessionQueued,
		)
		if err != nil {
			return fmt.Errorf("claim session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: session %s", ErrClaimLost, sessionID)
		}
		out, err = getSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete records a session's outcome and moves the document accordingly.
// A session that is already terminal is returned unchanged with applied set
// to false.
func (s *Store) Complete(ctx context.Context, sessionID string, outcome lifecycle.Outcome) (*Session, bool, error) {
	if err := outcome.Validate(); err != nil {
		return nil, false, err
	}
	var (
		out     *Session
		applied bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status.Terminal() {
			out = sess
			return nil
		}
		if sess.Status != lifecycle.SessionRunning {
			return &services.TransitionError{
				Entity: "session", ID: sessionID, Op: string(lifecycle.OpComplete), From: string(sess.Status),
			}
		}
		if outcome.Kind == lifecycle.OutcomeSplit {
			var linked int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(1) FROM split_audit WHERE session_id = ?", sessionID).Scan(&linked); err != nil {
				return fmt.Errorf("count linked children: %w", err)
			}
			if linked == 0 {
				return services.Invalid("kind", "split outcome for session %s has no linked children", sessionID)
			}
		}

		now := s.now()
		ts := formatTime(now)
		if err := completeDocumentTx(ctx, tx, sess, outcome, ts); err != nil {
			return err
		}
		if err := settleChildrenTx(ctx, tx, sess, outcome.Kind == lifecycle.OutcomeSplit, ts); err != nil {
			return err
		}
		if outcome.RetiresIntents() {
			if err := retireIntentsTx(ctx, tx, sess.DocumentID, ts); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM change_markers WHERE document_id = ?", sess.DocumentID); err != nil {
				return fmt.Errorf("clear change marker: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE processing_sessions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
			outcome.SessionStatus(), nullableString(outcome.Reason), ts, sessionID,
		); err != nil {
			return fmt.Errorf("finish session: %w", err)
		}
		applied = true
		out, err = getSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func completeDocumentTx(ctx context.Context, tx *sql.Tx, sess *Session, outcome lifecycle.Outcome, ts string) error {
	from := lifecycle.StatusProcessing
	to := outcome.DocumentStatus()
	switch outcome.Kind {
	case lifecycle.OutcomeUnchanged:
		if err := casDocument(ctx, tx, sess.DocumentID, lifecycle.OpComplete, from,
			"status = ?, page_count = ?, redacted = MAX(redacted, ?), claimed_at = NULL, updated_at = ?",
			to, outcome.PageCount, boolToInt(outcome.Redacted), ts); err != nil {
			return err
		}
		if sess.Strategy == planner.IndexOnly && sess.Plan.Index != nil {
			return applyIndexTx(ctx, tx, sess.DocumentID, sess.Plan.Index, ts)
		}
		return nil
	case lifecycle.OutcomeDeleted:
		return casDocument(ctx, tx, sess.DocumentID, lifecycle.OpComplete, from,
			"status = ?, deleted = 1, page_count = 0, claimed_at = NULL, updated_at = ?", to, ts)
	case lifecycle.OutcomeFailed:
		return casDocument(ctx, tx, sess.DocumentID, lifecycle.OpComplete, from,
			"status = ?, corrupted = MAX(corrupted, ?), claimed_at = NULL, updated_at = ?",
			to, boolToInt(outcome.Corrupted), ts)
	default:
		return casDocument(ctx, tx, sess.DocumentID, lifecycle.OpComplete, from,
			"status = ?, claimed_at = NULL, updated_at = ?", to, ts)
	}
}

// settleChildrenTx resolves the children linked to a session. They are held
// in processing until the parent's split commits; on any other outcome they
// are marked deleted and their breaks are unlinked so a retry starts clean.
func settleChildrenTx(ctx context.Context, tx *sql.Tx, sess *Session, split bool, ts string) error {
	const linked = "SELECT child_document_id FROM split_audit WHERE session_id = ?"
	if split {
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET status = ?, updated_at = ? WHERE status = ? AND id IN ("+linked+")",
			lifecycle.StatusSynced, ts, lifecycle.StatusProcessing, sess.ID,
		); err != nil {
			return fmt.Errorf("promote split children: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE page_breaks SET result_document_id = NULL, updated_at = ? WHERE document_id = ? AND result_document_id IN ("+linked+")",
		ts, sess.DocumentID, sess.ID,
	); err != nil {
		return fmt.Errorf("unlink split breaks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET status = ?, deleted = 1, updated_at = ? WHERE status = ? AND id IN ("+linked+")",
		lifecycle.StatusDeleted, ts, lifecycle.StatusProcessing, sess.ID,
	); err != nil {
		return fmt.Errorf("discard split children: %w", err)
	}
	return nil
}

// applyIndexTx overwrites the document's classification from its single
// page-0 break and points the break at the document itself.
func applyIndexTx(ctx context.Context, tx *sql.Tx, documentID string, index *planner.Break, ts string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET document_type_id = ?, document_date = ?, comment = ?, updated_at = ? WHERE id = ?",
		nullableString(index.DocumentTypeID), nullableString(index.Date), nullableString(index.Comment), ts, documentID,
	); err != nil {
		return fmt.Errorf("apply index metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE page_breaks SET result_document_id = ?, updated_at = ? WHERE id = ? AND document_id = ?",
		documentID, ts, index.ID, documentID,
	); err != nil {
		return fmt.Errorf("link index break: %w", err)
	}
	return nil
}

// retireIntentsTx folds every pending intent of a document into the finished
// session. Redactions on deleted pages are discarded instead of applied.
func retireIntentsTx(ctx context.Context, tx *sql.Tx, documentID, ts string) error {
	stmts := []struct {
		label string
		query string
		args  []any
	}{
		{"discard redactions on deleted pages", `UPDATE redaction_intents SET deleted = 1
            WHERE document_id = ? AND applied = 0 AND deleted = 0 AND page_index IN (
                SELECT page_index FROM page_deletion_intents WHERE document_id = ? AND applied = 0 AND deleted = 0)`,
			[]any{documentID, documentID}},
		{"apply redactions", "UPDATE redaction_intents SET applied = 1 WHERE document_id = ? AND applied = 0 AND deleted = 0",
			[]any{documentID}},
		{"retire rotations", "UPDATE rotation_intents SET applied = 1, deleted = 1, updated_at = ? WHERE document_id = ? AND deleted = 0",
			[]any{ts, documentID}},
		{"retire deletions", "UPDATE page_deletion_intents SET applied = 1, deleted = 1 WHERE document_id = ? AND deleted = 0",
			[]any{documentID}},
		{"retire breaks", "UPDATE page_breaks SET processed = 1, deleted = 1, updated_at = ? WHERE document_id = ? AND deleted = 0 AND processed = 0",
			[]any{ts, documentID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("%s: %w", st.label, err)
		}
	}
	return nil
}

// LinkResults records the children a split produced. Children already linked
// to the session are skipped, so a retried callback is harmless.
func (s *Store) LinkResults(ctx context.Context, sessionID, actor string, children []ChildRecord) ([]SplitAudit, error) {
	var out []SplitAudit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		parent, err := getDocument(ctx, tx, sess.DocumentID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, child := range children {
			var exists int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(1) FROM split_audit WHERE session_id = ? AND child_document_id = ?",
				sessionID, child.DocumentID).Scan(&exists); err != nil {
				return fmt.Errorf("check linked child: %w", err)
			}
			if exists > 0 {
				continue
			}
			if sess.Status != lifecycle.SessionRunning {
				return &services.TransitionError{
					Entity: "session", ID: sessionID, Op: "link_results", From: string(sess.Status),
				}
			}
			if err := linkChildTx(ctx, tx, sessionID, actor, parent, child, now); err != nil {
				return err
			}
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT "+auditColumns+" FROM split_audit WHERE session_id = ? ORDER BY page_start, id", sessionID)
		if err != nil {
			return fmt.Errorf("list session audit: %w", err)
		}
		out, err = collect(rows, scanAudit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func linkChildTx(ctx context.Context, tx *sql.Tx, sessionID, actor string, parent *Document, child ChildRecord, now time.Time) error {
	if child.DocumentID == "" || child.PageCount <= 0 {
		return services.Invalid("children", "child needs an id and a positive page count")
	}
	if child.PageStart < 0 || child.PageEnd <= child.PageStart || child.PageEnd > parent.PageCount {
		return services.Invalid("children", "child %s range [%d,%d) outside parent", child.DocumentID, child.PageStart, child.PageEnd)
	}
	ts := formatTime(now)
	err := insertDocumentTx(ctx, tx, NewDocument{
		ID:             child.DocumentID,
		ParentID:       parent.ID,
		PageCount:      child.PageCount,
		BlobPrefix:     child.BlobPrefix,
		Redacted:       len(child.Redactions) > 0 || parent.Redacted,
		Status:         lifecycle.StatusProcessing,
		Classification: child.Classification,
	}, now)
	if err != nil {
		return fmt.Errorf("insert child document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO document_grants (user_id, document_id, created_at)
         SELECT user_id, ?, ? FROM document_grants WHERE document_id = ?`,
		child.DocumentID, ts, parent.ID,
	); err != nil {
		return fmt.Errorf("copy grants: %w", err)
	}
	for _, r := range child.Redactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO redaction_intents (
                document_id, page_index, x, y, width, height, draw_orientation, note, created_by, created_at, applied
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			child.DocumentID, r.PageIndex, r.X, r.Y, r.Width, r.Height, r.DrawOrientation,
			nullableString(r.Note), r.CreatedBy, formatTime(r.CreatedAt),
		); err != nil {
			return fmt.Errorf("copy redaction history: %w", err)
		}
	}
	var breakID any
	if child.BreakID != 0 {
		breakID = child.BreakID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO split_audit (
            session_id, parent_document_id, child_document_id, break_id, page_start, page_end, acted_by, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, parent.ID, child.DocumentID, breakID, child.PageStart, child.PageEnd, actor, ts,
	); err != nil {
		return fmt.Errorf("append split audit: %w", err)
	}
	if child.BreakID != 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE page_breaks SET result_document_id = ?, updated_at = ? WHERE id = ? AND document_id = ?",
			child.DocumentID, ts, child.BreakID, parent.ID,
		); err != nil {
			return fmt.Errorf("link page break: %w", err)
		}
	}
	return nil
}

// CancelQueued deletes a session that no worker has claimed yet and returns
// the document to needs_manipulation. The deleted session is returned.
func (s *Store) CancelQueued(ctx context.Context, sessionID string) (*Session, error) {
	var out *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != lifecycle.SessionQueued {
			return &services.TransitionError{
				Entity: "session", ID: sessionID, Op: string(lifecycle.OpCancel), From: string(sess.Status),
			}
		}
		ts := formatTime(s.now())
		if err := casDocument(ctx, tx, sess.DocumentID, lifecycle.OpCancel, lifecycle.StatusQueued,
			"status = ?, updated_at = ?", lifecycle.StatusNeedsManipulation, ts); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM processing_sessions WHERE id = ? AND status = ?",
			sessionID, lifecycle.SessionQueued); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// casDocument applies set to a document only while it is still in from. A
// lost race is reported as an invalid transition from the current status.
func casDocument(ctx context.Context, tx *sql.Tx, documentID string, op lifecycle.Op, from lifecycle.Status, set string, args ...any) error {
	if err := lifecycle.Check(documentID, op, from); err != nil {
		return err
	}
	args = append(args, documentID, from)
	res, err := tx.ExecContext(ctx, "UPDATE documents SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("%s document: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := documentStatusTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	return lifecycle.Check(documentID, op, current)
}

func activeSessionTx(ctx context.Context, q queryer, documentID string) (*Session, error) {
	args := []any{documentID}
	for _, st := range lifecycle.ActiveSessionStatuses {
		args = append(args, st)
	}
	row := q.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM processing_sessions WHERE document_id = ? AND status IN ("+
			placeholders(len(lifecycle.ActiveSessionStatuses))+") LIMIT 1",
		args...)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return sess, nil
}
