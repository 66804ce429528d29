package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
	"docpipe/internal/services"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface{ Scan(dest ...any) error }

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseTime(raw sql.NullString) time.Time {
	t, _ := parseTimeString(raw.String)
	return t
}

func parseOptionalTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", services.ErrNotFound, entity, id)
}

const documentColumns = "id, parent_id, page_count, status, document_type_id, document_date, comment, blob_prefix, corrupted, deleted, redacted, claimed_at, created_at, updated_at"

func scanDocument(scanner rowScanner) (*Document, error) {
	var (
		doc                                Document
		parentID, typeID, date, comment    sql.NullString
		status                             string
		corrupted, deleted, redacted       int
		claimedRaw, createdRaw, updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&doc.ID, &parentID, &doc.PageCount, &status, &typeID, &date, &comment,
		&doc.BlobPrefix, &corrupted, &deleted, &redacted, &claimedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	doc.ParentID = parentID.String
	doc.Status = lifecycle.Status(status)
	doc.DocumentTypeID = typeID.String
	doc.Date = date.String
	doc.Comment = comment.String
	doc.Corrupted = corrupted != 0
	doc.Deleted = deleted != 0
	doc.Redacted = redacted != 0
	doc.ClaimedAt = parseOptionalTime(claimedRaw)
	doc.CreatedAt = parseTime(createdRaw)
	doc.UpdatedAt = parseTime(updatedRaw)
	return &doc, nil
}

const redactionColumns = "id, document_id, page_index, x, y, width, height, draw_orientation, note, created_by, created_at, applied, deleted"

func scanRedaction(scanner rowScanner) (RedactionIntent, error) {
	var (
		r                RedactionIntent
		note, createdRaw sql.NullString
		applied, deleted int
	)
	if err := scanner.Scan(
		&r.ID, &r.DocumentID, &r.PageIndex, &r.X, &r.Y, &r.Width, &r.Height,
		&r.DrawOrientation, &note, &r.CreatedBy, &createdRaw, &applied, &deleted,
	); err != nil {
		return RedactionIntent{}, err
	}
	r.Note = note.String
	r.CreatedAt = parseTime(createdRaw)
	r.Applied = applied != 0
	r.Deleted = deleted != 0
	return r, nil
}

const rotationColumns = "id, document_id, page_index, rotation, created_by, created_at, updated_at, applied, deleted"

func scanRotation(scanner rowScanner) (RotationIntent, error) {
	var (
		r                      RotationIntent
		createdRaw, updatedRaw sql.NullString
		applied, deleted       int
	)
	if err := scanner.Scan(
		&r.ID, &r.DocumentID, &r.PageIndex, &r.Rotation, &r.CreatedBy, &createdRaw, &updatedRaw, &applied, &deleted,
	); err != nil {
		return RotationIntent{}, err
	}
	r.CreatedAt = parseTime(createdRaw)
	r.UpdatedAt = parseTime(updatedRaw)
	r.Applied = applied != 0
	r.Deleted = deleted != 0
	return r, nil
}

const deletionColumns = "id, document_id, page_index, created_by, created_at, applied, deleted"

func scanDeletion(scanner rowScanner) (PageDeletionIntent, error) {
	var (
		d                PageDeletionIntent
		createdRaw       sql.NullString
		applied, deleted int
	)
	if err := scanner.Scan(&d.ID, &d.DocumentID, &d.PageIndex, &d.CreatedBy, &createdRaw, &applied, &deleted); err != nil {
		return PageDeletionIntent{}, err
	}
	d.CreatedAt = parseTime(createdRaw)
	d.Applied = applied != 0
	d.Deleted = deleted != 0
	return d, nil
}

const breakColumns = "id, document_id, page_index, document_type_id, document_date, comment, created_by, created_at, updated_at, deleted, processed, result_document_id"

func scanBreak(scanner rowScanner) (PageBreak, error) {
	var (
		b                      PageBreak
		date, comment, result  sql.NullString
		createdRaw, updatedRaw sql.NullString
		deleted, processed     int
	)
	if err := scanner.Scan(
		&b.ID, &b.DocumentID, &b.PageIndex, &b.DocumentTypeID, &date, &comment,
		&b.CreatedBy, &createdRaw, &updatedRaw, &deleted, &processed, &result,
	); err != nil {
		return PageBreak{}, err
	}
	b.Date = date.String
	b.Comment = comment.String
	b.CreatedAt = parseTime(createdRaw)
	b.UpdatedAt = parseTime(updatedRaw)
	b.Deleted = deleted != 0
	b.Processed = processed != 0
	if result.Valid {
		id := result.String
		b.ResultDocumentID = &id
	}
	return b, nil
}

const sessionColumns = "id, document_id, strategy, status, error_message, acting_user, plan_json, request_json, dispatched_at, claimed_at, created_at, updated_at"

func scanSession(scanner rowScanner) (*Session, error) {
	var (
		s                          Session
		strategy, status, planJSON string
		errMsg, actor, requestJSON sql.NullString
		dispatchedRaw, claimedRaw  sql.NullString
		createdRaw, updatedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&s.ID, &s.DocumentID, &strategy, &status, &errMsg, &actor, &planJSON, &requestJSON,
		&dispatchedRaw, &claimedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	s.Strategy = planner.Strategy(strategy)
	s.Status = lifecycle.SessionStatus(status)
	s.ErrorMessage = errMsg.String
	s.ActingUser = actor.String
	if err := json.Unmarshal([]byte(planJSON), &s.Plan); err != nil {
		return nil, fmt.Errorf("decode plan for session %s: %w", s.ID, err)
	}
	if requestJSON.Valid {
		s.Request = []byte(requestJSON.String)
	}
	s.DispatchedAt = parseOptionalTime(dispatchedRaw)
	s.ClaimedAt = parseOptionalTime(claimedRaw)
	s.CreatedAt = parseTime(createdRaw)
	s.UpdatedAt = parseTime(updatedRaw)
	return &s, nil
}

const auditColumns = "id, session_id, parent_document_id, child_document_id, break_id, page_start, page_end, acted_by, created_at"

func scanAudit(scanner rowScanner) (SplitAudit, error) {
	var (
		a          SplitAudit
		breakID    sql.NullInt64
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&a.ID, &a.SessionID, &a.ParentDocumentID, &a.ChildDocumentID, &breakID,
		&a.PageStart, &a.PageEnd, &a.ActedBy, &createdRaw,
	); err != nil {
		return SplitAudit{}, err
	}
	a.BreakID = breakID.Int64
	a.CreatedAt = parseTime(createdRaw)
	return a, nil
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
