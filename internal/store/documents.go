package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/lifecycle"
	"docpipe/internal/services"
)

// CreateDocument inserts a synced document. An empty ID is assigned a UUID.
func (s *Store) CreateDocument(ctx context.Context, nd NewDocument) (*Document, error) {
	if nd.ID == "" {
		nd.ID = uuid.NewString()
	}
	if nd.PageCount <= 0 {
		return nil, services.Invalid("pageCount", "must be positive, got %d", nd.PageCount)
	}
	if strings.TrimSpace(nd.BlobPrefix) == "" {
		return nil, services.Invalid("blobPrefix", "required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertDocumentTx(ctx, tx, nd, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, nd.ID)
}

func insertDocumentTx(ctx context.Context, q queryer, nd NewDocument, now time.Time) error {
	ts := formatTime(now)
	status := nd.Status
	if status == "" {
		status = lifecycle.StatusSynced
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO documents (
            id, parent_id, page_count, status, document_type_id, document_date, comment,
            blob_prefix, redacted, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nd.ID,
		nullableString(nd.ParentID),
		nd.PageCount,
		status,
		nullableString(nd.DocumentTypeID),
		nullableString(nd.Date),
		nullableString(nd.Comment),
		nd.BlobPrefix,
		boolToInt(nd.Redacted),
		ts,
		ts,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: document %s already exists", services.ErrConflict, nd.ID)
	}
	return err
}

// GetDocument loads a document or returns ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, q queryer, id string) (*Document, error) {
	row := q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func documentStatusTx(ctx context.Context, q queryer, id string) (lifecycle.Status, error) {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("document", id)
	}
	if err != nil {
		return "", fmt.Errorf("read document status: %w", err)
	}
	return lifecycle.Status(status), nil
}

// ListDocuments returns documents filtered by status, newest first. No
// statuses means all documents.
func (s *Store) ListDocuments(ctx context.Context, statuses ...lifecycle.Status) ([]*Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at DESC, id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collect(rows, scanDocument)
}

// ChildDocuments returns the documents produced by splitting parentID.
func (s *Store) ChildDocuments(ctx context.Context, parentID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE parent_id = ? ORDER BY created_at, id", parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return collect(rows, scanDocument)
}

// UpsertDocumentType creates or renames a document type.
func (s *Store) UpsertDocumentType(ctx context.Context, id, name string) (*DocumentType, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Invalid("id", "required")
	}
	if name = strings.TrimSpace(name); name == "" {
		name = id
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO document_types (id, name, created_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name, formatTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert document type: %w", err)
	}
	var (
		dt         DocumentType
		createdRaw sql.NullString
	)
	err = s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM document_types WHERE id = ?", id).
		Scan(&dt.ID, &dt.Name, &createdRaw)
	if err != nil {
		return nil, fmt.Errorf("read document type: %w", err)
	}
	dt.CreatedAt = parseTime(createdRaw)
	return &dt, nil
}

// DocumentTypeExists reports whether id names a known document type.
func (s *Store) DocumentTypeExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM document_types WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("check document type: %w", err)
	}
	return n > 0, nil
}

// ListDocumentTypes returns every document type ordered by id.
func (s *Store) ListDocumentTypes(ctx context.Context) ([]DocumentType, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM document_types ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	return collect(rows, func(sc rowScanner) (DocumentType, error) {
		var (
			dt         DocumentType
			createdRaw sql.NullString
		)
		err := sc.Scan(&dt.ID, &dt.Name, &createdRaw)
		dt.CreatedAt = parseTime(createdRaw)
		return dt, err
	})
}

// GrantAccess lets userID edit documentID. Granting twice is a no-op.
func (s *Store) GrantAccess(ctx context.Context, userID, documentID string) error {
	if strings.TrimSpace(userID) == "" {
		return services.Invalid("userId", "required")
	}
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return err
	}
	_, err := s.execWithRetry(ctx,
		"INSERT OR IGNORE INTO document_grants (user_id, document_id, created_at) VALUES (?, ?, ?)",
		userID, documentID, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	return nil
}

// HasDocumentAccess reports whether userID holds a grant on documentID.
func (s *Store) HasDocumentAccess(ctx context.Context, userID, documentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM document_grants WHERE user_id = ? AND document_id = ?",
		userID, documentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return n > 0, nil
}

// GetChangeMarker returns the document's unsaved-change marker, or nil when
// there is none.
func (s *Store) GetChangeMarker(ctx context.Context, documentID string) (*ChangeMarker, error) {
	var (
		m                     ChangeMarker
		firstRaw, lastRaw, by sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT document_id, first_changed_at, last_changed_at, changed_by FROM change_markers WHERE document_id = ?",
		documentID,
	).Scan(&m.DocumentID, &firstRaw, &lastRaw, &by)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change marker: %w", err)
	}
	m.FirstChangedAt = parseTime(firstRaw)
	m.LastChangedAt = parseTime(lastRaw)
	m.ChangedBy = by.String
	return &m, nil
}

// SplitAudit returns the audit trail of a split parent.
func (s *Store) SplitAudit(ctx context.Context, parentID string) ([]SplitAudit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM split_audit WHERE parent_document_id = ? ORDER BY page_start, id", parentID)
	if err != nil {
		return nil, fmt.Errorf("list split audit: %w", err)
	}
	return collect(rows, scanAudit)
}
