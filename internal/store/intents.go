package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docpipe/internal/services"
)

// AddRedaction records a redaction and marks the document dirty.
func (s *Store) AddRedaction(ctx context.Context, r RedactionIntent) (*RedactionIntent, error) {
	var out RedactionIntent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := markDirtyTx(ctx, tx, r.DocumentID, r.CreatedBy, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO redaction_intents (
                document_id, page_index, x, y, width, height, draw_orientation, note, created_by, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.DocumentID, r.PageIndex, r.X, r.Y, r.Width, r.Height, r.DrawOrientation,
			nullableString(r.Note), r.CreatedBy, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("insert redaction: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		out, err = scanRedaction(tx.QueryRowContext(ctx, "SELECT "+redactionColumns+" FROM redaction_intents WHERE id = ?", id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertRotation sets the pending rotation of a page, replacing any earlier
// value for the same page.
func (s *Store) UpsertRotation(ctx context.Context, documentID string, pageIndex, rotation int, actor string) (*RotationIntent, error) {
	var out RotationIntent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := markDirtyTx(ctx, tx, documentID, actor, now); err != nil {
			return err
		}
		ts := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`UPDATE rotation_intents SET rotation = ?, created_by = ?, updated_at = ?
             WHERE document_id = ? AND page_index = ? AND deleted = 0`,
			rotation, actor, ts, documentID, pageIndex,
		)
		if err != nil {
			return fmt.Errorf("update rotation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rotation_intents (document_id, page_index, rotation, created_by, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				documentID, pageIndex, rotation, actor, ts, ts,
			); err != nil {
				return fmt.Errorf("insert rotation: %w", err)
			}
		}
		out, err = scanRotation(tx.QueryRowContext(ctx,
			"SELECT "+rotationColumns+" FROM rotation_intents WHERE document_id = ? AND page_index = ? AND deleted = 0",
			documentID, pageIndex))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddPageDeletion records a page deletion. A second request for the same page
// returns the existing intent.
func (s *Store) AddPageDeletion(ctx context.Context, documentID string, pageIndex int, actor string) (*PageDeletionIntent, error) {
	var out PageDeletionIntent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := markDirtyTx(ctx, tx, documentID, actor, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO page_deletion_intents (document_id, page_index, created_by, created_at)
             VALUES (?, ?, ?, ?)
             ON CONFLICT(document_id, page_index) WHERE deleted = 0 DO NOTHING`,
			documentID, pageIndex, actor, formatTime(now),
		); err != nil {
			return fmt.Errorf("insert page deletion: %w", err)
		}
		var err error
		out, err = scanDeletion(tx.QueryRowContext(ctx,
			"SELECT "+deletionColumns+" FROM page_deletion_intents WHERE document_id = ? AND page_index = ? AND deleted = 0",
			documentID, pageIndex))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddPageBreak records a page break. A second active break on the same page is
// rejected.
func (s *Store) AddPageBreak(ctx context.Context, b PageBreak) (*PageBreak, error) {
	var out PageBreak
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := markDirtyTx(ctx, tx, b.DocumentID, b.CreatedBy, now); err != nil {
			return err
		}
		if err := ensureBreakSlotFree(ctx, tx, b.DocumentID, b.PageIndex, 0); err != nil {
			return err
		}
		ts := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO page_breaks (
                document_id, page_index, document_type_id, document_date, comment, created_by, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.DocumentID, b.PageIndex, b.DocumentTypeID, nullableString(b.Date), nullableString(b.Comment),
			b.CreatedBy, ts, ts,
		)
		if isUniqueViolation(err) {
			return duplicateBreak(b.PageIndex)
		}
		if err != nil {
			return fmt.Errorf("insert page break: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		out, err = getBreakTx(ctx, tx, b.DocumentID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePageBreak rewrites the page and classification of a pending break.
func (s *Store) UpdatePageBreak(ctx context.Context, b PageBreak, actor string) (*PageBreak, error) {
	var out PageBreak
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getPendingBreakTx(ctx, tx, b.DocumentID, b.ID); err != nil {
			return err
		}
		now := s.now()
		if err := markDirtyTx(ctx, tx, b.DocumentID, actor, now); err != nil {
			return err
		}
		if err := ensureBreakSlotFree(ctx, tx, b.DocumentID, b.PageIndex, b.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE page_breaks SET page_index = ?, document_type_id = ?, document_date = ?, comment = ?, updated_at = ?
             WHERE id = ? AND document_id = ? AND deleted = 0 AND processed = 0`,
			b.PageIndex, b.DocumentTypeID, nullableString(b.Date), nullableString(b.Comment), formatTime(now),
			b.ID, b.DocumentID,
		)
		if isUniqueViolation(err) {
			return duplicateBreak(b.PageIndex)
		}
		if err != nil {
			return fmt.Errorf("update page break: %w", err)
		}
		out, err = getBreakTx(ctx, tx, b.DocumentID, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SoftDeletePageBreak retires a pending break without applying it.
func (s *Store) SoftDeletePageBreak(ctx context.Context, documentID string, breakID int64, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getPendingBreakTx(ctx, tx, documentID, breakID); err != nil {
			return err
		}
		now := s.now()
		if err := markDirtyTx(ctx, tx, documentID, actor, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE page_breaks SET deleted = 1, updated_at = ? WHERE id = ? AND document_id = ?",
			formatTime(now), breakID, documentID,
		); err != nil {
			return fmt.Errorf("delete page break: %w", err)
		}
		return nil
	})
}

// GetPageBreak loads one break of a document, pending or not.
func (s *Store) GetPageBreak(ctx context.Context, documentID string, breakID int64) (*PageBreak, error) {
	b, err := getBreakTx(ctx, s.db, documentID, breakID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func getBreakTx(ctx context.Context, q queryer, documentID string, breakID int64) (PageBreak, error) {
	b, err := scanBreak(q.QueryRowContext(ctx,
		"SELECT "+breakColumns+" FROM page_breaks WHERE id = ? AND document_id = ?", breakID, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return PageBreak{}, notFound("page break", fmt.Sprint(breakID))
	}
	return b, err
}

func getPendingBreakTx(ctx context.Context, q queryer, documentID string, breakID int64) (PageBreak, error) {
	b, err := getBreakTx(ctx, q, documentID, breakID)
	if err != nil {
		return PageBreak{}, err
	}
	if b.Deleted || b.Processed {
		return PageBreak{}, notFound("page break", fmt.Sprint(breakID))
	}
	return b, nil
}

func ensureBreakSlotFree(ctx context.Context, q queryer, documentID string, pageIndex int, self int64) error {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM page_breaks WHERE document_id = ? AND page_index = ? AND deleted = 0 AND id != ?",
		documentID, pageIndex, self,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check page break slot: %w", err)
	}
	if n > 0 {
		return duplicateBreak(pageIndex)
	}
	return nil
}

func duplicateBreak(pageIndex int) error {
	return services.Invalid("pageIndex", "a page break already exists at page %d", pageIndex)
}

// ListPending returns every unretired intent of a document, each kind ordered
// by page index then creation time.
func (s *Store) ListPending(ctx context.Context, documentID string) (*PendingIntents, error) {
	return listPending(ctx, s.db, documentID)
}

func listPending(ctx context.Context, q queryer, documentID string) (*PendingIntents, error) {
	const order = " ORDER BY page_index, created_at, id"
	var (
		out PendingIntents
		err error
	)
	rows, err := q.QueryContext(ctx,
		"SELECT "+redactionColumns+" FROM redaction_intents WHERE document_id = ? AND applied = 0 AND deleted = 0"+order, documentID)
	if err != nil {
		return nil, fmt.Errorf("list redactions: %w", err)
	}
	if out.Redactions, err = collect(rows, scanRedaction); err != nil {
		return nil, fmt.Errorf("scan redactions: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		"SELECT "+rotationColumns+" FROM rotation_intents WHERE document_id = ? AND applied = 0 AND deleted = 0"+order, documentID)
	if err != nil {
		return nil, fmt.Errorf("list rotations: %w", err)
	}
	if out.Rotations, err = collect(rows, scanRotation); err != nil {
		return nil, fmt.Errorf("scan rotations: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		"SELECT "+deletionColumns+" FROM page_deletion_intents WHERE document_id = ? AND applied = 0 AND deleted = 0"+order, documentID)
	if err != nil {
		return nil, fmt.Errorf("list deletions: %w", err)
	}
	if out.Deletions, err = collect(rows, scanDeletion); err != nil {
		return nil, fmt.Errorf("scan deletions: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		"SELECT "+breakColumns+" FROM page_breaks WHERE document_id = ? AND deleted = 0 AND processed = 0"+order, documentID)
	if err != nil {
		return nil, fmt.Errorf("list page breaks: %w", err)
	}
	if out.Breaks, err = collect(rows, scanBreak); err != nil {
		return nil, fmt.Errorf("scan page breaks: %w", err)
	}
	return &out, nil
}

// AppliedRedactions returns the redactions already burned into the document.
func (s *Store) AppliedRedactions(ctx context.Context, documentID string) ([]RedactionIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+redactionColumns+" FROM redaction_intents WHERE document_id = ? AND applied = 1 ORDER BY page_index, created_at, id",
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list applied redactions: %w", err)
	}
	return collect(rows, scanRedaction)
}
