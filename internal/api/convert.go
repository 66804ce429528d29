package api

import (
	"maps"
	"slices"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromSession converts a session row to its polling projection.
func FromSession(s *store.Session) SessionView {
	if s == nil {
		return SessionView{}
	}
	return SessionView{
		ID:           s.ID,
		DocumentID:   s.DocumentID,
		Strategy:     string(s.Strategy),
		Status:       string(s.Status),
		Terminal:     s.Status.Terminal(),
		ErrorMessage: s.ErrorMessage,
		ChildCount:   len(s.Plan.Ranges),
		DispatchedAt: formatOptional(s.DispatchedAt),
		ClaimedAt:    formatOptional(s.ClaimedAt),
		CreatedAt:    formatTime(s.CreatedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
}

// FromDocument converts a document row. marker may be nil.
func FromDocument(d *store.Document, marker *store.ChangeMarker) DocumentView {
	if d == nil {
		return DocumentView{}
	}
	view := DocumentView{
		ID:             d.ID,
		ParentID:       d.ParentID,
		PageCount:      d.PageCount,
		Status:         string(d.Status),
		DocumentTypeID: d.DocumentTypeID,
		Date:           d.Date,
		Comment:        d.Comment,
		Corrupted:      d.Corrupted,
		Deleted:        d.Deleted,
		Redacted:       d.Redacted,
		CreatedAt:      formatTime(d.CreatedAt),
		UpdatedAt:      formatTime(d.UpdatedAt),
	}
	if marker != nil {
		view.UnsavedSince = formatTime(marker.FirstChangedAt)
	}
	return view
}

// WithSessions attaches a document's session history, newest first, and
// notes which session is still active.
func (v DocumentView) WithSessions(sessions []*store.Session) DocumentView {
	v.Sessions = make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		if s.Status.Active() && v.ActiveSessionID == "" {
			v.ActiveSessionID = s.ID
		}
		v.Sessions = append(v.Sessions, FromSession(s))
	}
	return v
}

// FromDocuments converts a slice of document rows.
func FromDocuments(docs []*store.Document) []DocumentView {
	if len(docs) == 0 {
		return nil
	}
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, FromDocument(d, nil))
	}
	return out
}

// SessionStats converts status counts into string keys, including zero
// counts for every known status.
func SessionStats(stats map[lifecycle.SessionStatus]int) map[string]int {
	out := map[string]int{}
	for _, st := range []lifecycle.SessionStatus{
		lifecycle.SessionQueued, lifecycle.SessionRunning, lifecycle.SessionCompleted, lifecycle.SessionFailed,
	} {
		out[string(st)] = 0
	}
	for st, n := range stats {
		out[string(st)] = n
	}
	return out
}

// DocumentStats converts status counts into string keys.
func DocumentStats(stats map[lifecycle.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for st, n := range stats {
		out[string(st)] = n
	}
	return out
}

// SortedKeys returns the keys of a stats map in a stable order.
func SortedKeys(stats map[string]int) []string {
	return slices.Sorted(maps.Keys(stats))
}
