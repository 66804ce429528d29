package store

import (
	"encoding/json"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
)

// Document is a paginated artifact tracked by the pipeline.
type Document struct {
	ID             string           `json:"id"`
	ParentID       string           `json:"parentId,omitempty"`
	PageCount      int              `json:"pageCount"`
	Status         lifecycle.Status `json:"status"`
	DocumentTypeID string           `json:"documentTypeId,omitempty"`
	Date           string           `json:"date,omitempty"`
	Comment        string           `json:"comment,omitempty"`
	BlobPrefix     string           `json:"blobPrefix"`
	Corrupted      bool             `json:"corrupted"`
	Deleted        bool             `json:"deleted"`
	Redacted       bool             `json:"redacted"`
	ClaimedAt      *time.Time       `json:"claimedAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Classification returns the document's current type, date, and comment.
func (d *Document) Classification() planner.Classification {
	return planner.Classification{DocumentTypeID: d.DocumentTypeID, Date: d.Date, Comment: d.Comment}
}

// NewDocument describes a document row to insert.
type NewDocument struct {
	ID         string
	ParentID   string
	PageCount  int
	BlobPrefix string
	Redacted   bool
	// Status defaults to synced.
	Status     lifecycle.Status
	planner.Classification
}

// DocumentType is a classification target for page breaks.
type DocumentType struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedactionIntent is a rectangle to black out on one page. Coordinates are in
// the page's display space for DrawOrientation, origin bottom-left, in points.
type RedactionIntent struct {
	ID              int64     `json:"id"`
	DocumentID      string    `json:"documentId"`
	PageIndex       int       `json:"pageIndex"`
	X               float64   `json:"x"`
	Y               float64   `json:"y"`
	Width           float64   `json:"width"`
	Height          float64   `json:"height"`
	DrawOrientation int       `json:"drawOrientation"`
	Note            string    `json:"note,omitempty"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	Applied         bool      `json:"applied"`
	Deleted         bool      `json:"deleted"`
}

// RotationIntent sets a page's absolute orientation.
type RotationIntent struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"documentId"`
	PageIndex  int       `json:"pageIndex"`
	Rotation   int       `json:"rotation"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Applied    bool      `json:"applied"`
	Deleted    bool      `json:"deleted"`
}

// PageDeletionIntent removes one page.
type PageDeletionIntent struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"documentId"`
	PageIndex  int       `json:"pageIndex"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	Applied    bool      `json:"applied"`
	Deleted    bool      `json:"deleted"`
}

// PageBreak marks the first page of a new document. ResultDocumentID stays
// nil until the break is processed.
type PageBreak struct {
	ID               int64     `json:"id"`
	DocumentID       string    `json:"documentId"`
	PageIndex        int       `json:"pageIndex"`
	DocumentTypeID   string    `json:"documentTypeId"`
	Date             string    `json:"date,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Deleted          bool      `json:"deleted"`
	Processed        bool      `json:"processed"`
	ResultDocumentID *string   `json:"resultImageId"`
}

// PlannerBreak converts the row into planner input.
func (b PageBreak) PlannerBreak() planner.Break {
	return planner.Break{
		ID:        b.ID,
		PageIndex: b.PageIndex,
		Classification: planner.Classification{
			DocumentTypeID: b.DocumentTypeID,
			Date:           b.Date,
			Comment:        b.Comment,
		},
	}
}

// PendingIntents is every unretired intent of one document.
type PendingIntents struct {
	Redactions []RedactionIntent    `json:"redactions"`
	Rotations  []RotationIntent     `json:"rotations"`
	Deletions  []PageDeletionIntent `json:"deletions"`
	Breaks     []PageBreak          `json:"breaks"`
}

// HasPageEdits reports whether any redaction, rotation, or deletion is pending.
func (p PendingIntents) HasPageEdits() bool {
	return len(p.Redactions) > 0 || len(p.Rotations) > 0 || len(p.Deletions) > 0
}

// PlannerBreaks returns the pending breaks as planner input.
func (p PendingIntents) PlannerBreaks() []planner.Break {
	out := make([]planner.Break, 0, len(p.Breaks))
	for _, b := range p.Breaks {
		out = append(out, b.PlannerBreak())
	}
	return out
}

// ChangeMarker records when a document first and last received an unsaved edit.
type ChangeMarker struct {
	DocumentID     string    `json:"documentId"`
	FirstChangedAt time.Time `json:"firstChangedAt"`
	LastChangedAt  time.Time `json:"lastChangedAt"`
	ChangedBy      string    `json:"changedBy,omitempty"`
}

// Session is one attempt to process a document's pending intents.
type Session struct {
	ID           string                  `json:"id"`
	DocumentID   string                  `json:"documentId"`
	Strategy     planner.Strategy        `json:"strategy"`
	Status       lifecycle.SessionStatus `json:"status"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
	ActingUser   string                  `json:"actingUser,omitempty"`
	Plan         planner.Plan            `json:"plan"`
	Request      json.RawMessage         `json:"-"`
	DispatchedAt *time.Time              `json:"dispatchedAt,omitempty"`
	ClaimedAt    *time.Time              `json:"claimedAt,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// EnqueueParams describes a session to create.
type EnqueueParams struct {
	ID         string
	DocumentID string
	ActingUser string
	Plan       planner.Plan
	// Request is the self-contained snapshot handed to the worker.
	Request []byte
}

// SplitAudit links a split parent to one of its children.
type SplitAudit struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"sessionId"`
	ParentDocumentID string    `json:"parentDocumentId"`
	ChildDocumentID  string    `json:"childDocumentId"`
	BreakID          int64     `json:"breakId,omitempty"`
	PageStart        int       `json:"pageStart"`
	PageEnd          int       `json:"pageEnd"`
	ActedBy          string    `json:"actedBy"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ChildRecord is one split child reported by a worker. PageStart and PageEnd
// are the child's range in the parent's original page numbering.
type ChildRecord struct {
	DocumentID     string                 `json:"documentId"`
	BreakID        int64                  `json:"breakId,omitempty"`
	PageStart      int                    `json:"pageStart"`
	PageEnd        int                    `json:"pageEnd"`
	PageCount      int                    `json:"pageCount"`
	BlobPrefix     string                 `json:"blobPrefix"`
	Classification planner.Classification `json:"classification"`
	// Redactions are already burned into the child artifact and are stored as
	// applied history, renumbered to the child's pages.
	Redactions []RedactionIntent `json:"redactions,omitempty"`
}
