// Package intents validates and records user edit intents. Every entry point
// checks access, existence, and document state before any field is
// inspected, and only then writes through the store.
package intents

import (
	"context"
	"log/slog"
	"math"
	"time"

	"docpipe/internal/auth"
	"docpipe/internal/config"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
	"docpipe/internal/textutil"
)

// Store is the persistence the service needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	HasDocumentAccess(ctx context.Context, userID, documentID string) (bool, error)
	DocumentTypeExists(ctx context.Context, id string) (bool, error)
	AddRedaction(ctx context.Context, r store.RedactionIntent) (*store.RedactionIntent, error)
	UpsertRotation(ctx context.Context, documentID string, pageIndex, rotation int, actor string) (*store.RotationIntent, error)
	AddPageDeletion(ctx context.Context, documentID string, pageIndex int, actor string) (*store.PageDeletionIntent, error)
	AddPageBreak(ctx context.Context, b store.PageBreak) (*store.PageBreak, error)
	UpdatePageBreak(ctx context.Context, b store.PageBreak, actor string) (*store.PageBreak, error)
	SoftDeletePageBreak(ctx context.Context, documentID string, breakID int64, actor string) error
	GetPageBreak(ctx context.Context, documentID string, breakID int64) (*store.PageBreak, error)
	ListPending(ctx context.Context, documentID string) (*store.PendingIntents, error)
}

// Service is the edit intent entry point.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService wires a Service.
func NewService(st Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logging.NewComponentLogger(logger, "intents")}
}

// Authorize checks that the caller may touch the document and loads it.
// Admins bypass grants; everyone else needs one.
func (s *Service) Authorize(ctx context.Context, who auth.Identity, documentID string) (*store.Document, error) {
	return Authorize(ctx, s.store, who, documentID)
}

// AccessStore is the subset of the store used for access checks.
type AccessStore interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	HasDocumentAccess(ctx context.Context, userID, documentID string) (bool, error)
}

// Authorize is the shared access check used by every mutating entry point.
func Authorize(ctx context.Context, st AccessStore, who auth.Identity, documentID string) (*store.Document, error) {
	if who.UserID == "" {
		return nil, services.Wrap(services.ErrPermissionDenied, "intents", "authorize", "no acting user", nil)
	}
	if !who.Admin() {
		ok, err := st.HasDocumentAccess(ctx, who.UserID, documentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, services.Wrap(services.ErrPermissionDenied, "intents", "authorize",
				who.UserID+" has no access to document "+documentID, nil)
		}
	}
	return st.GetDocument(ctx, documentID)
}

// editable runs the shared precondition chain and returns the document.
func (s *Service) editable(ctx context.Context, who auth.Identity, documentID string) (*store.Document, error) {
	doc, err := s.Authorize(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(doc.ID, lifecycle.OpMarkDirty, doc.Status); err != nil {
		return nil, err
	}
	return doc, nil
}

// RedactionInput is a requested redaction.
type RedactionInput struct {
	PageIndex       int     `json:"pageIndex"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	DrawOrientation int     `json:"drawOrientation"`
	Note            string  `json:"note"`
}

// AddRedaction validates and records a redaction.
func (s *Service) AddRedaction(ctx context.Context, who auth.Identity, documentID string, in RedactionInput) (*store.RedactionIntent, error) {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	if err := checkPage(doc, in.PageIndex); err != nil {
		return nil, err
	}
	if err := checkRect(in); err != nil {
		return nil, err
	}
	if !LegalRotation(in.DrawOrientation) {
		return nil, services.Invalid("drawOrientation", "must be 0, 90, 180, or 270, got %d", in.DrawOrientation)
	}
	note, err := cleanText("note", in.Note)
	if err != nil {
		return nil, err
	}
	r, err := s.store.AddRedaction(ctx, store.RedactionIntent{
		DocumentID:      doc.ID,
		PageIndex:       in.PageIndex,
		X:               in.X,
		Y:               in.Y,
		Width:           in.Width,
		Height:          in.Height,
		DrawOrientation: in.DrawOrientation,
		Note:            note,
		CreatedBy:       who.UserID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("redaction recorded",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.Int("page_index", in.PageIndex),
		logging.Int64("intent_id", r.ID),
	)
	return r, nil
}

// RotationInput is a requested absolute rotation.
type RotationInput struct {
	PageIndex int `json:"pageIndex"`
	Rotation  int `json:"rotation"`
}

// AddRotation validates and upserts a rotation.
func (s *Service) AddRotation(ctx context.Context, who auth.Identity, documentID string, in RotationInput) (*store.RotationIntent, error) {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	if err := checkPage(doc, in.PageIndex); err != nil {
		return nil, err
	}
	if !LegalRotation(in.Rotation) {
		return nil, services.Invalid("rotation", "must be 0, 90, 180, or 270, got %d", in.Rotation)
	}
	return s.store.UpsertRotation(ctx, doc.ID, in.PageIndex, in.Rotation, who.UserID)
}

// AddPageDeletion validates and records a page deletion.
func (s *Service) AddPageDeletion(ctx context.Context, who auth.Identity, documentID string, pageIndex int) (*store.PageDeletionIntent, error) {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	if err := checkPage(doc, pageIndex); err != nil {
		return nil, err
	}
	return s.store.AddPageDeletion(ctx, doc.ID, pageIndex, who.UserID)
}

// BreakInput is a requested page break.
type BreakInput struct {
	PageIndex      int    `json:"pageIndex"`
	DocumentTypeID string `json:"documentTypeId"`
	Date           string `json:"date"`
	Comment        string `json:"comment"`
}

// AddPageBreak validates and records a page break.
func (s *Service) AddPageBreak(ctx context.Context, who auth.Identity, documentID string, in BreakInput) (*store.PageBreak, error) {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	b, err := s.validateBreak(ctx, doc, in)
	if err != nil {
		return nil, err
	}
	b.CreatedBy = who.UserID
	created, err := s.store.AddPageBreak(ctx, b)
	if err != nil {
		return nil, err
	}
	s.logger.Info("page break recorded",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.Int("page_index", created.PageIndex),
		logging.String("document_type", created.DocumentTypeID),
	)
	return created, nil
}

// AddGenericBreak records a break that inherits the parent's type.
func (s *Service) AddGenericBreak(ctx context.Context, who auth.Identity, documentID string, in BreakInput) (*store.PageBreak, error) {
	in.DocumentTypeID = planner.GenericType
	return s.AddPageBreak(ctx, who, documentID, in)
}

// UpdatePageBreak validates and rewrites a pending break.
func (s *Service) UpdatePageBreak(ctx context.Context, who auth.Identity, documentID string, breakID int64, in BreakInput) (*store.PageBreak, error) {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.GetPageBreak(ctx, doc.ID, breakID)
	if err != nil {
		return nil, err
	}
	if existing.Deleted || existing.Processed {
		return nil, services.Wrap(services.ErrNotFound, "intents", "update break", "break is no longer pending", nil)
	}
	b, err := s.validateBreak(ctx, doc, in)
	if err != nil {
		return nil, err
	}
	b.ID = breakID
	return s.store.UpdatePageBreak(ctx, b, who.UserID)
}

// RemovePageBreak soft-deletes a pending break.
func (s *Service) RemovePageBreak(ctx context.Context, who auth.Identity, documentID string, breakID int64) error {
	doc, err := s.editable(ctx, who, documentID)
	if err != nil {
		return err
	}
	return s.store.SoftDeletePageBreak(ctx, doc.ID, breakID, who.UserID)
}

// ListPending returns a document's unretired intents.
func (s *Service) ListPending(ctx context.Context, who auth.Identity, documentID string) (*store.PendingIntents, error) {
	doc, err := s.Authorize(ctx, who, documentID)
	if err != nil {
		return nil, err
	}
	return s.store.ListPending(ctx, doc.ID)
}

func (s *Service) validateBreak(ctx context.Context, doc *store.Document, in BreakInput) (store.PageBreak, error) {
	if err := checkPage(doc, in.PageIndex); err != nil {
		return store.PageBreak{}, err
	}
	if in.DocumentTypeID == "" {
		return store.PageBreak{}, services.Invalid("documentTypeId", "required")
	}
	if in.DocumentTypeID != planner.GenericType {
		ok, err := s.store.DocumentTypeExists(ctx, in.DocumentTypeID)
		if err != nil {
			return store.PageBreak{}, err
		}
		if !ok {
			return store.PageBreak{}, services.Invalid("documentTypeId", "unknown document type %q", in.DocumentTypeID)
		}
	}
	if in.Date != "" {
		if _, err := time.Parse(time.DateOnly, in.Date); err != nil {
			return store.PageBreak{}, services.Invalid("date", "must be YYYY-MM-DD, got %q", in.Date)
		}
	}
	comment, err := cleanText("comment", in.Comment)
	if err != nil {
		return store.PageBreak{}, err
	}
	return store.PageBreak{
		DocumentID:     doc.ID,
		PageIndex:      in.PageIndex,
		DocumentTypeID: in.DocumentTypeID,
		Date:           in.Date,
		Comment:        comment,
	}, nil
}

// LegalRotation reports whether v is a quarter turn.
func LegalRotation(v int) bool {
	return v == 0 || v == 90 || v == 180 || v == 270
}

func checkPage(doc *store.Document, pageIndex int) error {
	if pageIndex < 0 || pageIndex >= doc.PageCount {
		return services.Invalid("pageIndex", "must be in [0,%d), got %d", doc.PageCount, pageIndex)
	}
	return nil
}

func checkRect(in RedactionInput) error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"x", in.X}, {"y", in.Y}, {"width", in.Width}, {"height", in.Height}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return services.Invalid(f.name, "must be a finite number")
		}
	}
	if in.X < 0 {
		return services.Invalid("x", "must not be negative")
	}
	if in.Y < 0 {
		return services.Invalid("y", "must not be negative")
	}
	if in.Width <= 0 {
		return services.Invalid("width", "must be positive")
	}
	if in.Height <= 0 {
		return services.Invalid("height", "must be positive")
	}
	return nil
}

func cleanText(field, value string) (string, error) {
	out, ok := textutil.NormalizeText(value, config.MaxCommentRunes)
	if !ok {
		return "", services.Invalid(field, "longer than %d characters", config.MaxCommentRunes)
	}
	return out, nil
}
