// Package ingest registers new PDF documents: it uploads the artifact to blob
// storage and inserts a synced document row that can then receive intents.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/fileutil"
	"docpipe/internal/logging"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
	"docpipe/internal/textutil"
)

// PageCounter reports the number of pages in a PDF file.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// Request describes one file to ingest.
type Request struct {
	Path string
	// Owner, when set, is granted access to the new document.
	Owner          string
	DocumentTypeID string
	Date           string
	Comment        string
}

// Ingester uploads files and records them as documents.
type Ingester struct {
	store  *store.Store
	blobs  *blob.Manager
	pages  PageCounter
	logger *slog.Logger
}

// New builds an Ingester.
func New(st *store.Store, blobs *blob.Manager, pages PageCounter, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingester{store: st, blobs: blobs, pages: pages, logger: logging.NewComponentLogger(logger, "ingest")}
}

// Ingest validates and uploads req.Path. The original stage is written once;
// production starts as the same bytes.
func (i *Ingester) Ingest(ctx context.Context, req Request) (*store.Document, error) {
	absPath, err := sourcePath(req.Path)
	if err != nil {
		return nil, err
	}
	classification, err := i.classification(ctx, req)
	if err != nil {
		return nil, err
	}
	pages, err := i.pages.PageCount(absPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "ingest", "page count", "file is not a readable PDF", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	sum, err := fileutil.SHA256File(absPath)
	if err != nil {
		return nil, fmt.Errorf("checksum source file: %w", err)
	}

	id := uuid.NewString()
	prefix := blob.Prefix(id)
	ctx = services.WithDocumentID(ctx, id)
	logger := logging.WithContext(ctx, i.logger)

	if _, err := i.blobs.WriteOnce(ctx, blob.KeyAt(prefix, blob.StageOriginal), data); err != nil {
		return nil, fmt.Errorf("upload original: %w", err)
	}
	if err := i.blobs.Write(ctx, blob.KeyAt(prefix, blob.StageProduction), data); err != nil {
		return nil, fmt.Errorf("upload production: %w", err)
	}
	doc, err := i.store.CreateDocument(ctx, store.NewDocument{
		ID:             id,
		PageCount:      pages,
		BlobPrefix:     prefix,
		Classification: classification,
	})
	if err != nil {
		return nil, err
	}
	if req.Owner != "" {
		if err := i.store.GrantAccess(ctx, req.Owner, id); err != nil {
			return nil, err
		}
	}
	logger.Info("document ingested",
		logging.String(logging.FieldEventType, "document_ingested"),
		logging.String("source", absPath),
		logging.Int("page_count", pages),
		logging.String("sha256", sum),
		logging.String("owner", req.Owner),
	)
	return doc, nil
}

func (i *Ingester) classification(ctx context.Context, req Request) (planner.Classification, error) {
	var c planner.Classification
	if typ := strings.TrimSpace(req.DocumentTypeID); typ != "" {
		ok, err := i.store.DocumentTypeExists(ctx, typ)
		if err != nil {
			return c, err
		}
		if !ok {
			return c, services.Invalid("documentTypeId", "unknown document type %q", typ)
		}
		c.DocumentTypeID = typ
	}
	c.Date = strings.TrimSpace(req.Date)
	comment, ok := textutil.NormalizeText(req.Comment, config.MaxCommentRunes)
	if !ok {
		return c, services.Invalid("comment", "longer than %d characters", config.MaxCommentRunes)
	}
	c.Comment = comment
	return c, nil
}

func sourcePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", services.Invalid("path", "source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "ingest", "stat", "source file not found", err)
	}
	if info.IsDir() {
		return "", services.Invalid("path", "%q is a directory", absPath)
	}
	if ext := strings.ToLower(filepath.Ext(info.Name())); ext != ".pdf" {
		return "", services.Invalid("path", "unsupported file extension %q", ext)
	}
	return absPath, nil
}
