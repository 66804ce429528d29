package testsupport

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"docpipe/internal/config"
	"docpipe/internal/planner"
	"docpipe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedDocument inserts a synced document of pageCount pages with type
// "invoice" and grants owner access to it.
func SeedDocument(t testing.TB, st *store.Store, owner string, pageCount int) *store.Document {
	t.Helper()

	ctx := context.Background()
	if _, err := st.UpsertDocumentType(ctx, "invoice", "Invoice"); err != nil {
		t.Fatalf("UpsertDocumentType: %v", err)
	}
	id := uuid.NewString()
	doc, err := st.CreateDocument(ctx, store.NewDocument{
		ID:             id,
		PageCount:      pageCount,
		BlobPrefix:     fmt.Sprintf("documents/%s", id),
		Classification: planner.Classification{DocumentTypeID: "invoice", Date: "2024-01-31"},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if owner != "" {
		if err := st.GrantAccess(ctx, owner, doc.ID); err != nil {
			t.Fatalf("GrantAccess: %v", err)
		}
	}
	return doc
}

// SeedType registers a document type.
func SeedType(t testing.TB, st *store.Store, id string) {
	t.Helper()
	if _, err := st.UpsertDocumentType(context.Background(), id, id); err != nil {
		t.Fatalf("UpsertDocumentType(%s): %v", id, err)
	}
}
