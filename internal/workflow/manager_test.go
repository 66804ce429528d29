package workflow_test

import (
	"context"
	"testing"
	"time"

	"docpipe/internal/auth"
	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/lifecycle"
	"docpipe/internal/pdfops"
	"docpipe/internal/session"
	"docpipe/internal/store"
	"docpipe/internal/testsupport"
	"docpipe/internal/worker"
	"docpipe/internal/workflow"
)

var alice = auth.Identity{UserID: "alice", Role: auth.RoleUser}

type harness struct {
	cfg      *config.Config
	st       *store.Store
	sessions *session.Manager
	blobs    *blob.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.QueuePollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	blobs, err := blob.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}
	sessions := session.NewManager(session.Options{Store: st})
	editor := pdfops.NewEditor(true)
	proc, err := worker.NewProcessor(worker.Options{
		Blobs:      blobs,
		Editor:     editor,
		Redactor:   pdfops.NewRedactor(editor, &testsupport.RasterStub{}, 72, nil),
		Reporter:   sessions.Reporter(),
		ScratchDir: cfg.Paths.ScratchDir,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	sessions.SetRunner(proc)
	return &harness{cfg: cfg, st: st, sessions: sessions, blobs: blobs}
}

// queueSplit seeds a document with one break and starts a split session.
func (h *harness) queueSplit(t *testing.T, pages, breakAt int) *store.Session {
	t.Helper()
	ctx := context.Background()
	doc := testsupport.SeedDocument(t, h.st, alice.UserID, pages)
	if err := h.blobs.Write(ctx, blob.KeyAt(doc.BlobPrefix, blob.StageOriginal), testsupport.PDF(pages)); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	testsupport.SeedType(t, h.st, "invoice")
	if _, err := h.st.AddPageBreak(ctx, store.PageBreak{
		DocumentID: doc.ID, PageIndex: breakAt, DocumentTypeID: "invoice", CreatedBy: alice.UserID,
	}); err != nil {
		t.Fatalf("AddPageBreak: %v", err)
	}
	sess, err := h.sessions.Start(ctx, alice, doc.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != lifecycle.SessionQueued {
		t.Fatalf("session status = %s, want queued", sess.Status)
	}
	return sess
}

func TestLanesProcessDispatchedSessions(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(2))
	ctx := context.Background()
	sess := h.queueSplit(t, 6, 2)
	if _, err := h.sessions.Dispatch(ctx, alice, sess.DocumentID, sess.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mgr := workflow.NewManager(h.cfg, h.st, h.sessions, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	if err := mgr.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got, err := h.st.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == lifecycle.SessionCompleted {
			break
		}
		if got.Status == lifecycle.SessionFailed {
			t.Fatalf("session failed: %s", got.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still %s", got.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	children, err := h.st.ChildDocuments(ctx, sess.DocumentID)
	if err != nil || len(children) != 2 {
		t.Fatalf("children = %d, %v", len(children), err)
	}

	status := mgr.Status(ctx)
	if !status.Running || len(status.Lanes) != 2 {
		t.Fatalf("status = %+v", status)
	}
	handled := 0
	for _, l := range status.Lanes {
		handled += l.Handled
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want 1", handled)
	}
	if status.SessionStats[string(lifecycle.SessionCompleted)] != 1 {
		t.Fatalf("session stats = %v", status.SessionStats)
	}
}

func TestUndispatchedSessionsStayQueued(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(1))
	ctx := context.Background()
	sess := h.queueSplit(t, 4, 1)

	mgr := workflow.NewManager(h.cfg, h.st, h.sessions, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	mgr.Stop()

	got, err := h.st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != lifecycle.SessionQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestRemoteModeRunsNoLanes(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(3))
	h.cfg.Dispatch.Mode = config.DispatchCloudEvents
	mgr := workflow.NewManager(h.cfg, h.st, h.sessions, nil)
	status := mgr.Status(context.Background())
	if len(status.Lanes) != 0 || status.Mode != config.DispatchCloudEvents {
		t.Fatalf("status = %+v", status)
	}
}
