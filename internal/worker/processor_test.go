package worker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"docpipe/internal/api"
	"docpipe/internal/blob"
	"docpipe/internal/lifecycle"
	"docpipe/internal/pdfops"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
	"docpipe/internal/testsupport"
	"docpipe/internal/worker"
)

type recordingReporter struct {
	mu       sync.Mutex
	children []store.ChildRecord
	outcomes []lifecycle.Outcome
	linkErr  error
}

func (r *recordingReporter) LinkResults(_ context.Context, _, _ string, children []store.ChildRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkErr != nil {
		return r.linkErr
	}
	r.children = append(r.children, children...)
	return nil
}

func (r *recordingReporter) ReportOutcome(_ context.Context, _ string, outcome lifecycle.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

type harness struct {
	blobs    *blob.Manager
	reporter *recordingReporter
	raster   *testsupport.RasterStub
	proc     *worker.Processor
	editor   *pdfops.Editor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend, err := blob.NewFSBackend(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFSBackend: %v", err)
	}
	h := &harness{
		blobs:    blob.NewManager(backend, nil),
		reporter: &recordingReporter{},
		raster:   &testsupport.RasterStub{},
		editor:   pdfops.NewEditor(true),
	}
	ids := 0
	proc, err := worker.NewProcessor(worker.Options{
		Blobs:      h.blobs,
		Editor:     h.editor,
		Redactor:   pdfops.NewRedactor(h.editor, h.raster, 72, nil),
		Reporter:   h.reporter,
		ScratchDir: t.TempDir(),
		NewID: func() string {
			ids++
			return fmt.Sprintf("child-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	h.proc = proc
	return h
}

func (h *harness) seed(t *testing.T, docID string, pages int) {
	t.Helper()
	if err := h.blobs.Write(context.Background(), blob.Resolve(docID, blob.StageOriginal), testsupport.PDF(pages)); err != nil {
		t.Fatalf("seed original: %v", err)
	}
}

func (h *harness) pageCount(t *testing.T, key string) int {
	t.Helper()
	data, err := h.blobs.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	path := filepath.Join(t.TempDir(), "check.pdf")
	testsupport.WriteBytes(t, path, data)
	n, err := h.editor.PageCount(path)
	if err != nil {
		t.Fatalf("page count %s: %v", key, err)
	}
	return n
}

func request(t *testing.T, docID string, pages int, intents store.PendingIntents) api.ProcessingRequest {
	t.Helper()
	parent := planner.Classification{DocumentTypeID: "invoice"}
	plan, err := planner.Build(pages, parent, intents.PlannerBreaks())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return api.ProcessingRequest{
		SessionID:  "session-" + docID,
		DocumentID: docID,
		ActingUser: "alice",
		PageCount:  pages,
		BlobPrefix: blob.Prefix(docID),
		Parent:     parent,
		Plan:       plan,
		Intents:    intents,
	}
}

func breaks(pages ...int) []store.PageBreak {
	types := []string{"A", "B", "C", "D"}
	out := make([]store.PageBreak, len(pages))
	for i, p := range pages {
		out[i] = store.PageBreak{ID: int64(i + 1), PageIndex: p, DocumentTypeID: types[i%len(types)]}
	}
	return out
}

func TestProcessSplitsIntoChildren(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 10)
	req := request(t, "doc", 10, store.PendingIntents{Breaks: breaks(0, 4, 7)})

	outcome, err := h.proc.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Kind != lifecycle.OutcomeSplit {
		t.Fatalf("outcome = %+v, want split", outcome)
	}
	want := []struct {
		start, end, pages int
		typ               string
	}{{0, 4, 4, "A"}, {4, 7, 3, "B"}, {7, 10, 3, "C"}}
	if len(h.reporter.children) != len(want) {
		t.Fatalf("children = %d, want %d", len(h.reporter.children), len(want))
	}
	for i, w := range want {
		c := h.reporter.children[i]
		if c.PageStart != w.start || c.PageEnd != w.end || c.PageCount != w.pages || c.Classification.DocumentTypeID != w.typ {
			t.Fatalf("child %d = %+v, want %+v", i, c, w)
		}
		if got := h.pageCount(t, blob.KeyAt(c.BlobPrefix, blob.StageProduction)); got != w.pages {
			t.Fatalf("child %d artifact pages = %d, want %d", i, got, w.pages)
		}
		if ok, _ := h.blobs.Exists(context.Background(), blob.KeyAt(c.BlobPrefix, blob.StageOriginal)); !ok {
			t.Fatalf("child %d original stage missing", i)
		}
	}
	if ok, _ := h.blobs.Exists(context.Background(), blob.Resolve("doc", blob.StageBackup)); ok {
		t.Fatal("backup written without page edits")
	}
	if len(h.reporter.outcomes) != 1 {
		t.Fatalf("outcomes reported = %d", len(h.reporter.outcomes))
	}
}

func TestProcessDeletionTakesPrecedenceOverRedaction(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 10)
	intents := store.PendingIntents{
		Breaks:    []store.PageBreak{{ID: 9, PageIndex: 3, DocumentTypeID: "B"}},
		Deletions: []store.PageDeletionIntent{{PageIndex: 1}, {PageIndex: 2}},
		Redactions: []store.RedactionIntent{
			{ID: 1, PageIndex: 1, X: 1, Y: 1, Width: 5, Height: 5, CreatedBy: "alice"},
			{ID: 2, PageIndex: 5, X: 1, Y: 1, Width: 5, Height: 5, CreatedBy: "alice"},
		},
	}
	outcome, err := h.proc.Process(context.Background(), request(t, "doc", 10, intents))
	if err != nil || outcome.Kind != lifecycle.OutcomeSplit {
		t.Fatalf("Process = %+v, %v", outcome, err)
	}
	if got := h.raster.Calls(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("rasterized pages = %v, want [5]", got)
	}
	children := h.reporter.children
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
	lead, tail := children[0], children[1]
	if lead.PageCount != 1 || lead.Classification.DocumentTypeID != "invoice" || lead.BreakID != 0 {
		t.Fatalf("implicit child = %+v", lead)
	}
	if tail.PageCount != 7 || tail.BreakID != 9 {
		t.Fatalf("break child = %+v", tail)
	}
	if len(lead.Redactions) != 0 {
		t.Fatalf("deleted page redaction copied: %+v", lead.Redactions)
	}
	if len(tail.Redactions) != 1 || tail.Redactions[0].PageIndex != 2 || !tail.Redactions[0].Applied {
		t.Fatalf("tail redactions = %+v, want one applied at page 2", tail.Redactions)
	}
	if ok, _ := h.blobs.Exists(context.Background(), blob.Resolve("doc", blob.StageBackup)); !ok {
		t.Fatal("backup missing")
	}
}

func TestProcessInPlaceEditsWriteProduction(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 4)
	intents := store.PendingIntents{
		Rotations: []store.RotationIntent{{PageIndex: 0, Rotation: 90}},
		Deletions: []store.PageDeletionIntent{{PageIndex: 3}},
	}
	outcome, err := h.proc.Process(context.Background(), request(t, "doc", 4, intents))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != lifecycle.Unchanged(3, false) {
		t.Fatalf("outcome = %+v", outcome)
	}
	if got := h.pageCount(t, blob.Resolve("doc", blob.StageProduction)); got != 3 {
		t.Fatalf("production pages = %d, want 3", got)
	}

	backup, err := h.blobs.Read(context.Background(), blob.Resolve("doc", blob.StageBackup))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Equal(backup, testsupport.PDF(4)) {
		t.Fatal("backup is not the pre-edit artifact")
	}

	// A second session starts from production and must not replace the backup.
	again := request(t, "doc", 3, store.PendingIntents{Deletions: []store.PageDeletionIntent{{PageIndex: 0}}})
	if _, err := h.proc.Process(context.Background(), again); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	after, _ := h.blobs.Read(context.Background(), blob.Resolve("doc", blob.StageBackup))
	if !bytes.Equal(after, backup) {
		t.Fatal("backup was overwritten")
	}
}

func TestProcessAllPagesDeleted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 2)
	intents := store.PendingIntents{Deletions: []store.PageDeletionIntent{{PageIndex: 0}, {PageIndex: 1}}}
	outcome, err := h.proc.Process(context.Background(), request(t, "doc", 2, intents))
	if err != nil || outcome.Kind != lifecycle.OutcomeDeleted {
		t.Fatalf("Process = %+v, %v", outcome, err)
	}
	if ok, _ := h.blobs.Exists(context.Background(), blob.Resolve("doc", blob.StageProduction)); ok {
		t.Fatal("production written for a deleted document")
	}
}

func TestProcessMetadataOnlySkipsArtifact(t *testing.T) {
	h := newHarness(t)
	req := request(t, "missing", 5, store.PendingIntents{Breaks: breaks(0)})
	outcome, err := h.proc.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != lifecycle.Unchanged(5, false) {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestProcessCorruptArtifactFails(t *testing.T) {
	h := newHarness(t)
	if err := h.blobs.Write(context.Background(), blob.Resolve("doc", blob.StageOriginal), []byte("garbage")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req := request(t, "doc", 3, store.PendingIntents{Rotations: []store.RotationIntent{{PageIndex: 0, Rotation: 180}}})
	outcome, err := h.proc.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Kind != lifecycle.OutcomeFailed || !outcome.Corrupted || outcome.Reason == "" {
		t.Fatalf("outcome = %+v, want corrupted failure", outcome)
	}
}

func TestProcessPageCountMismatchFails(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 3)
	req := request(t, "doc", 5, store.PendingIntents{Rotations: []store.RotationIntent{{PageIndex: 0, Rotation: 90}}})
	outcome, _ := h.proc.Process(context.Background(), req)
	if outcome.Kind != lifecycle.OutcomeFailed || outcome.Corrupted {
		t.Fatalf("outcome = %+v, want plain failure", outcome)
	}
}

func TestProcessLinkFailureFailsSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 4)
	h.reporter.linkErr = services.Wrap(services.ErrTransient, "api", "link", "unavailable", nil)
	outcome, err := h.proc.Process(context.Background(), request(t, "doc", 4, store.PendingIntents{Breaks: breaks(2)}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Kind != lifecycle.OutcomeFailed {
		t.Fatalf("outcome = %+v, want failed", outcome)
	}
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	if _, err := worker.NewProcessor(worker.Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

// stepLog records the order in which the processor drives its collaborators.
type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) add(step string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step)
}

type loggingEditor struct {
	*pdfops.Editor
	log *stepLog
}

func (e loggingEditor) SetRotations(in, out string, rotations map[int]int) error {
	e.log.add("rotate")
	return e.Editor.SetRotations(in, out, rotations)
}

type loggingRedactor struct {
	*pdfops.Redactor
	log *stepLog
}

func (r loggingRedactor) Apply(ctx context.Context, in, out, workDir string, boxes map[int][]pdfops.Box) error {
	r.log.add("redact")
	return r.Redactor.Apply(ctx, in, out, workDir, boxes)
}

func TestProcessRedactsBeforeRotating(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "doc", 3)
	steps := &stepLog{}
	proc, err := worker.NewProcessor(worker.Options{
		Blobs:      h.blobs,
		Editor:     loggingEditor{Editor: h.editor, log: steps},
		Redactor:   loggingRedactor{Redactor: pdfops.NewRedactor(h.editor, h.raster, 72, nil), log: steps},
		Reporter:   h.reporter,
		ScratchDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	intents := store.PendingIntents{
		Redactions: []store.RedactionIntent{{PageIndex: 1, X: 10, Y: 10, Width: 50, Height: 20, DrawOrientation: 90}},
		Rotations:  []store.RotationIntent{{PageIndex: 1, Rotation: 180}},
	}
	outcome, err := proc.Process(context.Background(), request(t, "doc", 3, intents))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Kind != lifecycle.OutcomeUnchanged || !outcome.Redacted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !slices.Equal(steps.steps, []string{"redact", "rotate"}) {
		t.Fatalf("steps = %v, want [redact rotate]", steps.steps)
	}
	if got := h.raster.Calls(); !slices.Equal(got, []int{1}) {
		t.Fatalf("rasterized pages = %v, want [1]", got)
	}

	data, err := h.blobs.Read(context.Background(), blob.Resolve("doc", blob.StageProduction))
	if err != nil {
		t.Fatalf("read production: %v", err)
	}
	path := filepath.Join(t.TempDir(), "production.pdf")
	testsupport.WriteBytes(t, path, data)
	rots, err := h.editor.Rotations(path)
	if err != nil {
		t.Fatalf("Rotations: %v", err)
	}
	if !slices.Equal(rots, []int{0, 180, 0}) {
		t.Fatalf("rotations = %v, want flattened page at 180", rots)
	}
}
