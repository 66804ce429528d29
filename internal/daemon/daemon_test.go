package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"docpipe/internal/api"
	"docpipe/internal/auth"
	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/ingest"
	"docpipe/internal/lifecycle"
	"docpipe/internal/pdfops"
	"docpipe/internal/services"
	"docpipe/internal/session"
	"docpipe/internal/store"
	"docpipe/internal/testsupport"
	"docpipe/internal/worker"
	"docpipe/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	cfg    *config.Config
	st     *store.Store
	blobs  *blob.Manager
	daemon *Daemon
	router *gin.Engine
	issuer *auth.Issuer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(0))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
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
	issuer, err := auth.NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	d, err := New(Options{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Workflow: workflow.NewManager(cfg, st, sessions, nil),
		Ingester: ingest.New(st, blobs, editor, nil),
		Issuer:   issuer,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return &env{cfg: cfg, st: st, blobs: blobs, daemon: d, router: newRouter(d, nil), issuer: issuer}
}

func (e *env) seed(t *testing.T, owner string, pages int) *store.Document {
	t.Helper()
	doc := testsupport.SeedDocument(t, e.st, owner, pages)
	if err := e.blobs.Write(context.Background(), blob.KeyAt(doc.BlobPrefix, blob.StageOriginal), testsupport.PDF(pages)); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	return doc
}

func (e *env) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	token, _, err := e.issuer.Issue(subject, role, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestDaemonStartStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := e.daemon.Status(ctx)
	if !status.Running || status.APIBind == "" || status.Storage != config.BackendFilesystem {
		t.Fatalf("status = %+v", status)
	}
	if len(status.Dependencies) != 1 || status.Dependencies[0].Name != "pdftoppm" {
		t.Fatalf("dependencies = %+v", status.Dependencies)
	}
	if err := e.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	resp, err := http.Get("http://" + e.daemon.APIAddress() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	e.daemon.Stop()
	if e.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsLockedOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	other, err := New(Options{
		Config:   e.cfg,
		Store:    e.st,
		Sessions: e.daemon.sessions,
		Workflow: workflow.NewManager(e.cfg, e.st, e.daemon.sessions, nil),
		Issuer:   e.issuer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("second daemon acquired the lock")
	}
}

func TestBookmarkToDispatchFlow(t *testing.T) {
	e := newEnv(t)
	doc := e.seed(t, "alice", 6)
	token := e.token(t, "alice", auth.RoleUser)
	base := "/documents/" + doc.ID

	w := e.do(t, http.MethodPost, base+"/bookmarks", token, map[string]any{
		"pageIndex": 2, "documentTypeId": "invoice", "date": "2024-02-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("bookmark status = %d body %s", w.Code, w.Body)
	}
	raw := decode[map[string]any](t, w)
	if v, ok := raw["resultImageId"]; !ok || v != nil {
		t.Fatalf("resultImageId = %v (present %v), want null", v, ok)
	}

	w = e.do(t, http.MethodPost, base+"/generic-break", token, map[string]any{"pageIndex": 4})
	if w.Code != http.StatusCreated {
		t.Fatalf("generic break status = %d body %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodGet, base+"/intents", token, nil)
	intents := decode[api.IntentsView](t, w)
	if len(intents.Pending.Breaks) != 2 {
		t.Fatalf("pending breaks = %+v", intents.Pending.Breaks)
	}

	w = e.do(t, http.MethodPost, base+"/create-processing-session", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d body %s", w.Code, w.Body)
	}
	sess := decode[api.SessionView](t, w)
	if sess.Status != string(lifecycle.SessionQueued) || sess.Strategy == "" {
		t.Fatalf("session = %+v", sess)
	}

	w = e.do(t, http.MethodPost, base+"/create-processing-session", token, nil)
	if w.Code != http.StatusConflict || decode[api.ErrorResponse](t, w).Code != "conflict" {
		t.Fatalf("second session = %d %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodPost, base+"/start-processing/"+sess.ID, token, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d body %s", w.Code, w.Body)
	}
	if got := decode[api.SessionView](t, w); got.DispatchedAt == "" {
		t.Fatalf("dispatched session = %+v", got)
	}

	w = e.do(t, http.MethodGet, "/processing/"+sess.ID+"/status", token, nil)
	if w.Code != http.StatusOK || decode[api.SessionView](t, w).ID != sess.ID {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodGet, base, token, nil)
	view := decode[api.DocumentView](t, w)
	if view.Status != string(lifecycle.StatusQueued) {
		t.Fatalf("document = %+v", view)
	}
	if view.ActiveSessionID != sess.ID || len(view.Sessions) != 1 || view.Sessions[0].ID != sess.ID {
		t.Fatalf("document sessions = %q %+v", view.ActiveSessionID, view.Sessions)
	}
}

func TestInPlaceEditsCompleteInline(t *testing.T) {
	e := newEnv(t)
	doc := e.seed(t, "alice", 3)
	token := e.token(t, "alice", auth.RoleUser)
	base := "/documents/" + doc.ID

	if w := e.do(t, http.MethodPut, base+"/rotations", token, map[string]any{"pageIndex": 0, "rotation": 90}); w.Code != http.StatusOK {
		t.Fatalf("rotation = %d %s", w.Code, w.Body)
	}
	if w := e.do(t, http.MethodPost, base+"/page-deletions", token, map[string]any{"pageIndex": 2}); w.Code != http.StatusCreated {
		t.Fatalf("deletion = %d %s", w.Code, w.Body)
	}
	w := e.do(t, http.MethodPost, base+"/redactions", token, map[string]any{
		"pageIndex": 1, "x": 10, "y": 10, "width": 50, "height": 20,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("redaction = %d %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodPost, base+"/create-processing-session", token, nil)
	sess := decode[api.SessionView](t, w)
	if sess.Status != string(lifecycle.SessionCompleted) || !sess.Terminal {
		t.Fatalf("session = %+v", sess)
	}
	view := decode[api.DocumentView](t, e.do(t, http.MethodGet, base, token, nil))
	if view.Status != string(lifecycle.StatusSynced) || view.PageCount != 2 || !view.Redacted {
		t.Fatalf("document = %+v", view)
	}
	if view.ActiveSessionID != "" || len(view.Sessions) != 1 || view.Sessions[0].Status != string(lifecycle.SessionCompleted) {
		t.Fatalf("document sessions = %q %+v", view.ActiveSessionID, view.Sessions)
	}

	w = e.do(t, http.MethodDelete, "/processing/"+sess.ID, token, nil)
	if w.Code != http.StatusConflict || decode[api.ErrorResponse](t, w).Code != "invalid_state_transition" {
		t.Fatalf("cancel completed = %d %s", w.Code, w.Body)
	}
}

func TestWorkerCallbacks(t *testing.T) {
	e := newEnv(t)
	doc := e.seed(t, "alice", 4)
	user := e.token(t, "alice", auth.RoleUser)
	workerToken := e.token(t, "remote-worker", auth.RoleWorker)
	base := "/documents/" + doc.ID

	e.do(t, http.MethodPost, base+"/bookmarks", user, map[string]any{"pageIndex": 1, "documentTypeId": "invoice"})
	sess := decode[api.SessionView](t, e.do(t, http.MethodPost, base+"/create-processing-session", user, nil))
	if _, err := e.st.Claim(context.Background(), sess.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	outcome := api.OutcomeRequest{Outcome: lifecycle.Failed("renderer crashed")}
	if w := e.do(t, http.MethodPut, "/processing/"+sess.ID+"/status", user, outcome); w.Code != http.StatusForbidden {
		t.Fatalf("user report = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, base+"/link-results", user, api.LinkResultsRequest{SessionID: sess.ID}); w.Code != http.StatusForbidden {
		t.Fatalf("user link = %d", w.Code)
	}
	w := e.do(t, http.MethodPut, "/processing/"+sess.ID+"/status", workerToken, api.OutcomeRequest{Outcome: lifecycle.Outcome{Kind: "exploded"}})
	if w.Code != http.StatusBadRequest || decode[api.ErrorResponse](t, w).Field != "kind" {
		t.Fatalf("bad outcome = %d %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodGet, "/processing/"+sess.ID+"/status", workerToken, nil)
	if w.Code != http.StatusOK || decode[api.SessionView](t, w).Status != string(lifecycle.SessionRunning) {
		t.Fatalf("worker status read = %d %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodPut, "/processing/"+sess.ID+"/status", workerToken, outcome)
	if w.Code != http.StatusOK {
		t.Fatalf("worker report = %d %s", w.Code, w.Body)
	}
	got := decode[api.SessionView](t, w)
	if got.Status != string(lifecycle.SessionFailed) || got.ErrorMessage != "renderer crashed" {
		t.Fatalf("session = %+v", got)
	}
	view := decode[api.DocumentView](t, e.do(t, http.MethodGet, base, user, nil))
	if view.Status != string(lifecycle.StatusNeedsManipulation) {
		t.Fatalf("document = %+v", view)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	doc := e.seed(t, "alice", 2)
	alice := e.token(t, "alice", auth.RoleUser)
	mallory := e.token(t, "mallory", auth.RoleUser)
	admin := e.token(t, "root", auth.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
		field  string
	}{
		{"no token", http.MethodGet, "/documents/" + doc.ID, "", nil, http.StatusUnauthorized, "unauthenticated", ""},
		{"garbage token", http.MethodGet, "/documents/" + doc.ID, "abc", nil, http.StatusUnauthorized, "unauthenticated", ""},
		{"no grant", http.MethodGet, "/documents/" + doc.ID, mallory, nil, http.StatusForbidden, "permission_denied", ""},
		{"admin missing doc", http.MethodGet, "/documents/missing", admin, nil, http.StatusNotFound, "not_found", ""},
		{"page out of range", http.MethodPost, "/documents/" + doc.ID + "/page-deletions", alice, map[string]any{"pageIndex": 9}, http.StatusBadRequest, "validation_error", "pageIndex"},
		{"bad rotation", http.MethodPut, "/documents/" + doc.ID + "/rotations", alice, map[string]any{"pageIndex": 0, "rotation": 45}, http.StatusBadRequest, "validation_error", "rotation"},
		{"bad bookmark id", http.MethodDelete, "/documents/" + doc.ID + "/bookmarks/zero", alice, nil, http.StatusBadRequest, "validation_error", "bookmarkId"},
		{"malformed body", http.MethodPost, "/documents/" + doc.ID + "/redactions", alice, "not an object", http.StatusBadRequest, "validation_error", "body"},
		{"nothing to process", http.MethodPost, "/documents/" + doc.ID + "/create-processing-session", alice, nil, http.StatusConflict, "invalid_state_transition", ""},
		{"unknown session", http.MethodGet, "/processing/nope/status", admin, nil, http.StatusNotFound, "not_found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			resp := decode[api.ErrorResponse](t, w)
			if resp.Code != tt.code || resp.Field != tt.field {
				t.Fatalf("error = %+v, want code %q field %q", resp, tt.code, tt.field)
			}
		})
	}
}

func TestStatusForCoversEveryMarker(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Invalid("x", "bad"), http.StatusBadRequest},
		{services.ErrPermissionDenied, http.StatusForbidden},
		{services.ErrNotFound, http.StatusNotFound},
		{&services.TransitionError{Entity: "document", Op: "claim", From: "synced"}, http.StatusConflict},
		{services.ErrConflict, http.StatusConflict},
		{services.Wrap(services.ErrProcessing, "worker", "split", "unreadable", nil), http.StatusUnprocessableEntity},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{services.ErrTransient, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMaintenanceHelpers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.daemon.AddDocumentType(ctx, " ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("blank type err = %v", err)
	}
	typ, err := e.daemon.AddDocumentType(ctx, "loan_agreement", "")
	if err != nil || typ.Name != "loan_agreement" {
		t.Fatalf("AddDocumentType = %+v, %v", typ, err)
	}
	doc := e.seed(t, "", 1)
	if err := e.daemon.Grant(ctx, "bob", doc.ID); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if ok, _ := e.st.HasDocumentAccess(ctx, "bob", doc.ID); !ok {
		t.Fatal("grant not recorded")
	}
	if err := e.daemon.Grant(ctx, "bob", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("grant missing err = %v", err)
	}
	token, _, err := e.daemon.IssueToken("bob", auth.RoleWorker, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	who, err := e.issuer.Parse(token)
	if err != nil || who.Role != auth.RoleWorker {
		t.Fatalf("Parse = %+v, %v", who, err)
	}
	if n, err := e.daemon.Sweep(ctx); n != 0 || err != nil {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
}
