package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"docpipe/internal/api"
	"docpipe/internal/auth"
	"docpipe/internal/config"
	"docpipe/internal/ingest"
	"docpipe/internal/intents"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/preflight"
	"docpipe/internal/services"
	"docpipe/internal/session"
	"docpipe/internal/store"
	"docpipe/internal/workflow"
)

// Options bundles the daemon's collaborators.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Sessions *session.Manager
	Workflow *workflow.Manager
	Ingester *ingest.Ingester
	Issuer   *auth.Issuer
	Logger   *slog.Logger
	LogPath  string
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	sessions *session.Manager
	intents  *intents.Service
	workflow *workflow.Manager
	ingester *ingest.Ingester
	issuer   *auth.Issuer
	logPath  string
	api      *apiServer

	lock *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Sessions == nil || opts.Workflow == nil || opts.Issuer == nil {
		return nil, errors.New("daemon requires config, store, sessions, workflow manager, and token issuer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      opts.Config,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    opts.Store,
		sessions: opts.Sessions,
		intents:  intents.NewService(opts.Store, logger),
		workflow: opts.Workflow,
		ingester: opts.Ingester,
		issuer:   opts.Issuer,
		logPath:  opts.LogPath,
		lock:     flock.New(opts.Config.LockPath()),
	}
	d.api = newAPIServer(opts.Config.Paths.APIBind, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow lanes and the
// HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("docpipe daemon started",
		logging.String("lock", d.cfg.LockPath()),
		logging.String("api", d.api.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if the next start reports a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("docpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddress returns the bound HTTP address, or "" when the API is not serving.
func (d *Daemon) APIAddress() string { return d.api.address() }

// Status returns daemon runtime information including preflight results.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.cfg.LockPath(),
		LogPath:      d.logPath,
		APIBind:      d.api.address(),
		Storage:      d.cfg.Storage.Backend,
		Workflow:     d.workflow.Status(ctx),
	}
	if status.APIBind == "" {
		status.APIBind = d.cfg.Paths.APIBind
	}
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		})
	}
	for _, check := range preflight.RunAll(ctx, d.cfg) {
		status.Checks = append(status.Checks, api.CheckResult{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
	}
	return status
}

// Ingest registers a new PDF document.
func (d *Daemon) Ingest(ctx context.Context, req ingest.Request) (*store.Document, error) {
	if d.ingester == nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "ingest", "ingestion not configured", nil)
	}
	return d.ingester.Ingest(ctx, req)
}

// AddDocumentType registers or renames a document type.
func (d *Daemon) AddDocumentType(ctx context.Context, id, name string) (*store.DocumentType, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Invalid("id", "document type id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return d.store.UpsertDocumentType(ctx, id, name)
}

// ListDocumentTypes returns every registered type.
func (d *Daemon) ListDocumentTypes(ctx context.Context) ([]store.DocumentType, error) {
	return d.store.ListDocumentTypes(ctx)
}

// Grant gives userID access to an existing document.
func (d *Daemon) Grant(ctx context.Context, userID, documentID string) error {
	if strings.TrimSpace(userID) == "" {
		return services.Invalid("user", "user id is required")
	}
	if _, err := d.store.GetDocument(ctx, documentID); err != nil {
		return err
	}
	return d.store.GrantAccess(ctx, userID, documentID)
}

// ListDocuments returns documents filtered by optional statuses.
func (d *Daemon) ListDocuments(ctx context.Context, statuses []lifecycle.Status) ([]*store.Document, error) {
	return d.store.ListDocuments(ctx, statuses...)
}

// Sweep runs the stale-claim sweeper once.
func (d *Daemon) Sweep(ctx context.Context) (int, error) {
	return d.workflow.Sweeper().SweepOnce(ctx)
}

// IssueToken signs an API token. A zero ttl uses the configured lifetime.
func (d *Daemon) IssueToken(subject string, role auth.Role, ttl time.Duration) (string, time.Time, error) {
	return d.issuer.Issue(subject, role, ttl)
}
