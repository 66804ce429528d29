package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"docpipe/internal/auth"
	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/daemon"
	"docpipe/internal/deps"
	"docpipe/internal/dispatch"
	"docpipe/internal/ingest"
	"docpipe/internal/ipc"
	"docpipe/internal/logging"
	"docpipe/internal/pdfops"
	"docpipe/internal/preflight"
	"docpipe/internal/session"
	"docpipe/internal/store"
	"docpipe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the docpipe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("docpiped-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update docpiped.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "docpiped-*.log", Exclude: []string{logPath}},
	)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	blobs, err := blob.Open(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}

	sessions, err := newSessionManager(cfg, st, logger)
	if err != nil {
		return err
	}
	proc, err := NewProcessor(cfg, blobs, sessions.Reporter(), logger)
	if err != nil {
		return err
	}
	sessions.SetRunner(proc)

	issuer, err := auth.NewIssuer(cfg)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Workflow: workflow.NewManager(cfg, st, sessions, logger),
		Ingester: ingest.New(st, blobs, pdfops.NewEditor(cfg.PDF.RelaxedValidation), logger),
		Issuer:   issuer,
		Logger:   logger,
		LogPath:  logPath,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file, API bind address and database access"),
			logging.String(logging.FieldImpact, "documents will not be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("docpipe daemon shutting down")
	d.Stop()
	return nil
}

// newSessionManager wires the CloudEvents sender when dispatch is remote.
func newSessionManager(cfg *config.Config, st *store.Store, logger *slog.Logger) (*session.Manager, error) {
	opts := session.Options{
		Store:         st,
		Deadline:      cfg.ProcessingDeadline(),
		StatusTimeout: cfg.StatusReadTimeout(),
		Logger:        logger,
	}
	if cfg.RemoteDispatch() {
		sender, err := dispatch.NewSender(cfg.Dispatch.SinkURL, cfg.Dispatch.Source, logger)
		if err != nil {
			return nil, err
		}
		opts.Publisher = sender
	}
	return session.NewManager(opts), nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "docpiped.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("dispatch_mode", cfg.Dispatch.Mode),
		logging.Int("workers", cfg.Workflow.Workers),
	}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

// checkRasterizer is used by worker entry points that skip the daemon snapshot.
func checkRasterizer(cfg *config.Config) deps.Status {
	return deps.CheckBinaries([]deps.Requirement{deps.Rasterizer(cfg.PDF.RasterizerBinary)})[0]
}
