package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docpipe/internal/auth"
	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/daemon"
	"docpipe/internal/ingest"
	"docpipe/internal/ipc"
	"docpipe/internal/logging"
	"docpipe/internal/pdfops"
	"docpipe/internal/session"
	"docpipe/internal/store"
	"docpipe/internal/testsupport"
	"docpipe/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	issuer     *auth.Issuer
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(0))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	blobs, err := blob.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}
	sessions := session.NewManager(session.Options{Store: st, Logger: logger})
	issuer, err := auth.NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Workflow: workflow.NewManager(cfg, st, sessions, logger),
		Ingester: ingest.New(st, blobs, pdfops.NewEditor(true), logger),
		Issuer:   issuer,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.DataDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})
	time.Sleep(50 * time.Millisecond)

	return &cliTestEnv{cfg: cfg, store: st, issuer: issuer, socketPath: socketPath, configPath: configPath}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nscratch_dir = %q\nlog_dir = %q\napi_bind = %q\n\n"+
			"[auth]\njwt_secret = %q\n\n"+
			"[storage]\nbackend = %q\nroot = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.ScratchDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Auth.JWTSecret,
		cfg.Storage.Backend,
		cfg.Storage.Root,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestCLITypesIngestAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"types", "add", "loan_agreement"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("types add: %v", err)
	}
	requireContains(t, out, "loan_agreement")

	out, _, err = runCLI(t, []string{"types", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("types list: %v", err)
	}
	requireContains(t, out, "loan_agreement")

	src := filepath.Join(t.TempDir(), "scan.pdf")
	testsupport.WritePDF(t, src, 2)
	out, _, err = runCLI(t, []string{"documents", "ingest", src, "--owner", "alice", "--type", "loan_agreement"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("documents ingest: %v", err)
	}
	requireContains(t, out, "Ingested scan.pdf (2 pages)")

	out, _, err = runCLI(t, []string{"documents", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("documents list: %v", err)
	}
	requireContains(t, out, "Loan Agreement")
	requireContains(t, out, "Synced")

	out, _, err = runCLI(t, []string{"documents", "list", "--status", "queued"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("documents list queued: %v", err)
	}
	requireContains(t, out, "No documents")

	docs, err := env.store.ListDocuments(context.Background())
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments = %d, %v", len(docs), err)
	}
	out, _, err = runCLI(t, []string{"grant", "bob", docs[0].ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	requireContains(t, out, "Granted bob access")
}

func TestCLITokenIssueAndSweep(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"token", "issue", "worker-1", "--role", "worker", "-q"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("token issue: %v", err)
	}
	who, err := env.issuer.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if who.UserID != "worker-1" || who.Role != auth.RoleWorker {
		t.Fatalf("identity = %+v", who)
	}

	if _, _, err := runCLI(t, []string{"token", "issue", "x", "--role", "root"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected invalid role to fail")
	}

	out, _, err = runCLI(t, []string{"sweep"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "No stale sessions")
}

func TestCLIStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Not started")
	requireContains(t, out, "Sessions")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"databasePath"`)
}

func TestCLIReportsMissingDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(env.cfg.Paths.DataDir, "absent.sock")
	_, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	requireContains(t, err.Error(), "start docpiped first")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Storage backend: filesystem")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestRelativeTimeHandlesBlank(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := relativeTime("", now); got != "-" {
		t.Fatalf("relativeTime blank = %q", got)
	}
	if got := relativeTime(now.Add(-2*time.Hour).Format(time.RFC3339), now); got != "2 hours ago" {
		t.Fatalf("relativeTime = %q", got)
	}
}
