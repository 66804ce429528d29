package daemonrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"docpipe/internal/config"
	"docpipe/internal/services"
	"docpipe/internal/testsupport"
)

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "docpiped-1.log")
	second := filepath.Join(dir, "docpiped-2.log")
	testsupport.WriteFile(t, first, 1)
	testsupport.WriteFile(t, second, 2)

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "docpiped.log"))
	if err != nil {
		t.Fatalf("stat pointer: %v", err)
	}
	if info.Size() != 2 {
		t.Fatalf("pointer resolves to %d-byte file, want the second log", info.Size())
	}
	if err := ensureCurrentLogPointer("", second); err != nil {
		t.Fatalf("empty dir should be ignored: %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpiped.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file = %q", data)
	}
}

func TestNewReceiverRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := NewReceiver(context.Background(), cfg, "  ", nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewReceiverBuildsWithStubbedRasterizer(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("pdftoppm"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Dispatch.Mode = config.DispatchCloudEvents
	cfg.Dispatch.CallbackURL = "http://127.0.0.1:1"
	recv, err := NewReceiver(context.Background(), cfg, "token", nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	if recv == nil {
		t.Fatal("expected receiver")
	}
}

func TestNewSessionManagerWiresSenderInRemoteMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	local, err := newSessionManager(cfg, st, nil)
	if err != nil {
		t.Fatalf("local manager: %v", err)
	}
	if local.Remote() {
		t.Fatal("local dispatch should not publish")
	}

	cfg.Dispatch.Mode = config.DispatchCloudEvents
	cfg.Dispatch.SinkURL = "http://127.0.0.1:1/events"
	remote, err := newSessionManager(cfg, st, nil)
	if err != nil {
		t.Fatalf("remote manager: %v", err)
	}
	if !remote.Remote() {
		t.Fatal("remote dispatch should publish")
	}
}
