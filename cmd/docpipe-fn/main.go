// Command docpipe-fn packages the remote docpipe worker for the Cloud
// Functions runtime. Configuration is read from DOCPIPE_CONFIG and the
// worker-role API token from DOCPIPE_WORKER_TOKEN.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"docpipe/internal/config"
	"docpipe/internal/daemonrun"
	"docpipe/internal/dispatch"
	"docpipe/internal/logging"
)

const (
	entryPoint  = "ProcessSession"
	configEnv   = "DOCPIPE_CONFIG"
	tokenEnv    = "DOCPIPE_WORKER_TOKEN"
	logLevelEnv = "DOCPIPE_LOG_LEVEL"
)

var (
	receiver *dispatch.Receiver
	once     sync.Once
	initErr  error
)

func init() {
	functions.CloudEvent(entryPoint, processSession)
}

// main is required by the functions framework build.
func main() {}

func processSession(ctx context.Context, event cloudevents.Event) error {
	once.Do(func() {
		receiver, initErr = newReceiver(context.Background())
	})
	if initErr != nil {
		slog.Error("worker initialization failed", "error", initErr)
		return initErr
	}
	return receiver.Handle(ctx, event)
}

func newReceiver(ctx context.Context) (*dispatch.Receiver, error) {
	cfg, _, _, err := config.Load(os.Getenv(configEnv))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:  os.Getenv(logLevelEnv),
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return daemonrun.NewReceiver(ctx, cfg, os.Getenv(tokenEnv), logger)
}
