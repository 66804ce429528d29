package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docpipe/internal/api"
	"docpipe/internal/blob"
	"docpipe/internal/config"
	"docpipe/internal/dispatch"
	"docpipe/internal/logging"
	"docpipe/internal/pdfops"
	"docpipe/internal/services"
	"docpipe/internal/worker"
)

// NewProcessor builds the PDF processor from configuration. The daemon passes
// its session manager's reporter; remote workers pass an API client.
func NewProcessor(cfg *config.Config, blobs worker.Blobs, reporter worker.Reporter, logger *slog.Logger) (*worker.Processor, error) {
	editor := pdfops.NewEditor(cfg.PDF.RelaxedValidation)
	raster := pdfops.NewPdftoppm(cfg.PDF.RasterizerBinary)
	return worker.NewProcessor(worker.Options{
		Blobs:       blobs,
		Editor:      editor,
		Redactor:    pdfops.NewRedactor(editor, raster, cfg.PDF.RasterDPI, logger),
		Reporter:    reporter,
		ScratchDir:  cfg.Paths.ScratchDir,
		Concurrency: cfg.Storage.UploadConcurrency,
		Logger:      logger,
	})
}

// NewReceiver builds a remote worker: results and status reads go back to the
// daemon API at the configured callback URL using token.
func NewReceiver(ctx context.Context, cfg *config.Config, token string, logger *slog.Logger) (*dispatch.Receiver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "init", "worker token is required", nil)
	}
	if status := checkRasterizer(cfg); !status.Available {
		logging.WarnWithContext(logger, "rasterizer unavailable", "rasterizer_missing",
			logging.String("binary", status.Command),
			logging.String(logging.FieldImpact, "sessions with redactions will fail"),
			logging.String(logging.FieldErrorHint, "install poppler-utils or set pdf.rasterizer_binary"),
		)
	}
	blobs, err := blob.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open blob storage: %w", err)
	}
	client := api.NewClient(cfg.Dispatch.CallbackURL, token)
	proc, err := NewProcessor(cfg, blobs, client, logger)
	if err != nil {
		return nil, err
	}
	return dispatch.NewReceiver(proc, client, logger), nil
}
