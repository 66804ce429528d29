package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docpipe/internal/api"
	"docpipe/internal/blob"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/pdfops"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
	"docpipe/internal/textutil"
)

const reportTimeout = 30 * time.Second

// Reporter receives a worker's results.
type Reporter interface {
	LinkResults(ctx context.Context, documentID, sessionID string, children []store.ChildRecord) error
	ReportOutcome(ctx context.Context, sessionID string, outcome lifecycle.Outcome) error
}

// Editor is the structural PDF editing the processor needs.
type Editor interface {
	PageCount(path string) (int, error)
	Normalize(in, out string) error
	SetRotations(in, out string, rotations map[int]int) error
	RemovePages(in, out string, pages []int) error
	Extract(in, out string, start, end int) error
}

// Redactor flattens redacted pages.
type Redactor interface {
	Apply(ctx context.Context, in, out, workDir string, boxes map[int][]pdfops.Box) error
}

// Blobs is the blob storage the processor reads and writes.
type Blobs interface {
	ReadCurrent(ctx context.Context, prefix string) ([]byte, blob.Stage, error)
	Write(ctx context.Context, key string, data []byte) error
	WriteOnce(ctx context.Context, key string, data []byte) (bool, error)
}

// Options configures a Processor.
type Options struct {
	Blobs       Blobs
	Editor      Editor
	Redactor    Redactor
	Reporter    Reporter
	ScratchDir  string
	Concurrency int
	Logger      *slog.Logger
	// NewID generates child document identifiers. Defaults to UUIDs.
	NewID func() string
}

// Processor executes processing requests.
type Processor struct {
	blobs       Blobs
	editor      Editor
	redactor    Redactor
	reporter    Reporter
	scratch     string
	concurrency int
	logger      *slog.Logger
	newID       func() string
}

// NewProcessor validates opts and builds a Processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Blobs == nil || opts.Editor == nil || opts.Redactor == nil || opts.Reporter == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "init", "blobs, editor, redactor and reporter are required", nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Processor{
		blobs:       opts.Blobs,
		editor:      opts.Editor,
		redactor:    opts.Redactor,
		reporter:    opts.Reporter,
		scratch:     scratch,
		concurrency: opts.Concurrency,
		logger:      logging.NewComponentLogger(opts.Logger, "worker"),
		newID:       opts.NewID,
	}, nil
}

// Process runs every step for req and reports the outcome. Step failures
// become a failed outcome; the returned error is non-nil only when the
// outcome itself could not be reported.
func (p *Processor) Process(ctx context.Context, req api.ProcessingRequest) (lifecycle.Outcome, error) {
	ctx = services.WithSessionID(services.WithDocumentID(ctx, req.DocumentID), req.SessionID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("processing started",
		logging.String(logging.FieldEventType, "processing_start"),
		logging.String("strategy", string(req.Plan.Strategy)),
		logging.Int("redactions", len(req.Intents.Redactions)),
		logging.Int("rotations", len(req.Intents.Rotations)),
		logging.Int("deletions", len(req.Intents.Deletions)),
		logging.Int("breaks", len(req.Intents.Breaks)),
	)

	outcome, err := p.execute(ctx, req)
	if err != nil {
		outcome = failure(err)
		logging.ErrorWithContext(logger, "processing failed", "processing_failure",
			logging.String("reason", outcome.Reason),
			logging.Bool("corrupted", outcome.Corrupted),
			logging.String(logging.FieldErrorHint, "fix the cause and start a new session; pending intents are kept"),
			logging.Error(err),
		)
	}

	// The outcome must be recorded even when the job ran out its deadline.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := p.reporter.ReportOutcome(reportCtx, req.SessionID, outcome); err != nil {
		return outcome, fmt.Errorf("report outcome: %w", err)
	}
	logger.Info("processing finished",
		logging.String(logging.FieldEventType, "processing_complete"),
		logging.String("outcome", string(outcome.Kind)),
	)
	return outcome, nil
}

func (p *Processor) execute(ctx context.Context, req api.ProcessingRequest) (lifecycle.Outcome, error) {
	if req.SessionID == "" || req.DocumentID == "" {
		return lifecycle.Outcome{}, services.Invalid("request", "session and document ids are required")
	}
	if req.Plan.PageCount != req.PageCount {
		return lifecycle.Outcome{}, services.Invalid("plan", "plan covers %d pages, document has %d", req.Plan.PageCount, req.PageCount)
	}
	if err := req.Plan.Validate(); err != nil {
		return lifecycle.Outcome{}, err
	}
	if !req.Intents.HasPageEdits() && !req.Plan.Strategy.Async() {
		// Metadata only: nothing to rewrite.
		return lifecycle.Unchanged(req.PageCount, false), nil
	}

	workDir, err := os.MkdirTemp(p.scratch, "session-"+textutil.SanitizeToken(req.SessionID)+"-")
	if err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	job := &job{p: p, req: req, dir: workDir, prefix: req.BlobPrefix}
	if job.prefix == "" {
		job.prefix = blob.Prefix(req.DocumentID)
	}
	return job.run(ctx)
}

func failure(err error) lifecycle.Outcome {
	reason := strings.TrimSpace(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "processing deadline exceeded"
	}
	out := lifecycle.Failed(reason)
	out.Corrupted = errors.Is(err, pdfops.ErrUnreadable)
	return out
}

// uploadChildren writes each child's original and production stages with
// bounded concurrency.
func (p *Processor) uploadChildren(ctx context.Context, children []childArtifact) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, c := range children {
		g.Go(func() error {
			data, err := os.ReadFile(c.path)
			if err != nil {
				return fmt.Errorf("read child %s: %w", c.record.DocumentID, err)
			}
			if _, err := p.blobs.WriteOnce(gctx, blob.KeyAt(c.record.BlobPrefix, blob.StageOriginal), data); err != nil {
				return fmt.Errorf("upload child %s original: %w", c.record.DocumentID, err)
			}
			if err := p.blobs.Write(gctx, blob.KeyAt(c.record.BlobPrefix, blob.StageProduction), data); err != nil {
				return fmt.Errorf("upload child %s production: %w", c.record.DocumentID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type childArtifact struct {
	record store.ChildRecord
	path   string
}

func rangeLabel(r planner.Range) string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

func childPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("child-%03d.pdf", i))
}
