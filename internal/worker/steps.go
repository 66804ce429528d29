package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/blob"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/pdfops"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
)

// job carries one request through the steps. current always names the file
// holding the latest edited artifact.
type job struct {
	p       *Processor
	req     api.ProcessingRequest
	dir     string
	prefix  string
	current string
	pages   int
	deleted map[int]bool
}

func (j *job) run(ctx context.Context) (lifecycle.Outcome, error) {
	j.deleted = make(map[int]bool, len(j.req.Intents.Deletions))
	for _, d := range j.req.Intents.Deletions {
		j.deleted[d.PageIndex] = true
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"download", j.download},
		{"backup", j.backup},
		{"redact", j.redact},
		{"rotate", j.rotate},
		{"delete", j.deletePages},
	}
	for _, step := range steps {
		if err := j.step(ctx, step.name, step.fn); err != nil {
			return lifecycle.Outcome{}, err
		}
	}
	if j.pages == 0 {
		return lifecycle.Deleted(), nil
	}

	var outcome lifecycle.Outcome
	err := j.step(ctx, "persist", func(ctx context.Context) error {
		var err error
		if j.req.Plan.Strategy == planner.DocumentSplitting {
			outcome, err = j.split(ctx)
			return err
		}
		outcome, err = j.persistInPlace(ctx)
		return err
	})
	return outcome, err
}

func (j *job) step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stepCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stepCtx, j.p.logger)
	started := time.Now()
	if err := fn(stepCtx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Debug("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.Int("pages", j.pages),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (j *job) next(name string) string {
	return filepath.Join(j.dir, name+".pdf")
}

// download fetches the production artifact, or the original when none
// exists yet, and normalizes it.
func (j *job) download(ctx context.Context) error {
	data, stage, err := j.p.blobs.ReadCurrent(ctx, j.prefix)
	if err != nil {
		return err
	}
	source := j.next("source")
	if err := os.WriteFile(source, data, 0o644); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	normalized := j.next("normalized")
	if err := j.p.editor.Normalize(source, normalized); err != nil {
		return err
	}
	pages, err := j.p.editor.PageCount(normalized)
	if err != nil {
		return err
	}
	if pages != j.req.PageCount {
		return services.Wrap(services.ErrProcessing, "worker", "download",
			fmt.Sprintf("%s artifact has %d pages, document records %d", stage, pages, j.req.PageCount), nil)
	}
	j.current = normalized
	j.pages = pages
	return j.p.blobs.Write(ctx, blob.KeyAt(j.prefix, blob.StageWorking), data)
}

// backup snapshots the pre-edit artifact once. A later session finds the
// existing backup and leaves it alone.
func (j *job) backup(ctx context.Context) error {
	if !j.req.Intents.HasPageEdits() {
		return nil
	}
	data, err := os.ReadFile(j.next("source"))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	written, err := j.p.blobs.WriteOnce(ctx, blob.KeyAt(j.prefix, blob.StageBackup), data)
	if err != nil {
		return err
	}
	if !written {
		logging.WithContext(ctx, j.p.logger).Debug("backup already present")
	}
	return nil
}

// liveRedactions drops redactions on pages that are about to be deleted.
func (j *job) liveRedactions() []store.RedactionIntent {
	out := make([]store.RedactionIntent, 0, len(j.req.Intents.Redactions))
	for _, r := range j.req.Intents.Redactions {
		if !j.deleted[r.PageIndex] {
			out = append(out, r)
		}
	}
	return out
}

func (j *job) redact(ctx context.Context) error {
	live := j.liveRedactions()
	if len(live) == 0 {
		return nil
	}
	boxes := make(map[int][]pdfops.Box)
	for _, r := range live {
		boxes[r.PageIndex] = append(boxes[r.PageIndex], pdfops.Box{
			Rect:        pdfops.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
			Orientation: r.DrawOrientation,
		})
	}
	work := filepath.Join(j.dir, "redact")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	out := j.next("redacted")
	if err := j.p.redactor.Apply(ctx, j.current, out, work, boxes); err != nil {
		return err
	}
	j.current = out
	return nil
}

func (j *job) rotate(context.Context) error {
	rotations := make(map[int]int)
	for _, r := range j.req.Intents.Rotations {
		if !j.deleted[r.PageIndex] {
			rotations[r.PageIndex] = r.Rotation
		}
	}
	if len(rotations) == 0 {
		return nil
	}
	out := j.next("rotated")
	if err := j.p.editor.SetRotations(j.current, out, rotations); err != nil {
		return err
	}
	j.current = out
	return nil
}

func (j *job) deletePages(context.Context) error {
	order := planner.DeletionOrder(j.pages, deletedPages(j.req.Intents.Deletions))
	if len(order) == 0 {
		return nil
	}
	if len(order) == j.pages {
		j.pages = 0
		return nil
	}
	out := j.next("trimmed")
	if err := j.p.editor.RemovePages(j.current, out, order); err != nil {
		return err
	}
	j.current = out
	j.pages -= len(order)
	return nil
}

func (j *job) persistInPlace(ctx context.Context) (lifecycle.Outcome, error) {
	data, err := os.ReadFile(j.current)
	if err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("read result: %w", err)
	}
	if err := j.p.blobs.Write(ctx, blob.KeyAt(j.prefix, blob.StageWorking), data); err != nil {
		return lifecycle.Outcome{}, err
	}
	if err := j.p.blobs.Write(ctx, blob.KeyAt(j.prefix, blob.StageProduction), data); err != nil {
		return lifecycle.Outcome{}, err
	}
	return lifecycle.Unchanged(j.pages, len(j.liveRedactions()) > 0), nil
}

// split extracts every surviving range into a child, uploads the children,
// and links them before the split outcome is reported.
func (j *job) split(ctx context.Context) (lifecycle.Outcome, error) {
	pm := planner.NewPageMap(j.req.PageCount, deletedPages(j.req.Intents.Deletions))
	if pm.Remaining() != j.pages {
		return lifecycle.Outcome{}, fmt.Errorf("page map has %d pages, artifact has %d", pm.Remaining(), j.pages)
	}
	live := j.liveRedactions()
	logger := logging.WithContext(ctx, j.p.logger)

	var children []childArtifact
	for _, r := range j.req.Plan.Ranges {
		start, end, ok := pm.Project(r)
		if !ok {
			logger.Info("range removed by page deletions",
				logging.String("range", rangeLabel(r)),
				logging.Int64("break_id", r.BreakID),
			)
			continue
		}
		id := j.p.newID()
		path := childPath(j.dir, len(children))
		if err := j.p.editor.Extract(j.current, path, start, end); err != nil {
			return lifecycle.Outcome{}, err
		}
		children = append(children, childArtifact{
			path: path,
			record: store.ChildRecord{
				DocumentID:     id,
				BreakID:        r.BreakID,
				PageStart:      r.Start,
				PageEnd:        r.End,
				PageCount:      end - start,
				BlobPrefix:     blob.Prefix(id),
				Classification: r.Classification,
				Redactions:     childRedactions(live, pm, r, start),
			},
		})
	}
	if len(children) == 0 {
		return lifecycle.Deleted(), nil
	}

	if err := j.p.uploadChildren(ctx, children); err != nil {
		return lifecycle.Outcome{}, err
	}
	records := make([]store.ChildRecord, len(children))
	for i, c := range children {
		records[i] = c.record
	}
	if err := j.p.reporter.LinkResults(ctx, j.req.DocumentID, j.req.SessionID, records); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("link results: %w", err)
	}
	logger.Info("document split",
		logging.String(logging.FieldEventType, "document_split"),
		logging.Int("children", len(records)),
	)
	return lifecycle.Split(), nil
}

// childRedactions renumbers the redactions inside r to the child's pages.
func childRedactions(live []store.RedactionIntent, pm planner.PageMap, r planner.Range, childStart int) []store.RedactionIntent {
	var out []store.RedactionIntent
	for _, red := range live {
		if red.PageIndex < r.Start || red.PageIndex >= r.End {
			continue
		}
		idx, ok := pm.Translate(red.PageIndex)
		if !ok {
			continue
		}
		red.ID = 0
		red.DocumentID = ""
		red.PageIndex = idx - childStart
		red.Applied = true
		out = append(out, red)
	}
	return out
}

func deletedPages(deletions []store.PageDeletionIntent) []int {
	out := make([]int, len(deletions))
	for i, d := range deletions {
		out[i] = d.PageIndex
	}
	return out
}
