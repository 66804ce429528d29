package pdfops

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	"docpipe/internal/logging"
)

// Redactor flattens redacted pages to images with their boxes painted black.
type Redactor struct {
	editor *Editor
	raster Rasterizer
	dpi    int
	logger *slog.Logger
}

// NewRedactor builds a Redactor that renders at dpi.
func NewRedactor(editor *Editor, raster Rasterizer, dpi int, logger *slog.Logger) *Redactor {
	if dpi <= 0 {
		dpi = 150
	}
	return &Redactor{
		editor: editor,
		raster: raster,
		dpi:    dpi,
		logger: logging.NewComponentLogger(logger, "redactor"),
	}
}

// Apply writes in to out with every page in boxes replaced by a flattened,
// painted image of itself. Pages without boxes keep their original encoding.
// Each replaced page keeps its original /Rotate value. workDir holds
// intermediate files and must exist.
func (r *Redactor) Apply(ctx context.Context, in, out, workDir string, boxes map[int][]Box) error {
	pages := slices.Sorted(maps.Keys(boxes))
	if len(pages) == 0 {
		return fmt.Errorf("no redacted pages")
	}
	total, err := r.editor.PageCount(in)
	if err != nil {
		return err
	}
	rotations, err := r.editor.Rotations(in)
	if err != nil {
		return err
	}

	// Render from a copy with the redacted pages unrotated so the raster is
	// in page space.
	flat := filepath.Join(workDir, "unrotated.pdf")
	zero := make(map[int]int, len(pages))
	for _, p := range pages {
		if p < 0 || p >= total {
			return fmt.Errorf("redaction on page %d outside [0,%d)", p, total)
		}
		zero[p] = 0
	}
	if err := r.editor.SetRotations(in, flat, zero); err != nil {
		return err
	}

	images := make(map[int]string, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		pagePDF, err := r.flattenPage(ctx, flat, workDir, p, boxes[p])
		if err != nil {
			return err
		}
		images[p] = pagePDF
	}

	parts, err := r.splice(in, workDir, total, images)
	if err != nil {
		return err
	}
	merged := filepath.Join(workDir, "redacted.pdf")
	if err := r.editor.Merge(parts, merged); err != nil {
		return err
	}
	restore := make(map[int]int, len(pages))
	for _, p := range pages {
		restore[p] = rotations[p]
	}
	if err := r.editor.SetRotations(merged, out, restore); err != nil {
		return err
	}
	r.logger.Debug("pages redacted",
		logging.Int("pages", len(pages)),
		logging.Int("dpi", r.dpi),
	)
	return nil
}

func (r *Redactor) flattenPage(ctx context.Context, src, workDir string, page int, boxes []Box) (string, error) {
	pngPath := filepath.Join(workDir, fmt.Sprintf("page-%04d.png", page))
	if err := r.raster.Rasterize(ctx, src, page, r.dpi, pngPath); err != nil {
		return "", err
	}
	width, height, err := PageSize(pngPath, r.dpi)
	if err != nil {
		return "", err
	}
	mapped := make([]Rect, 0, len(boxes))
	for _, b := range boxes {
		rect, err := MapRect(b.Rect, width, height, b.Orientation)
		if err != nil {
			return "", err
		}
		mapped = append(mapped, rect)
	}
	if _, _, err := PaintBoxes(pngPath, mapped, r.dpi); err != nil {
		return "", err
	}
	pagePDF := filepath.Join(workDir, fmt.Sprintf("page-%04d.pdf", page))
	if err := r.editor.ImagePage(pngPath, pagePDF, r.dpi); err != nil {
		return "", err
	}
	return pagePDF, nil
}

// splice lists the files that, merged in order, rebuild the document with
// flattened pages in place of the originals.
func (r *Redactor) splice(in, workDir string, total int, images map[int]string) ([]string, error) {
	var parts []string
	runStart := 0
	flush := func(end int) error {
		if end <= runStart {
			return nil
		}
		part := filepath.Join(workDir, fmt.Sprintf("run-%04d-%04d.pdf", runStart, end))
		if err := r.editor.Extract(in, part, runStart, end); err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	}
	for p := 0; p < total; p++ {
		img, ok := images[p]
		if !ok {
			continue
		}
		if err := flush(p); err != nil {
			return nil, err
		}
		parts = append(parts, img)
		runStart = p + 1
	}
	if err := flush(total); err != nil {
		return nil, err
	}
	return parts, nil
}
