package pdfops

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"docpipe/internal/services"
)

// Editor applies structural page edits with pdfcpu. Page indices are 0-based.
type Editor struct {
	relaxed bool
}

// NewEditor returns an Editor. relaxed selects pdfcpu's relaxed validation,
// which tolerates the minor spec violations common in scanned documents.
func NewEditor(relaxed bool) *Editor {
	return &Editor{relaxed: relaxed}
}

func (e *Editor) conf() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	if e.relaxed {
		cfg.ValidationMode = model.ValidationRelaxed
	}
	return cfg
}

// PageCount returns the number of pages in path.
func (e *Editor) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, corrupt("page count", err)
	}
	return n, nil
}

// Normalize rewrites in to out, repairing and compacting the file. A parse
// failure is reported as a processing failure.
func (e *Editor) Normalize(in, out string) error {
	if err := api.OptimizeFile(in, out, e.conf()); err != nil {
		return corrupt("normalize", err)
	}
	return nil
}

// Rotations returns the effective /Rotate value of every page.
func (e *Editor) Rotations(path string) ([]int, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, corrupt("read", err)
	}
	out := make([]int, ctx.PageCount)
	for i := range out {
		_, _, inherited, err := ctx.PageDict(i+1, false)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if inherited != nil {
			out[i] = NormalizeRotation(inherited.Rotate)
		}
	}
	return out, nil
}

// SetRotations writes absolute /Rotate values for the given pages. Pages not
// in rotations keep their orientation. in and out may be the same path.
func (e *Editor) SetRotations(in, out string, rotations map[int]int) error {
	ctx, err := api.ReadContextFile(in)
	if err != nil {
		return corrupt("read", err)
	}
	for page, rot := range rotations {
		if page < 0 || page >= ctx.PageCount {
			return services.Invalid("pageIndex", "page %d outside [0,%d)", page, ctx.PageCount)
		}
		dict, _, _, err := ctx.PageDict(page+1, false)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		dict.Update("Rotate", types.Integer(NormalizeRotation(rot)))
	}
	tmp := out + ".tmp"
	if err := api.WriteContextFile(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", out, err)
	}
	return os.Rename(tmp, out)
}

// RemovePages deletes pages, highest index first.
func (e *Editor) RemovePages(in, out string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to remove")
	}
	sorted := slices.Clone(pages)
	slices.Sort(sorted)
	slices.Reverse(sorted)
	if err := api.RemovePagesFile(in, out, selection(sorted...), e.conf()); err != nil {
		return fmt.Errorf("remove pages: %w", err)
	}
	return nil
}

// Extract writes pages [start, end) of in to out.
func (e *Editor) Extract(in, out string, start, end int) error {
	if start < 0 || end <= start {
		return services.Invalid("range", "empty range [%d,%d)", start, end)
	}
	sel := []string{fmt.Sprintf("%d-%d", start+1, end)}
	if end-start == 1 {
		sel = selection(start)
	}
	if err := api.TrimFile(in, out, sel, e.conf()); err != nil {
		return fmt.Errorf("extract pages [%d,%d): %w", start, end, err)
	}
	return nil
}

// ImagePage builds a single-page PDF whose page is exactly the image.
func (e *Editor) ImagePage(pngPath, out string, dpi int) error {
	imp, err := api.Import(fmt.Sprintf("pos:full, dpi:%d", dpi), types.POINTS)
	if err != nil {
		return fmt.Errorf("import descriptor: %w", err)
	}
	if err := api.ImportImagesFile([]string{pngPath}, out, imp, e.conf()); err != nil {
		return fmt.Errorf("import image: %w", err)
	}
	return nil
}

// Merge concatenates parts into out.
func (e *Editor) Merge(parts []string, out string) error {
	if len(parts) == 0 {
		return fmt.Errorf("nothing to merge")
	}
	if err := api.MergeCreateFile(parts, out, false, e.conf()); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

func selection(pages ...int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p + 1)
	}
	return out
}

// ErrUnreadable marks failures caused by an artifact pdfcpu cannot parse.
var ErrUnreadable = errors.New("unreadable pdf")

func corrupt(op string, err error) error {
	return fmt.Errorf("%w: %w", ErrUnreadable, services.Wrap(services.ErrProcessing, "pdf", op, "", err))
}
