package pdfops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"docpipe/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Rasterizer renders one page of a PDF to a PNG file.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, pageIndex, dpi int, outPNG string) error
}

// Pdftoppm renders pages with poppler's pdftoppm.
type Pdftoppm struct {
	binary string
	run    commandRunner
}

// NewPdftoppm returns a rasterizer that invokes binary.
func NewPdftoppm(binary string) *Pdftoppm {
	if strings.TrimSpace(binary) == "" {
		binary = "pdftoppm"
	}
	return &Pdftoppm{binary: binary, run: defaultCommandRunner}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (p *Pdftoppm) WithCommandRunner(r commandRunner) {
	if p != nil && r != nil {
		p.run = r
	}
}

// Rasterize writes page pageIndex (0-based) of pdfPath to outPNG.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath string, pageIndex, dpi int, outPNG string) error {
	page := strconv.Itoa(pageIndex + 1)
	root := strings.TrimSuffix(outPNG, filepath.Ext(outPNG))
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", page,
		"-l", page,
		"-singlefile",
		pdfPath,
		root,
	}
	if err := p.run(ctx, p.binary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "pdftoppm", "rasterize", fmt.Sprintf("page %d", pageIndex), err)
	}
	if root+".png" != outPNG {
		if err := os.Rename(root+".png", outPNG); err != nil {
			return fmt.Errorf("move rendered page: %w", err)
		}
	}
	if _, err := os.Stat(outPNG); err != nil {
		return services.Wrap(services.ErrExternalTool, "pdftoppm", "rasterize", "no output produced", err)
	}
	return nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
