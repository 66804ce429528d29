package pdfops_test

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"docpipe/internal/pdfops"
	"docpipe/internal/services"
	"docpipe/internal/testsupport"
)

func writePDF(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pdf")
	testsupport.WritePDF(t, path, pages)
	return path
}

func TestEditorStructuralEdits(t *testing.T) {
	ed := pdfops.NewEditor(true)
	in := writePDF(t, 6)
	dir := t.TempDir()

	n, err := ed.PageCount(in)
	if err != nil || n != 6 {
		t.Fatalf("PageCount = %d, %v", n, err)
	}

	normalized := filepath.Join(dir, "norm.pdf")
	if err := ed.Normalize(in, normalized); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	removed := filepath.Join(dir, "removed.pdf")
	if err := ed.RemovePages(normalized, removed, []int{1, 4}); err != nil {
		t.Fatalf("RemovePages: %v", err)
	}
	if n, _ := ed.PageCount(removed); n != 4 {
		t.Fatalf("after remove pages = %d, want 4", n)
	}

	part := filepath.Join(dir, "part.pdf")
	if err := ed.Extract(removed, part, 1, 3); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n, _ := ed.PageCount(part); n != 2 {
		t.Fatalf("extracted pages = %d, want 2", n)
	}
	if err := ed.Extract(removed, part, 2, 2); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty extract err = %v", err)
	}
}

func TestEditorRotationsAreAbsolute(t *testing.T) {
	ed := pdfops.NewEditor(true)
	in := writePDF(t, 3)
	out := filepath.Join(t.TempDir(), "rot.pdf")

	if err := ed.SetRotations(in, out, map[int]int{0: 90, 2: 270}); err != nil {
		t.Fatalf("SetRotations: %v", err)
	}
	if err := ed.SetRotations(out, out, map[int]int{0: 90}); err != nil {
		t.Fatalf("SetRotations again: %v", err)
	}
	got, err := ed.Rotations(out)
	if err != nil {
		t.Fatalf("Rotations: %v", err)
	}
	if !slices.Equal(got, []int{90, 0, 270}) {
		t.Fatalf("rotations = %v, want [90 0 270]", got)
	}
}

func TestEditorFlagsUnreadableInput(t *testing.T) {
	ed := pdfops.NewEditor(true)
	bad := filepath.Join(t.TempDir(), "bad.pdf")
	if err := os.WriteFile(bad, []byte("not a pdf"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := ed.Normalize(bad, filepath.Join(t.TempDir(), "out.pdf"))
	if !errors.Is(err, pdfops.ErrUnreadable) || !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("err = %v, want unreadable processing failure", err)
	}
}

func TestRedactorFlattensOnlyRedactedPages(t *testing.T) {
	ed := pdfops.NewEditor(true)
	in := writePDF(t, 4)
	if err := ed.SetRotations(in, in, map[int]int{2: 90}); err != nil {
		t.Fatalf("SetRotations: %v", err)
	}
	stub := &testsupport.RasterStub{}
	r := pdfops.NewRedactor(ed, stub, 72, nil)
	work := t.TempDir()
	out := filepath.Join(t.TempDir(), "out.pdf")

	boxes := map[int][]pdfops.Box{
		2: {{Rect: pdfops.Rect{X: 10, Y: 10, Width: 50, Height: 20}, Orientation: 90}},
		0: {{Rect: pdfops.Rect{X: 0, Y: 0, Width: 612, Height: 100}}},
	}
	if err := r.Apply(context.Background(), in, out, work, boxes); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := stub.Calls(); !slices.Equal(got, []int{0, 2}) {
		t.Fatalf("rasterized pages = %v, want [0 2]", got)
	}
	if n, _ := ed.PageCount(out); n != 4 {
		t.Fatalf("page count = %d, want 4", n)
	}
	rots, err := ed.Rotations(out)
	if err != nil {
		t.Fatalf("Rotations: %v", err)
	}
	if !slices.Equal(rots, []int{0, 0, 90, 0}) {
		t.Fatalf("rotations = %v, want original orientation kept", rots)
	}

	// Page 0's box spans the bottom 100pt; the painted raster is black there.
	f, err := os.Open(filepath.Join(work, "page-0000.png"))
	if err != nil {
		t.Fatalf("open raster: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if r, g, bl, _ := img.At(b.Min.X+5, b.Max.Y-5).RGBA(); r != 0 || g != 0 || bl != 0 {
		t.Fatal("redacted area is not black")
	}
	if r, _, _, _ := img.At(b.Min.X+5, b.Min.Y+5).RGBA(); r == 0 {
		t.Fatal("unredacted area was painted")
	}
}

func TestPdftoppmArguments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "page.png")
	p := pdfops.NewPdftoppm("")
	var gotName string
	var gotArgs []string
	p.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return os.WriteFile(filepath.Join(dir, "page.png"), []byte("png"), 0o644)
	})
	if err := p.Rasterize(context.Background(), "in.pdf", 3, 150, out); err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	want := []string{"-png", "-r", "150", "-f", "4", "-l", "4", "-singlefile", "in.pdf", filepath.Join(dir, "page")}
	if gotName != "pdftoppm" || !slices.Equal(gotArgs, want) {
		t.Fatalf("command = %s %v", gotName, gotArgs)
	}

	p.WithCommandRunner(func(context.Context, string, ...string) error { return errors.New("exit 1") })
	if err := p.Rasterize(context.Background(), "in.pdf", 0, 150, out); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("err = %v, want ErrExternalTool", err)
	}
}
