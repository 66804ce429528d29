package preflight

import (
	"context"

	"docpipe/internal/config"
	"docpipe/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
	}
	if cfg.Storage.Backend == config.BackendFilesystem {
		results = append(results, CheckDirectoryAccess("Blob root", cfg.Storage.Root))
	}
	if cfg.RemoteDispatch() {
		results = append(results, CheckSink(ctx, cfg.Dispatch.SinkURL))
	}
	return results
}

// CheckSystemDeps evaluates the external binaries docpipe shells out to.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{deps.Rasterizer(cfg.PDF.RasterizerBinary)})
}
