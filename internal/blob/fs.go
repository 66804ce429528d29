package blob

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"docpipe/internal/fileutil"
	"docpipe/internal/services"
)

// FSBackend keeps objects as files under a root directory.
type FSBackend struct {
	root string
}

// NewFSBackend creates the root directory if needed.
func NewFSBackend(root string) (*FSBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "fs", "storage root is empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "fs", "create storage root", err)
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) Name() string { return "filesystem" }

func (b *FSBackend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", services.Invalid("key", "invalid blob key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

func (b *FSBackend) Write(_ context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	_, err = fileutil.WriteAtomic(p, bytes.NewReader(data))
	return err
}

func (b *FSBackend) WriteOnce(_ context.Context, key string, data []byte) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	if _, err := fileutil.WriteExclusive(p, bytes.NewReader(data)); err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *FSBackend) Read(_ context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "blob", "read", key, nil)
	}
	return data, err
}

func (b *FSBackend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
