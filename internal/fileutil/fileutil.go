// Package fileutil holds the small file helpers shared by the blob backends,
// the redaction mask writer and ingestion.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteExclusive when the target is already present.
var ErrExists = fs.ErrExist

// WriteAtomic writes r to a temp file beside dst and renames it into place,
// so readers never observe a partial file. It returns the SHA256 of the data.
func WriteAtomic(dst string, r io.Reader) (string, error) {
	tmp, sum, err := writeTemp(dst, r)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return sum, nil
}

// WriteExclusive writes r to dst only if dst does not exist yet. The data is
// staged in a temp file and hard-linked into place, which fails atomically
// when another writer got there first.
func WriteExclusive(dst string, r io.Reader) (string, error) {
	tmp, sum, err := writeTemp(dst, r)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", ErrExists
		}
		return "", fmt.Errorf("link into place: %w", err)
	}
	return sum, nil
}

func writeTemp(dst string, r io.Reader) (string, string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", "", fmt.Errorf("create parent dir: %w", err)
	}
	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := out.Name()
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), r); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("write temp file: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", "", err
	}
	return tmp, hex.EncodeToString(hasher.Sum(nil)), nil
}

// SHA256File returns the hex SHA256 of a file's contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
