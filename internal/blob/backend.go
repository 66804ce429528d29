package blob

import (
	"context"
)

// Backend stores opaque objects by key.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string
	// Write stores data at key, replacing any existing object.
	Write(ctx context.Context, key string, data []byte) error
	// WriteOnce stores data only if key is absent. written is false when an
	// object was already there; that is not an error.
	WriteOnce(ctx context.Context, key string, data []byte) (written bool, err error)
	// Read returns the object at key or an error matching services.ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key holds an object.
	Exists(ctx context.Context, key string) (bool, error)
}
