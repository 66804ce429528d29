package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"docpipe/internal/config"
	"docpipe/internal/logging"
	"docpipe/internal/services"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Manager wraps a Backend with per-call timeouts and bounded retries.
type Manager struct {
	backend  Backend
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithRetries sets the attempt count and the initial backoff.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.backoff = backoff
	}
}

// NewManager wraps backend.
func NewManager(backend Backend, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		timeout:  time.Minute,
		attempts: 3,
		backoff:  initialBackoff,
		logger:   logging.NewComponentLogger(logger, "blob"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.attempts < 1 {
		m.attempts = 1
	}
	return m
}

// Open builds the backend selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", "config unavailable", nil)
	}
	st := cfg.Storage
	var (
		backend Backend
		err     error
	)
	switch st.Backend {
	case config.BackendFilesystem:
		backend, err = NewFSBackend(st.Root)
	case config.BackendGCS:
		backend, err = NewGCSBackend(ctx, st.Bucket, st.Prefix, st.GCSCredentialsFile)
	case config.BackendMinIO:
		backend, err = NewMinIOBackend(ctx, MinIOOptions{
			Endpoint:  st.MinIOEndpoint,
			AccessKey: st.MinIOAccessKey,
			SecretKey: st.MinIOSecretKey,
			UseSSL:    st.MinIOUseSSL,
			Bucket:    st.Bucket,
			Prefix:    st.Prefix,
		})
	default:
		err = services.Wrap(services.ErrConfiguration, "blob", "open", fmt.Sprintf("unknown backend %q", st.Backend), nil)
	}
	if err != nil {
		return nil, err
	}
	return NewManager(backend, logger,
		WithTimeout(cfg.BlobIOTimeout()),
		WithRetries(st.RetryAttempts, initialBackoff),
	), nil
}

// Backend returns the wrapped backend.
func (m *Manager) Backend() Backend { return m.backend }

// Write replaces the object at key.
func (m *Manager) Write(ctx context.Context, key string, data []byte) error {
	return m.do(ctx, "write", key, func(ctx context.Context) error {
		return m.backend.Write(ctx, key, data)
	})
}

// WriteOnce stores data unless key already exists.
func (m *Manager) WriteOnce(ctx context.Context, key string, data []byte) (bool, error) {
	var written bool
	err := m.do(ctx, "write_once", key, func(ctx context.Context) error {
		var err error
		written, err = m.backend.WriteOnce(ctx, key, data)
		return err
	})
	return written, err
}

// Read fetches the object at key.
func (m *Manager) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := m.do(ctx, "read", key, func(ctx context.Context) error {
		var err error
		data, err = m.backend.Read(ctx, key)
		return err
	})
	return data, err
}

// Exists reports whether key holds an object.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := m.do(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		ok, err = m.backend.Exists(ctx, key)
		return err
	})
	return ok, err
}

// ReadCurrent returns the document's production copy, or its original when
// it has never been processed.
func (m *Manager) ReadCurrent(ctx context.Context, prefix string) ([]byte, Stage, error) {
	data, err := m.Read(ctx, KeyAt(prefix, StageProduction))
	if err == nil {
		return data, StageProduction, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, "", err
	}
	data, err = m.Read(ctx, KeyAt(prefix, StageOriginal))
	if err != nil {
		return nil, "", err
	}
	return data, StageOriginal, nil
}

// Download copies an object into a local file.
func (m *Manager) Download(ctx context.Context, key, dst string) error {
	data, err := m.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// Upload stores a local file at key.
func (m *Manager) Upload(ctx context.Context, key, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return m.Write(ctx, key, data)
}

func (m *Manager) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		callCtx, cancel := m.callContext(ctx)
		err = fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}
		if timedOut && ctx.Err() == nil {
			err = services.Wrap(services.ErrTimeout, "blob", op, key, err)
		}
		if !retryable(ctx, err) || attempt >= m.attempts {
			break
		}
		delay := m.backoff * time.Duration(1<<uint(attempt-1))
		if delay > maxBackoff {
			delay = maxBackoff
		}
		m.logger.Warn("blob operation failed; retrying",
			logging.String("op", op),
			logging.String("key", key),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		if serr := sleepWithContext(ctx, delay); serr != nil {
			return serr
		}
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrValidation) {
		return err
	}
	if errors.Is(err, services.ErrTimeout) || errors.Is(err, services.ErrConfiguration) {
		return err
	}
	return services.Wrap(services.ErrTransient, "blob", op, key, err)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConfiguration),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
