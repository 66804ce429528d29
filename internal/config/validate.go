package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validatePDF(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("auth.jwt_secret is required. Set DOCPIPE_JWT_SECRET env var or edit %s (create with 'docpipe config init')", defaultPath)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTLHours <= 0 {
		return errors.New("auth.token_ttl_hours must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if err := ensurePositiveMap(map[string]int{
		"storage.io_timeout":         c.Storage.IOTimeout,
		"storage.retry_attempts":     c.Storage.RetryAttempts,
		"storage.upload_concurrency": c.Storage.UploadConcurrency,
	}); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Root == "" {
			return errors.New("storage.root must be set for the filesystem backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set for the gcs backend")
		}
	case BackendMinIO:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set for the minio backend")
		}
		if strings.TrimSpace(c.Storage.MinIOEndpoint) == "" {
			return errors.New("storage.minio_endpoint must be set for the minio backend")
		}
		if c.Storage.MinIOAccessKey == "" || c.Storage.MinIOSecretKey == "" {
			return errors.New("storage.minio_access_key and storage.minio_secret_key are required (or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want filesystem, gcs or minio)", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.processing_timeout":   c.Workflow.ProcessingTimeout,
		"workflow.sweep_interval":       c.Workflow.SweepInterval,
		"workflow.stale_claim_timeout":  c.Workflow.StaleClaimTimeout,
		"workflow.status_timeout":       c.Workflow.StatusTimeout,
	}); err != nil {
		return err
	}
	// A claim must outlive the job it guards, or the sweeper reclaims healthy work.
	if c.Workflow.StaleClaimTimeout < c.Workflow.ProcessingTimeout+defaultMinStaleOverProcessing {
		return fmt.Errorf("workflow.stale_claim_timeout must exceed workflow.processing_timeout by at least %d seconds", defaultMinStaleOverProcessing)
	}
	return nil
}

func (c *Config) validateDispatch() error {
	switch c.Dispatch.Mode {
	case DispatchLocal:
		return nil
	case DispatchCloudEvents:
		if c.Dispatch.SinkURL == "" {
			return errors.New("dispatch.sink_url must be set when dispatch.mode is cloudevents")
		}
		if c.Storage.Backend == BackendFilesystem {
			return errors.New("dispatch.mode cloudevents requires a shared storage.backend (gcs or minio)")
		}
		if c.Dispatch.ReceiverPort <= 0 {
			return errors.New("dispatch.receiver_port must be positive")
		}
		return nil
	default:
		return fmt.Errorf("dispatch.mode: unsupported value %q (want local or cloudevents)", c.Dispatch.Mode)
	}
}

func (c *Config) validatePDF() error {
	if c.PDF.RasterDPI < 36 || c.PDF.RasterDPI > 600 {
		return errors.New("pdf.raster_dpi must be between 36 and 600")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
