package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAuth()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeDispatch()
	c.normalizePDF()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		c.Paths.ScratchDir = defaultScratchDir
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeAuth() {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		if value, ok := os.LookupEnv("DOCPIPE_JWT_SECRET"); ok {
			c.Auth.JWTSecret = strings.TrimSpace(value)
		}
	}
	c.Auth.Issuer = strings.TrimSpace(c.Auth.Issuer)
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = defaultIssuer
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if c.Storage.Backend == BackendFilesystem {
		if strings.TrimSpace(c.Storage.Root) == "" {
			c.Storage.Root = defaultBlobRoot
		}
		var err error
		if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
			return fmt.Errorf("storage.root: %w", err)
		}
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	if c.Storage.GCSCredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.Storage.GCSCredentialsFile = strings.TrimSpace(value)
		}
	}
	if c.Storage.MinIOAccessKey == "" {
		if value, ok := os.LookupEnv("MINIO_ACCESS_KEY"); ok {
			c.Storage.MinIOAccessKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.MinIOSecretKey == "" {
		if value, ok := os.LookupEnv("MINIO_SECRET_KEY"); ok {
			c.Storage.MinIOSecretKey = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDispatch() {
	c.Dispatch.Mode = strings.ToLower(strings.TrimSpace(c.Dispatch.Mode))
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = defaultDispatchMode
	}
	c.Dispatch.SinkURL = strings.TrimSpace(c.Dispatch.SinkURL)
	c.Dispatch.CallbackURL = strings.TrimRight(strings.TrimSpace(c.Dispatch.CallbackURL), "/")
	if c.Dispatch.CallbackURL == "" {
		c.Dispatch.CallbackURL = "http://" + c.Paths.APIBind
	}
	if strings.TrimSpace(c.Dispatch.Source) == "" {
		c.Dispatch.Source = defaultDispatchSource
	}
}

func (c *Config) normalizePDF() {
	c.PDF.RasterizerBinary = strings.TrimSpace(c.PDF.RasterizerBinary)
	if c.PDF.RasterizerBinary == "" {
		c.PDF.RasterizerBinary = defaultRasterizerBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
