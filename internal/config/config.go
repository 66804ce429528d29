package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Auth contains token signing configuration for the HTTP API.
type Auth struct {
	JWTSecret     string `toml:"jwt_secret"`
	Issuer        string `toml:"issuer"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// Storage selects and configures the blob backend.
type Storage struct {
	Backend            string `toml:"backend"`
	Root               string `toml:"root"`
	Bucket             string `toml:"bucket"`
	Prefix             string `toml:"prefix"`
	GCSCredentialsFile string `toml:"gcs_credentials_file"`
	MinIOEndpoint      string `toml:"minio_endpoint"`
	MinIOAccessKey     string `toml:"minio_access_key"`
	MinIOSecretKey     string `toml:"minio_secret_key"`
	MinIOUseSSL        bool   `toml:"minio_use_ssl"`
	IOTimeout          int    `toml:"io_timeout"`
	RetryAttempts      int    `toml:"retry_attempts"`
	UploadConcurrency  int    `toml:"upload_concurrency"`
}

// Workflow contains worker lane and sweeper timing.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	ProcessingTimeout  int `toml:"processing_timeout"`
	SweepInterval      int `toml:"sweep_interval"`
	StaleClaimTimeout  int `toml:"stale_claim_timeout"`
	StatusTimeout      int `toml:"status_timeout"`
}

// Dispatch selects how split sessions reach a worker.
type Dispatch struct {
	Mode         string `toml:"mode"`
	SinkURL      string `toml:"sink_url"`
	Source       string `toml:"source"`
	ReceiverPort int    `toml:"receiver_port"`
	CallbackURL  string `toml:"callback_url"`
}

// PDF contains manipulation settings.
type PDF struct {
	RasterizerBinary  string `toml:"rasterizer_binary"`
	RasterDPI         int    `toml:"raster_dpi"`
	RelaxedValidation bool   `toml:"relaxed_validation"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for docpipe.
//
// Configuration sections by subsystem:
//   - Paths: state, scratch and log directories plus the API bind address
//   - Auth: JWT signing for users and workers
//   - Storage: blob backend (filesystem, gcs, minio)
//   - Workflow: worker lanes, processing deadline, recovery sweeper
//   - Dispatch: local worker lanes or CloudEvents remote workers
//   - PDF: rasterizer and validation settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Auth     Auth     `toml:"auth"`
	Storage  Storage  `toml:"storage"`
	Workflow Workflow `toml:"workflow"`
	Dispatch Dispatch `toml:"dispatch"`
	PDF      PDF      `toml:"pdf"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ScratchDir, c.Paths.LogDir}
	if c.Storage.Backend == BackendFilesystem {
		dirs = append(dirs, c.Storage.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing pipeline state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "docpipe.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "docpiped.lock")
}

// SocketPath returns the daemon IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "docpiped.sock")
}

// PIDPath returns the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "docpiped.pid")
}

// BlobIOTimeout bounds a single blob read or write.
func (c *Config) BlobIOTimeout() time.Duration {
	return time.Duration(c.Storage.IOTimeout) * time.Second
}

// ProcessingDeadline bounds one worker job.
func (c *Config) ProcessingDeadline() time.Duration {
	return time.Duration(c.Workflow.ProcessingTimeout) * time.Second
}

// StaleClaimAfter is the claim age after which the sweeper reclaims a session.
func (c *Config) StaleClaimAfter() time.Duration {
	return time.Duration(c.Workflow.StaleClaimTimeout) * time.Second
}

// StatusReadTimeout bounds session status reads.
func (c *Config) StatusReadTimeout() time.Duration {
	return time.Duration(c.Workflow.StatusTimeout) * time.Second
}

// TokenTTL is the lifetime of issued API tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// RemoteDispatch reports whether split sessions are published to remote workers.
func (c *Config) RemoteDispatch() bool {
	return c.Dispatch.Mode == DispatchCloudEvents
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
