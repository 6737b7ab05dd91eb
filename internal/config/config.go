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
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	StagingDir  string `toml:"staging_dir"`
	DownloadDir string `toml:"download_dir"`
	CacheDir    string `toml:"cache_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// AWS contains account, bucket, and MediaConvert settings.
type AWS struct {
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	Profile              string `toml:"profile"`
	AccessKeyID          string `toml:"access_key_id"`
	SecretAccessKey      string `toml:"secret_access_key"`
	MediaConvertEndpoint string `toml:"mediaconvert_endpoint"`
	MediaConvertRoleARN  string `toml:"mediaconvert_role_arn"`
	PresignExpirySeconds int    `toml:"presign_expiry_seconds"`
}

// Transcoder selects and tunes the encoding backend.
type Transcoder struct {
	// Backend is "mediaconvert" (S3 + AWS Elemental MediaConvert) or "local" (drapto on this host).
	Backend             string `toml:"backend"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	JobTimeoutSeconds   int    `toml:"job_timeout_seconds"`
}

// Quality contains quality gate settings.
type Quality struct {
	SSIMThreshold        float64 `toml:"ssim_threshold"`
	DefaultPreset        string  `toml:"default_preset"`
	ScorerTimeoutSeconds int     `toml:"scorer_timeout_seconds"`
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
}

// Workflow contains configuration for daemon timing, concurrency, and retention.
type Workflow struct {
	MaxConcurrency     int `toml:"max_concurrency"`
	MaxRetries         int `toml:"max_retries"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	RetentionDays      int `toml:"retention_days"`
	SecondsPerBatch    int `toml:"seconds_per_batch"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskCompleted  bool   `toml:"task_completed"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for vidconv.
//
// Configuration sections by subsystem:
//   - Paths: state, log, staging, download, and cache directories plus the API bind address
//   - AWS: region, bucket, credentials, and MediaConvert endpoint/role
//   - Transcoder: backend selection and job polling
//   - Quality: SSIM threshold, default preset, and scorer binary
//   - Workflow: concurrency, retry ceiling, polling, heartbeats, and retention
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	AWS           AWS           `toml:"aws"`
	Transcoder    Transcoder    `toml:"transcoder"`
	Quality       Quality       `toml:"quality"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidconv/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	if err := LoadDotEnv(""); err != nil {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}

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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidconv.toml")
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

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.UsesLocalBackend() {
		if err := os.MkdirAll(c.Paths.StagingDir, 0o755); err != nil {
			return fmt.Errorf("create staging directory %q: %w", c.Paths.StagingDir, err)
		}
	}
	return nil
}

// UsesLocalBackend reports whether files are encoded on this host instead of MediaConvert.
func (c *Config) UsesLocalBackend() bool {
	return c.Transcoder.Backend == BackendLocal
}

// DatabasePath returns the SQLite task store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "tasks.db")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "vidconvd.lock")
}

// DownloadProgressPath returns the resumable download bookkeeping file.
func (c *Config) DownloadProgressPath() string {
	return filepath.Join(c.Paths.CacheDir, "download_progress.json")
}

// PresignExpiry returns the lifetime of generated upload/download URLs.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.AWS.PresignExpirySeconds) * time.Second
}

// Retention returns how long finished tasks are kept before purge.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Workflow.RetentionDays) * 24 * time.Hour
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
