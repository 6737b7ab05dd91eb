package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscoder(); err != nil {
		return err
	}
	if err := c.validateAWS(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscoder() error {
	switch c.Transcoder.Backend {
	case BackendMediaConvert, BackendLocal:
	default:
		return fmt.Errorf("transcoder.backend: unsupported value %q (want %q or %q)", c.Transcoder.Backend, BackendMediaConvert, BackendLocal)
	}
	return ensurePositiveMap(map[string]int{
		"transcoder.poll_interval_seconds": c.Transcoder.PollIntervalSeconds,
		"transcoder.job_timeout_seconds":   c.Transcoder.JobTimeoutSeconds,
	})
}

func (c *Config) validateAWS() error {
	if c.UsesLocalBackend() {
		return nil
	}
	if c.AWS.Bucket == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/vidconv/config.toml"
		}
		return fmt.Errorf("aws.bucket is required. Set VIDCONV_BUCKET env var or edit %s (create with 'vidconv config init')", defaultPath)
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return errors.New("aws.access_key_id and aws.secret_access_key must be set together")
	}
	return nil
}

func (c *Config) validateQuality() error {
	if c.Quality.SSIMThreshold <= 0 || c.Quality.SSIMThreshold > 1 {
		return errors.New("quality.ssim_threshold must be in (0, 1]")
	}
	if strings.TrimSpace(c.Quality.DefaultPreset) == "" {
		return errors.New("quality.default_preset must be set")
	}
	return ensurePositive("quality.scorer_timeout_seconds", c.Quality.ScorerTimeoutSeconds)
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrency":      c.Workflow.MaxConcurrency,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.retention_days":       c.Workflow.RetentionDays,
		"workflow.seconds_per_batch":    c.Workflow.SecondsPerBatch,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must be zero or positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositive(key string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", key)
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
