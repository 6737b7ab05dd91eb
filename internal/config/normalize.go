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
	c.normalizeAWS()
	c.normalizeTranscoder()
	c.normalizeQuality()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("VIDCONV_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeAWS() {
	lookup := func(target *string, keys ...string) {
		if strings.TrimSpace(*target) != "" {
			*target = strings.TrimSpace(*target)
			return
		}
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				*target = strings.TrimSpace(value)
				return
			}
		}
	}
	lookup(&c.AWS.Bucket, "VIDCONV_BUCKET", "AWS_BUCKET")
	lookup(&c.AWS.Profile, "AWS_PROFILE")
	lookup(&c.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	lookup(&c.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	lookup(&c.AWS.MediaConvertEndpoint, "MEDIACONVERT_ENDPOINT")
	lookup(&c.AWS.MediaConvertRoleARN, "MEDIACONVERT_ROLE_ARN")
	if value, ok := os.LookupEnv("AWS_REGION"); ok && strings.TrimSpace(value) != "" && c.AWS.Region == defaultRegion {
		c.AWS.Region = strings.TrimSpace(value)
	}
	c.AWS.Region = strings.TrimSpace(c.AWS.Region)
	if c.AWS.Region == "" {
		c.AWS.Region = defaultRegion
	}
	c.AWS.MediaConvertEndpoint = strings.TrimRight(c.AWS.MediaConvertEndpoint, "/")
	if c.AWS.PresignExpirySeconds <= 0 {
		c.AWS.PresignExpirySeconds = defaultPresignExpirySeconds
	}
}

func (c *Config) normalizeTranscoder() {
	c.Transcoder.Backend = strings.ToLower(strings.TrimSpace(c.Transcoder.Backend))
	if c.Transcoder.Backend == "" {
		c.Transcoder.Backend = defaultTranscoderBackend
	}
}

func (c *Config) normalizeQuality() {
	c.Quality.DefaultPreset = strings.ToLower(strings.TrimSpace(c.Quality.DefaultPreset))
	if c.Quality.DefaultPreset == "" {
		c.Quality.DefaultPreset = defaultPreset
	}
	c.Quality.FFmpegBinary = strings.TrimSpace(c.Quality.FFmpegBinary)
	if c.Quality.FFmpegBinary == "" {
		c.Quality.FFmpegBinary = defaultFFmpegBinary
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
