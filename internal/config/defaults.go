package config

const (
	// BackendMediaConvert encodes through AWS Elemental MediaConvert with sources in S3.
	BackendMediaConvert = "mediaconvert"
	// BackendLocal encodes with the in-process drapto encoder and keeps blobs on disk.
	BackendLocal = "local"
)

const (
	defaultStateDir                 = "~/.local/share/vidconv"
	defaultLogDir                   = "~/.local/share/vidconv/logs"
	defaultStagingDir               = "~/.local/share/vidconv/blobs"
	defaultDownloadDir              = "~/Videos/vidconv"
	defaultCacheDir                 = "~/.cache/vidconv"
	defaultAPIBind                  = "127.0.0.1:7688"
	defaultRegion                   = "us-east-1"
	defaultPresignExpirySeconds     = 3600
	defaultTranscoderBackend        = BackendMediaConvert
	defaultTranscoderPollSeconds    = 15
	defaultTranscoderTimeoutSeconds = 7200
	defaultSSIMThreshold            = 0.95
	defaultPreset                   = "balanced"
	defaultScorerTimeoutSeconds     = 1800
	defaultFFmpegBinary             = "ffmpeg"
	defaultMaxConcurrency           = 5
	defaultMaxRetries               = 3
	defaultQueuePollInterval        = 5
	defaultErrorRetryInterval       = 10
	defaultHeartbeatInterval        = 15
	defaultHeartbeatTimeout         = 120
	defaultTaskRetentionDays        = 90
	defaultSecondsPerBatch          = 600
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			StagingDir:  defaultStagingDir,
			DownloadDir: defaultDownloadDir,
			CacheDir:    defaultCacheDir,
			APIBind:     defaultAPIBind,
		},
		AWS: AWS{
			Region:               defaultRegion,
			PresignExpirySeconds: defaultPresignExpirySeconds,
		},
		Transcoder: Transcoder{
			Backend:             defaultTranscoderBackend,
			PollIntervalSeconds: defaultTranscoderPollSeconds,
			JobTimeoutSeconds:   defaultTranscoderTimeoutSeconds,
		},
		Quality: Quality{
			SSIMThreshold:        defaultSSIMThreshold,
			DefaultPreset:        defaultPreset,
			ScorerTimeoutSeconds: defaultScorerTimeoutSeconds,
			FFmpegBinary:         defaultFFmpegBinary,
		},
		Workflow: Workflow{
			MaxConcurrency:     defaultMaxConcurrency,
			MaxRetries:         defaultMaxRetries,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			RetentionDays:      defaultTaskRetentionDays,
			SecondsPerBatch:    defaultSecondsPerBatch,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskCompleted:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
