package config

const (
	defaultInboxDir     = "~/transcribeflow/inbox"
	defaultOutputDir    = "~/transcribeflow/output"
	defaultRejectedDir  = "~/transcribeflow/rejected"
	defaultProfilesDir  = "~/transcribeflow/profiles"
	defaultTemplatesDir = "~/transcribeflow/templates"
	defaultDataDir      = "~/.local/share/transcribeflow"
	defaultLogDir       = "~/.local/share/transcribeflow/logs"
	defaultCSVLogPath   = "~/.local/share/transcribeflow/status_log.csv"

	defaultStoreBackend = "sqlite"

	defaultASREngine         = "remote"
	defaultASRBaseURL        = "https://api.openai.com/v1"
	defaultASRModel          = "whisper-1"
	defaultASRTimeoutSeconds = 600
	defaultLocalBinary       = "whisper"
	defaultLocalModel        = "base"
	defaultChunkTriggerMB    = 200
	defaultChunkDurationSec  = 900
	defaultRetryMaxAttempts  = 3
	defaultRetryBaseDelaySec = 2
	defaultRetryFactor       = 2.0

	defaultPostEditBaseURL        = "https://api.openai.com/v1"
	defaultPostEditModel          = "gpt-4o-mini"
	defaultPostEditTimeoutSeconds = 120

	defaultAccuracyThreshold = 0.99

	defaultMaxAudioSizeMB = 8192
	defaultSettleDelayMS  = 500
	defaultProfileID      = "default"

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 30

	defaultTelemetryTimeout = 5

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			InboxDir:     defaultInboxDir,
			OutputDir:    defaultOutputDir,
			RejectedDir:  defaultRejectedDir,
			ProfilesDir:  defaultProfilesDir,
			TemplatesDir: defaultTemplatesDir,
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			CSVLogPath:   defaultCSVLogPath,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		ASR: ASR{
			Engine:            defaultASREngine,
			BaseURL:           defaultASRBaseURL,
			Model:             defaultASRModel,
			TimeoutSeconds:    defaultASRTimeoutSeconds,
			LocalBinary:       defaultLocalBinary,
			LocalModel:        defaultLocalModel,
			ChunkTriggerMB:    defaultChunkTriggerMB,
			ChunkDurationSec:  defaultChunkDurationSec,
			RetryMaxAttempts:  defaultRetryMaxAttempts,
			RetryBaseDelaySec: defaultRetryBaseDelaySec,
			RetryFactor:       defaultRetryFactor,
		},
		PostEdit: PostEdit{
			BaseURL:        defaultPostEditBaseURL,
			Model:          defaultPostEditModel,
			TimeoutSeconds: defaultPostEditTimeoutSeconds,
		},
		Accuracy: Accuracy{
			Enabled:   true,
			Threshold: defaultAccuracyThreshold,
		},
		Watcher: Watcher{
			MaxAudioSizeMB: defaultMaxAudioSizeMB,
			SettleDelayMS:  defaultSettleDelayMS,
			DefaultProfile: defaultProfileID,
			AllowRetry:     true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Telemetry: Telemetry{
			RequestTimeout: defaultTelemetryTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
