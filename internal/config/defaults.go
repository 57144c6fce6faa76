package config

const (
	defaultJobsDir            = "~/.local/share/murmur/jobs"
	defaultLogDir             = "~/.local/share/murmur/logs"
	defaultAPIBind            = "127.0.0.1:8425"
	defaultWorkers            = 2
	defaultQueuePollInterval  = 1
	defaultErrorRetryInterval = 10
	defaultStopTimeout        = 5
	defaultWhisperModel       = "base"
	defaultWhisperCacheDir    = "~/.cache/murmur/whisper"
	defaultDiarizerModel      = "pyannote/speaker-diarization-3.1"
	defaultLLMBaseURL         = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel           = "gpt-4o-mini"
	defaultLLMTimeoutSeconds  = 120
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			JobsDir: defaultJobsDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Scheduler: Scheduler{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StopTimeout:        defaultStopTimeout,
		},
		Transcriber: Transcriber{
			Model:    defaultWhisperModel,
			CacheDir: defaultWhisperCacheDir,
		},
		Diarizer: Diarizer{
			Model: defaultDiarizerModel,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
