package config

const (
	defaultConfigPath             = "~/.config/videolingo/config.toml"
	defaultInputDir               = "~/.local/share/videolingo/input"
	defaultOutputDir              = "~/.local/share/videolingo/work"
	defaultSaveDir                = "~/.local/share/videolingo/output"
	defaultErrorDir               = "~/.local/share/videolingo/output/ERROR"
	defaultLogDir                 = "~/.local/share/videolingo/logs"
	defaultMaxAttempts            = 3
	defaultYTResolution           = "1080"
	defaultServerHost             = "127.0.0.1"
	defaultServerPort             = 8000
	defaultModelDir               = "~/.cache/videolingo/models"
	defaultDownloadBaseURL        = "https://huggingface.co"
	defaultServerLogName          = "local_llm_server.log"
	defaultStartupTimeoutSeconds  = 180
	defaultStopTimeoutSeconds     = 15
	defaultReadyTimeoutSeconds    = 2
	defaultDownloadTimeoutSeconds = 60
	defaultReclaimTimeoutSeconds  = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

var (
	defaultDownloader    = []string{"yt-dlp"}
	defaultServerCommand = []string{"python3", "-m", "llama_cpp.server"}
	defaultVideoSuffixes = []string{".mp4", ".mkv", ".webm", ".mov", ".avi", ".flv", ".m4v"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			OutputDir: defaultOutputDir,
			SaveDir:   defaultSaveDir,
			ErrorDir:  defaultErrorDir,
			LogDir:    defaultLogDir,
		},
		Pipeline: Pipeline{
			MaxAttempts:   defaultMaxAttempts,
			Downloader:    append([]string(nil), defaultDownloader...),
			YTResolution:  defaultYTResolution,
			VideoSuffixes: append([]string(nil), defaultVideoSuffixes...),
		},
		LocalLLM: LocalLLM{
			ManageServer:           true,
			ServerHost:             defaultServerHost,
			ServerPort:             defaultServerPort,
			ModelDir:               defaultModelDir,
			DownloadBaseURL:        defaultDownloadBaseURL,
			Command:                append([]string(nil), defaultServerCommand...),
			StartupTimeoutSeconds:  defaultStartupTimeoutSeconds,
			StopTimeoutSeconds:     defaultStopTimeoutSeconds,
			ReadyTimeoutSeconds:    defaultReadyTimeoutSeconds,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
		},
		Accelerator: Accelerator{
			ReclaimTimeoutSeconds: defaultReclaimTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
