package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	if err := c.normalizeLocalLLM(); err != nil {
		return err
	}
	c.normalizeAccelerator()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(c.Paths.InputDir); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.SaveDir, err = expandPath(c.Paths.SaveDir); err != nil {
		return fmt.Errorf("paths.save_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ErrorDir) == "" && c.Paths.SaveDir != "" {
		c.Paths.ErrorDir = filepath.Join(c.Paths.SaveDir, "ERROR")
	}
	if c.Paths.ErrorDir, err = expandPath(c.Paths.ErrorDir); err != nil {
		return fmt.Errorf("paths.error_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = defaultMaxAttempts
	}
	c.Pipeline.Downloader = trimArgs(c.Pipeline.Downloader)
	if len(c.Pipeline.Downloader) == 0 {
		c.Pipeline.Downloader = append([]string(nil), defaultDownloader...)
	}
	c.Pipeline.YTResolution = strings.TrimSpace(c.Pipeline.YTResolution)
	if c.Pipeline.YTResolution == "" {
		c.Pipeline.YTResolution = defaultYTResolution
	}
	suffixes := make([]string, 0, len(c.Pipeline.VideoSuffixes))
	seen := make(map[string]struct{}, len(c.Pipeline.VideoSuffixes))
	for _, suffix := range c.Pipeline.VideoSuffixes {
		normalized := strings.ToLower(strings.TrimSpace(suffix))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		suffixes = append(suffixes, normalized)
	}
	if len(suffixes) == 0 {
		suffixes = append(suffixes, defaultVideoSuffixes...)
	}
	c.Pipeline.VideoSuffixes = suffixes
	for i := range c.Pipeline.Steps {
		normalizeStep(&c.Pipeline.Steps[i])
	}
	for i := range c.Pipeline.DubbingSteps {
		normalizeStep(&c.Pipeline.DubbingSteps[i])
	}
}

func normalizeStep(step *StepCommand) {
	step.Name = strings.TrimSpace(step.Name)
	step.Command = trimArgs(step.Command)
	if step.TimeoutSeconds < 0 {
		step.TimeoutSeconds = 0
	}
}

func (c *Config) normalizeLocalLLM() error {
	llm := &c.LocalLLM
	llm.ServerHost = strings.TrimSpace(llm.ServerHost)
	if llm.ServerHost == "" {
		llm.ServerHost = defaultServerHost
	}
	if llm.ServerPort == 0 {
		llm.ServerPort = defaultServerPort
	}
	llm.APIKey = strings.TrimSpace(llm.APIKey)
	if llm.APIKey == "" {
		if value, ok := os.LookupEnv("LOCAL_LLM_API_KEY"); ok {
			llm.APIKey = strings.TrimSpace(value)
		}
	}
	llm.HFToken = strings.TrimSpace(llm.HFToken)
	if llm.HFToken == "" {
		if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			llm.HFToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			llm.HFToken = strings.TrimSpace(value)
		}
	}
	llm.DownloadBaseURL = strings.TrimRight(strings.TrimSpace(llm.DownloadBaseURL), "/")
	if value, ok := os.LookupEnv("HF_ENDPOINT"); ok && strings.TrimSpace(value) != "" {
		llm.DownloadBaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
	}
	if llm.DownloadBaseURL == "" {
		llm.DownloadBaseURL = defaultDownloadBaseURL
	}

	var err error
	llm.ModelPath = strings.TrimSpace(llm.ModelPath)
	if llm.ModelPath, err = expandPath(llm.ModelPath); err != nil {
		return fmt.Errorf("local_llm.model_path: %w", err)
	}
	if strings.TrimSpace(llm.ModelDir) == "" {
		llm.ModelDir = defaultModelDir
	}
	if llm.ModelDir, err = expandPath(strings.TrimSpace(llm.ModelDir)); err != nil {
		return fmt.Errorf("local_llm.model_dir: %w", err)
	}
	llm.ModelFile = strings.TrimSpace(llm.ModelFile)
	llm.ModelRepo = strings.Trim(strings.TrimSpace(llm.ModelRepo), "/")
	llm.ModelAlias = strings.TrimSpace(llm.ModelAlias)
	llm.ChatFormat = strings.TrimSpace(llm.ChatFormat)

	llm.Command = trimArgs(llm.Command)
	if len(llm.Command) == 0 {
		llm.Command = append([]string(nil), defaultServerCommand...)
	}
	if strings.TrimSpace(llm.LogPath) == "" {
		llm.LogPath = filepath.Join(c.Paths.LogDir, defaultServerLogName)
	}
	if llm.LogPath, err = expandPath(strings.TrimSpace(llm.LogPath)); err != nil {
		return fmt.Errorf("local_llm.log_path: %w", err)
	}
	if llm.StartupTimeoutSeconds <= 0 {
		llm.StartupTimeoutSeconds = defaultStartupTimeoutSeconds
	}
	if llm.StopTimeoutSeconds <= 0 {
		llm.StopTimeoutSeconds = defaultStopTimeoutSeconds
	}
	if llm.ReadyTimeoutSeconds <= 0 {
		llm.ReadyTimeoutSeconds = defaultReadyTimeoutSeconds
	}
	if llm.DownloadTimeoutSeconds <= 0 {
		llm.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeAccelerator() {
	c.Accelerator.ReclaimCommand = trimArgs(c.Accelerator.ReclaimCommand)
	if c.Accelerator.ReclaimTimeoutSeconds <= 0 {
		c.Accelerator.ReclaimTimeoutSeconds = defaultReclaimTimeoutSeconds
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
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
