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

// Paths contains the directories the pipeline reads from and writes into.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	SaveDir   string `toml:"save_dir"`
	ErrorDir  string `toml:"error_dir"`
	LogDir    string `toml:"log_dir"`
}

// StepCommand describes one externally implemented pipeline step.
type StepCommand struct {
	Name    string   `toml:"name"`
	Command []string `toml:"command"`
	// UsesLLM wraps the step in a local LLM server scope.
	UsesLLM        bool `toml:"uses_llm"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
}

// Pipeline contains step sequencing settings.
type Pipeline struct {
	MaxAttempts   int           `toml:"max_attempts"`
	Dubbing       bool          `toml:"dubbing"`
	BatchRetry    bool          `toml:"batch_retry"`
	Downloader    []string      `toml:"downloader"`
	YTResolution  string        `toml:"ytb_resolution"`
	VideoSuffixes []string      `toml:"video_suffixes"`
	Steps         []StepCommand `toml:"steps"`
	DubbingSteps  []StepCommand `toml:"dubbing_steps"`
}

// LocalLLM contains settings for the optional llama.cpp compatible server.
type LocalLLM struct {
	Enabled      bool   `toml:"enabled"`
	ManageServer bool   `toml:"manage_server"`
	ServerHost   string `toml:"server_host"`
	ServerPort   int    `toml:"server_port"`
	APIKey       string `toml:"api_key"`

	ModelPath  string `toml:"model_path"`
	ModelDir   string `toml:"model_dir"`
	ModelFile  string `toml:"model_file"`
	ModelRepo  string `toml:"model_repo"`
	ModelAlias string `toml:"model_alias"`
	// DownloadBaseURL is the model hub root; HF_ENDPOINT overrides the default.
	DownloadBaseURL string `toml:"download_base_url"`
	HFToken         string `toml:"hf_token"`

	// Resource hints are passed through only when set.
	NGPULayers *int   `toml:"n_gpu_layers"`
	NCtx       *int   `toml:"n_ctx"`
	NThreads   *int   `toml:"n_threads"`
	NBatch     *int   `toml:"n_batch"`
	ChatFormat string `toml:"chat_format"`

	Command               []string `toml:"command"`
	LogPath               string   `toml:"log_path"`
	StartupTimeoutSeconds int      `toml:"startup_timeout_seconds"`
	StopTimeoutSeconds    int      `toml:"stop_timeout_seconds"`
	ReadyTimeoutSeconds   int      `toml:"ready_timeout_seconds"`

	// DownloadTimeoutSeconds bounds the wait for response headers and for
	// each chunk of a model download.
	DownloadTimeoutSeconds int `toml:"download_timeout_seconds"`
}

// Accelerator contains settings for best-effort GPU memory reclamation.
type Accelerator struct {
	ReclaimCommand        []string `toml:"reclaim_command"`
	ReclaimTimeoutSeconds int      `toml:"reclaim_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for videolingo.
//
// Configuration sections by subsystem:
//   - Paths: input, working output, archive and log directories
//   - Pipeline: retry ceiling, step commands, dubbing steps, downloader
//   - LocalLLM: model acquisition and local server supervision
//   - Accelerator: memory reclamation hook run between steps
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Pipeline    Pipeline    `toml:"pipeline"`
	LocalLLM    LocalLLM    `toml:"local_llm"`
	Accelerator Accelerator `toml:"accelerator"`
	Logging     Logging     `toml:"logging"`
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

	projectPath, err := filepath.Abs("videolingo.toml")
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

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InputDir, c.Paths.OutputDir, c.Paths.SaveDir, c.Paths.ErrorDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AllSteps returns the configured text steps followed by the dubbing steps when requested.
func (c *Config) AllSteps(dubbing bool) []StepCommand {
	steps := make([]StepCommand, 0, len(c.Pipeline.Steps)+len(c.Pipeline.DubbingSteps))
	steps = append(steps, c.Pipeline.Steps...)
	if dubbing {
		steps = append(steps, c.Pipeline.DubbingSteps...)
	}
	return steps
}

// NeedsLLM reports whether the local LLM is enabled and any selected step is
// marked uses_llm.
func (c *Config) NeedsLLM(dubbing bool) bool {
	if !c.LocalLLM.Enabled {
		return false
	}
	for _, step := range c.AllSteps(dubbing) {
		if step.UsesLLM {
			return true
		}
	}
	return false
}

// StartupTimeout returns the readiness wait ceiling for the local server.
func (l LocalLLM) StartupTimeout() time.Duration {
	return time.Duration(l.StartupTimeoutSeconds) * time.Second
}

// StopTimeout returns the graceful shutdown ceiling for the local server.
func (l LocalLLM) StopTimeout() time.Duration {
	return time.Duration(l.StopTimeoutSeconds) * time.Second
}

// ReadyTimeout returns the per-request readiness check timeout.
func (l LocalLLM) ReadyTimeout() time.Duration {
	return time.Duration(l.ReadyTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the model download stall timeout.
func (l LocalLLM) DownloadTimeout() time.Duration {
	return time.Duration(l.DownloadTimeoutSeconds) * time.Second
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
