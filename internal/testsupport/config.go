// Package testsupport builds isolated configs, stub executables, and stores
// for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"videolingo/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Directories are created, the local LLM is disabled, and no steps are
// configured unless options add them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		InputDir:  filepath.Join(base, "input"),
		OutputDir: filepath.Join(base, "work"),
		SaveDir:   filepath.Join(base, "history"),
		ErrorDir:  filepath.Join(base, "history", "ERROR"),
		LogDir:    filepath.Join(base, "logs"),
	}
	cfgVal.Pipeline.Steps = nil
	cfgVal.Pipeline.DubbingSteps = nil
	cfgVal.LocalLLM.Enabled = false
	cfgVal.LocalLLM.LogPath = filepath.Join(base, "logs", "local_llm_server.log")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSteps replaces the configured text steps.
func WithSteps(steps ...config.StepCommand) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Steps = steps
	}
}

// WithDubbingSteps replaces the configured dubbing steps.
func WithDubbingSteps(steps ...config.StepCommand) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.DubbingSteps = steps
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
