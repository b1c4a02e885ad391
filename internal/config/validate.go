package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLocalLLM(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.SaveDir) == "" {
		return errors.New("paths.save_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ErrorDir) == "" {
		return errors.New("paths.error_dir must be set")
	}
	output := filepath.Clean(c.Paths.OutputDir)
	if output == string(filepath.Separator) {
		return errors.New("paths.output_dir must not be the filesystem root")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && filepath.Clean(home) == output {
		return errors.New("paths.output_dir must not be the home directory")
	}

	// The output area is removed and recreated before every run, so nothing
	// that must survive a run may live inside it.
	guarded := []struct {
		key string
		dir string
	}{
		{"paths.save_dir", c.Paths.SaveDir},
		{"paths.error_dir", c.Paths.ErrorDir},
		{"paths.input_dir", c.Paths.InputDir},
		{"paths.log_dir", c.Paths.LogDir},
		{"local_llm.model_dir", c.LocalLLM.ModelDir},
		{"local_llm.model_path", parentDir(c.LocalLLM.ModelPath)},
		{"local_llm.log_path", parentDir(c.LocalLLM.LogPath)},
	}
	for _, g := range guarded {
		if strings.TrimSpace(g.dir) == "" {
			continue
		}
		if filepath.Clean(g.dir) == output {
			return fmt.Errorf("%s must differ from paths.output_dir", g.key)
		}
		if isWithin(g.dir, output) {
			return fmt.Errorf("%s must not be inside paths.output_dir", g.key)
		}
	}
	return nil
}

func parentDir(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return filepath.Dir(path)
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be at least 1")
	}
	seen := make(map[string]string)
	check := func(section string, steps []StepCommand) error {
		for i, step := range steps {
			if step.Name == "" {
				return fmt.Errorf("%s[%d].name must be set", section, i)
			}
			if len(step.Command) == 0 {
				return fmt.Errorf("%s[%d].command must be set for step %q", section, i, step.Name)
			}
			if prev, ok := seen[step.Name]; ok {
				return fmt.Errorf("%s[%d]: duplicate step name %q (already used in %s)", section, i, step.Name, prev)
			}
			seen[step.Name] = section
		}
		return nil
	}
	if err := check("pipeline.steps", c.Pipeline.Steps); err != nil {
		return err
	}
	return check("pipeline.dubbing_steps", c.Pipeline.DubbingSteps)
}

func (c *Config) validateLocalLLM() error {
	llm := c.LocalLLM
	if !llm.Enabled {
		return nil
	}
	if llm.ServerPort <= 0 || llm.ServerPort > 65535 {
		return fmt.Errorf("local_llm.server_port must be between 1 and 65535, got %d", llm.ServerPort)
	}
	if !llm.ManageServer {
		return nil
	}
	if llm.ModelPath == "" && llm.ModelFile == "" {
		return errors.New("local_llm.model_file (or local_llm.model_path) is required when local_llm.manage_server is true")
	}
	if len(llm.Command) == 0 {
		return errors.New("local_llm.command must be set when local_llm.manage_server is true")
	}
	return ensurePositiveMap(map[string]int{
		"local_llm.startup_timeout_seconds": llm.StartupTimeoutSeconds,
		"local_llm.stop_timeout_seconds":    llm.StopTimeoutSeconds,
		"local_llm.ready_timeout_seconds":   llm.ReadyTimeoutSeconds,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
