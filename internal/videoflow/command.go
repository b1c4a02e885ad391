package videoflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"videolingo/internal/config"
	"videolingo/internal/logging"
	"videolingo/internal/pipeline"
	"videolingo/internal/services"
)

// EnvPrefix prefixes every state key exported to step commands.
const EnvPrefix = "VIDEOLINGO_"

// stepLogDir is the directory inside the output area holding per-step logs.
const stepLogDir = "logs"

func (p *Processor) commandStep(sc config.StepCommand) pipeline.Step {
	return pipeline.Step{
		Name: sc.Name,
		Action: func(ctx context.Context, view pipeline.Values) (map[string]any, error) {
			if !sc.UsesLLM || p.supervisor == nil {
				return p.runCommand(ctx, sc, view, nil)
			}
			var output map[string]any
			err := p.supervisor.WithServer(ctx, sc.Name, func(ctx context.Context) error {
				var runErr error
				output, runErr = p.runCommand(ctx, sc, view, p.llmEnv())
				return runErr
			})
			return output, err
		},
	}
}

// runCommand executes one step command from the output area. Stdout and
// stderr are appended to a per-step log; the last stdout line, when it is a
// JSON object, is the step output.
func (p *Processor) runCommand(ctx context.Context, sc config.StepCommand, view pipeline.Values, extraEnv []string) (map[string]any, error) {
	if len(sc.Command) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "videoflow", sc.Name, "step command is empty", nil)
	}
	if sc.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sc.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	logFile, err := openStepLog(p.cfg.Paths.OutputDir, sc.Name)
	if err != nil {
		return nil, services.Wrap(services.ErrStepFailure, "videoflow", sc.Name, "open step log", err)
	}
	defer logFile.Close()
	attempt, _ := services.AttemptFromContext(ctx)
	fmt.Fprintf(logFile, "==> %s attempt %d: %s\n", time.Now().UTC().Format(time.RFC3339), attempt, strings.Join(sc.Command, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, sc.Command[0], sc.Command[1:]...) //nolint:gosec // operator-configured step
	cmd.Dir = p.cfg.Paths.OutputDir
	cmd.Env = append(append(os.Environ(), StepEnv(view)...), extraEnv...)
	cmd.Env = append(cmd.Env,
		EnvPrefix+"OUTPUT_DIR="+p.cfg.Paths.OutputDir,
		EnvPrefix+"STEP="+sc.Name,
	)
	cmd.Stdout = io.MultiWriter(logFile, &stdout)
	cmd.Stderr = io.MultiWriter(logFile, &stderr)

	started := time.Now()
	runErr := cmd.Run()
	logger := logging.WithContext(ctx, p.logger)
	if runErr != nil {
		marker := services.ErrStepFailure
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		detail := tail(stderr.String(), 5)
		if detail == "" {
			detail = tail(stdout.String(), 5)
		}
		return nil, services.Wrap(marker, "videoflow", sc.Name, fmt.Sprintf("command failed: %s", detail), runErr)
	}

	output, err := ParseOutput(stdout.String())
	if err != nil {
		return nil, services.Wrap(services.ErrStepFailure, "videoflow", sc.Name, "decode step output", err)
	}
	logger.Debug("step command finished",
		logging.String(logging.FieldEventType, "step_command_complete"),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("output_keys", len(output)),
	)
	return output, nil
}

// llmEnv exposes the local server endpoint to steps marked uses_llm.
func (p *Processor) llmEnv() []string {
	cfg := p.supervisor.Config()
	env := []string{EnvPrefix + "LLM_BASE_URL=" + cfg.BaseURL()}
	if cfg.APIKey != "" {
		env = append(env, EnvPrefix+"LLM_API_KEY="+cfg.APIKey)
	}
	if cfg.ModelAlias != "" {
		env = append(env, EnvPrefix+"LLM_MODEL="+cfg.ModelAlias)
	}
	return env
}

// StepEnv renders the state as VIDEOLINGO_<KEY>=value pairs. Strings are
// passed verbatim; other values are JSON encoded.
func StepEnv(view pipeline.Values) []string {
	keys := view.Keys()
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		value, _ := view.Get(key)
		var rendered string
		switch v := value.(type) {
		case string:
			rendered = v
		case nil:
			rendered = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				rendered = fmt.Sprint(v)
			} else {
				rendered = string(encoded)
			}
		}
		env = append(env, EnvKey(key)+"="+rendered)
	}
	return env
}

// EnvKey maps a state key onto its environment variable name.
func EnvKey(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range key {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ParseOutput decodes the last non-empty stdout line as a JSON object. Output
// whose last line is not a JSON object yields no keys.
func ParseOutput(stdout string) (map[string]any, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, "{") {
		return nil, nil
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(last), &output); err != nil {
		return nil, err
	}
	return output, nil
}

func openStepLog(outputDir, stepName string) (*os.File, error) {
	dir := filepath.Join(outputDir, stepLogDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := strings.Trim(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '-'
	}, stepName), "-")
	if name == "" {
		name = "step"
	}
	return os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
