package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videolingo/internal/services"
	"videolingo/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, target); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t, testStep{
		name:   "Transcribe",
		script: `echo '{"transcript": "t.txt"}'`,
	})
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "talk.mp4"), 16)

	out, _, err := runCLI(t, []string{"run", "talk.mp4"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "Result:   succeeded")
	if _, err := os.Stat(filepath.Join(env.saveDir, "talk", "talk.mp4")); err != nil {
		t.Fatalf("expected archived input: %v", err)
	}

	out, _, err = runCLI(t, []string{"history", "--limit", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "talk.mp4")
	requireContains(t, out, "Succeeded")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	idStart := strings.Index(out, `"ID": "`)
	if idStart < 0 {
		t.Fatalf("expected run ID in JSON output:\n%s", out)
	}
	prefix := out[idStart+len(`"ID": "`):][:8]

	out, _, err = runCLI(t, []string{"history", prefix}, env.configPath)
	if err != nil {
		t.Fatalf("history %s: %v", prefix, err)
	}
	requireContains(t, out, "Processing input file")
	requireContains(t, out, "Transcribe")
}

func TestRunFailureReturnsError(t *testing.T) {
	env := setupCLITestEnv(t, testStep{name: "Broken", script: "echo boom >&2\nexit 3"})
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "talk.mp4"), 16)

	out, _, err := runCLI(t, []string{"run", "talk.mp4"}, env.configPath)
	if err == nil {
		t.Fatal("expected failed run to return an error")
	}
	requireContains(t, err.Error(), "Broken")
	requireContains(t, out, "boom")
	if _, err := os.Stat(filepath.Join(env.errorDir, "talk")); err != nil {
		t.Fatalf("expected quarantined output: %v", err)
	}
}

func TestBatchEmptyInputDirectory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"batch"}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	requireContains(t, out, "No video files")
}

func TestBatchReportsEachInput(t *testing.T) {
	env := setupCLITestEnv(t, testStep{name: "Noop", script: "exit 0"})
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "a.mp4"), 4)
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "b.mkv"), 4)

	out, _, err := runCLI(t, []string{"batch"}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v\n%s", err, out)
	}
	requireContains(t, out, "a.mp4")
	requireContains(t, out, "b.mkv")
	requireContains(t, out, "2 processed, 0 failed")
}

func TestStatusReportsPreflight(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	requireContains(t, out, "Output directory")
	requireContains(t, out, "[WARN]")
	requireContains(t, out, "Run history")
}

func TestStatusFailsOnMissingStepBinary(t *testing.T) {
	env := setupCLITestEnv(t, testStep{name: "Gone", script: "exit 0"})
	if err := os.RemoveAll(env.scriptDir); err != nil {
		t.Fatalf("remove scripts: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err == nil {
		t.Fatalf("expected status to fail\n%s", out)
	}
	requireContains(t, out, "[ERROR]")
}

func TestServerStatusNotAnswering(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"server", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("server status: %v", err)
	}
	requireContains(t, out, "not answering")
	requireContains(t, out, "http://127.0.0.1:1/v1")
}

func TestServerServeRefusesWhenDisabled(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"server", "serve"}, env.configPath)
	if err == nil {
		t.Fatal("expected server serve to fail when local_llm.enabled is false")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	requireContains(t, err.Error(), "local_llm.enabled")
}

func TestCommandContextCloseIsIdempotent(t *testing.T) {
	env := setupCLITestEnv(t)
	configPath := env.configPath
	cmdCtx := newCommandContext(&configPath)

	logger, err := cmdCtx.ensureLogger()
	if err != nil {
		t.Fatalf("ensureLogger: %v", err)
	}
	logger.Info("closing soon")
	if err := cmdCtx.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cmdCtx.close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[string]string{
		"":             "-",
		"retrying":     "Retrying",
		"step_failure": "Step Failure",
	}
	for in, want := range tests {
		if got := statusLabel(in); got != want {
			t.Errorf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
