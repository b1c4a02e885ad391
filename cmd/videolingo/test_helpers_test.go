package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videolingo/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	inputDir   string
	saveDir    string
	errorDir   string
	scriptDir  string
}

type testStep struct {
	name   string
	script string
}

func setupCLITestEnv(t *testing.T, steps ...testStep) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		inputDir:   filepath.Join(base, "input"),
		saveDir:    filepath.Join(base, "output"),
		errorDir:   filepath.Join(base, "output", "ERROR"),
		scriptDir:  filepath.Join(base, "scripts"),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\ninput_dir = %q\noutput_dir = %q\nsave_dir = %q\nerror_dir = %q\nlog_dir = %q\n\n",
		env.inputDir, filepath.Join(base, "work"), env.saveDir, env.errorDir, filepath.Join(base, "logs"))
	fmt.Fprintf(&b, "[pipeline]\nmax_attempts = 2\ndownloader = [%q]\n\n", filepath.Join(base, "missing-downloader"))
	for _, step := range steps {
		path := testsupport.WriteScript(t, filepath.Join(env.scriptDir, strings.ReplaceAll(step.name, " ", "_")+".sh"), step.script)
		fmt.Fprintf(&b, "[[pipeline.steps]]\nname = %q\ncommand = [%q]\n\n", step.name, path)
	}
	fmt.Fprintf(&b, "[local_llm]\nenabled = false\nserver_port = 1\n")
	if err := os.WriteFile(env.configPath, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd, cmdCtx := newRootCommand()
	defer func() {
		if err := cmdCtx.close(); err != nil {
			t.Errorf("close command context: %v", err)
		}
	}()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n--- output ---\n%s", needle, haystack)
	}
}
