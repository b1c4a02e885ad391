package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"videolingo/internal/config"
	"videolingo/internal/llmserver"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLocalLLM reports whether the local model server can serve requests.
// An unmanaged server must already answer the readiness check. A managed server only
// needs its model to be present or downloadable; it is spawned on demand.
func CheckLocalLLM(ctx context.Context, cfg config.LocalLLM) Result {
	const name = "Local LLM"
	serverCfg := llmserver.FromConfig(cfg)

	readyErr := llmserver.CheckReady(ctx, &http.Client{Timeout: 5 * time.Second}, serverCfg)
	if readyErr == nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Ready at %s", serverCfg.BaseURL())}
	}
	if !cfg.ManageServer {
		return Result{Name: name, Detail: fmt.Sprintf("not reachable at %s and manage_server is off (%v)", serverCfg.BaseURL(), readyErr)}
	}

	dest, err := llmserver.Destination(serverCfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if info, statErr := os.Stat(dest); statErr == nil && !info.IsDir() {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Model present at %s; server starts on demand", dest)}
	}
	if strings.TrimSpace(cfg.ModelRepo) == "" {
		return Result{Name: name, Detail: fmt.Sprintf("model %s missing and model_repo not set", dest)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Model will be downloaded from %s", cfg.ModelRepo)}
}
