package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStepFailure       = errors.New("step failure")
	ErrConfiguration     = errors.New("configuration error")
	ErrModelAcquisition  = errors.New("model acquisition error")
	ErrServerStartup     = errors.New("server startup error")
	ErrServerUnavailable = errors.New("server unavailable")
	ErrExternalTool      = errors.New("external tool error")
	ErrTimeout           = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to a short label used in run history and CLI output.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrModelAcquisition):
		return "model_acquisition"
	case errors.Is(err, ErrServerUnavailable):
		return "server_unavailable"
	case errors.Is(err, ErrServerStartup) && errors.Is(err, ErrTimeout):
		return "server_startup_timeout"
	case errors.Is(err, ErrServerStartup):
		return "server_startup"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStepFailure):
		return "step_failure"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying the same operation could plausibly help.
// Configuration problems never fix themselves between attempts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
