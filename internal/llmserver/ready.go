package llmserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// CheckReady reports nil when GET /v1/models answers 200 within the readiness timeout.
func CheckReady(ctx context.Context, client *http.Client, cfg ServerConfig) error {
	cfg = cfg.withDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	readyCtx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(readyCtx, http.MethodGet, cfg.BaseURL()+"/models", nil)
	if err != nil {
		return fmt.Errorf("build readiness request: %w", err)
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness check %s: status %d", req.URL, resp.StatusCode)
	}
	return nil
}
