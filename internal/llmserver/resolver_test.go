package llmserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

func newHubServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64, *atomic.Value) {
	t.Helper()
	var hits atomic.Int64
	var path atomic.Value
	path.Store("")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		path.Store(r.URL.Path + "|" + r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits, &path
}

func TestResolveDownloadsOnceThenReuses(t *testing.T) {
	server, hits, path := newHubServer(t, http.StatusOK, "weights")
	dir := t.TempDir()
	cfg := ServerConfig{
		ModelDir:        filepath.Join(dir, "models"),
		ModelFile:       "qwen.gguf",
		ModelRepo:       "org/repo",
		DownloadBaseURL: server.URL,
		HFToken:         "hf_token",
	}
	resolver := NewModelResolver(server.Client(), logging.NewNop())

	got, err := resolver.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(dir, "models", "qwen.gguf")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "weights" {
		t.Fatalf("unexpected artifact %q err=%v", data, err)
	}
	if _, err := os.Stat(want + ".part"); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, got %v", err)
	}
	if p := path.Load().(string); p != "/org/repo/resolve/main/qwen.gguf|Bearer hf_token" {
		t.Fatalf("unexpected request %q", p)
	}

	again, err := resolver.Resolve(context.Background(), cfg)
	if err != nil || again != want {
		t.Fatalf("second Resolve: %q %v", again, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single download request, got %d", hits.Load())
	}
}

func TestResolveExplicitPathPresent(t *testing.T) {
	server, hits, _ := newHubServer(t, http.StatusOK, "weights")
	model := filepath.Join(t.TempDir(), "local.gguf")
	if err := os.WriteFile(model, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewModelResolver(server.Client(), nil).Resolve(context.Background(), ServerConfig{
		ModelPath:       model,
		DownloadBaseURL: server.URL,
	})
	if err != nil || got != model {
		t.Fatalf("expected %s unchanged, got %q %v", model, got, err)
	}
	if hits.Load() != 0 {
		t.Fatal("present artifact must not trigger a download")
	}
}

func TestResolveExplicitPathAbsentIsDestination(t *testing.T) {
	server, _, path := newHubServer(t, http.StatusOK, "weights")
	model := filepath.Join(t.TempDir(), "nested", "explicit.gguf")
	got, err := NewModelResolver(server.Client(), nil).Resolve(context.Background(), ServerConfig{
		ModelPath:       model,
		ModelRepo:       "org/repo",
		DownloadBaseURL: server.URL,
	})
	if err != nil || got != model {
		t.Fatalf("expected download to %s, got %q %v", model, got, err)
	}
	if p := path.Load().(string); p != "/org/repo/resolve/main/explicit.gguf|" {
		t.Fatalf("unexpected request %q", p)
	}
}

func TestResolveConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"no model file", ServerConfig{ModelDir: dir}},
		{"missing without repo", ServerConfig{ModelDir: dir, ModelFile: "absent.gguf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModelResolver(nil, nil).Resolve(context.Background(), tt.cfg)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestResolveDownloadFailureLeavesNoPartial(t *testing.T) {
	server, _, _ := newHubServer(t, http.StatusNotFound, "")
	dir := t.TempDir()
	_, err := NewModelResolver(server.Client(), nil).Resolve(context.Background(), ServerConfig{
		ModelDir:        dir,
		ModelFile:       "missing.gguf",
		ModelRepo:       "org/repo",
		DownloadBaseURL: server.URL,
	})
	if !errors.Is(err, services.ErrModelAcquisition) {
		t.Fatalf("expected model acquisition error, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files left behind, got %d", len(entries))
	}
}

func TestResolveStalledBodyFails(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	dir := t.TempDir()
	cfg := ServerConfig{
		ModelDir:        dir,
		ModelFile:       "slow.gguf",
		ModelRepo:       "org/repo",
		DownloadBaseURL: server.URL,
		DownloadTimeout: 200 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() {
		_, err := NewModelResolver(NewDownloadClient(cfg.DownloadTimeout), nil).Resolve(context.Background(), cfg)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, services.ErrModelAcquisition) {
			t.Fatalf("expected model acquisition error, got %v", err)
		}
		if !errors.Is(err, errDownloadStalled) {
			t.Fatalf("expected stall cause, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return after the download stalled")
	}
	if _, err := os.Stat(filepath.Join(dir, "slow.gguf.part")); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, got %v", err)
	}
}

func TestResolveStalledHeadersFails(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	cfg := ServerConfig{
		ModelDir:        t.TempDir(),
		ModelFile:       "slow.gguf",
		ModelRepo:       "org/repo",
		DownloadBaseURL: server.URL,
		DownloadTimeout: 200 * time.Millisecond,
	}
	started := time.Now()
	_, err := NewModelResolver(NewDownloadClient(cfg.DownloadTimeout), nil).Resolve(context.Background(), cfg)
	if !errors.Is(err, services.ErrModelAcquisition) {
		t.Fatalf("expected model acquisition error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("Resolve took %s on a server that never answers", elapsed)
	}
}

func TestNewDownloadClientSetsHeaderTimeout(t *testing.T) {
	client := NewDownloadClient(0)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != defaultDownloadTimeout {
		t.Fatalf("expected %s header timeout, got %s", defaultDownloadTimeout, transport.ResponseHeaderTimeout)
	}
}
