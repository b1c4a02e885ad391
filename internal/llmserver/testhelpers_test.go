package llmserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"videolingo/internal/logging"
)

// fakeAPI answers /v1/models with 503 for the first failFirst requests and
// 200 afterwards. failFirst < 0 never becomes ready.
type fakeAPI struct {
	server    *httptest.Server
	requests  atomic.Int64
	failFirst int64
	authSeen  atomic.Value
}

func newFakeAPI(t *testing.T, failFirst int64) *fakeAPI {
	t.Helper()
	api := &fakeAPI{failFirst: failFirst}
	api.authSeen.Store("")
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		api.authSeen.Store(r.Header.Get("Authorization"))
		n := api.requests.Add(1)
		if api.failFirst < 0 || n <= api.failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(a.server.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

// testConfig returns a managed config pointing at api with a present model.
func testConfig(t *testing.T, api *fakeAPI, command []string) ServerConfig {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.gguf")
	if err := os.WriteFile(model, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	host, port := api.hostPort(t)
	return ServerConfig{
		Enabled:        true,
		ManageServer:   true,
		Host:           host,
		Port:           port,
		ModelPath:      model,
		Command:        command,
		LogPath:        filepath.Join(dir, "logs", "server.log"),
		StartupTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		StopTimeout:    2 * time.Second,
		ReadyTimeout:   500 * time.Millisecond,
	}
}

func newTestSupervisor(t *testing.T, cfg ServerConfig) *Supervisor {
	t.Helper()
	sup := NewSupervisor(cfg, Options{Logger: logging.NewNop()})
	t.Cleanup(func() {
		_ = sup.Stop(context.Background())
	})
	return sup
}

func sleeperCommand(countFile string) []string {
	return []string{"sh", "-c", `echo spawned >> "$0"; exec sleep 60`, countFile}
}

func spawnCount(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read spawn count: %v", err)
	}
	count := 0
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	return count
}

func waitForSpawns(t *testing.T, countFile string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if spawnCount(t, countFile) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d spawns, got %d", want, spawnCount(t, countFile))
}
