package llmserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

const downloadChunkSize = 1 << 20

// ModelResolver returns a local path to the configured model, downloading it
// from the model hub when absent.
type ModelResolver struct {
	client *http.Client
	logger *slog.Logger
}

// errDownloadStalled is the cancellation cause when no bytes arrive within
// the download timeout.
var errDownloadStalled = errors.New("download stalled")

// NewDownloadClient returns an HTTP client for model downloads. Response
// headers must arrive within timeout; the body is bounded per chunk by the
// resolver rather than by an overall deadline, since model files are large.
func NewDownloadClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewModelResolver constructs a resolver. A nil client uses NewDownloadClient
// with the default timeout.
func NewModelResolver(client *http.Client, logger *slog.Logger) *ModelResolver {
	if client == nil {
		client = NewDownloadClient(defaultDownloadTimeout)
	}
	return &ModelResolver{client: client, logger: logging.NewComponentLogger(logger, "model_resolver")}
}

// Destination computes where the model artifact should live without touching
// the filesystem or network.
func Destination(cfg ServerConfig) (string, error) {
	if explicit := strings.TrimSpace(cfg.ModelPath); explicit != "" {
		return explicit, nil
	}
	file := strings.TrimSpace(cfg.ModelFile)
	if file == "" {
		return "", services.Wrap(services.ErrConfiguration, "llmserver", "resolve model", "local_llm.model_file or local_llm.model_path is required", nil)
	}
	return filepath.Join(cfg.ModelDir, file), nil
}

// Resolve returns the model path, downloading the artifact when it is missing.
// A present artifact never triggers a network request.
func (r *ModelResolver) Resolve(ctx context.Context, cfg ServerConfig) (string, error) {
	cfg = cfg.withDefaults()
	dest, err := Destination(cfg)
	if err != nil {
		return "", err
	}
	if info, statErr := os.Stat(dest); statErr == nil && !info.IsDir() {
		return dest, nil
	}

	repo := strings.Trim(strings.TrimSpace(cfg.ModelRepo), "/")
	if repo == "" {
		return "", services.Wrap(services.ErrConfiguration, "llmserver", "resolve model",
			fmt.Sprintf("model %s not found and local_llm.model_repo is not set", dest), nil)
	}

	if err := r.download(ctx, cfg, repo, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *ModelResolver) download(ctx context.Context, cfg ServerConfig, repo, dest string) error {
	filename := filepath.Base(dest)
	source := fmt.Sprintf("%s/%s/resolve/main/%s", cfg.DownloadBaseURL, repo, url.PathEscape(filename))
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("downloading model",
		logging.String(logging.FieldEventType, "model_download_start"),
		logging.String("source", source),
		logging.String("destination", dest),
	)
	started := time.Now()

	fail := func(message string, err error) error {
		return services.Wrap(services.ErrModelAcquisition, "llmserver", "download model", message, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail("create model directory", err)
	}

	// The watchdog cancels the request when neither headers nor body bytes
	// arrive within DownloadTimeout.
	downloadCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(cfg.DownloadTimeout, func() { cancel(errDownloadStalled) })
	defer watchdog.Stop()
	stalled := func(err error) error {
		if cause := context.Cause(downloadCtx); errors.Is(cause, errDownloadStalled) {
			return fmt.Errorf("%w: no data for %s", cause, cfg.DownloadTimeout)
		}
		return err
	}

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, source, nil)
	if err != nil {
		return fail("build request", err)
	}
	if token := strings.TrimSpace(cfg.HFToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fail("request "+source, stalled(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("request %s", source), fmt.Errorf("unexpected status %s", resp.Status))
	}

	partial := dest + ".part"
	written, err := writePartial(partial, &stallReader{r: resp.Body, watchdog: watchdog, idle: cfg.DownloadTimeout})
	if err != nil {
		_ = os.Remove(partial)
		return fail("write "+partial, stalled(err))
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(partial)
		return fail("write "+partial, fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength))
	}
	if err := os.Rename(partial, dest); err != nil {
		_ = os.Remove(partial)
		return fail("finalize "+dest, err)
	}

	logger.Info("model downloaded",
		logging.String(logging.FieldEventType, "model_download_complete"),
		logging.String("destination", dest),
		logging.Int64("bytes", written),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func writePartial(path string, body io.Reader) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.CopyBuffer(struct{ io.Writer }{out}, body, make([]byte, downloadChunkSize))
	syncErr := out.Sync()
	closeErr := out.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		return written, err
	}
	return written, nil
}

// stallReader pushes the watchdog back whenever bytes arrive.
type stallReader struct {
	r        io.Reader
	watchdog *time.Timer
	idle     time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.watchdog.Reset(s.idle)
	}
	return n, err
}
