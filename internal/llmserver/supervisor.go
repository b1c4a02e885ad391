package llmserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

// StartState reports what Start did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// State is the lifecycle position of the tracked server.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateReady    State = "ready"
)

// Reclaimer frees accelerator memory before a spawn and after a stop.
type Reclaimer interface {
	Reclaim(ctx context.Context)
}

type handle struct {
	proc    *process
	logFile *os.File
	lock    *flock.Flock
	address string
}

// slot is the single process-wide server handle.
var slot struct {
	mu     sync.Mutex
	handle *handle
	state  State
}

var (
	// ops serializes start and stop sequences across Supervisors.
	ops        sync.Mutex
	startGroup singleflight.Group
)

// Options configures a Supervisor.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Resolver   *ModelResolver
	Reclaimer  Reclaimer
	// LookPath resolves the server executable; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Supervisor starts, checks, and stops the local inference server.
type Supervisor struct {
	cfg       ServerConfig
	logger    *slog.Logger
	client    *http.Client
	resolver  *ModelResolver
	reclaimer Reclaimer
	lookPath  func(string) (string, error)
}

// NewSupervisor constructs a Supervisor for cfg.
func NewSupervisor(cfg ServerConfig, opts Options) *Supervisor {
	cfg = cfg.withDefaults()
	logger := logging.NewComponentLogger(opts.Logger, "llm_server")
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewModelResolver(NewDownloadClient(cfg.DownloadTimeout), opts.Logger)
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &Supervisor{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		resolver:  resolver,
		reclaimer: opts.Reclaimer,
		lookPath:  lookPath,
	}
}

// Config returns the effective server configuration.
func (s *Supervisor) Config() ServerConfig {
	return s.cfg
}

// Ready reports whether the server answers the readiness check.
func (s *Supervisor) Ready(ctx context.Context) bool {
	return CheckReady(ctx, s.client, s.cfg) == nil
}

// State reports the lifecycle state of the tracked server.
func (s *Supervisor) State() State {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.handle == nil {
		return StateAbsent
	}
	return slot.state
}

// PID returns the tracked server pid, or 0 when nothing is tracked.
func (s *Supervisor) PID() int {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.handle == nil {
		return 0
	}
	return slot.handle.proc.pid
}

// Start ensures a server is ready. Concurrent callers share one attempt; only
// the caller whose call performed the spawn sees StartStateStarted.
func (s *Supervisor) Start(ctx context.Context) (StartState, error) {
	performed := false
	value, err, _ := startGroup.Do(s.cfg.Address(), func() (any, error) {
		performed = true
		return s.start(ctx)
	})
	if err != nil {
		return "", err
	}
	state, _ := value.(StartState)
	if state == StartStateStarted && !performed {
		state = StartStateAlreadyRunning
	}
	return state, nil
}

func (s *Supervisor) start(ctx context.Context) (StartState, error) {
	ops.Lock()
	defer ops.Unlock()

	logger := logging.WithContext(ctx, s.logger)
	if s.Ready(ctx) {
		logger.Info("local llm server already running",
			logging.String(logging.FieldEventType, "server_already_running"),
			logging.String("address", s.cfg.Address()),
		)
		return StartStateAlreadyRunning, nil
	}
	s.releaseStale(ctx)

	if len(s.cfg.Command) == 0 || strings.TrimSpace(s.cfg.Command[0]) == "" {
		return "", services.Wrap(services.ErrConfiguration, "llmserver", "start", "local_llm.command is empty", nil)
	}
	if _, err := s.lookPath(s.cfg.Command[0]); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "llmserver", "start",
			fmt.Sprintf("server command %q not found; install llama-cpp-python[server] or set local_llm.command", s.cfg.Command[0]), err)
	}

	s.reclaim(ctx)

	modelPath, err := s.resolver.Resolve(ctx, s.cfg)
	if err != nil {
		return "", err
	}
	argv := BuildArgs(s.cfg, modelPath)

	logFile, err := openLog(s.cfg.LogPath)
	if err != nil {
		return "", services.Wrap(services.ErrServerStartup, "llmserver", "start", "open server log", err)
	}

	lock := flock.New(lockPath(s.cfg.LogPath))
	locked, err := lock.TryLock()
	if err != nil {
		_ = logFile.Close()
		return "", services.Wrap(services.ErrServerStartup, "llmserver", "start", "acquire spawn lock", err)
	}
	if !locked {
		_ = logFile.Close()
		return s.awaitForeign(ctx, logger)
	}

	proc, err := spawn(argv, logFile)
	if err != nil {
		_ = logFile.Close()
		_ = lock.Unlock()
		return "", services.Wrap(services.ErrServerStartup, "llmserver", "start", "spawn server", err)
	}

	h := &handle{proc: proc, logFile: logFile, lock: lock, address: s.cfg.Address()}
	slot.mu.Lock()
	slot.handle = h
	slot.state = StateStarting
	slot.mu.Unlock()

	logger.Info("local llm server starting",
		logging.String(logging.FieldEventType, "server_spawn"),
		logging.Int("pid", proc.pid),
		logging.String("model", modelPath),
		logging.String("address", s.cfg.Address()),
		logging.String("log_path", s.cfg.LogPath),
	)

	if err := s.awaitReady(ctx, proc); err != nil {
		proc.forceStop()
		s.clearSlot(h)
		logging.ErrorWithContext(logger, "local llm server failed to start", "server_startup_failed",
			logging.ErrorKind(err),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect "+s.cfg.LogPath),
		)
		return "", err
	}

	slot.mu.Lock()
	slot.state = StateReady
	slot.mu.Unlock()
	logger.Info("local llm server ready",
		logging.String(logging.FieldEventType, "server_ready"),
		logging.Int("pid", proc.pid),
		logging.String("base_url", s.cfg.BaseURL()),
	)
	return StartStateStarted, nil
}

// awaitReady polls the readiness check until it succeeds, the process exits, the
// startup window closes, or ctx ends.
func (s *Supervisor) awaitReady(ctx context.Context, proc *process) error {
	deadline := time.NewTimer(s.cfg.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.done:
			return services.Wrap(services.ErrServerStartup, "llmserver", "start",
				"server exited unexpectedly; see "+s.cfg.LogPath, proc.err)
		case <-ctx.Done():
			return services.Wrap(services.ErrServerStartup, "llmserver", "start", "startup cancelled", ctx.Err())
		case <-deadline.C:
			return services.Wrap(services.ErrServerStartup, "llmserver", "start",
				fmt.Sprintf("server not ready after %s", s.cfg.StartupTimeout), services.ErrTimeout)
		case <-ticker.C:
			if proc.exited() {
				continue
			}
			if s.Ready(ctx) {
				return nil
			}
		}
	}
}

// awaitForeign waits for a server spawned by another process that holds the
// spawn lock. Nothing is tracked locally.
func (s *Supervisor) awaitForeign(ctx context.Context, logger *slog.Logger) (StartState, error) {
	logger.Info("another process holds the server spawn lock; waiting for readiness",
		logging.String(logging.FieldEventType, "server_lock_busy"),
		logging.String("lock_path", lockPath(s.cfg.LogPath)),
	)
	deadline := time.NewTimer(s.cfg.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", services.Wrap(services.ErrServerStartup, "llmserver", "start", "startup cancelled", ctx.Err())
		case <-deadline.C:
			return "", services.Wrap(services.ErrServerStartup, "llmserver", "start",
				"server owned by another process did not become ready", services.ErrTimeout)
		case <-ticker.C:
			if s.Ready(ctx) {
				return StartStateAlreadyRunning, nil
			}
		}
	}
}

// Stop terminates the tracked server. It is a no-op when nothing is tracked.
func (s *Supervisor) Stop(ctx context.Context) error {
	ops.Lock()
	defer ops.Unlock()

	slot.mu.Lock()
	h := slot.handle
	slot.mu.Unlock()
	if h == nil {
		return nil
	}

	logger := logging.WithContext(ctx, s.logger)
	var stopErr error
	forced := false
	if err := h.proc.terminate(); err != nil && !h.proc.exited() {
		logger.Debug("sigterm failed; killing process group", logging.Error(err))
		forced = true
	} else if !h.proc.wait(s.cfg.StopTimeout) {
		forced = true
	}
	if forced {
		if err := h.proc.killGroup(unix.SIGKILL); err != nil {
			stopErr = services.Wrap(services.ErrExternalTool, "llmserver", "stop", "kill process group", err)
		}
		h.proc.wait(5 * time.Second)
	}

	s.clearSlot(h)
	s.reclaim(ctx)
	logger.Info("local llm server stopped",
		logging.String(logging.FieldEventType, "server_stopped"),
		logging.Int("pid", h.proc.pid),
		logging.Bool("forced", forced),
	)
	return stopErr
}

// WithServer runs fn inside a server scope. When the server is disabled fn
// runs directly. When it is managed, a server started by this scope is stopped
// when fn returns or panics. When it is unmanaged the server must already be
// ready.
func (s *Supervisor) WithServer(ctx context.Context, stepName string, fn func(context.Context) error) (err error) {
	if !s.cfg.Enabled {
		return fn(ctx)
	}
	ctx = services.WithStep(ctx, stepName)

	if !s.cfg.ManageServer {
		if readyErr := CheckReady(ctx, s.client, s.cfg); readyErr != nil {
			return services.Wrap(services.ErrServerUnavailable, "llmserver", stepName,
				fmt.Sprintf("local llm server at %s is not ready and manage_server is off", s.cfg.Address()), readyErr)
		}
		return fn(ctx)
	}

	state, err := s.Start(ctx)
	if err != nil {
		return err
	}
	if state == StartStateStarted {
		defer func() {
			if stopErr := s.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				logging.WarnWithContext(s.logger, "local llm server stop failed", "server_stop_failed",
					logging.Error(stopErr),
					logging.String(logging.FieldImpact, "server process may still hold accelerator memory"),
				)
				if err == nil {
					err = stopErr
				}
			}
		}()
	}
	return fn(ctx)
}

// releaseStale drops a tracked handle that is no longer answering.
func (s *Supervisor) releaseStale(ctx context.Context) {
	slot.mu.Lock()
	h := slot.handle
	slot.mu.Unlock()
	if h == nil {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "discarding unresponsive tracked server", "server_stale",
		logging.Int("pid", h.proc.pid),
		logging.Bool("exited", h.proc.exited()),
		logging.String(logging.FieldImpact, "a fresh server will be spawned"),
	)
	if !h.proc.exited() {
		h.proc.forceStop()
	}
	s.clearSlot(h)
}

func (s *Supervisor) clearSlot(h *handle) {
	slot.mu.Lock()
	if slot.handle == h {
		slot.handle = nil
		slot.state = StateAbsent
	}
	slot.mu.Unlock()
	if h.logFile != nil {
		_ = h.logFile.Close()
	}
	if h.lock != nil {
		_ = h.lock.Unlock()
	}
}

func (s *Supervisor) reclaim(ctx context.Context) {
	if s.reclaimer != nil {
		s.reclaimer.Reclaim(ctx)
	}
}

func openLog(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("local_llm.log_path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func lockPath(logPath string) string {
	return logPath + ".lock"
}
