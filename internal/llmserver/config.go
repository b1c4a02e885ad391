package llmserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"videolingo/internal/config"
)

const (
	defaultStartupTimeout  = 180 * time.Second
	defaultPollInterval    = time.Second
	defaultStopTimeout     = 15 * time.Second
	defaultReadyTimeout    = 2 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultDownloadBase    = "https://huggingface.co"
)

// Resources are optional llama.cpp tuning hints. Nil fields are not passed.
type Resources struct {
	GPULayers   *int
	ContextSize *int
	Threads     *int
	BatchSize   *int
}

// ServerConfig is the immutable description of the server to supervise.
type ServerConfig struct {
	Enabled      bool
	ManageServer bool
	Host         string
	Port         int
	APIKey       string

	ModelPath       string
	ModelDir        string
	ModelFile       string
	ModelRepo       string
	ModelAlias      string
	DownloadBaseURL string
	HFToken         string

	Resources  Resources
	ChatFormat string

	Command []string
	LogPath string

	StartupTimeout time.Duration
	PollInterval   time.Duration
	StopTimeout    time.Duration
	ReadyTimeout   time.Duration

	// DownloadTimeout bounds the wait for response headers and the gap
	// between body chunks while fetching the model.
	DownloadTimeout time.Duration
}

// FromConfig maps the local_llm config section onto a ServerConfig.
func FromConfig(cfg config.LocalLLM) ServerConfig {
	return ServerConfig{
		Enabled:         cfg.Enabled,
		ManageServer:    cfg.ManageServer,
		Host:            cfg.ServerHost,
		Port:            cfg.ServerPort,
		APIKey:          cfg.APIKey,
		ModelPath:       cfg.ModelPath,
		ModelDir:        cfg.ModelDir,
		ModelFile:       cfg.ModelFile,
		ModelRepo:       cfg.ModelRepo,
		ModelAlias:      cfg.ModelAlias,
		DownloadBaseURL: cfg.DownloadBaseURL,
		HFToken:         cfg.HFToken,
		Resources: Resources{
			GPULayers:   cfg.NGPULayers,
			ContextSize: cfg.NCtx,
			Threads:     cfg.NThreads,
			BatchSize:   cfg.NBatch,
		},
		ChatFormat:      cfg.ChatFormat,
		Command:         append([]string(nil), cfg.Command...),
		LogPath:         cfg.LogPath,
		StartupTimeout:  cfg.StartupTimeout(),
		StopTimeout:     cfg.StopTimeout(),
		ReadyTimeout:    cfg.ReadyTimeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = defaultDownloadTimeout
	}
	c.DownloadBaseURL = strings.TrimRight(strings.TrimSpace(c.DownloadBaseURL), "/")
	if c.DownloadBaseURL == "" {
		c.DownloadBaseURL = defaultDownloadBase
	}
	return c
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// BaseURL returns the OpenAI-compatible API root.
func (c ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s/v1", c.Address())
}
