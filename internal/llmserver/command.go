package llmserver

import "strconv"

// BuildArgs returns the full server argv for modelPath. Optional flags appear
// only when configured.
func BuildArgs(cfg ServerConfig, modelPath string) []string {
	args := append([]string(nil), cfg.Command...)
	args = append(args,
		"--model", modelPath,
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
	)
	if cfg.APIKey != "" {
		args = append(args, "--api_key", cfg.APIKey)
	}
	if cfg.ModelAlias != "" {
		args = append(args, "--model_alias", cfg.ModelAlias)
	}
	args = appendInt(args, "--n_gpu_layers", cfg.Resources.GPULayers)
	args = appendInt(args, "--n_ctx", cfg.Resources.ContextSize)
	args = appendInt(args, "--n_threads", cfg.Resources.Threads)
	args = appendInt(args, "--n_batch", cfg.Resources.BatchSize)
	if cfg.ChatFormat != "" {
		args = append(args, "--chat_format", cfg.ChatFormat)
	}
	return args
}

func appendInt(args []string, flag string, value *int) []string {
	if value == nil {
		return args
	}
	return append(args, flag, strconv.Itoa(*value))
}
