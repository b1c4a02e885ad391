// Package config loads, normalizes, and validates videolingo configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LOCAL_LLM_API_KEY, HF_TOKEN, and HF_ENDPOINT. The Config type centralizes the
// pipeline directories, step commands, and local LLM server settings so the CLI
// and the supervisor agree on one resolved view.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
