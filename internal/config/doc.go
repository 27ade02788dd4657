// Package config defines configuration for the dlpool CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (DLPOOL_ prefix, optionally from a .env file)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # File format
//
//	dir: ./downloads
//	workers: 8
//	exist_ok: true
//	timeout: 1m
//	rate_limit: 10MiB
//	headers:
//	  Referer: https://example.com/
//	retry:
//	  attempts: 5
//	  backoff: 1s
//	  max_backoff: 30s
package config
