// Package config loads EPP client configuration from TOML or YAML
// files, with credentials optionally supplied by the environment.
package config
