// Package config loads, normalizes, and validates the TOML configuration that
// drives the murmur daemon: storage paths, scheduler sizing, collaborator
// model selection, and logging output. Credentials fall back to environment
// variables so config files can stay free of secrets.
package config
