// Package config provides centralized configuration management for the
// DrawSight daemon. Settings are read from a JSON file, overridden by
// DRAWSIGHT_* environment variables and completed with defaults so every
// component receives a fully populated configuration.
package config
