// Package config loads, normalizes, and validates the TOML configuration
// shared by the taskwatch daemon and CLI.
package config
