// Package logging configures structured slog output for the daemon and CLI.
package logging
