package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		problems = append(problems, "paths.state_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}

	m := c.Matching
	if m.Threshold < 1 || m.Threshold > 100 {
		problems = append(problems, fmt.Sprintf("matching.threshold must be in 1..100, got %d", m.Threshold))
	}
	if m.OrdinalPenalty >= m.Threshold {
		problems = append(problems, "matching.ordinal_penalty must stay below matching.threshold")
	}
	if m.PrefixLength < 4 {
		problems = append(problems, "matching.prefix_length must be at least 4")
	}
	if m.TokenOverlapMax <= 0 || m.TokenOverlapMax > 100 {
		problems = append(problems, "matching.token_overlap_max must be in 1..100")
	}
	if m.BigramMax <= 0 || m.BigramMax > 100 {
		problems = append(problems, "matching.bigram_max must be in 1..100")
	}
	if m.TokenOverlapFloor < 0 || m.TokenOverlapFloor > m.TokenOverlapMax {
		problems = append(problems, "matching.token_overlap_floor must be in 0..token_overlap_max")
	}

	if c.Poller.IntervalSeconds <= 0 {
		problems = append(problems, "poller.interval_seconds must be positive")
	}
	if c.Poller.MaxMonitorMinutes <= 0 {
		problems = append(problems, "poller.max_monitor_minutes must be positive")
	}
	if c.Persistence.FlushIntervalSeconds <= 0 {
		problems = append(problems, "persistence.flush_interval_seconds must be positive")
	}
	if c.Origin.RequestTimeout <= 0 {
		problems = append(problems, "origin.request_timeout must be positive")
	}
	if c.Origin.TriggerDelayMS < 0 {
		problems = append(problems, "origin.trigger_delay_ms must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
