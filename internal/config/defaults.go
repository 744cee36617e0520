package config

const (
	defaultStateDir             = "~/.local/share/taskwatch"
	defaultLogDir               = "~/.local/share/taskwatch/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultOriginTimeout        = 15
	defaultTriggerDelayMS       = 500
	defaultMatchThreshold       = 25
	defaultPrefixLength         = 22
	defaultOrdinalPenalty       = 10
	defaultTokenOverlapMax      = 70
	defaultTokenOverlapFloor    = 15
	defaultBigramMax            = 70
	defaultPollIntervalSeconds  = 5
	defaultMaxMonitorMinutes    = 120
	defaultFlushIntervalSeconds = 15
	defaultNotifyTimeout        = 10
)

func defaultOrdinalMarkers() []string {
	return []string{"volume", "vol", "part", "pt", "chapter", "ch", "episode", "ep", "no"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Origin: Origin{
			RequestTimeout: defaultOriginTimeout,
			TriggerDelayMS: defaultTriggerDelayMS,
		},
		Matching: Matching{
			Threshold:         defaultMatchThreshold,
			PrefixLength:      defaultPrefixLength,
			OrdinalPenalty:    defaultOrdinalPenalty,
			TokenOverlapMax:   defaultTokenOverlapMax,
			TokenOverlapFloor: defaultTokenOverlapFloor,
			BigramMax:         defaultBigramMax,
			OrdinalMarkers:    defaultOrdinalMarkers(),
		},
		Poller: Poller{
			IntervalSeconds:   defaultPollIntervalSeconds,
			MaxMonitorMinutes: defaultMaxMonitorMinutes,
		},
		Persistence: Persistence{
			FlushIntervalSeconds: defaultFlushIntervalSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
