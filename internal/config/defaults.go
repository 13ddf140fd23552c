package config

import "time"

const (
	DefaultSchedulerMode     = "async"
	DefaultQueueCapacity     = 4096
	DefaultOverflowPolicy    = "drop-oldest"
	DefaultBlockTimeout      = 50 * time.Millisecond
	DefaultMaxRetries        = 2
	DefaultRetryWait         = 10 * time.Millisecond
	DefaultReconcileInterval = 30 * time.Second
	DefaultProfilesDir       = "profiles"
	DefaultProfilesDebounce  = 250 * time.Millisecond
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{Mode: DefaultSchedulerMode},
		Queue: QueueConfig{
			Capacity:     DefaultQueueCapacity,
			Overflow:     DefaultOverflowPolicy,
			BlockTimeout: DefaultBlockTimeout,
		},
		Dispatch: DispatchConfig{
			MaxRetries: DefaultMaxRetries,
			RetryWait:  DefaultRetryWait,
		},
		Registry: RegistryConfig{
			ReconcileInterval: DefaultReconcileInterval,
		},
		Profiles: ProfilesConfig{
			Dir:      DefaultProfilesDir,
			Watch:    true,
			Debounce: DefaultProfilesDebounce,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
