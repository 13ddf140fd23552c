package config

import "time"

// Config is the top-level configuration structure for axdispatch.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     QueueConfig     `yaml:"queue"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Registry  RegistryConfig  `yaml:"registry"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SchedulerConfig selects how the event queue is drained.
type SchedulerConfig struct {
	Mode string `yaml:"mode,omitempty"` // async or sync (default: async)
}

// QueueConfig bounds the event queue.
type QueueConfig struct {
	Capacity     int           `yaml:"capacity,omitempty"`     // Maximum pending events (default: 4096)
	Overflow     string        `yaml:"overflow,omitempty"`     // drop-oldest, drop-newest or block (default: drop-oldest)
	BlockTimeout time.Duration `yaml:"blockTimeout,omitempty"` // How long a producer may wait under the block policy
}

// DispatchConfig controls delivery retries.
type DispatchConfig struct {
	MaxRetries int           `yaml:"maxRetries"`          // Retry budget for handlers that do not set their own
	RetryWait  time.Duration `yaml:"retryWait,omitempty"` // Fixed pause between attempts
}

// RegistryConfig controls the handler registry.
type RegistryConfig struct {
	ListenAll         bool          `yaml:"listenAll,omitempty"`         // Subscribe all top-level event tags up front
	ReconcileInterval time.Duration `yaml:"reconcileInterval,omitempty"` // Periodic reconciliation, 0 disables it
}

// ProfilesConfig locates the per-application profiles.
type ProfilesConfig struct {
	Dir      string        `yaml:"dir,omitempty"`      // Relative paths are resolved against the config directory
	Watch    bool          `yaml:"watch"`              // Reload profiles when they change on disk
	Debounce time.Duration `yaml:"debounce,omitempty"` // Quiet period before a change is reported
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
