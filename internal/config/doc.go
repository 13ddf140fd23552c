// Package config provides configuration management for axdispatch.
//
// Configuration is loaded from a single directory. The default is
// ~/.config/axdispatch, and commands accept --config-path to point
// elsewhere.
//
// # Configuration Directory
//
// The directory contains:
//   - config.yaml (main configuration file)
//   - profiles/ (per-application handler profiles, see internal/profiles)
//
// A missing config.yaml is not an error: the defaults from GetDefaultConfig
// are used. Values present in the file override the defaults field by field.
//
// # File Format
//
//	scheduler:
//	  mode: async            # async | sync
//	queue:
//	  capacity: 4096
//	  overflow: drop-oldest  # drop-oldest | drop-newest | block
//	  blockTimeout: 50ms
//	dispatch:
//	  maxRetries: 2
//	  retryWait: 10ms
//	registry:
//	  listenAll: false
//	  reconcileInterval: 30s # 0 disables periodic reconciliation
//	profiles:
//	  dir: profiles          # relative to the configuration directory
//	  watch: true
//	  debounce: 250ms
//	logging:
//	  level: info
//	  format: text           # text | json
//
// # Validation
//
// Validate checks every section and reports all problems at once as a
// ConfigurationErrorCollection.
package config
