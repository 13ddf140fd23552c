package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"axdispatch/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/axdispatch"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/axdispatch.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from a single directory. The directory
// should contain config.yaml; without one the defaults are returned.
// A relative profiles directory is resolved against configPath.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			config.Profiles.Dir = resolveDir(configPath, config.Profiles.Dir)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	config.Profiles.Dir = resolveDir(configPath, config.Profiles.Dir)

	if err := config.Validate(configFilePath); err != nil {
		return Config{}, err
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}
