package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Delete for profiles that do not exist.
var ErrNotFound = errors.New("profile not found")

// Profile holds per-application overrides applied to a handler when it is
// created and again whenever the profile file changes.
type Profile struct {
	// Name is the sanitized application name the profile belongs to.
	Name string `yaml:"-"`

	KeyBindings []api.KeyBinding `yaml:"keyBindings,omitempty"`
	Settings    api.Settings     `yaml:"settings,omitempty"`

	// MaxRetries overrides the handler's retry budget when positive.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// Interests are added to the handler's built-in interest set.
	Interests []string `yaml:"interests,omitempty"`
}

// IsZero reports whether the profile carries no overrides.
func (p Profile) IsZero() bool {
	return len(p.KeyBindings) == 0 && len(p.Settings) == 0 && p.MaxRetries == 0 && len(p.Interests) == 0
}

// Store reads and writes profiles as <dir>/<name>.yaml. A Store with an
// empty directory has no profiles and rejects writes.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the profile directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load returns the profile for the application name. A missing profile is
// not an error; the zero Profile is returned.
func (s *Store) Load(name string) (Profile, error) {
	key := SanitizeName(name)
	p := Profile{Name: key}
	if s.dir == "" {
		return p, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.dir, key+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{Name: key}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	p.Name = key

	logging.Debug("Profiles", "Loaded profile %s from %s", key, path)
	return p, nil
}

// Save writes p under its name.
func (s *Store) Save(p Profile) error {
	if s.dir == "" {
		return fmt.Errorf("no profile directory configured")
	}
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", p.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, SanitizeName(p.Name)+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write profile %s: %w", path, err)
	}

	logging.Info("Profiles", "Saved profile %s to %s", p.Name, path)
	return nil
}

// Delete removes the profile file for name.
func (s *Store) Delete(name string) error {
	if s.dir == "" {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, SanitizeName(name)+".yaml")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete profile %s: %w", path, err)
	}

	logging.Info("Profiles", "Deleted profile %s", name)
	return nil
}

// List returns the names of every stored profile, sorted.
func (s *Store) List() ([]string, error) {
	if s.dir == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		files, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		for _, f := range files {
			base := filepath.Base(f)
			names = append(names, strings.TrimSuffix(base, filepath.Ext(base)))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// SanitizeName maps an application name onto a safe, lower-case file name.
func SanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", ".", "_", " ", "_",
	)
	sanitized := replacer.Replace(strings.ToLower(strings.TrimSpace(name)))

	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
