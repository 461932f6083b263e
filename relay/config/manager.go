package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("space configuration not found")
	ErrInvalidConfig  = errors.New("invalid space configuration")
)

// DefaultName is the file stem of the fallback definition.
const DefaultName = "default"

// SpaceConfig describes one space.
type SpaceConfig struct {
	SpaceID     string            `json:"space_id,omitempty" yaml:"space_id,omitempty"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	ModelURL    string            `json:"model_url,omitempty" yaml:"model_url,omitempty"`
	Models      map[string]string `json:"models,omitempty" yaml:"models,omitempty"`

	// File is the file the definition was loaded from.
	File string `json:"file,omitempty" yaml:"-"`

	id uuid.UUID
}

// ID returns the parsed space ID. It is uuid.Nil for the default definition.
func (c *SpaceConfig) ID() uuid.UUID { return c.id }

// Manager loads and caches space definitions.
type Manager struct {
	configDir     string
	defaultConfig *SpaceConfig
	spaces        map[uuid.UUID]*SpaceConfig
	mu            sync.RWMutex
}

// NewManager creates a manager over configDir and loads every definition in
// it. An empty configDir yields a catalog holding only the minimal default.
func NewManager(configDir string) (*Manager, error) {
	m := &Manager{
		configDir: configDir,
		spaces:    make(map[uuid.UUID]*SpaceConfig),
	}

	if configDir == "" {
		m.defaultConfig = minimalConfig()
		return m, nil
	}

	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config directory does not exist: %s", configDir)
	}

	if err := m.Refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh reloads every definition from disk. Invalid files are skipped;
// use ValidateDir to report them.
func (m *Manager) Refresh() error {
	if m.configDir == "" {
		return nil
	}

	files, err := configFiles(m.configDir)
	if err != nil {
		return err
	}

	spaces := make(map[uuid.UUID]*SpaceConfig)
	def := minimalConfig()
	for _, path := range files {
		cfg, err := LoadFile(path)
		if err != nil {
			continue
		}
		if cfg.id == uuid.Nil {
			if stem(path) == DefaultName {
				def = cfg
			}
			continue
		}
		spaces[cfg.id] = cfg
	}

	m.mu.Lock()
	m.spaces = spaces
	m.defaultConfig = def
	m.mu.Unlock()
	return nil
}

// Get returns the definition for space.
func (m *Manager) Get(space uuid.UUID) (*SpaceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, exists := m.spaces[space]
	if !exists {
		return nil, ErrConfigNotFound
	}
	return cfg, nil
}

// List returns every space definition ordered by space ID.
func (m *Manager) List() []*SpaceConfig {
	m.mu.RLock()
	result := make([]*SpaceConfig, 0, len(m.spaces))
	for _, cfg := range m.spaces {
		result = append(result, cfg)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].SpaceID < result[j].SpaceID })
	return result
}

// GetDefault returns the fallback definition.
func (m *Manager) GetDefault() *SpaceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig
}

// ModelURL resolves the avatar model for identity in space: the space's
// per-identity override, then the space's model, then the default
// definition's per-identity override and model.
func (m *Manager) ModelURL(space uuid.UUID, identity string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cfg, ok := m.spaces[space]; ok {
		if url := cfg.Models[identity]; url != "" {
			return url
		}
		if cfg.ModelURL != "" {
			return cfg.ModelURL
		}
	}
	if url := m.defaultConfig.Models[identity]; url != "" {
		return url
	}
	return m.defaultConfig.ModelURL
}

// LoadFile reads and validates one definition. The format is chosen by
// extension.
func LoadFile(path string) (*SpaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg SpaceConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}

	cfg.File = filepath.Base(path)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a definition and resolves its space ID.
func Validate(cfg *SpaceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	cfg.id = uuid.Nil
	if cfg.SpaceID != "" {
		id, err := uuid.Parse(cfg.SpaceID)
		if err != nil {
			return fmt.Errorf("%w: space_id: %v", ErrInvalidConfig, err)
		}
		cfg.id = id
		cfg.SpaceID = id.String()
	}

	for identity, url := range cfg.Models {
		if strings.TrimSpace(identity) == "" {
			return fmt.Errorf("%w: models: empty identity", ErrInvalidConfig)
		}
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("%w: models[%s]: empty url", ErrInvalidConfig, identity)
		}
	}
	return nil
}

// ValidationResult captures the outcome of validating a single file.
type ValidationResult struct {
	File  string
	Valid bool
	Err   error
}

// ValidateDir validates every definition file in dir and reports duplicate
// space IDs across files.
func ValidateDir(dir string) ([]ValidationResult, error) {
	files, err := configFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]string)
	results := make([]ValidationResult, 0, len(files))
	for _, path := range files {
		res := ValidationResult{File: filepath.Base(path), Valid: true}
		cfg, err := LoadFile(path)
		switch {
		case err != nil:
			res.Valid, res.Err = false, err
		case cfg.id != uuid.Nil && seen[cfg.id] != "":
			res.Valid = false
			res.Err = fmt.Errorf("%w: space_id %s already defined in %s", ErrInvalidConfig, cfg.id, seen[cfg.id])
		case cfg.id == uuid.Nil && stem(path) != DefaultName:
			res.Valid = false
			res.Err = fmt.Errorf("%w: space_id is required outside %s", ErrInvalidConfig, DefaultName)
		case cfg.id != uuid.Nil:
			seen[cfg.id] = res.File
		}
		results = append(results, res)
	}
	return results, nil
}

func configFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// minimalConfig is used when no default definition exists.
func minimalConfig() *SpaceConfig {
	return &SpaceConfig{
		Name:        DefaultName,
		Description: "Built-in default space definition",
	}
}
