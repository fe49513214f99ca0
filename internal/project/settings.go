package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// SettingsFiles are probed in order; the first one found wins
var SettingsFiles = []string{".surfpack.yaml", ".surfpack.yml", ".surfpack.toml"}

// Settings are per-project options
type Settings struct {
	Entry        string   `yaml:"entry" toml:"entry"`
	InitialRoute string   `yaml:"initialRoute" toml:"initialRoute"`
	CDN          string   `yaml:"cdn" toml:"cdn"`
	Ignore       []string `yaml:"ignore" toml:"ignore"`
}

// ReadSettings loads the settings file of root. It returns zero settings
// and an empty path when there is none.
func ReadSettings(root string) (Settings, string, error) {
	for _, name := range SettingsFiles {
		path := filepath.Join(root, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Settings{}, "", fmt.Errorf("read %s: %w", name, err)
		}
		s, err := ParseSettings(name, data)
		if err != nil {
			return Settings{}, "", err
		}
		return s, path, nil
	}
	return Settings{}, "", nil
}

// ParseSettings decodes data according to the extension of name
func ParseSettings(name string, data []byte) (Settings, error) {
	var s Settings
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format: %s", name)
	}
	return s, nil
}
