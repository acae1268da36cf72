package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/goccy/go-yaml"
)

// FileName is looked up in the XDG config directories.
const FileName = "idea-lsp/config.yaml"

type Config struct {
	Workers               int      `json:"workers"                 yaml:"workers"`
	Parsers               int      `json:"parsers"                 yaml:"parsers"`
	SandboxDir            string   `json:"sandbox_dir"             yaml:"sandbox_dir"`
	Exclude               []string `json:"exclude"                 yaml:"exclude"`
	FileExtensions        []string `json:"file_extensions"         yaml:"file_extensions"`
	SearchTextOccurrences bool     `json:"search_text_occurrences" yaml:"search_text_occurrences"`
	RenameVariables       bool     `json:"rename_variables"        yaml:"rename_variables"`
	Watch                 bool     `json:"watch"                   yaml:"watch"`
	WatchDebounceMs       int      `json:"watch_debounce_ms"       yaml:"watch_debounce_ms"`
}

var defaultConfig = Config{
	Workers:               4,
	Parsers:               4,
	SandboxDir:            "",
	Exclude:               []string{".git/**", ".idea/**", "**/build/**", "**/target/**", "**/out/**"},
	FileExtensions:        []string{".java"},
	SearchTextOccurrences: false,
	RenameVariables:       true,
	Watch:                 false,
	WatchDebounceMs:       200,
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := defaultConfig
	cfg.Exclude = append([]string(nil), defaultConfig.Exclude...)
	cfg.FileExtensions = append([]string(nil), defaultConfig.FileExtensions...)
	return cfg
}

// Load overlays v, typically the client's initializationOptions, on the
// defaults.
func Load(v any) (Config, error) {
	return Default().Merge(v)
}

// Merge returns cfg with the fields present in v overwritten.
func (cfg Config) Merge(v any) (Config, error) {
	if v == nil {
		return cfg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}
	return cfg, nil
}

// LoadFromYAML reads YAML from r over the defaults.
func LoadFromYAML(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file at path. An empty path searches the XDG
// config directories and falls back to the defaults when nothing is found.
func LoadFile(path string) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(FileName)
		if err != nil {
			return Default(), nil
		}
		path = found
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	} else if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadFromYAML(f)
}

func (cfg Config) WatchDebounce() time.Duration {
	return time.Duration(cfg.WatchDebounceMs) * time.Millisecond
}
