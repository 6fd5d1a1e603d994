package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// DefaultPath is the default relative path for the project config file.
const DefaultPath = ".codescribe/config.yaml"

// SourceConfig points at the tree to analyse.
type SourceConfig struct {
	Root    string   `json:"root" yaml:"root"`                           // local root directory
	Ref     string   `json:"ref,omitempty" yaml:"ref,omitempty"`         // label recorded with each run (e.g. branch)
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"` // path prefixes to skip
}

// InferenceConfig holds connection and budget settings for the model service.
type InferenceConfig struct {
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyFile    string `json:"api_key_file,omitempty" yaml:"api_key_file,omitempty"`
	Model         string `json:"model" yaml:"model"`
	CostLimit     int    `json:"cost_limit,omitempty" yaml:"cost_limit,omitempty"`         // budget units per window
	WindowSeconds int    `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"` // sliding window length
	MaxRetries    int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`       // throttle retries per call
	BatchSize     int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`         // files per classification/extraction call
	MaxFileBytes  int    `json:"max_file_bytes,omitempty" yaml:"max_file_bytes,omitempty"` // per-file prefix sent to the model
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Config is the full project configuration. All knobs are read once at
// startup and passed into constructors; nothing reads the environment at
// call time.
type Config struct {
	Project   string          `json:"project" yaml:"project"`
	Source    SourceConfig    `json:"source" yaml:"source"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Store     StoreConfig     `json:"store,omitempty" yaml:"store,omitempty"`
	Log       LogConfig       `json:"log,omitempty" yaml:"log,omitempty"`
}

// LoadFromPath reads a config file (YAML or JSON) and returns the parsed
// Config with defaults applied. Format is detected by extension or content.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses config from bytes. ext is the file extension (".json", ".yaml")
// as a format hint; empty = detect from content.
func Load(data []byte, ext string) (*Config, error) {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}

	var c Config
	switch {
	case ext == ".yaml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case ext == ".json":
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	case strings.HasPrefix(strings.TrimSpace(string(data)), "{"):
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Ref == "" {
		c.Source.Ref = "HEAD"
	}
	if c.Inference.CostLimit == 0 {
		c.Inference.CostLimit = 90000
	}
	if c.Inference.WindowSeconds == 0 {
		c.Inference.WindowSeconds = 60
	}
	if c.Inference.MaxRetries == 0 {
		c.Inference.MaxRetries = 3
	}
	if c.Inference.BatchSize == 0 {
		c.Inference.BatchSize = 12
	}
	if c.Inference.MaxFileBytes == 0 {
		c.Inference.MaxFileBytes = 4096
	}
	if c.Store.Path == "" {
		c.Store.Path = ".codescribe/codescribe.db"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Project == "" {
		return fmt.Errorf("config: project name is required")
	}
	if c.Source.Root == "" {
		return fmt.Errorf("config: source.root is required")
	}
	return nil
}

// ResolveAPIKey returns the inference API key, reading api_key_file if the
// inline key is empty. Called once at startup.
func (c *Config) ResolveAPIKey() (string, error) {
	if c.Inference.APIKey != "" {
		return c.Inference.APIKey, nil
	}
	if c.Inference.APIKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Inference.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("read api key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
