package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models briefline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		// URL selects the backend: postgres:// / postgresql:// DSNs use
		// Postgres, anything else falls back to SQLite in the workspace.
		URL string `yaml:"url"`
	} `yaml:"database"`
	Generator struct {
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"base_url"`
		APIKeyEnv      string `yaml:"api_key_env"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxTokens      int    `yaml:"max_tokens"`
	} `yaml:"generator"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with briefline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Generator.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.generator.timeout_seconds must be positive")
	}
	if c.Generator.MaxTokens <= 0 {
		return fmt.Errorf("config.generator.max_tokens must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config.log.format must be json or text")
	}
	return nil
}

// GeneratorTimeout returns the generator call timeout as a duration.
func (c *Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "briefline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/api"
	cfg.Generator.Model = "gpt-4o-mini"
	cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
	cfg.Generator.TimeoutSeconds = 120
	cfg.Generator.MaxTokens = 3000
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /api

database:
  # Empty means SQLite in the workspace. Set a postgres:// DSN to use Postgres.
  url: ""

generator:
  model: gpt-4o-mini
  # Point base_url at any OpenAI-compatible endpoint, e.g. OpenRouter.
  base_url: ""
  api_key_env: OPENAI_API_KEY
  timeout_seconds: 120
  max_tokens: 3000

log:
  level: info
  format: json
`
