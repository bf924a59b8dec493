package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alantheprice/webforge/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	ConfigVersion      = "1.0"
	ConfigDirName      = ".webforge"
	ConfigFileName     = "config.json"
	YAMLConfigFileName = "config.yaml"
)

// Transport names accepted by Config.Transport.
const (
	TransportStream = "stream"
	TransportUnary  = "unary"
)

// Environment variables that override file values.
const (
	EnvAPIURL    = "WEBFORGE_API_URL"
	EnvStreamURL = "WEBFORGE_WS_URL"
	EnvOllamaURL = "WEBFORGE_OLLAMA_URL"
	EnvModel     = "WEBFORGE_MODEL"
)

// Config represents the application configuration
type Config struct {
	Version string `json:"version" yaml:"version"`

	// Backend endpoints consumed by the client
	APIURL    string `json:"api_url" yaml:"api_url"`
	StreamURL string `json:"stream_url" yaml:"stream_url"`
	Transport string `json:"transport" yaml:"transport"`

	// Backend broker settings used by `webforge serve`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	OllamaURL  string `json:"ollama_url" yaml:"ollama_url"`

	// Preview server
	PreviewAddr string `json:"preview_addr" yaml:"preview_addr"`

	// Model registry; the first entry marked Default (or the first entry) is preselected
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	Models       []ModelConfig `json:"models" yaml:"models"`

	Timeouts *TimeoutConfig `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
}

// ModelConfig describes one selectable model
type ModelConfig struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TimeoutConfig represents timeout settings (in seconds)
type TimeoutConfig struct {
	HealthTimeoutSec     int `json:"health_timeout_sec,omitempty" yaml:"health_timeout_sec,omitempty"`         // health probe (default: 5)
	HandshakeTimeoutSec  int `json:"handshake_timeout_sec,omitempty" yaml:"handshake_timeout_sec,omitempty"`   // websocket dial (default: 10)
	GenerationTimeoutSec int `json:"generation_timeout_sec,omitempty" yaml:"generation_timeout_sec,omitempty"` // backend -> ollama (default: 300)
}

// NewConfig creates a new configuration with sensible defaults
func NewConfig() *Config {
	return &Config{
		Version:      ConfigVersion,
		APIURL:       "http://localhost:8000/api/ollama",
		StreamURL:    "ws://localhost:8000/api/ollama",
		Transport:    TransportStream,
		ListenAddr:   "127.0.0.1:8000",
		OllamaURL:    "http://localhost:11434",
		PreviewAddr:  "127.0.0.1:7070",
		DefaultModel: "llama3.2:3b",
		Models: []ModelConfig{
			{ID: "llama3.2:3b", DisplayName: "Llama 3.2 (3B)", Description: "Fast general-purpose model"},
			{ID: "gpt-oss:20b", DisplayName: "GPT-OSS (20B)", Description: "Larger model, slower but more thorough"},
		},
		Timeouts: defaultTimeouts(),
	}
}

func defaultTimeouts() *TimeoutConfig {
	return &TimeoutConfig{
		HealthTimeoutSec:     5,
		HandshakeTimeoutSec:  10,
		GenerationTimeoutSec: 300,
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDirName), nil
}

// GetConfigPath returns the config file in use: config.json if present, else config.yaml,
// else the config.json location.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	jsonPath := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	yamlPath := filepath.Join(configDir, YAMLConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	return jsonPath, nil
}

// Load loads the configuration from the default location and applies env overrides.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. A missing file yields defaults.
func LoadFile(configPath string) (*Config, error) {
	config := NewConfig()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := decode(configPath, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func decode(path string, data []byte, into *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, into)
	default:
		return json.Unmarshal(data, into)
	}
}

func (c *Config) applyDefaults() {
	def := NewConfig()
	if c.Version == "" {
		c.Version = ConfigVersion
	}
	if c.APIURL == "" {
		c.APIURL = def.APIURL
	}
	if c.StreamURL == "" {
		c.StreamURL = def.StreamURL
	}
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.OllamaURL == "" {
		c.OllamaURL = def.OllamaURL
	}
	if c.PreviewAddr == "" {
		c.PreviewAddr = def.PreviewAddr
	}
	if len(c.Models) == 0 {
		c.Models = def.Models
	}
	if !c.hasModel(c.DefaultModel) {
		c.DefaultModel = c.Models[0].ID
	}

	// Apply defaults for timeouts if missing or zeroed
	if c.Timeouts == nil {
		c.Timeouts = defaultTimeouts()
		return
	}
	dt := defaultTimeouts()
	if c.Timeouts.HealthTimeoutSec == 0 {
		c.Timeouts.HealthTimeoutSec = dt.HealthTimeoutSec
	}
	if c.Timeouts.HandshakeTimeoutSec == 0 {
		c.Timeouts.HandshakeTimeoutSec = dt.HandshakeTimeoutSec
	}
	if c.Timeouts.GenerationTimeoutSec == 0 {
		c.Timeouts.GenerationTimeoutSec = dt.GenerationTimeoutSec
	}
}

// ApplyEnv overrides file values with environment variables
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		c.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStreamURL)); v != "" {
		c.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaURL)); v != "" {
		c.OllamaURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		c.DefaultModel = v
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Transport != TransportStream && c.Transport != TransportUnary {
		return fmt.Errorf("invalid transport %q: must be %q or %q", c.Transport, TransportStream, TransportUnary)
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if !strings.HasPrefix(c.StreamURL, "ws://") && !strings.HasPrefix(c.StreamURL, "wss://") {
		return fmt.Errorf("stream_url must be a ws(s) URL, got %q", c.StreamURL)
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("model id cannot be empty")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
	}
	if len(c.Models) > 0 && !seen[c.DefaultModel] {
		return fmt.Errorf("default model %q is not among the configured models", c.DefaultModel)
	}
	return nil
}

func (c *Config) hasModel(id string) bool {
	for _, m := range c.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Save saves the configuration as JSON to the default location
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c.Version = ConfigVersion

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(configDir, ConfigFileName), data, 0600)
}

// Registry builds the authoritative model registry from the configured models.
func (c *Config) Registry() *models.Registry {
	entries := make([]models.Model, 0, len(c.Models))
	for _, m := range c.Models {
		entries = append(entries, models.Model{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}
	return models.NewRegistry(entries, c.DefaultModel)
}

// HealthTimeout returns the health probe timeout
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.Timeouts.HealthTimeoutSec) * time.Second
}

// HandshakeTimeout returns the websocket dial timeout
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Timeouts.HandshakeTimeoutSec) * time.Second
}

// GenerationTimeout returns the backend's per-request inference timeout
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Timeouts.GenerationTimeoutSec) * time.Second
}
