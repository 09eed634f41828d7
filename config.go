package cmdbridge

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	defaults "github.com/Paranoid-AF/cmdbridge/default"
	"github.com/google/renameio"
)

// Config is the bridge configuration, persisted as a flat JSON document.
// Values are treated as immutable once shared: updates produce a new Config.
type Config struct {
	ListenHost     string `json:"listen_host"`
	ListenPort     int    `json:"listen_port"`
	BufferSize     int    `json:"buffer_size"`
	MaxConnections int    `json:"max_connections"`
	LogLevel       string `json:"log_level"`
	LogFile        string `json:"log_file"`

	OllamaHost         string  `json:"ollama_host"`
	OllamaPort         int     `json:"ollama_port"`
	OllamaModel        string  `json:"ollama_model"`
	OllamaTimeout      float64 `json:"ollama_timeout"` // seconds
	OllamaTemperature  float64 `json:"ollama_temperature"`
	OllamaSystemPrompt string  `json:"ollama_system_prompt"`

	// ReadyTTL is how long, in seconds, a successful availability check is trusted.
	ReadyTTL float64 `json:"ready_ttl"`
}

// ConfigUpdate carries the optional fields accepted by "configure_ollama".
// A nil field leaves the corresponding value unchanged.
type ConfigUpdate struct {
	Host         *string  `json:"host"`
	Port         *int     `json:"port"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	SystemPrompt *string  `json:"system_prompt"`
}

// ConfigDir returns the config directory path.
// Resolution order: $CMDBRIDGE_CONFIG_DIR > $XDG_CONFIG_HOME/cmdbridge > ~/.config/cmdbridge
func ConfigDir() string {
	if dir := os.Getenv("CMDBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "cmdbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cmdbridge-config")
	}
	return filepath.Join(home, ".config", "cmdbridge")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// FunctionsPathFor returns the path of the optional function catalog
// override that sits next to the config file at configPath.
func FunctionsPathFor(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "functions.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.json.
func DefaultConfig() *Config {
	var cfg Config
	if err := json.Unmarshal(defaults.DefaultConfigJSON, &cfg); err != nil {
		panic("cmdbridge: invalid embedded default_config.json: " + err.Error())
	}
	if cfg.OllamaSystemPrompt == "" {
		cfg.OllamaSystemPrompt = strings.TrimSpace(defaults.DefaultPrompt)
	}
	return &cfg
}

// LoadConfig loads config from path, or returns defaults if the file does not exist.
// Keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig overwrites the config file at path with cfg, atomically.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0644)
}

// Apply returns a copy of cfg with the non-nil fields of u applied.
// Temperature is clamped to [0, 1].
func (cfg *Config) Apply(u ConfigUpdate) *Config {
	next := *cfg
	if u.Host != nil {
		next.OllamaHost = *u.Host
	}
	if u.Port != nil {
		next.OllamaPort = *u.Port
	}
	if u.Model != nil {
		next.OllamaModel = *u.Model
	}
	if u.Temperature != nil {
		next.OllamaTemperature = ClampTemperature(*u.Temperature)
	}
	if u.SystemPrompt != nil {
		next.OllamaSystemPrompt = *u.SystemPrompt
	}
	return &next
}

// ClampTemperature limits t to the range [0.0, 1.0].
func ClampTemperature(t float64) float64 {
	return max(0.0, min(1.0, t))
}

// DefaultTimeout bounds provider calls when ollama_timeout is not positive.
const DefaultTimeout = 120 * time.Second

// Timeout returns the provider call timeout as a duration.
func (cfg *Config) Timeout() time.Duration {
	if cfg.OllamaTimeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(cfg.OllamaTimeout * float64(time.Second))
}

// ReadyFor returns how long a successful availability check is trusted.
func (cfg *Config) ReadyFor() time.Duration {
	return time.Duration(cfg.ReadyTTL * float64(time.Second))
}

// ListenAddr returns the TCP listener address from config.
func (cfg *Config) ListenAddr() string {
	return net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort))
}

// ResolveListenAddr returns the listener address.
// Priority: $CMDBRIDGE_LISTEN env > config value.
func ResolveListenAddr(cfg *Config) string {
	if addr := os.Getenv("CMDBRIDGE_LISTEN"); addr != "" {
		return addr
	}
	if cfg != nil {
		return cfg.ListenAddr()
	}
	return DefaultConfig().ListenAddr()
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		warnings = append(warnings, fmt.Sprintf("listen_port %d is out of range", cfg.ListenPort))
	}
	if cfg.OllamaPort <= 0 || cfg.OllamaPort > 65535 {
		warnings = append(warnings, fmt.Sprintf("ollama_port %d is out of range", cfg.OllamaPort))
	}
	if strings.TrimSpace(cfg.OllamaModel) == "" {
		warnings = append(warnings, "ollama_model is empty; availability checks will always fail")
	}
	if cfg.OllamaTimeout <= 0 {
		warnings = append(warnings, "ollama_timeout is not positive; the default timeout will be used")
	}
	if cfg.BufferSize < 512 {
		warnings = append(warnings, fmt.Sprintf("buffer_size %d is small; requests longer than that will be split", cfg.BufferSize))
	}
	return warnings
}
