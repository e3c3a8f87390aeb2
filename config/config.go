package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"

	"github.com/cloudchase/ollama-organizer/registry"
)

// Keys understood in the settings file and as OLLAMA_ORGANIZER_* env vars.
const (
	KeySourceRoot    = "source_root"
	KeyOutputRoot    = "output_root"
	KeyConcurrency   = "concurrency"
	KeyRegistryHost  = "registry_host"
	KeyVerifyContent = "verify_content"
	KeyLogLevel      = "log_level"
	KeyListenAddr    = "listen_addr"
)

// Settings captures the organizer's persisted and runtime settings.
type Settings struct {
	SourceRoot    string `mapstructure:"source_root" yaml:"source_root" json:"source_root"`
	OutputRoot    string `mapstructure:"output_root" yaml:"output_root" json:"output_root"`
	Concurrency   int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	RegistryHost  string `mapstructure:"registry_host" yaml:"registry_host" json:"registry_host"`
	VerifyContent bool   `mapstructure:"verify_content" yaml:"verify_content" json:"verify_content"`
	LogLevel      string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	ListenAddr    string `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"`
}

// Loader reads and writes the settings file.
type Loader struct {
	v    *viper.Viper
	path string
}

// DefaultPath returns ~/.config/ollama-organizer/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ollama-organizer", "config.yaml")
}

// NewLoader creates a loader for the settings file at path
// (DefaultPath when empty) with defaults and env overrides applied.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OLLAMA_ORGANIZER")
	v.AutomaticEnv()

	v.SetDefault(KeySourceRoot, registry.DefaultBaseDir())
	v.SetDefault(KeyOutputRoot, "")
	v.SetDefault(KeyConcurrency, 3)
	v.SetDefault(KeyRegistryHost, registry.DefaultHost)
	v.SetDefault(KeyVerifyContent, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyListenAddr, ":11435")

	return &Loader{v: v, path: path}
}

// Path returns the settings file location.
func (l *Loader) Path() string { return l.path }

// Viper exposes the underlying instance so commands can bind flags to keys.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load reads the settings file if it exists and returns the effective settings.
func (l *Loader) Load() (Settings, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("load config: %w", err)
		}
	}
	return l.Settings()
}

// Settings returns the effective settings without re-reading the file.
func (l *Loader) Settings() (Settings, error) {
	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return s, nil
}

// Set stores key=value and writes the full settings file.
func (l *Loader) Set(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q (known: %v)", key, KnownKeys())
	}
	l.v.Set(key, value)
	return l.Save()
}

// Save writes the effective settings to the settings file.
func (l *Loader) Save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := l.v.WriteConfigAs(l.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// KnownKeys lists the accepted settings keys in sorted order.
func KnownKeys() []string {
	keys := []string{
		KeySourceRoot, KeyOutputRoot, KeyConcurrency, KeyRegistryHost,
		KeyVerifyContent, KeyLogLevel, KeyListenAddr,
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a settings key.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys() {
		if k == key {
			return true
		}
	}
	return false
}
