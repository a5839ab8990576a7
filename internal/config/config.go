package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "QUILL"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "quill.db"
	defaultLogLevel         = "info"
	defaultTokenTTLHours    = 48
	defaultChannelKeyTTL    = 60
	defaultDebounceSeconds  = 200
	defaultEntryMaxIdleSecs = 3600
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	GitHubClientID     string
	GitHubClientSecret string
	TokenTTL           time.Duration
	ChannelKeyTTL      time.Duration
	// DebounceWindow is the quiet period before coalesced edits are
	// flushed. Deployment-tunable.
	DebounceWindow time.Duration
	EntryMaxIdle   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_hours", defaultTokenTTLHours)
	configViper.SetDefault("channel.key_ttl_seconds", defaultChannelKeyTTL)
	configViper.SetDefault("channel.debounce_seconds", defaultDebounceSeconds)
	configViper.SetDefault("channel.entry_max_idle_seconds", defaultEntryMaxIdleSecs)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		GitHubClientID:     configViper.GetString("github.client_id"),
		GitHubClientSecret: configViper.GetString("github.client_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_hours")) * time.Hour,
		ChannelKeyTTL:      time.Duration(configViper.GetInt("channel.key_ttl_seconds")) * time.Second,
		DebounceWindow:     time.Duration(configViper.GetInt("channel.debounce_seconds")) * time.Second,
		EntryMaxIdle:       time.Duration(configViper.GetInt("channel.entry_max_idle_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GitHubClientID) == "" {
		return fmt.Errorf("github.client_id is required")
	}
	if strings.TrimSpace(c.GitHubClientSecret) == "" {
		return fmt.Errorf("github.client_secret is required")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("channel.debounce_seconds must be positive")
	}
	if c.ChannelKeyTTL <= 0 {
		return fmt.Errorf("channel.key_ttl_seconds must be positive")
	}
	return nil
}
