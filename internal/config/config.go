package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "PERCH"
	defaultHTTPAddress    = "0.0.0.0:3001"
	defaultDatabasePath   = "perch.db"
	defaultLogLevel       = "info"
	defaultClientBaseURL  = "http://localhost:3000"
	defaultTokenTTLMinute = 60
	defaultFlowTimeoutSec = 15
)

// AppConfig captures runtime configuration for the storefront API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	ClientBaseURL      string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	SigningSecret      string
	TokenTTL           time.Duration
	FlowTimeout        time.Duration
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
	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinute)
	configViper.SetDefault("flow.timeout_seconds", defaultFlowTimeoutSec)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		ClientBaseURL:      strings.TrimRight(configViper.GetString("client.base_url"), "/"),
		GoogleClientID:     configViper.GetString("google.client_id"),
		GoogleClientSecret: configViper.GetString("google.client_secret"),
		GoogleRedirectURL:  configViper.GetString("google.redirect_url"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		FlowTimeout:        time.Duration(configViper.GetInt("flow.timeout_seconds")) * time.Second,
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
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	if _, err := url.ParseRequestURI(c.GoogleRedirectURL); err != nil {
		return fmt.Errorf("google.redirect_url must be a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.ClientBaseURL); err != nil {
		return fmt.Errorf("client.base_url must be a valid URL: %w", err)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.FlowTimeout <= 0 {
		return fmt.Errorf("flow.timeout_seconds must be positive")
	}
	return nil
}
