package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Storage StorageConfig
	Admin   AdminConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port          int
	UploadLimitMB int
	// SubmitRate is the sustained number of registration submissions per
	// second accepted from one client address.
	SubmitRate  float64
	SubmitBurst int
}

type LLMConfig struct {
	Backend string // "openai" or "ollama"
	BaseURL string
	Model   string
	APIKey  string
	Timeout string
}

// TimeoutDuration parses Timeout, falling back to five minutes.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

type StorageConfig struct {
	Driver      string // "sqlite" or "postgres"
	DataDir     string
	DatabaseURL string
}

type AdminConfig struct {
	Username     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     string
}

// TokenTTLDuration parses TokenTTL, falling back to twelve hours.
func (c AdminConfig) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// Enabled reports whether admin credentials are configured.
func (c AdminConfig) Enabled() bool {
	return c.PasswordHash != "" && c.JWTSecret != ""
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          5000,
			UploadLimitMB: 10,
			SubmitRate:    1,
			SubmitBurst:   5,
		},
		LLM: LLMConfig{
			Backend: "openai",
			BaseURL: "http://127.0.0.1:1234/v1",
			Model:   "phi-3-mini-128k-instruct",
			Timeout: "5m",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Admin: AdminConfig{
			Username: "admin",
			TokenTTL: "12h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML config file, the secrets file and
// environment variables, in increasing order of precedence.
//
// The config file lives at $XDG_CONFIG_HOME/interviewd/config.toml and the
// secrets file at $XDG_DATA_HOME/interviewd/secrets.toml. Environment
// variables (INTERVIEWD_*) override both; a .env file is loaded into the
// environment by the binary before Load runs.
func Load() (Config, error) {
	return loadFromPath(configFilePath(), newFileBackend(secretsFilePath()))
}

func loadFromPath(path string, secrets ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, newFileBackend(path), false); err != nil {
		return Config{}, err
	}
	if err := applyBackend(&cfg, secrets, true); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values and cross-field requirements.
func (c Config) Validate() error {
	switch c.LLM.Backend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid config: llm.backend must be \"openai\" or \"ollama\", got %q", c.LLM.Backend)
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("missing required config: storage.database_url. " +
				"Set it via environment variable INTERVIEWD_STORAGE_DATABASE_URL when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("invalid config: storage.driver must be \"sqlite\" or \"postgres\", got %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.UploadLimitMB <= 0 {
		return fmt.Errorf("invalid config: server.upload_limit_mb must be positive")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "interviewd-data"
		}
	}
	return filepath.Join(dir, "interviewd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "interviewd", "config.toml")
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.toml")
}
