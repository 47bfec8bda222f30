package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTERVIEWD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.upload_limit_mb", typ: kInt, env: "INTERVIEWD_SERVER_UPLOAD_LIMIT_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.UploadLimitMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.UploadLimitMB },
	},
	{
		key: "server.submit_rate", typ: kFloat, env: "INTERVIEWD_SERVER_SUBMIT_RATE",
		apply:   func(cfg *Config, v any) { cfg.Server.SubmitRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.SubmitRate },
	},
	{
		key: "server.submit_burst", typ: kInt, env: "INTERVIEWD_SERVER_SUBMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.SubmitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.SubmitBurst },
	},
	{
		key: "llm.backend", typ: kString, env: "INTERVIEWD_LLM_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.LLM.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Backend },
	},
	{
		key: "llm.base_url", typ: kString, env: "INTERVIEWD_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "INTERVIEWD_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "INTERVIEWD_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout", typ: kString, env: "INTERVIEWD_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "storage.driver", typ: kString, env: "INTERVIEWD_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTERVIEWD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "INTERVIEWD_STORAGE_DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "admin.username", typ: kString, env: "INTERVIEWD_ADMIN_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Admin.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Username },
	},
	{
		key: "admin.password_hash", typ: kString, env: "INTERVIEWD_ADMIN_PASSWORD_HASH",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.PasswordHash = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.PasswordHash },
	},
	{
		key: "admin.jwt_secret", typ: kString, env: "INTERVIEWD_ADMIN_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.JWTSecret },
	},
	{
		key: "admin.token_ttl", typ: kString, env: "INTERVIEWD_ADMIN_TOKEN_TTL",
		apply:   func(cfg *Config, v any) { cfg.Admin.TokenTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.TokenTTL },
	},
	{
		key: "log.level", typ: kString, env: "INTERVIEWD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// applyBackend copies values from b into cfg. With secrets set only secret
// keys are read; otherwise only non-secret keys are.
func applyBackend(cfg *Config, b ConfigBackend, secrets bool) error {
	for _, s := range specs {
		if s.secret != secrets {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
