package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every INTERVIEWD_* variable so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func emptySecrets(t *testing.T) ConfigBackend {
	t.Helper()
	return newFileBackend(filepath.Join(t.TempDir(), "secrets.toml"))
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty`)

	cfg, err := loadFromPath(path, emptySecrets(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.UploadLimitMB != 10 {
		t.Errorf("Server.UploadLimitMB = %d, want 10", cfg.Server.UploadLimitMB)
	}
	if cfg.LLM.Backend != "openai" {
		t.Errorf("LLM.Backend = %q, want openai", cfg.LLM.Backend)
	}
	if cfg.LLM.BaseURL != "http://127.0.0.1:1234/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.TimeoutDuration() != 5*time.Minute {
		t.Errorf("LLM.TimeoutDuration() = %v, want 5m", cfg.LLM.TimeoutDuration())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Admin.Enabled() {
		t.Error("admin should be disabled without credentials")
	}
	if cfg.Admin.TokenTTLDuration() != 12*time.Hour {
		t.Errorf("Admin.TokenTTLDuration() = %v", cfg.Admin.TokenTTLDuration())
	}
}

// TestTOMLParsing verifies that fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
[server]
port = 8080
submit_rate = 2.5
submit_burst = 3

[llm]
backend = "ollama"
base_url = "http://custom:11434"
model = "llama3.2"
timeout = "30s"

[storage]
data_dir = "/tmp/interviewd-test"

[log]
level = "debug"
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path, emptySecrets(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.SubmitRate != 2.5 {
		t.Errorf("Server.SubmitRate = %v, want 2.5", cfg.Server.SubmitRate)
	}
	if cfg.Server.SubmitBurst != 3 {
		t.Errorf("Server.SubmitBurst = %d, want 3", cfg.Server.SubmitBurst)
	}
	if cfg.LLM.Backend != "ollama" || cfg.LLM.Model != "llama3.2" || cfg.LLM.BaseURL != "http://custom:11434" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.TimeoutDuration() != 30*time.Second {
		t.Errorf("LLM.TimeoutDuration() = %v", cfg.LLM.TimeoutDuration())
	}
	if cfg.Storage.DataDir != "/tmp/interviewd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestSecretsIgnoredInConfigFile verifies secrets placed in the main config
// file are not picked up.
func TestSecretsIgnoredInConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[admin]
jwt_secret = "from-config-file"
`)

	cfg, err := loadFromPath(path, emptySecrets(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Admin.JWTSecret != "" {
		t.Errorf("JWTSecret = %q, want empty", cfg.Admin.JWTSecret)
	}
}

// TestSecretsFile verifies secrets are read from the secrets backend.
func TestSecretsFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty`)

	secrets := emptySecrets(t)
	if err := secrets.SetString("admin.jwt_secret", "file-secret"); err != nil {
		t.Fatal(err)
	}
	if err := secrets.SetString("admin.password_hash", "$2a$10$hash"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(path, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Admin.JWTSecret != "file-secret" {
		t.Errorf("JWTSecret = %q", cfg.Admin.JWTSecret)
	}
	if !cfg.Admin.Enabled() {
		t.Error("admin should be enabled")
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[server]
port = 8080
`)
	t.Setenv("INTERVIEWD_SERVER_PORT", "9090")
	t.Setenv("INTERVIEWD_LLM_API_KEY", "env-key")
	t.Setenv("INTERVIEWD_SERVER_SUBMIT_RATE", "not-a-number")

	cfg, err := loadFromPath(path, emptySecrets(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Server.SubmitRate != 1 {
		t.Errorf("unparseable env should keep default, got %v", cfg.Server.SubmitRate)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
		want string
	}{
		{"bad backend", func(c *Config) { c.LLM.Backend = "mlx" }, "llm.backend"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.database_url"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.edit(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	if err := setKey(b, "server.port", "7000", false); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "llm.model", "qwen2.5", false); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.submit_rate", "0.5", false); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	reloaded := newFileBackend(b.path)
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 7000 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("llm.model"); !ok || v != "qwen2.5" {
		t.Errorf("llm.model = %q, %v", v, ok)
	}
	if v, ok, _ := reloaded.GetFloat("server.submit_rate"); !ok || v != 0.5 {
		t.Errorf("server.submit_rate = %v, %v", v, ok)
	}
}

func TestSetKeyRejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	if err := setKey(b, "admin.jwt_secret", "x", false); err == nil {
		t.Error("expected error setting secret through config")
	}
	if err := setKey(b, "server.port", "x", true); err == nil {
		t.Error("expected error setting non-secret as secret")
	}
	if err := setKey(b, "server.port", "abc", false); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "nope", "1", false); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		for _, s := range SecretKeys() {
			if k == s {
				t.Errorf("ValidKeys contains secret %q", k)
			}
		}
	}
	for _, ki := range ShowAll(defaults()) {
		if ki.Key == "admin.jwt_secret" || ki.Key == "llm.api_key" {
			t.Errorf("ShowAll exposes secret %q", ki.Key)
		}
	}
}

func TestFlattenNestRoundTrip(t *testing.T) {
	flat := map[string]any{"server.port": int64(1), "llm.model": "m", "top": "v"}
	got := flattenMap(nestMap(flat), "")
	if len(got) != len(flat) {
		t.Fatalf("got %v", got)
	}
	for k, v := range flat {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}
