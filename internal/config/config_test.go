package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"server": {"port": 4100},
		"upstream": {"model": "gpt-4o-mini"}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Upstream.Model != "gpt-4o-mini" {
		t.Errorf("model: got %q", cfg.Upstream.Model)
	}
	// Untouched fields keep defaults.
	if cfg.Upstream.APIBase != "https://api.openai.com/v1" {
		t.Errorf("apiBase: got %q", cfg.Upstream.APIBase)
	}
	if cfg.Upstream.MaxTokens != 500 {
		t.Errorf("maxTokens: got %d", cfg.Upstream.MaxTokens)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BELEZABOT_TEST_MODEL", "gpt-4o")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{"upstream": {"model": "${BELEZABOT_TEST_MODEL}"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Model != "gpt-4o" {
		t.Errorf("model: got %q", cfg.Upstream.Model)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("BELEZABOT_NOT_SET")
	got := ExpandEnvVars(`{"x": "${BELEZABOT_NOT_SET:-fallback}"}`)
	if !strings.Contains(got, "fallback") {
		t.Errorf("expected default substitution, got %s", got)
	}
	// No default and unset: keep the literal so validation can flag it.
	got = ExpandEnvVars(`${BELEZABOT_NOT_SET}`)
	if got != "${BELEZABOT_NOT_SET}" {
		t.Errorf("expected literal kept, got %s", got)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-1234567890")
	t.Setenv("PORT", "8088")
	t.Setenv("APP_ENV", "production")

	cfg := Defaults()
	ApplyEnv(cfg)

	if cfg.Upstream.APIKey != "sk-test-1234567890" {
		t.Errorf("apiKey: got %q", cfg.Upstream.APIKey)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.General.Environment != "production" {
		t.Errorf("environment: got %q", cfg.General.Environment)
	}
}

func TestApplyEnv_IgnoresBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cfg := Defaults()
	ApplyEnv(cfg)
	if cfg.Server.Port != 3001 {
		t.Errorf("port should keep default, got %d", cfg.Server.Port)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }, "logLevel"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no api base", func(c *Config) { c.Upstream.APIBase = "" }, "apiBase"},
		{"bad temperature", func(c *Config) { c.Upstream.Temperature = 3 }, "temperature"},
		{"zero timeout", func(c *Config) { c.Upstream.TimeoutSeconds = 0 }, "timeoutSeconds"},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, "telegram.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "upstream.model", "gpt-4o"); err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.Model != "gpt-4o" {
		t.Errorf("model: got %q", cfg.Upstream.Model)
	}

	if err := SetByPath(cfg, "server.port", "4000"); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}

	v, err := GetByPath(cfg, "upstream.model")
	if err != nil {
		t.Fatal(err)
	}
	if v != "gpt-4o" {
		t.Errorf("GetByPath: got %v", v)
	}

	if _, err := GetByPath(cfg, "upstream.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestListPaths_FlattensConfig(t *testing.T) {
	paths := ListPaths(Defaults())

	if v, ok := paths["upstream.model"]; !ok || v != "gpt-3.5-turbo" {
		t.Errorf("upstream.model: got %v (present=%v)", v, ok)
	}
	if _, ok := paths["server.port"]; !ok {
		t.Error("server.port missing")
	}
	if _, ok := paths["channels.telegram.enabled"]; !ok {
		t.Error("nested telegram paths missing")
	}
	// Intermediate objects flatten away; only leaves appear.
	if _, ok := paths["upstream"]; ok {
		t.Error("intermediate object listed as a path")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Upstream.APIKey = "sk-proj-abcdefghijklmnop"
	cfg.Channels.Telegram.Token = "123456:AAHsecretsecret"

	out := Sanitize(cfg)

	if strings.Contains(out.Upstream.APIKey, "abcdefgh") {
		t.Errorf("api key not masked: %q", out.Upstream.APIKey)
	}
	if !strings.HasPrefix(out.Upstream.APIKey, "sk-p") {
		t.Errorf("mask should keep prefix: %q", out.Upstream.APIKey)
	}
	if strings.Contains(out.Channels.Telegram.Token, "secret") {
		t.Errorf("telegram token not masked: %q", out.Channels.Telegram.Token)
	}
	// Original untouched.
	if cfg.Upstream.APIKey != "sk-proj-abcdefghijklmnop" {
		t.Error("Sanitize must not mutate the original")
	}
}
