package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "asgard.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model != "gpt-5-nano" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.RegistryTTL != 7*24*time.Hour {
		t.Errorf("registry ttl = %s", cfg.RegistryTTL)
	}
	if len(cfg.RegistrySources) != 5 {
		t.Errorf("registry sources = %v", cfg.RegistrySources)
	}
	if cfg.TokensPerMinute != 200_000 || cfg.MaxContextTokens != 250_000 {
		t.Errorf("budgets = %d/%d", cfg.TokensPerMinute, cfg.MaxContextTokens)
	}
}

func TestLoadConfigParsesDurationString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asgard.json")
	content := `{"model":"gpt-5-nano","registry_ttl":"48h","tokens_per_minute":1000}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RegistryTTL != 48*time.Hour {
		t.Errorf("registry ttl = %s", cfg.RegistryTTL)
	}
	if cfg.TokensPerMinute != 1000 {
		t.Errorf("tokens per minute = %d", cfg.TokensPerMinute)
	}
	// Unset fields still get defaults
	if cfg.OpenAIBaseURL == "" || len(cfg.RPSLSources) == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asgard.json")
	if err := os.WriteFile(path, []byte(`{"registry_ttl":"fortnight"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asgard.json")
	cfg := DefaultConfig()
	cfg.RegistryTTL = 36 * time.Hour
	cfg.TelegramChannel = "@AsnReports"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.RegistryTTL != 36*time.Hour {
		t.Errorf("registry ttl = %s", loaded.RegistryTTL)
	}
	if loaded.TelegramChannel != "@AsnReports" {
		t.Errorf("telegram channel = %q", loaded.TelegramChannel)
	}
}
