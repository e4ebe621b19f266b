package config

import "testing"

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Addr)
	}
}

func TestLoadServerConfigExplicitAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
}

func TestLoadServerConfigRejectsWhitespace(t *testing.T) {
	t.Setenv("PORT", "80 80")

	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for whitespace PORT")
	}
}

func TestLoadProviderConfigs(t *testing.T) {
	t.Setenv("PROVIDERS", "ark, backup")
	t.Setenv("ARK_API_KEY", "key-a")
	t.Setenv("ARK_MODELS", "doubao-pro, doubao-lite")
	t.Setenv("ARK_TEMPERATURE", "0.4")
	t.Setenv("BACKUP_API_KEY", "key-b")
	t.Setenv("BACKUP_MODELS", "gpt-x")

	configs, err := loadProviderConfigs()
	if err != nil {
		t.Fatalf("loadProviderConfigs err: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(configs))
	}

	ark := configs[0]
	if ark.ID != "ark" {
		t.Fatalf("unexpected provider id: %s", ark.ID)
	}
	if len(ark.Models) != 2 || ark.Models[0] != "doubao-pro" || ark.Models[1] != "doubao-lite" {
		t.Fatalf("unexpected models: %v", ark.Models)
	}
	if ark.Temperature == nil || *ark.Temperature != 0.4 {
		t.Fatal("temperature not parsed")
	}
	if !ark.Enabled() {
		t.Fatal("provider with key and models should be enabled")
	}

	if configs[1].ID != "backup" || configs[1].Models[0] != "gpt-x" {
		t.Fatalf("unexpected second provider: %+v", configs[1])
	}
}

func TestProviderConfigDisabledWithoutCredentials(t *testing.T) {
	cfg := ProviderConfig{ID: "ark", Models: []string{"m"}}
	if cfg.Enabled() {
		t.Fatal("provider without credentials must be disabled")
	}
}
