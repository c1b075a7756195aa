package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RotateLimit != DefaultConfig().RotateLimit {
		t.Fatalf("RotateLimit = %d, want %d", cfg.RotateLimit, DefaultConfig().RotateLimit)
	}
	if cfg.ReadIdleTimeout.Std() != 5*time.Minute {
		t.Fatalf("ReadIdleTimeout = %v, want 5m", cfg.ReadIdleTimeout.Std())
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"rotate_limit": 50, "read_idle_timeout": "30s", "data_dir": "/var/lib/logsift"}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RotateLimit != 50 {
		t.Fatalf("RotateLimit = %d, want 50", cfg.RotateLimit)
	}
	if cfg.ReadIdleTimeout.Std() != 30*time.Second {
		t.Fatalf("ReadIdleTimeout = %v, want 30s", cfg.ReadIdleTimeout.Std())
	}
	if cfg.DataDir != "/var/lib/logsift" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	// Untouched values keep their defaults
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"read_idle_timeout": "soon"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for bad duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOGSIFT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("LOGSIFT_TELEGRAM_CHAT_ID", "42")
	t.Setenv("LOGSIFT_ROTATE_LIMIT", "7")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.BotToken != "123:abc" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("Telegram = %+v", cfg.Telegram)
	}
	if cfg.RotateLimit != 7 {
		t.Fatalf("RotateLimit = %d, want 7", cfg.RotateLimit)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.RotateLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative rotate_limit")
	}

	cfg = DefaultConfig()
	cfg.ListenAddr = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty listen_addr")
	}
}

func TestMerge(t *testing.T) {
	base := &Config{
		RotateLimit:   1000,
		DataDir:       "data",
		DisabledTools: []string{"site_rotate"},
		Telegram:      TelegramConfig{ChatID: "1"},
	}
	overlay := &Config{
		DataDir:       "other",
		LogPretty:     true,
		DisabledTools: []string{"site_rotate", " rules_reload "},
		Telegram:      TelegramConfig{BotToken: "t"},
	}

	got := Merge(base, overlay)

	if got.RotateLimit != 1000 {
		t.Errorf("RotateLimit = %d, want 1000", got.RotateLimit)
	}
	if got.DataDir != "other" {
		t.Errorf("DataDir = %q, want other", got.DataDir)
	}
	if !got.LogPretty {
		t.Errorf("LogPretty = false, want true")
	}
	if got.Telegram.ChatID != "1" || got.Telegram.BotToken != "t" {
		t.Errorf("Telegram = %+v", got.Telegram)
	}
	if len(got.DisabledTools) != 2 || got.DisabledTools[1] != "rules_reload" {
		t.Errorf("DisabledTools = %v", got.DisabledTools)
	}
}

func TestMergeStringSlice_Empty(t *testing.T) {
	if got := mergeStringSlice(nil, []string{" ", ""}); got != nil {
		t.Errorf("mergeStringSlice() = %v, want nil", got)
	}
}
