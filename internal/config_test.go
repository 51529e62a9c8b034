package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppConfigWritesDefaultsOnFirstRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "cfg", "config.toml")
	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Channel != "nibl" {
		t.Fatalf("expected default channel nibl, got %q", cfg.Channel)
	}
	if cfg.InactivityTimeoutSec != 60 {
		t.Fatalf("expected 60s inactivity timeout, got %d", cfg.InactivityTimeoutSec)
	}
	if cfg.DataReadPollMs != 500 {
		t.Fatalf("expected 500ms data poll, got %d", cfg.DataReadPollMs)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to be written on first run: %v", err)
	}
}

func TestAppConfigSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "config.toml")

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	cfg.Server = "irc.example.net:6667"
	cfg.Nickname = "leech"
	cfg.MaxRequestRetries = 7
	if _, err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Server != "irc.example.net:6667" || reloaded.Nickname != "leech" {
		t.Fatalf("unexpected reloaded config: %+v", reloaded)
	}
	if reloaded.MaxRequestRetries != 7 {
		t.Fatalf("expected max retries 7, got %d", reloaded.MaxRequestRetries)
	}
}

func TestLoadAppConfigEnvOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDCCGET_CHANNEL", "moviegods")

	cfg, err := LoadAppConfig(filepath.Join(home, "config.toml"))
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Channel != "moviegods" {
		t.Fatalf("expected env override, got %q", cfg.Channel)
	}
}

func TestConfigureLoggerRejectsUnknownLevel(t *testing.T) {
	t.Cleanup(func() { SetLogLevel(LevelInfo) })
	if err := ConfigureLogger("debug"); err != nil {
		t.Fatalf("debug should be accepted: %v", err)
	}
	if getLevel() != LevelDebug {
		t.Fatalf("expected debug level")
	}
	if err := ConfigureLogger("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if getLevel() != LevelInfo {
		t.Fatalf("unknown level should fall back to info")
	}
}
