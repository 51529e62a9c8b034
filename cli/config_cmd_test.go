package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jgoldverg/xdccget/internal"
)

func TestConfigSetPersistsChanges(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfgPath := filepath.Join(t.TempDir(), "config.toml")

	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "config", "set",
		"--server", "irc.example.net:6697",
		"--channel", "#moviegods",
		"--queue-retry", "45",
		"--recv-buffer", "1048576",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("config set: %v", err)
	}

	cfg, err := internal.LoadAppConfig(cfgPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Server != "irc.example.net:6697" || cfg.Channel != "moviegods" {
		t.Fatalf("unexpected server/channel: %q %q", cfg.Server, cfg.Channel)
	}
	if cfg.QueueRetrySec != 45 || cfg.RecvBufferBytes != 1048576 {
		t.Fatalf("unexpected tunables: %+v", cfg)
	}
	if cfg.Nickname != "xdccgetter" {
		t.Fatalf("untouched settings should keep defaults, got nickname %q", cfg.Nickname)
	}
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	cases := [][]string{
		{},
		{"--queue-retry", "0"},
		{"--recv-buffer", "-1"},
		{"--server", " "},
		{"--level", "loud"},
	}
	for _, flags := range cases {
		t.Setenv("HOME", t.TempDir())
		cfgPath := filepath.Join(t.TempDir(), "config.toml")
		root := NewRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs(append([]string{"--config", cfgPath, "config", "set"}, flags...))
		if err := root.Execute(); err == nil {
			t.Fatalf("expected error for %v", flags)
		}
	}
}

func TestConfigShowPrintsSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfgPath := filepath.Join(t.TempDir(), "config.toml")

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "config", "show"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"irc.rizon.net:6667", "#nibl", "queue_retry_sec", cfgPath} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}
