package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Relays) == 0 {
		t.Fatal("expected default relays, got empty")
	}
	if cfg.Relays[0] != "wss://relay.damus.io" {
		t.Errorf("first default relay = %q, want %q", cfg.Relays[0], "wss://relay.damus.io")
	}
	if cfg.NumRelaysPerPerson != 2 {
		t.Errorf("NumRelaysPerPerson = %d, want 2", cfg.NumRelaysPerPerson)
	}
	if cfg.FeedRecomputeIntervalMs != 3000 {
		t.Errorf("FeedRecomputeIntervalMs = %d, want 3000", cfg.FeedRecomputeIntervalMs)
	}
}

func TestPath(t *testing.T) {
	t.Run("flag takes priority", func(t *testing.T) {
		got := Path("/my/flag/path.toml")
		if got != "/my/flag/path.toml" {
			t.Errorf("Path with flag = %q, want %q", got, "/my/flag/path.toml")
		}
	})

	t.Run("env var when no flag", func(t *testing.T) {
		t.Setenv("GOSSIP_CONFIG", "/env/path.toml")
		got := Path("")
		if got != "/env/path.toml" {
			t.Errorf("Path with env = %q, want %q", got, "/env/path.toml")
		}
	})

	t.Run("default when no flag or env", func(t *testing.T) {
		t.Setenv("GOSSIP_CONFIG", "")
		got := Path("")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "gossip", "config.toml")
		if got != want {
			t.Errorf("Path default = %q, want %q", got, want)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		dir := t.TempDir()
		flagPath := filepath.Join(dir, "nonexistent.toml")
		cfg, err := Load(flagPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.NumRelaysPerPerson != 2 {
			t.Errorf("NumRelaysPerPerson = %d, want 2", cfg.NumRelaysPerPerson)
		}
		if len(cfg.Relays) == 0 {
			t.Error("expected default relays")
		}
	})

	t.Run("valid TOML parses", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		content := `
relays = ["wss://custom.relay"]
max_relays = 10

[profile]
name = "testuser"
display_name = "Test User"
`
		if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.Relays) != 1 || cfg.Relays[0] != "wss://custom.relay" {
			t.Errorf("relays = %v, want [wss://custom.relay]", cfg.Relays)
		}
		if cfg.MaxRelays != 10 {
			t.Errorf("MaxRelays = %d, want 10", cfg.MaxRelays)
		}
		if cfg.Profile.Name != "testuser" {
			t.Errorf("Profile.Name = %q, want %q", cfg.Profile.Name, "testuser")
		}
		if cfg.Profile.DisplayName != "Test User" {
			t.Errorf("Profile.DisplayName = %q, want %q", cfg.Profile.DisplayName, "Test User")
		}
	})

	t.Run("empty relays get defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(cfgFile, []byte(`relays = []`), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.Relays) != len(Default().Relays) {
			t.Errorf("expected default relays when empty, got %d relays", len(cfg.Relays))
		}
	})

	t.Run("zero feed_recompute_interval_ms gets default", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(cfgFile, []byte(`feed_recompute_interval_ms = 0`), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.FeedRecomputeIntervalMs != Default().FeedRecomputeIntervalMs {
			t.Errorf("FeedRecomputeIntervalMs = %d, want default %d", cfg.FeedRecomputeIntervalMs, Default().FeedRecomputeIntervalMs)
		}
	})

	t.Run("~ expands to home directory", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory available")
		}
		cfg := Config{DataDir: "~/gossip-custom"}
		got := cfg.DataDirOrDefault()
		want := filepath.Join(home, "gossip-custom")
		if got != want {
			t.Errorf("DataDirOrDefault = %q, want %q", got, want)
		}
	})
}
