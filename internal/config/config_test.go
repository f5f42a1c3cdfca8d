package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/crisis-world/internal/engine"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Simulation.Seed != 42 {
		t.Errorf("expected Seed 42, got %d", config.Simulation.Seed)
	}
	if config.Simulation.Agents != 500 {
		t.Errorf("expected Agents 500, got %d", config.Simulation.Agents)
	}
	if config.Simulation.TickInterval != time.Second {
		t.Errorf("expected TickInterval 1s, got %v", config.Simulation.TickInterval)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
simulation:
  seed: 7
  agents: 250
  tick_interval: 250ms
engine:
  panic_threshold: 0.6
  intervention_threshold: 0.65
  disabled: [warfare]
api:
  port: 9090
  admin_key: ${TEST_CRISIS_ADMIN}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_CRISIS_ADMIN", "s3cret")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Simulation.Seed != 7 || config.Simulation.Agents != 250 {
		t.Errorf("simulation = %+v", config.Simulation)
	}
	if config.Simulation.TickInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", config.Simulation.TickInterval)
	}
	if config.API.AdminKey != "s3cret" {
		t.Errorf("expected expanded admin key, got %q", config.API.AdminKey)
	}
	// Unset fields keep their defaults.
	if config.Storage.DBPath != "data/crisis.db" {
		t.Errorf("expected default DBPath, got %q", config.Storage.DBPath)
	}

	p := config.ToParams()
	if p.BankRun.PanicThreshold != 0.6 {
		t.Errorf("PanicThreshold = %v", p.BankRun.PanicThreshold)
	}
	if p.Intervention.Threshold != 0.65 {
		t.Errorf("Intervention.Threshold = %v", p.Intervention.Threshold)
	}
	if len(p.Disabled) != 1 || p.Disabled[0] != engine.SubsystemWarfare {
		t.Errorf("Disabled = %v", p.Disabled)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRISISSIM_SEED", "99")
	t.Setenv("CRISISSIM_LOG_LEVEL", "DEBUG")
	t.Setenv("CRISISSIM_API_PORT", "7000")
	t.Setenv("CRISISSIM_DB_PATH", "/tmp/x.db")
	t.Setenv("CRISISSIM_TICK_INTERVAL", "2s")

	config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Simulation.Seed != 99 {
		t.Errorf("Seed = %d", config.Simulation.Seed)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Level = %q", config.Logging.Level)
	}
	if config.API.Port != 7000 || config.Storage.DBPath != "/tmp/x.db" {
		t.Errorf("api/storage = %+v %+v", config.API, config.Storage)
	}
	if config.Simulation.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %v", config.Simulation.TickInterval)
	}
}

func TestLoadBadSeed(t *testing.T) {
	t.Setenv("CRISISSIM_SEED", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid seed")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no agents", func(c *Config) { c.Simulation.Agents = 0 }, "agents"},
		{"zero interval", func(c *Config) { c.Simulation.TickInterval = 0 }, "tick_interval"},
		{"speed too high", func(c *Config) { c.Simulation.Speed = 500 }, "speed"},
		{"threshold above one", func(c *Config) { c.Engine.PanicThreshold = 1.5 }, "panic_threshold"},
		{"unknown engine", func(c *Config) { c.Engine.Disabled = []string{"weather"} }, "disabled"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalDropsKeys(t *testing.T) {
	c := Default()
	c.API.AdminKey = "topsecret"
	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "topsecret") {
		t.Error("admin key leaked into marshaled config")
	}
	if c.API.AdminKey != "topsecret" {
		t.Error("Marshal mutated the receiver")
	}
}

func TestAPIConfigStringRedacts(t *testing.T) {
	c := APIConfig{Port: 1, AdminKey: "abcdef"}
	if strings.Contains(c.String(), "abcdef") {
		t.Error("String leaked the admin key")
	}
}
