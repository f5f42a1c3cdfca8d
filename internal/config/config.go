// Package config provides unified configuration loading for crisissim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/crisis-world/internal/engine"
)

// Config contains all crisissim configuration settings.
type Config struct {
	// Simulation controls the seed, population and tick pacing.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Engine holds the user-overridable subset of engine parameters.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// API configures the HTTP bridge.
	API APIConfig `json:"api" yaml:"api"`

	// Storage configures the sqlite store.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging contains settings for operational logging and the event journal.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig controls world construction and the real-time loop.
type SimulationConfig struct {
	Seed         int64         `json:"seed" yaml:"seed"`
	Agents       int           `json:"agents" yaml:"agents"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
	Speed        int           `json:"speed" yaml:"speed"`
}

// EngineConfig tunes the crisis engines. Zero values keep engine defaults.
type EngineConfig struct {
	PanicThreshold        float64  `json:"panic_threshold,omitempty" yaml:"panic_threshold,omitempty"`
	WithdrawalLimit       float64  `json:"withdrawal_limit,omitempty" yaml:"withdrawal_limit,omitempty"`
	NeighborhoodRadius    int      `json:"neighborhood_radius,omitempty" yaml:"neighborhood_radius,omitempty"`
	InterventionThreshold float64  `json:"intervention_threshold,omitempty" yaml:"intervention_threshold,omitempty"`
	IndicatorUpdateEvery  int      `json:"indicator_update_every,omitempty" yaml:"indicator_update_every,omitempty"`
	AlertTTL              int      `json:"alert_ttl,omitempty" yaml:"alert_ttl,omitempty"`
	PredictionHorizon     int      `json:"prediction_horizon,omitempty" yaml:"prediction_horizon,omitempty"`
	PsychologyDecay       float64  `json:"psychology_decay,omitempty" yaml:"psychology_decay,omitempty"`
	CascadeCapacity       int      `json:"cascade_capacity,omitempty" yaml:"cascade_capacity,omitempty"`
	Disabled              []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// APIConfig configures the HTTP bridge.
type APIConfig struct {
	Port     int    `json:"port" yaml:"port"`
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`
	RelayKey string `json:"relay_key,omitempty" yaml:"relay_key,omitempty"`
	// AdminRate is the number of admin requests allowed per minute.
	AdminRate int `json:"admin_rate" yaml:"admin_rate"`
}

// StorageConfig configures snapshot persistence.
type StorageConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
	// AutosaveEvery is the number of ticks between snapshot saves (0 disables).
	AutosaveEvery int `json:"autosave_every" yaml:"autosave_every"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the event journal in JournalDir.
	Level      string `json:"level" yaml:"level"`
	JournalDir string `json:"journal_dir,omitempty" yaml:"journal_dir,omitempty"`
}

// String implements fmt.Stringer to keep keys out of logs.
func (c APIConfig) String() string {
	return fmt.Sprintf("APIConfig{Port:%d, AdminKey:%s, RelayKey:%s}", c.Port, redact(c.AdminKey), redact(c.RelayKey))
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "(set)"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Seed:         42,
			Agents:       500,
			TickInterval: time.Second,
			Speed:        1,
		},
		API: APIConfig{
			Port:      8080,
			AdminRate: 30,
		},
		Storage: StorageConfig{
			DBPath:        "data/crisis.db",
			AutosaveEvery: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JournalDir: "data",
		},
	}
}

// Load loads configuration from path (if it exists) and environment variables.
// Order: defaults -> path -> environment variables
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.API.AdminKey = expandEnvVars(config.API.AdminKey)
	config.API.RelayKey = expandEnvVars(config.API.RelayKey)
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Simulation.Agents < 1 {
		return fmt.Errorf("agents must be positive, got %d", c.Simulation.Agents)
	}
	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.Simulation.TickInterval)
	}
	if c.Simulation.Speed < 1 || c.Simulation.Speed > 100 {
		return fmt.Errorf("speed must be between 1 and 100, got %d", c.Simulation.Speed)
	}

	unit := map[string]float64{
		"panic_threshold":        c.Engine.PanicThreshold,
		"withdrawal_limit":       c.Engine.WithdrawalLimit,
		"intervention_threshold": c.Engine.InterventionThreshold,
		"psychology_decay":       c.Engine.PsychologyDecay,
	}
	for _, name := range []string{"panic_threshold", "withdrawal_limit", "intervention_threshold", "psychology_decay"} {
		if v := unit[name]; v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
		}
	}
	if c.Engine.NeighborhoodRadius < 0 || c.Engine.IndicatorUpdateEvery < 0 || c.Engine.AlertTTL < 0 ||
		c.Engine.PredictionHorizon < 0 || c.Engine.CascadeCapacity < 0 {
		return fmt.Errorf("engine counts must be non-negative")
	}
	for _, name := range c.Engine.Disabled {
		if !engine.IsSubsystem(name) {
			return fmt.Errorf("invalid disabled engine: %s", name)
		}
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.Storage.AutosaveEvery < 0 {
		return fmt.Errorf("autosave_every must be non-negative, got %d", c.Storage.AutosaveEvery)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

// ToParams overlays the engine overrides onto the engine defaults.
func (c *Config) ToParams() engine.Params {
	p := engine.DefaultParams()
	e := c.Engine
	if e.PanicThreshold > 0 {
		p.BankRun.PanicThreshold = e.PanicThreshold
	}
	if e.WithdrawalLimit > 0 {
		p.BankRun.WithdrawalLimit = e.WithdrawalLimit
	}
	if e.NeighborhoodRadius > 0 {
		p.BankRun.NeighborhoodRadius = e.NeighborhoodRadius
	}
	if e.InterventionThreshold > 0 {
		p.Intervention.Threshold = e.InterventionThreshold
	}
	if e.IndicatorUpdateEvery > 0 {
		p.Indicators.UpdateEvery = e.IndicatorUpdateEvery
	}
	if e.AlertTTL > 0 {
		p.Indicators.AlertTTL = e.AlertTTL
	}
	if e.PredictionHorizon > 0 {
		p.Indicators.PredictionHorizon = e.PredictionHorizon
	}
	if e.PsychologyDecay > 0 {
		p.Psychology.DecayRate = e.PsychologyDecay
	}
	if e.CascadeCapacity > 0 {
		p.Cascade.Capacity = e.CascadeCapacity
	}
	if len(e.Disabled) > 0 {
		p.Disabled = append([]string(nil), e.Disabled...)
	}
	return p
}

// Options builds engine construction options from the config.
func (c *Config) Options() engine.Options {
	return engine.Options{
		Seed:   c.Simulation.Seed,
		Agents: c.Simulation.Agents,
		Params: c.ToParams(),
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("CRISISSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing CRISISSIM_SEED: %w", err)
		}
		config.Simulation.Seed = n
	}
	if v := os.Getenv("CRISISSIM_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Agents = n
		}
	}
	if v := os.Getenv("CRISISSIM_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing CRISISSIM_TICK_INTERVAL: %w", err)
		}
		config.Simulation.TickInterval = d
	}
	if v := os.Getenv("CRISISSIM_SPEED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Speed = n
		}
	}
	if v := os.Getenv("CRISISSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CRISISSIM_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.API.Port = n
		}
	}
	if v := os.Getenv("CRISISSIM_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}
	if v := os.Getenv("CRISISSIM_RELAY_KEY"); v != "" {
		config.API.RelayKey = v
	}
	if v := os.Getenv("CRISISSIM_DB_PATH"); v != "" {
		config.Storage.DBPath = v
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// Marshal renders the config as YAML with keys removed, for storing
// alongside a run.
func (c *Config) Marshal() ([]byte, error) {
	clean := *c
	clean.API.AdminKey = ""
	clean.API.RelayKey = ""
	return yaml.Marshal(&clean)
}
