package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Lab      LabConfig      `yaml:"lab"`
	Planner  PlannerConfig  `yaml:"planner"`
	Blend    BlendConfig    `yaml:"blend"`
	Report   ReportConfig   `yaml:"report"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

// DatabaseConfig selects the store. Driver is "postgres" (URL) or "sqlite" (Path).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// LabConfig points at the assay service. An empty URL disables assay requests.
type LabConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type PlannerConfig struct {
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	MaxParallel       int `yaml:"max_parallel"`
	Channels          int `yaml:"channels"`
}

type BlendConfig struct {
	FCDCarbonOffset  float64 `yaml:"fcd_carbon_offset"`
	FCCarbonOffset   float64 `yaml:"fc_carbon_offset"`
	PreTapFCDOffset  float64 `yaml:"pre_tap_fcd_offset"`
	PreTapFCOffset   float64 `yaml:"pre_tap_fc_offset"`
	MassFloorG       float64 `yaml:"mass_floor_g"`
	FallbackBaseMass float64 `yaml:"fallback_base_mass_g"`
	RCond            float64 `yaml:"rcond"`
}

type ReportConfig struct {
	InstructionMultiplier float64 `yaml:"instruction_multiplier"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Planner.RefreshIntervalMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Path:   "crucible.db",
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Planner: PlannerConfig{
			RefreshIntervalMs: 60000,
			MaxParallel:       5,
			Channels:          5,
		},
		Blend: BlendConfig{
			FCDCarbonOffset:  0.07,
			FCCarbonOffset:   0.05,
			PreTapFCDOffset:  0.08,
			PreTapFCOffset:   0.07,
			MassFloorG:       0.001,
			FallbackBaseMass: 1000,
			RCond:            1e-10,
		},
		Report: ReportConfig{
			InstructionMultiplier: 0.95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the solver or planner cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid config: database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	b := c.Blend
	if b.FCDCarbonOffset < 0 || b.FCCarbonOffset < 0 || b.PreTapFCDOffset < 0 || b.PreTapFCOffset < 0 {
		return fmt.Errorf("invalid config: blend offsets must not be negative")
	}
	if b.MassFloorG < 0 {
		return fmt.Errorf("invalid config: blend.mass_floor_g must not be negative")
	}
	if !(b.RCond > 0 && b.RCond < 1) {
		return fmt.Errorf("invalid config: blend.rcond must be in (0, 1), got %g", b.RCond)
	}
	if m := c.Report.InstructionMultiplier; m < 0.1 || m > 2.0 {
		return fmt.Errorf("invalid config: report.instruction_multiplier must be in [0.1, 2.0], got %g", m)
	}
	if c.Planner.MaxParallel < 1 {
		return fmt.Errorf("invalid config: planner.max_parallel must be at least 1")
	}
	if c.Planner.Channels < 1 {
		return fmt.Errorf("invalid config: planner.channels must be at least 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CRUCIBLE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("CRUCIBLE_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("CRUCIBLE_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("CRUCIBLE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CRUCIBLE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CRUCIBLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CRUCIBLE_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("CRUCIBLE_LAB_URL"); v != "" {
		cfg.Lab.URL = v
	}
	if v := os.Getenv("CRUCIBLE_LAB_TOKEN"); v != "" {
		cfg.Lab.Token = v
	}
	if v := os.Getenv("CRUCIBLE_REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Planner.RefreshIntervalMs = n
		}
	}
	if v := os.Getenv("CRUCIBLE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Planner.MaxParallel = n
		}
	}
	if v := os.Getenv("CRUCIBLE_INSTRUCTION_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Report.InstructionMultiplier = f
		}
	}
	if v := os.Getenv("CRUCIBLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRUCIBLE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
