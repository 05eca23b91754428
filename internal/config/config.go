package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/explog"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/orchestrator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/planner"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #region types

// Config is the controller configuration. Precedence: defaults, then the
// YAML file, then LAB_* environment variables.
type Config struct {
	NoveltyThreshold      float64 `yaml:"novelty_threshold" validate:"gte=0,lte=1"`
	RetrieveK             int     `yaml:"retrieve_k" validate:"gte=1,lte=100"`
	CandidatesPerTheory   int     `yaml:"candidates_per_theory" validate:"gte=1,lte=32"`
	MaxRetheorizeAttempts int     `yaml:"max_retheorize_attempts" validate:"gte=0,lte=10"`
	SafetyPollIntervalMS  int     `yaml:"safety_poll_interval_ms" validate:"gte=1,lte=10000"`
	MaxHypothesisLength   int     `yaml:"max_hypothesis_length" validate:"gte=0"`

	DBPath        string `yaml:"db_path" validate:"required"`
	GeneratorAddr string `yaml:"generator_addr"` // empty selects the offline generator
	MetricsAddr   string `yaml:"metrics_addr"`

	Log       LogConfig       `yaml:"log"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Policy    PolicyConfig    `yaml:"policy"`
	Planner   PlannerConfig   `yaml:"planner"`
	Retention RetentionConfig `yaml:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	File   string `yaml:"file"` // also log here when set
}

type HardwareConfig struct {
	OpTimeoutMS     int     `yaml:"op_timeout_ms" validate:"gte=1"`
	StaleAfterMS    int     `yaml:"stale_after_ms" validate:"gte=0"`
	StopTimeoutMS   int     `yaml:"stop_timeout_ms" validate:"gte=1"`
	StopRetries     int     `yaml:"stop_retries" validate:"gte=0,lte=10"`
	MaxTemperatureC float64 `yaml:"max_temperature_c" validate:"gt=0"`
	MaxCurrentA     float64 `yaml:"max_current_a" validate:"gt=0"`
}

type PolicyConfig struct {
	MaxRisk    float64 `yaml:"max_risk" validate:"gte=0,lte=1"`
	MaxVoltage float64 `yaml:"max_voltage" validate:"gt=0"`
}

type PlannerConfig struct {
	BaseRisk         float64 `yaml:"base_risk" validate:"gte=0,lte=1"`
	RiskSlope        float64 `yaml:"risk_slope" validate:"gte=0"`
	StressDurationMS int     `yaml:"stress_duration_ms" validate:"gte=1"`
	AssociationK     int     `yaml:"association_k" validate:"gte=1"`
}

type RetentionConfig struct {
	MaxLiveEntries int `yaml:"max_live_entries" validate:"gte=0"` // 0 keeps everything live
}

// #endregion types

// #region defaults

// Default returns the built-in configuration.
func Default() Config {
	hw := hardware.DefaultConfig()
	pol := policy.DefaultConfig()
	pl := planner.DefaultConfig()
	return Config{
		NoveltyThreshold:      0.6,
		RetrieveK:             3,
		CandidatesPerTheory:   3,
		MaxRetheorizeAttempts: 2,
		SafetyPollIntervalMS:  100,
		MaxHypothesisLength:   256,
		DBPath:                "lab.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Hardware: HardwareConfig{
			OpTimeoutMS:     int(hw.OpTimeout / time.Millisecond),
			StaleAfterMS:    int(hw.StaleAfter / time.Millisecond),
			StopTimeoutMS:   int(hw.StopTimeout / time.Millisecond),
			StopRetries:     hw.StopRetries,
			MaxTemperatureC: hw.Limits.MaxTemperatureC,
			MaxCurrentA:     hw.Limits.MaxCurrentA,
		},
		Policy: PolicyConfig{
			MaxRisk:    pol.MaxRisk,
			MaxVoltage: pol.MaxVoltage,
		},
		Planner: PlannerConfig{
			BaseRisk:         pl.BaseRisk,
			RiskSlope:        pl.RiskSlope,
			StressDurationMS: int(pl.DefaultDuration / time.Millisecond),
			AssociationK:     pl.AssociationK,
		},
		Retention: RetentionConfig{MaxLiveEntries: 10000},
	}
}

// #endregion defaults

// #region load

var validate = validator.New()

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DBPath = envOr("LAB_DB", cfg.DBPath)
	cfg.GeneratorAddr = envOr("LAB_GENERATOR_ADDR", cfg.GeneratorAddr)
	cfg.MetricsAddr = envOr("LAB_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Log.Level = envOr("LAB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("LAB_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envOr("LAB_LOG_FILE", cfg.Log.File)

	var err error
	if cfg.NoveltyThreshold, err = envFloat("LAB_NOVELTY_THRESHOLD", cfg.NoveltyThreshold); err != nil {
		return err
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"LAB_RETRIEVE_K", &cfg.RetrieveK},
		{"LAB_CANDIDATES_PER_THEORY", &cfg.CandidatesPerTheory},
		{"LAB_MAX_RETHEORIZE_ATTEMPTS", &cfg.MaxRetheorizeAttempts},
		{"LAB_SAFETY_POLL_INTERVAL_MS", &cfg.SafetyPollIntervalMS},
	}
	for _, e := range ints {
		if *e.dst, err = envInt(e.key, *e.dst); err != nil {
			return err
		}
	}
	return nil
}

// #endregion load

// #region conversions

// SafetyPollInterval is SafetyPollIntervalMS as a duration.
func (c Config) SafetyPollInterval() time.Duration {
	return time.Duration(c.SafetyPollIntervalMS) * time.Millisecond
}

// HardwareConfig builds the hardware controller configuration.
func (c Config) HardwareConfig() hardware.Config {
	return hardware.Config{
		PollInterval: c.SafetyPollInterval(),
		StaleAfter:   time.Duration(c.Hardware.StaleAfterMS) * time.Millisecond,
		OpTimeout:    time.Duration(c.Hardware.OpTimeoutMS) * time.Millisecond,
		StopTimeout:  time.Duration(c.Hardware.StopTimeoutMS) * time.Millisecond,
		StopRetries:  c.Hardware.StopRetries,
		Limits: hardware.Limits{
			MaxTemperatureC: c.Hardware.MaxTemperatureC,
			MaxCurrentA:     c.Hardware.MaxCurrentA,
		},
	}
}

// PolicyConfig builds the policy limits.
func (c Config) PolicyConfig() policy.Config {
	return policy.Config{MaxRisk: c.Policy.MaxRisk, MaxVoltage: c.Policy.MaxVoltage}
}

// PlannerConfig builds the planner configuration.
func (c Config) PlannerConfig() planner.Config {
	return planner.Config{
		BaseRisk:        c.Planner.BaseRisk,
		RiskSlope:       c.Planner.RiskSlope,
		DefaultDuration: time.Duration(c.Planner.StressDurationMS) * time.Millisecond,
		AssociationK:    c.Planner.AssociationK,
	}
}

// OrchestratorConfig builds the cycle parameters.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		NoveltyThreshold:      c.NoveltyThreshold,
		RetrieveK:             c.RetrieveK,
		CandidatesPerTheory:   c.CandidatesPerTheory,
		MaxRetheorizeAttempts: c.MaxRetheorizeAttempts,
		SafetyPollInterval:    c.SafetyPollInterval(),
		MaxHypothesisLength:   c.MaxHypothesisLength,
	}
}

// LogOptions builds the experiment log retention options.
func (c Config) LogOptions() explog.Options {
	return explog.Options{MaxLive: c.Retention.MaxLiveEntries}
}

// #endregion conversions

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// #endregion helpers
