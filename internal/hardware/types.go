package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #region params
// Parameter names. Units: clock in Hz, voltage in volts.
const (
	ParamClock   = "clock"
	ParamVoltage = "voltage"
)

var (
	ErrBusy             = errors.New("hardware busy: another session holds configuration rights")
	ErrSessionClosed    = errors.New("hardware session closed")
	ErrOperationTimeout = errors.New("hardware operation timed out")
)

// #endregion params

// #region driver
// Driver is the raw control surface: register writes, vendor SDK, privileged
// syscalls. It performs no safety checks of its own.
type Driver interface {
	Capabilities() Capabilities
	Apply(ctx context.Context, settings map[string]float64) error
	// RunLoad must return promptly once ctx is done.
	RunLoad(ctx context.Context, load []string, d time.Duration) (map[string]float64, error)
	Health(ctx context.Context) (Health, error)
}

// #endregion driver

// #region capabilities
// ParamBound declares the legal range of one parameter plus its nominal and
// safe values.
type ParamBound struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Nominal float64 `json:"nominal" yaml:"nominal"`
	Safe    float64 `json:"safe" yaml:"safe"`
	Unit    string  `json:"unit" yaml:"unit"`
}

// Capabilities describes what the hardware accepts.
type Capabilities struct {
	Params map[string]ParamBound `json:"params" yaml:"params"`
	Loads  []string              `json:"loads" yaml:"loads"`
}

// SafeSettings is the documented safe configuration (minimum clock, safe voltage).
func (c Capabilities) SafeSettings() map[string]float64 {
	out := make(map[string]float64, len(c.Params))
	for name, b := range c.Params {
		out[name] = b.Safe
	}
	return out
}

// NominalSettings returns every parameter at its nominal value.
func (c Capabilities) NominalSettings() map[string]float64 {
	out := make(map[string]float64, len(c.Params))
	for name, b := range c.Params {
		out[name] = b.Nominal
	}
	return out
}

// Check rejects unknown parameters and values outside declared bounds.
// Parameters are checked in name order so the reported error is stable.
func (c Capabilities) Check(settings map[string]float64) error {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := settings[name]
		b, ok := c.Params[name]
		if !ok {
			return &experiment.ConfigurationError{Msg: fmt.Sprintf("unknown parameter %q", name)}
		}
		if math.IsNaN(v) || v < b.Min || v > b.Max {
			return &experiment.ConfigurationError{Param: name, Value: v, Min: b.Min, Max: b.Max}
		}
	}
	return nil
}

// HasLoad reports whether name is a supported load generator.
func (c Capabilities) HasLoad(name string) bool {
	for _, l := range c.Loads {
		if l == name {
			return true
		}
	}
	return false
}

// #endregion capabilities

// #region health
// Health is one sample of the hardware health signal.
type Health struct {
	TemperatureC float64   `json:"temperature_c"`
	CurrentA     float64   `json:"current_a"`
	Tripped      bool      `json:"tripped"` // driver-level protection latch
	SampledAt    time.Time `json:"sampled_at"`
}

// Limits turn health samples into a safety trigger.
type Limits struct {
	MaxTemperatureC float64 `json:"max_temperature_c" yaml:"max_temperature_c"`
	MaxCurrentA     float64 `json:"max_current_a" yaml:"max_current_a"`
}

// Exceeded reports whether h violates the limits. Zero limits are ignored.
func (l Limits) Exceeded(h Health) (bool, string) {
	if h.Tripped {
		return true, "driver protection tripped"
	}
	if l.MaxTemperatureC > 0 && h.TemperatureC > l.MaxTemperatureC {
		return true, fmt.Sprintf("over-temperature %.1fC > %.1fC", h.TemperatureC, l.MaxTemperatureC)
	}
	if l.MaxCurrentA > 0 && h.CurrentA > l.MaxCurrentA {
		return true, fmt.Sprintf("over-current %.1fA > %.1fA", h.CurrentA, l.MaxCurrentA)
	}
	return false, ""
}

// #endregion health

// #region config
// Config tunes the controller.
type Config struct {
	PollInterval time.Duration // health sampling interval
	StaleAfter   time.Duration // a sample older than this counts as triggered
	OpTimeout    time.Duration // bound on configure/health; added to stress test duration
	StopTimeout  time.Duration // per-attempt bound on emergency stop
	StopRetries  int
	Limits       Limits
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		StaleAfter:   time.Second,
		OpTimeout:    5 * time.Second,
		StopTimeout:  2 * time.Second,
		StopRetries:  2,
		Limits: Limits{
			MaxTemperatureC: 95,
			MaxCurrentA:     120,
		},
	}
}

// #endregion config

// #region snapshot
// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Capabilities Capabilities       `json:"capabilities"`
	Settings     map[string]float64 `json:"settings"`
	SafeMode     bool               `json:"safe_mode"`
	Triggered    bool               `json:"triggered"`
	LastHealth   Health             `json:"last_health"`
}

// #endregion snapshot
