package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/orchestrator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/planner"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string           `json:"description"`
	Config      FixtureConfig    `json:"config"`
	Events      []FixtureEvent   `json:"events"`
	Expected    []FixtureOutcome `json:"expected_results"`
}

// FixtureConfig overrides the defaults for a replay run. Zero fields keep
// the default.
type FixtureConfig struct {
	NoveltyThreshold      *float64 `json:"novelty_threshold,omitempty"`
	MaxRetheorizeAttempts *int     `json:"max_retheorize_attempts,omitempty"`
	CandidatesPerTheory   int      `json:"candidates_per_theory,omitempty"`
	SafetyPollIntervalMS  int      `json:"safety_poll_interval_ms,omitempty"`
	StressDurationMS      int      `json:"stress_duration_ms,omitempty"`
	MaxRisk               float64  `json:"max_risk,omitempty"`
	MaxVoltage            float64  `json:"max_voltage,omitempty"`
}

// FixtureEvent is one recorded observation plus the generator output and
// hardware faults to replay with it.
type FixtureEvent struct {
	ID          string             `json:"id"`
	Observation FixtureObservation `json:"observation"`
	Candidates  [][]string         `json:"candidates"`            // one batch per generator call
	TripOnRun   int                `json:"trip_on_run,omitempty"` // trip on the nth stress run of this event
}

// FixtureObservation mirrors knowledge.Observation with a text payload.
type FixtureObservation struct {
	Source   string    `json:"source"`
	Payload  string    `json:"payload"`
	Features []float32 `json:"features"`
}

// FixtureOutcome is the expected outcome per event.
type FixtureOutcome struct {
	ID       string `json:"id"`
	Outcome  string `json:"outcome"`
	Attempts *int   `json:"attempts,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Events))
	for i, ev := range f.Events {
		if ev.ID == "" {
			return nil, fmt.Errorf("fixture %s: event %d has no id", path, i)
		}
		if seen[ev.ID] {
			return nil, fmt.Errorf("fixture %s: duplicate event id %q", path, ev.ID)
		}
		seen[ev.ID] = true
	}
	return &f, nil
}

// ToObservation converts a FixtureObservation to a knowledge observation.
func (fo FixtureObservation) ToObservation() knowledge.Observation {
	return knowledge.Observation{
		Source:   fo.Source,
		Payload:  []byte(fo.Payload),
		Features: fo.Features,
	}
}

// OrchestratorConfig applies the overrides to the orchestrator defaults.
func (fc FixtureConfig) OrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.SafetyPollInterval = 10 * time.Millisecond
	if fc.NoveltyThreshold != nil {
		cfg.NoveltyThreshold = *fc.NoveltyThreshold
	}
	if fc.MaxRetheorizeAttempts != nil {
		cfg.MaxRetheorizeAttempts = *fc.MaxRetheorizeAttempts
	}
	if fc.CandidatesPerTheory > 0 {
		cfg.CandidatesPerTheory = fc.CandidatesPerTheory
	}
	if fc.SafetyPollIntervalMS > 0 {
		cfg.SafetyPollInterval = time.Duration(fc.SafetyPollIntervalMS) * time.Millisecond
	}
	return cfg
}

// PlannerConfig applies the overrides to the planner defaults. Replays use
// short stress steps unless the fixture says otherwise.
func (fc FixtureConfig) PlannerConfig() planner.Config {
	cfg := planner.DefaultConfig()
	cfg.DefaultDuration = 20 * time.Millisecond
	if fc.StressDurationMS > 0 {
		cfg.DefaultDuration = time.Duration(fc.StressDurationMS) * time.Millisecond
	}
	return cfg
}

// PolicyConfig applies the overrides to the policy defaults.
func (fc FixtureConfig) PolicyConfig() policy.Config {
	cfg := policy.DefaultConfig()
	if fc.MaxRisk > 0 {
		cfg.MaxRisk = fc.MaxRisk
	}
	if fc.MaxVoltage > 0 {
		cfg.MaxVoltage = fc.MaxVoltage
	}
	return cfg
}

// #endregion fixture-loader
