package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/explog"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/generator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/orchestrator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/planner"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #region types

// Outcomes besides halt kinds.
const (
	OutcomeIgnored   = "ignored" // novelty at or below the threshold
	OutcomeConfirmed = "confirmed"
)

// Result captures the outcome of replaying one event through the full cycle.
type Result struct {
	ID             string
	Outcome        string // OutcomeIgnored, OutcomeConfirmed, or a halt kind
	Reason         string
	Novelty        float32
	Attempts       int
	GeneratorCalls int
	StressRuns     int
	Entries        []experiment.LogEntry
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total     int
	Ignored   int
	Confirmed int
	Halts     map[string]int // by halt kind
}

// #endregion types

// #region replay

// Replay runs every fixture event through a real orchestrator backed by a
// simulated driver and a knowledge store at dbPath. Knowledge accumulates
// across events; each event gets its own scripted generator.
func Replay(ctx context.Context, f *Fixture, dbPath string) ([]Result, error) {
	db, err := knowledge.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	store, err := knowledge.NewStore(db)
	if err != nil {
		return nil, err
	}
	log, err := explog.New(db, explog.Options{})
	if err != nil {
		return nil, err
	}

	sim := hardware.NewSimDriver(hardware.DefaultCapabilities())
	ctrl := hardware.NewController(sim, hardware.DefaultConfig())
	plan := planner.New(f.Config.PlannerConfig())
	pol := policy.New(f.Config.PolicyConfig())

	results := make([]Result, 0, len(f.Events))
	for _, ev := range f.Events {
		gen := generator.NewScripted(ev.Candidates...)
		o, err := orchestrator.New(f.Config.OrchestratorConfig(), orchestrator.Deps{
			Knowledge: store,
			Generator: gen,
			Planner:   plan,
			Policy:    pol,
			Hardware:  ctrl,
			Log:       log,
		})
		if err != nil {
			return results, err
		}

		sim.ClearTrip()
		before := sim.Calls().Run
		if ev.TripOnRun > 0 {
			sim.TripOnRun(before + ev.TripOnRun)
		}

		report, err := o.Observe(ctx, ev.Observation.ToObservation())
		if err != nil && !errors.Is(err, experiment.ErrEmergencyStopFailed) {
			return results, fmt.Errorf("event %s: %w", ev.ID, err)
		}

		r := Result{
			ID:             ev.ID,
			Novelty:        report.Novelty,
			Attempts:       len(report.Attempts),
			GeneratorCalls: gen.Calls(),
			StressRuns:     sim.Calls().Run - before,
		}
		switch {
		case report.Halt != nil:
			r.Outcome, r.Reason = string(report.Halt.Kind), report.Halt.Reason
		case report.Confirmed:
			r.Outcome = OutcomeConfirmed
		default:
			r.Outcome = OutcomeIgnored
		}
		if report.CycleID != "" {
			if r.Entries, err = log.ByCycle(ctx, report.CycleID); err != nil {
				return results, err
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// #endregion replay

// #region summarize

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), Halts: make(map[string]int)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeIgnored:
			s.Ignored++
		case OutcomeConfirmed:
			s.Confirmed++
		default:
			s.Halts[r.Outcome]++
		}
	}
	return s
}

// Mismatches compares results against the fixture's expectations and
// describes every difference.
func Mismatches(f *Fixture, results []Result) []string {
	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	var out []string
	for _, exp := range f.Expected {
		r, ok := byID[exp.ID]
		if !ok {
			out = append(out, fmt.Sprintf("%s: no result", exp.ID))
			continue
		}
		if r.Outcome != exp.Outcome {
			out = append(out, fmt.Sprintf("%s: outcome %s, want %s (reason: %s)", exp.ID, r.Outcome, exp.Outcome, r.Reason))
		}
		if exp.Attempts != nil && r.Attempts != *exp.Attempts {
			out = append(out, fmt.Sprintf("%s: %d attempts, want %d", exp.ID, r.Attempts, *exp.Attempts))
		}
	}
	return out
}

// #endregion summarize
