package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #region fixture-tests

// TestFixture_LabSession replays the lab_session fixture through the real
// orchestrator and compares each event's outcome with the expected one.
func TestFixture_LabSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "lab_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, err := Replay(context.Background(), f, filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.Events) {
		t.Fatalf("expected %d results, got %d", len(f.Events), len(results))
	}
	for _, m := range Mismatches(f, results) {
		t.Error(m)
	}

	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	if r := byID["repeat"]; r.GeneratorCalls != 0 || r.Novelty > 0.01 {
		t.Errorf("repeat: generator calls=%d novelty=%v, want 0 and ~0", r.GeneratorCalls, r.Novelty)
	}
	if r := byID["overvolt"]; r.StressRuns != 0 {
		t.Errorf("overvolt: %d stress runs on a denied plan", r.StressRuns)
	}
	if r := byID["falsified-thrice"]; r.GeneratorCalls != 3 {
		t.Errorf("falsified-thrice: %d generator calls, want 3", r.GeneratorCalls)
	}

	tripped := byID["tripped"]
	if len(tripped.Entries) != 1 {
		t.Fatalf("tripped: %d log entries, want 1", len(tripped.Entries))
	}
	if got := tripped.Entries[0].Status; got != experiment.StatusAborted {
		t.Errorf("tripped: entry status %s, want aborted", got)
	}

	want := Summary{
		Total:     6,
		Ignored:   1,
		Confirmed: 1,
		Halts: map[string]int{
			string(experiment.KindPolicyDenied):       1,
			string(experiment.KindHardwareAbort):      1,
			string(experiment.KindRetryBoundExceeded): 1,
			string(experiment.KindGeneratorExhausted): 1,
		},
	}
	if diff := cmp.Diff(want, Summarize(results)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFixture_RejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.json")
	data := `{"events":[{"id":"a","observation":{}},{"id":"a","observation":{}}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestMismatches(t *testing.T) {
	one := 1
	f := &Fixture{Expected: []FixtureOutcome{
		{ID: "a", Outcome: OutcomeConfirmed, Attempts: &one},
		{ID: "b", Outcome: OutcomeIgnored},
		{ID: "c", Outcome: OutcomeIgnored},
	}}
	results := []Result{
		{ID: "a", Outcome: OutcomeConfirmed, Attempts: 2},
		{ID: "b", Outcome: string(experiment.KindPolicyDenied), Reason: "denied: voltage"},
	}
	got := Mismatches(f, results)
	if len(got) != 3 {
		t.Fatalf("expected 3 mismatches, got %d: %v", len(got), got)
	}
}

func TestFixtureConfig_Overrides(t *testing.T) {
	threshold, retries := 0.9, 0
	fc := FixtureConfig{NoveltyThreshold: &threshold, MaxRetheorizeAttempts: &retries, MaxVoltage: 1.2}

	oc := fc.OrchestratorConfig()
	if oc.NoveltyThreshold != 0.9 || oc.MaxRetheorizeAttempts != 0 {
		t.Errorf("orchestrator overrides not applied: %+v", oc)
	}
	if pc := fc.PolicyConfig(); pc.MaxVoltage != 1.2 || pc.MaxRisk != 0.05 {
		t.Errorf("policy overrides: %+v", pc)
	}
	if d := fc.PlannerConfig().DefaultDuration; d <= 0 {
		t.Errorf("planner duration %s", d)
	}
}

// #endregion fixture-tests
