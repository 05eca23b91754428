package orchestrator

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/explog"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/generator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/planner"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #region harness
type harness struct {
	o     *Orchestrator
	store *knowledge.Store
	log   *explog.Log
	ctrl  *hardware.Controller
	sim   *hardware.SimDriver
	gen   *generator.Scripted
	plan  Planner

	mu     sync.Mutex
	events []Event
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SafetyPollInterval = 5 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, gen *generator.Scripted) *harness {
	t.Helper()
	db, err := knowledge.Open(filepath.Join(t.TempDir(), "lab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := knowledge.NewStore(db)
	require.NoError(t, err)
	log, err := explog.New(db, explog.Options{})
	require.NoError(t, err)

	hcfg := hardware.DefaultConfig()
	hcfg.OpTimeout = time.Second
	hcfg.StopTimeout = 200 * time.Millisecond
	sim := hardware.NewSimDriver(hardware.DefaultCapabilities())
	ctrl := hardware.NewController(sim, hcfg)

	h := &harness{store: store, log: log, ctrl: ctrl, sim: sim, gen: gen, plan: planner.New(planner.DefaultConfig())}
	h.o = h.build(t, cfg, ctrl)
	return h
}

func (h *harness) build(t *testing.T, cfg Config, hw Hardware) *Orchestrator {
	t.Helper()
	o, err := New(cfg, Deps{
		Knowledge: h.store,
		Generator: h.gen,
		Planner:   h.plan,
		Policy:    policy.New(policy.DefaultConfig()),
		Hardware:  hw,
		Log:       h.log,
		Events: EventFunc(func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		}),
	})
	require.NoError(t, err)
	return o
}

func (h *harness) eventTypes() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func (h *harness) entries(t *testing.T) []experiment.LogEntry {
	t.Helper()
	entries, err := h.log.Entries(context.Background())
	require.NoError(t, err)
	return entries
}

func (h *harness) tags(t *testing.T, key string) []string {
	t.Helper()
	rec, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	return rec.Tags
}

func observation(features ...float32) knowledge.Observation {
	return knowledge.Observation{
		Source:   "sensor-a",
		Payload:  []byte("core temperature spike during idle"),
		Features: features,
	}
}

// estopFailing is a controller whose emergency stop never succeeds.
type estopFailing struct {
	*hardware.Controller
}

func (estopFailing) EmergencyStop(context.Context) error {
	return fmt.Errorf("%w: relay stuck", experiment.ErrEmergencyStopFailed)
}

// tripAfterRun reports a safety trigger once a stress step has returned.
type tripAfterRun struct {
	*hardware.Controller
	ran atomic.Bool
}

func (t *tripAfterRun) StressTest(ctx context.Context, d time.Duration, load []string) (map[string]float64, error) {
	m, err := t.Controller.StressTest(ctx, d, load)
	t.ran.Store(true)
	return m, err
}

func (t *tripAfterRun) SafetyTriggered() bool { return t.ran.Load() }
func (t *tripAfterRun) TriggerReason() string { return "overcurrent latch" }

// nanMetrics is a controller whose stress tests report a failed sensor.
type nanMetrics struct {
	*hardware.Controller
}

func (n nanMetrics) StressTest(ctx context.Context, d time.Duration, load []string) (map[string]float64, error) {
	m, err := n.Controller.StressTest(ctx, d, load)
	if m != nil {
		m["temp_c"] = math.NaN()
	}
	return m, err
}

type planFunc func(experiment.Hypothesis, hardware.Capabilities) (experiment.Plan, error)

func (f planFunc) Create(h experiment.Hypothesis, caps hardware.Capabilities) (experiment.Plan, error) {
	return f(h, caps)
}

// #endregion harness

// #region observe
func TestObserve_BelowThresholdDoesNotTheorize(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	ctx := context.Background()

	_, err := h.store.Store(ctx, knowledge.KindObservation, observation(1, 0))
	require.NoError(t, err)

	report, err := h.o.Observe(ctx, observation(1, 0))
	require.NoError(t, err)
	assert.False(t, report.Triggered)
	assert.InDelta(t, 0, report.Novelty, 1e-6)
	assert.Nil(t, report.Halt)
	assert.Equal(t, 0, h.gen.Calls())
	assert.Empty(t, h.entries(t))
}

func TestObserve_ApprovedPlanConfirmed(t *testing.T) {
	gen := generator.NewScripted([]string{
		"clock instability testability=0.2",
		"thermal throttling under load duration=20ms testability=0.9",
	})
	h := newHarness(t, testConfig(), gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.Nil(t, report.Halt)
	assert.True(t, report.Triggered)
	assert.True(t, report.Confirmed)
	assert.Equal(t, float32(1), report.Novelty)

	require.Len(t, report.Attempts, 1)
	ar := report.Attempts[0]
	assert.Equal(t, 1, ar.Hypothesis.Rank, "highest testability wins")
	require.NotNil(t, ar.Entry)
	assert.Equal(t, experiment.StatusCompleted, ar.Entry.Status)
	assert.False(t, ar.Entry.Result.AbortedEarly)
	assert.Len(t, ar.Entry.Result.Outputs, len(ar.Plan.Steps))

	assert.Contains(t, h.tags(t, ar.Hypothesis.RecordKey), knowledge.TagVerified)
	assert.Equal(t, []EventType{EventConfirmed}, h.eventTypes())
	assert.Len(t, h.entries(t), 1)
	assert.Equal(t, StateIdle, h.o.State())
}

func TestObserve_PolicyDenialTouchesNoHardware(t *testing.T) {
	gen := generator.NewScripted([]string{"voltage droop voltage=1.35 duration=20ms testability=0.9"})
	h := newHarness(t, testConfig(), gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindPolicyDenied, report.Halt.Kind)

	calls := h.sim.Calls()
	assert.Equal(t, 0, calls.Apply)
	assert.Equal(t, 0, calls.Run)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, experiment.StatusDenied, entries[0].Status)
	assert.Contains(t, entries[0].Reason, "denied")
	assert.Empty(t, entries[0].Result.Outputs)

	require.Len(t, report.Attempts, 1)
	tags := h.tags(t, report.Attempts[0].Hypothesis.RecordKey)
	assert.NotContains(t, tags, knowledge.TagVerified)
	assert.NotContains(t, tags, knowledge.TagFalsified)
	assert.Contains(t, h.eventTypes(), EventPolicyViolation)
	assert.Equal(t, 1, gen.Calls(), "denial never re-theorizes")
}

func TestObserve_OutOfBoundsPlanIsConfigurationError(t *testing.T) {
	gen := generator.NewScripted([]string{"thermal clock=5e9 testability=0.5"})
	h := newHarness(t, testConfig(), gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindConfiguration, report.Halt.Kind)
	assert.Equal(t, 0, h.sim.Calls().Apply)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, experiment.StatusConfigError, entries[0].Status)
}

func TestObserve_NonFiniteDirectiveIsConfigurationError(t *testing.T) {
	gen := generator.NewScripted([]string{"thermal soak duration=20ms expect.temp_c=0:inf testability=0.9"})
	h := newHarness(t, testConfig(), gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindConfiguration, report.Halt.Kind)
	assert.Equal(t, 0, h.sim.Calls().Run)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, experiment.StatusConfigError, entries[0].Status)
}

func TestObserve_NonFinitePlanIsDeniedAndLogged(t *testing.T) {
	gen := generator.NewScripted([]string{"thermal soak testability=0.9"})
	h := newHarness(t, testConfig(), gen)
	h.plan = planFunc(func(experiment.Hypothesis, hardware.Capabilities) (experiment.Plan, error) {
		plan := stressPlan(10 * time.Millisecond)
		plan.Expectations["temp_c"] = experiment.Bound{Min: 0, Max: math.Inf(1)}
		return plan, nil
	})
	h.o = h.build(t, testConfig(), h.ctrl)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindPolicyDenied, report.Halt.Kind)
	require.NotNil(t, report.Halt.Entry)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, experiment.StatusDenied, entries[0].Status)
	assert.Contains(t, entries[0].Reason, "non-finite")
	assert.True(t, math.IsInf(entries[0].Plan.Expectations["temp_c"].Max, 1))
	assert.Equal(t, 0, h.sim.Calls().Apply)
}

// #endregion observe

// #region retry
func TestObserve_RetryBoundStopsGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetheorizeAttempts = 2
	gen := generator.NewScripted(
		[]string{"thermal run a duration=10ms expect.temp_c=0:10"},
		[]string{"thermal run b duration=10ms expect.temp_c=0:10"},
		[]string{"thermal run c duration=10ms expect.temp_c=0:10"},
		[]string{"thermal run d duration=10ms"},
	)
	h := newHarness(t, cfg, gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindRetryBoundExceeded, report.Halt.Kind)
	assert.Equal(t, "hypothesis space exhausted for this observation", report.Halt.Reason)
	assert.Equal(t, cfg.MaxRetheorizeAttempts+1, gen.Calls())

	require.Len(t, report.Attempts, 3)
	for i, ar := range report.Attempts {
		assert.Equal(t, i, ar.Attempt)
		assert.False(t, ar.Confirmed)
		assert.Contains(t, h.tags(t, ar.Hypothesis.RecordKey), knowledge.TagFalsified)
	}
	assert.Len(t, h.entries(t), 3)
}

func TestObserve_FalsifiedThenConfirmed(t *testing.T) {
	gen := generator.NewScripted(
		[]string{"thermal run a duration=10ms expect.temp_c=0:10"},
		[]string{"thermal run b duration=10ms"},
	)
	h := newHarness(t, testConfig(), gen)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	assert.Nil(t, report.Halt)
	assert.True(t, report.Confirmed)
	require.Len(t, report.Attempts, 2)
	assert.Equal(t, []EventType{EventFalsified, EventConfirmed}, h.eventTypes())
	assert.Contains(t, gen.Prompts()[0], "observation ")
}

func TestObserve_GeneratorExhausted(t *testing.T) {
	tests := []struct {
		name      string
		responses [][]string
		calls     int
	}{
		{"no candidates", nil, 1},
		{"blank candidates", [][]string{{"  ", ""}}, 1},
		{
			"only tried candidates",
			[][]string{
				{"thermal run a duration=10ms expect.temp_c=0:10"},
				{"thermal run a duration=10ms expect.temp_c=0:10"},
			},
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := generator.NewScripted(tt.responses...)
			h := newHarness(t, testConfig(), gen)

			report, err := h.o.Observe(context.Background(), observation(0, 1))
			require.NoError(t, err)
			require.NotNil(t, report.Halt)
			assert.Equal(t, experiment.KindGeneratorExhausted, report.Halt.Kind)
			assert.Equal(t, tt.calls, gen.Calls())
		})
	}
}

func TestTheorize_AttemptPastBoundSkipsGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetheorizeAttempts = 1
	gen := generator.NewScripted([]string{"thermal duration=10ms"})
	h := newHarness(t, cfg, gen)

	key, err := h.store.Store(context.Background(), knowledge.KindObservation, observation(0, 1))
	require.NoError(t, err)

	report, err := h.o.Theorize(context.Background(), key, 2)
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindRetryBoundExceeded, report.Halt.Kind)
	assert.Equal(t, 0, gen.Calls())
}

// #endregion retry

// #region abort
func TestObserve_HardwareAbortStopsCycle(t *testing.T) {
	gen := generator.NewScripted(
		[]string{"thermal soak duration=5s"},
		[]string{"thermal soak again duration=10ms"},
	)
	h := newHarness(t, testConfig(), gen)
	h.sim.TripOnRun(1)

	start := time.Now()
	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "monitor should preempt the stress step")

	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindHardwareAbort, report.Halt.Kind)
	assert.Equal(t, 1, gen.Calls(), "aborts never re-theorize")

	require.Len(t, report.Attempts, 1)
	entry := report.Attempts[0].Entry
	require.NotNil(t, entry)
	assert.Equal(t, experiment.StatusAborted, entry.Status)
	assert.True(t, entry.Result.AbortedEarly)
	assert.Contains(t, entry.Result.AbortReason, "safety trigger")

	assert.True(t, h.ctrl.Status().SafeMode)
	assert.Equal(t, hardware.DefaultCapabilities().SafeSettings(), h.sim.Settings())
	assert.Contains(t, h.tags(t, report.Attempts[0].Hypothesis.RecordKey), knowledge.TagAborted)
	assert.Contains(t, h.eventTypes(), EventHardwareAbort)
}

func TestObserve_EmergencyStopFailureEscapes(t *testing.T) {
	gen := generator.NewScripted([]string{"thermal soak duration=5s"})
	h := newHarness(t, testConfig(), gen)
	h.o = h.build(t, testConfig(), estopFailing{h.ctrl})
	h.sim.TripOnRun(1)

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.ErrorIs(t, err, experiment.ErrEmergencyStopFailed)
	require.NotNil(t, report.Halt)

	entries := h.entries(t)
	require.Len(t, entries, 1, "entry is logged before the failure escapes")
	assert.Equal(t, experiment.StatusAborted, entries[0].Status)
	assert.Contains(t, entries[0].Result.AbortReason, "relay stuck")
}

func TestObserve_TripAfterFinalStepEndsCycle(t *testing.T) {
	gen := generator.NewScripted([]string{"thermal throttling under load duration=20ms testability=0.9"})
	h := newHarness(t, testConfig(), gen)
	h.o = h.build(t, testConfig(), &tripAfterRun{Controller: h.ctrl})

	report, err := h.o.Observe(context.Background(), observation(0, 1))
	require.NoError(t, err)
	require.NotNil(t, report.Halt)
	assert.Equal(t, experiment.KindHardwareAbort, report.Halt.Kind)
	assert.Equal(t, 1, gen.Calls())

	require.Len(t, report.Attempts, 1)
	ar := report.Attempts[0]
	require.NotNil(t, ar.Entry)
	assert.Equal(t, experiment.StatusCompleted, ar.Entry.Status)
	assert.False(t, ar.Entry.Result.AbortedEarly)
	assert.Len(t, ar.Entry.Result.Outputs, len(ar.Plan.Steps))
	assert.Contains(t, h.tags(t, ar.Hypothesis.RecordKey), knowledge.TagVerified)
	assert.Equal(t, []EventType{EventConfirmed, EventHardwareAbort, EventHalt}, h.eventTypes())
	assert.True(t, h.ctrl.Status().SafeMode)
}

// #endregion abort

// #region execute
func stressPlan(durations ...time.Duration) experiment.Plan {
	plan := experiment.Plan{
		Name:          "baseline-test",
		Settings:      hardware.DefaultCapabilities().NominalSettings(),
		EstimatedRisk: 0.01,
		Expectations:  map[string]experiment.Bound{"temp_c": {Min: 0, Max: 95}},
	}
	for _, d := range durations {
		plan.Steps = append(plan.Steps, experiment.StressTest{Duration: d, Load: []string{"cpu"}})
	}
	return plan
}

func approve(t *testing.T, plan experiment.Plan) policy.Approval {
	t.Helper()
	approval, ok := policy.New(policy.DefaultConfig()).Approve(plan).Approval()
	require.True(t, ok)
	return approval
}

func TestExecute_AbortAtStepKeepsPrefix(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	plan := stressPlan(10*time.Millisecond, 5*time.Second, 10*time.Millisecond)
	h.sim.TripOnRun(2)

	result, entry, err := h.o.Execute(context.Background(), plan, approve(t, plan))
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.True(t, result.AbortedEarly)
	require.Len(t, result.Outputs, 2)
	assert.False(t, result.Outputs[0].Interrupted)
	assert.Empty(t, result.Outputs[0].Err)
	assert.True(t, result.Outputs[1].Interrupted)
	assert.Equal(t, 2, h.sim.Calls().Run, "step 3 never starts")
	assert.True(t, h.ctrl.Status().SafeMode)

	assert.Equal(t, experiment.StatusAborted, entry.Status)
	assert.Len(t, h.entries(t), 1)
}

func TestExecute_CompletesAllSteps(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	plan := stressPlan(10*time.Millisecond, 10*time.Millisecond)

	result, entry, err := h.o.Execute(context.Background(), plan, approve(t, plan))
	require.NoError(t, err)
	assert.False(t, result.AbortedEarly)
	assert.Len(t, result.Outputs, 2)
	assert.Equal(t, experiment.StatusCompleted, entry.Status)
	assert.False(t, h.ctrl.Status().SafeMode)
}

func TestExecute_StaleApproval(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*experiment.Plan)
	}{
		{"settings changed", func(p *experiment.Plan) { p.Settings[hardware.ParamVoltage] = 1.25 }},
		{"renamed", func(p *experiment.Plan) { p.Name = "other" }},
		{"risk changed", func(p *experiment.Plan) { p.EstimatedRisk = 0.02 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), generator.NewScripted())
			plan := stressPlan(10 * time.Millisecond)
			approval := approve(t, plan)
			tt.mutate(&plan)

			_, entry, err := h.o.Execute(context.Background(), plan, approval)
			require.ErrorIs(t, err, experiment.ErrStaleApproval)
			assert.Equal(t, experiment.KindFailed, experiment.KindOf(err))
			require.NotNil(t, entry)
			assert.Equal(t, experiment.StatusFailed, entry.Status)

			calls := h.sim.Calls()
			assert.Equal(t, 0, calls.Apply)
			assert.Equal(t, 0, calls.Run)
		})
	}
}

func TestExecute_BusyHardwareFails(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	s, err := h.ctrl.Begin(context.Background())
	require.NoError(t, err)
	defer s.Close()

	plan := stressPlan(10 * time.Millisecond)
	_, entry, err := h.o.Execute(context.Background(), plan, approve(t, plan))
	require.ErrorIs(t, err, hardware.ErrBusy)
	require.NotNil(t, entry)
	assert.Equal(t, experiment.StatusFailed, entry.Status)
	assert.Equal(t, 0, h.sim.Calls().Run)
}

func TestExecute_MemoryStepReportsMatches(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	ctx := context.Background()
	seed, err := h.store.Store(ctx, knowledge.KindObservation, observation(1, 0))
	require.NoError(t, err)
	_, err = h.store.Store(ctx, knowledge.KindObservation, observation(1, 0.1))
	require.NoError(t, err)

	plan := experiment.Plan{
		Name:          "association-test",
		Settings:      hardware.DefaultCapabilities().NominalSettings(),
		Steps:         experiment.Steps{experiment.MemoryAssociationTest{QueryKey: seed, TopK: 3}},
		EstimatedRisk: 0.01,
	}
	result, _, err := h.o.Execute(ctx, plan, approve(t, plan))
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, float64(1), result.Outputs[0].Metrics["matches"])
	assert.Greater(t, result.Outputs[0].Metrics["top_score"], 0.9)
}

func TestExecute_ZeroApprovalRefused(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	plan := stressPlan(10 * time.Millisecond)
	plan.Name = ""

	_, entry, err := h.o.Execute(context.Background(), plan, policy.Approval{})
	require.ErrorIs(t, err, experiment.ErrStaleApproval)
	require.NotNil(t, entry)
	assert.Equal(t, experiment.StatusFailed, entry.Status)
	assert.Equal(t, 0, h.sim.Calls().Apply)
	assert.Equal(t, 0, h.sim.Calls().Run)
}

func TestExecute_DeniedPlanNeverRuns(t *testing.T) {
	deniedPlan := func() experiment.Plan {
		plan := stressPlan(10 * time.Millisecond)
		plan.Name = ""
		plan.Settings[hardware.ParamVoltage] = 1.38
		plan.EstimatedRisk = 0.9
		plan.Expectations["temp_c"] = experiment.Bound{Min: math.NaN(), Max: 80}
		return plan
	}
	selfBuilt := func(t *testing.T, p experiment.Plan) policy.Approval {
		digest, err := p.Digest()
		require.NoError(t, err)
		return policy.Approval{PlanName: p.Name, Digest: digest}
	}

	tests := []struct {
		name     string
		approval func(*testing.T, experiment.Plan) policy.Approval
	}{
		{"zero approval", func(*testing.T, experiment.Plan) policy.Approval { return policy.Approval{} }},
		{"self-built approval", selfBuilt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), generator.NewScripted())
			plan := deniedPlan()

			_, entry, err := h.o.Execute(context.Background(), plan, tt.approval(t, plan))
			require.Error(t, err)
			assert.Equal(t, experiment.KindPolicyDenied, experiment.KindOf(err))

			calls := h.sim.Calls()
			assert.Equal(t, 0, calls.Apply)
			assert.Equal(t, 0, calls.Run)
			assert.NotEqual(t, 1.38, h.sim.Settings()[hardware.ParamVoltage])

			require.NotNil(t, entry)
			entries := h.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, experiment.StatusDenied, entries[0].Status)
			assert.True(t, math.IsNaN(entries[0].Plan.Expectations["temp_c"].Min))
			assert.Contains(t, h.eventTypes(), EventPolicyViolation)
		})
	}
}

func TestExecute_NaNMetricsAreLogged(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	h.o = h.build(t, testConfig(), nanMetrics{h.ctrl})
	plan := stressPlan(10 * time.Millisecond)

	result, entry, err := h.o.Execute(context.Background(), plan, approve(t, plan))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, experiment.StatusCompleted, entry.Status)
	require.Len(t, result.Outputs, 1)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Result.Outputs, 1)
	assert.True(t, math.IsNaN(entries[0].Result.Outputs[0].Metrics["temp_c"]))
}

func TestExecute_TripAfterFinalStepKeepsOutputs(t *testing.T) {
	h := newHarness(t, testConfig(), generator.NewScripted())
	h.o = h.build(t, testConfig(), &tripAfterRun{Controller: h.ctrl})
	plan := stressPlan(10 * time.Millisecond)

	result, entry, err := h.o.Execute(context.Background(), plan, approve(t, plan))
	require.NoError(t, err)
	assert.False(t, result.AbortedEarly)
	require.Len(t, result.Outputs, 1)
	assert.False(t, result.Outputs[0].Interrupted)
	assert.Contains(t, result.SafetyTrip, "overcurrent latch")

	require.NotNil(t, entry)
	assert.Equal(t, experiment.StatusCompleted, entry.Status)
	assert.Contains(t, entry.Reason, "after final step")
	assert.True(t, h.ctrl.Status().SafeMode)
}

// #endregion execute

// #region construction
func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

// #endregion construction
