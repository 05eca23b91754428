package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/eval"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/generator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/logging"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/novelty"
)

// #endregion

// #region orchestrator-struct

// Deps are the orchestrator's collaborators. Novelty and Events are optional.
type Deps struct {
	Knowledge Knowledge
	Novelty   novelty.Scorer
	Generator generator.Generator
	Planner   Planner
	Policy    Policy
	Hardware  Hardware
	Log       Log
	Events    EventSink
}

// Orchestrator drives observe → theorize → plan → approve → execute →
// classify. It runs one cycle at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	budget RetryBudget
	logger *slog.Logger

	mu    sync.Mutex // held for the duration of a cycle
	state atomic.Value
}

// New wires an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Knowledge == nil:
		return nil, errors.New("orchestrator: knowledge store required")
	case deps.Generator == nil:
		return nil, errors.New("orchestrator: generator required")
	case deps.Planner == nil:
		return nil, errors.New("orchestrator: planner required")
	case deps.Policy == nil:
		return nil, errors.New("orchestrator: policy required")
	case deps.Hardware == nil:
		return nil, errors.New("orchestrator: hardware required")
	case deps.Log == nil:
		return nil, errors.New("orchestrator: experiment log required")
	}
	if deps.Novelty == nil {
		deps.Novelty = novelty.NewRetrievalScorer(deps.Knowledge)
	}
	logger := logging.New("orchestrator")
	if deps.Events == nil {
		deps.Events = LogSink{Logger: logger}
	}
	def := DefaultConfig()
	if cfg.RetrieveK <= 0 {
		cfg.RetrieveK = def.RetrieveK
	}
	if cfg.CandidatesPerTheory <= 0 {
		cfg.CandidatesPerTheory = def.CandidatesPerTheory
	}
	if cfg.SafetyPollInterval <= 0 {
		cfg.SafetyPollInterval = def.SafetyPollInterval
	}

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		budget: NewRetryBudget(cfg.MaxRetheorizeAttempts),
		logger: logger,
	}
	o.state.Store(StateIdle)
	return o, nil
}

// State returns the current state. Safe to call concurrently with a cycle.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *Orchestrator) move(c *Cycle, to State) error {
	if err := c.move(to); err != nil {
		return err
	}
	o.state.Store(to)
	return nil
}

// #endregion

// #region observe

// Observe stores obs, scores its novelty, and runs a cycle when the score
// exceeds the threshold. Halts are reported in Report.Halt; the only returned
// error is a failed emergency stop.
func (o *Orchestrator) Observe(ctx context.Context, obs knowledge.Observation) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "orchestrator.Observe",
		trace.WithAttributes(attribute.String("observation.source", obs.Source)))
	defer span.End()

	c := newCycle("", 0)
	report := Report{CycleID: c.ID}
	defer o.finish(c, &report)

	if err := o.move(c, StateObserving); err != nil {
		return o.halted(&report, c, err)
	}
	key, err := o.deps.Knowledge.Store(ctx, knowledge.KindObservation, obs)
	if err != nil {
		return o.halted(&report, c, experiment.Halt(experiment.KindFailed, "store observation", err))
	}
	c.SeedKey, report.SeedKey = key, key

	score, err := o.deps.Novelty.Score(ctx, key)
	if err != nil {
		return o.halted(&report, c, experiment.Halt(experiment.KindFailed, "novelty score", err))
	}
	report.Novelty = score
	span.SetAttributes(attribute.Float64("novelty", float64(score)))

	if float64(score) <= o.cfg.NoveltyThreshold {
		observationsTotal.WithLabelValues("false").Inc()
		o.logger.Debug("observation below novelty threshold",
			slog.String("key", key), slog.Float64("novelty", float64(score)))
		return report, nil
	}
	observationsTotal.WithLabelValues("true").Inc()
	report.Triggered = true
	o.logger.Info("novel observation, theorizing",
		slog.String("cycle_id", c.ID), slog.String("key", key), slog.Float64("novelty", float64(score)))

	if err := o.theorize(ctx, c, 0, &report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

// #endregion

// #region theorize

// Theorize runs a cycle for an existing record starting at attempt. An
// attempt past the retry bound halts with RetryBoundExceeded without calling
// the generator.
func (o *Orchestrator) Theorize(ctx context.Context, seedKey string, attempt int) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := newCycle(seedKey, attempt)
	report := Report{CycleID: c.ID, SeedKey: seedKey, Triggered: true}
	defer o.finish(c, &report)

	if err := o.theorize(ctx, c, attempt, &report); err != nil {
		return report, err
	}
	return report, nil
}

// theorize loops over attempts for c.SeedKey until a hypothesis is confirmed,
// the cycle halts, or the retry bound is hit.
func (o *Orchestrator) theorize(ctx context.Context, c *Cycle, attempt int, report *Report) error {
	for ; ; attempt++ {
		c.Attempt = attempt
		if !o.budget.Allow(attempt) {
			_, err := o.halted(report, c, experiment.Halt(experiment.KindRetryBoundExceeded,
				"hypothesis space exhausted for this observation", nil))
			return err
		}
		if err := o.move(c, StateTheorizing); err != nil {
			_, err = o.halted(report, c, err)
			return err
		}

		h, err := o.propose(ctx, c)
		if err != nil {
			_, err = o.halted(report, c, err)
			return err
		}

		ar, err := o.designAndRun(ctx, c, h)
		report.Attempts = append(report.Attempts, ar)
		if err != nil {
			_, err = o.halted(report, c, err)
			return err
		}
		if ar.Confirmed {
			report.Confirmed = true
			cycleOutcomes.WithLabelValues("confirmed").Inc()
			return nil
		}
		o.logger.Info("hypothesis falsified, re-theorizing",
			slog.String("cycle_id", c.ID), slog.Int("next_attempt", attempt+1))
	}
}

// propose retrieves context, calls the generator, picks a candidate, and
// stores it as a hypothesis record.
func (o *Orchestrator) propose(ctx context.Context, c *Cycle) (experiment.Hypothesis, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Theorize",
		trace.WithAttributes(attribute.Int("attempt", c.Attempt)))
	defer span.End()

	seed, err := o.deps.Knowledge.Get(ctx, c.SeedKey)
	if err != nil {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindFailed, "load seed", err)
	}
	related, err := o.deps.Knowledge.Retrieve(ctx, c.SeedKey, o.cfg.RetrieveK)
	if err != nil {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindFailed, "retrieve related", err)
	}

	generatorCalls.Inc()
	candidates, err := o.deps.Generator.Generate(ctx, buildContext(seed, related),
		o.cfg.MaxHypothesisLength, o.cfg.CandidatesPerTheory)
	if err != nil {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindFailed, "generator", err)
	}
	if len(candidates) == 0 {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindGeneratorExhausted, "no hypothesis available", nil)
	}
	h, ok := SelectCandidate(candidates, c.tried)
	if !ok {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindGeneratorExhausted,
			"no untested hypothesis available", nil)
	}

	h.SeedKey = c.SeedKey
	for _, r := range related {
		h.Context = append(h.Context, r.Key)
	}
	h.RecordKey, err = o.deps.Knowledge.Store(ctx, knowledge.KindHypothesis, knowledge.Observation{
		Source:   "hypothesis:" + c.ID,
		Payload:  []byte(h.Text),
		Features: seed.Payload.Features,
	})
	if err != nil {
		return experiment.Hypothesis{}, experiment.Halt(experiment.KindFailed, "store hypothesis", err)
	}

	c.tried[h.Text] = true
	c.Current = &h
	span.SetAttributes(attribute.String("hypothesis", h.Text), attribute.Float64("testability", h.Testability))
	o.logger.Info("hypothesis selected",
		slog.String("cycle_id", c.ID), slog.Int("attempt", c.Attempt),
		slog.String("text", h.Text), slog.Int("rank", h.Rank), slog.Int("candidates", len(candidates)))
	return h, nil
}

// #endregion

// #region design-and-run

// designAndRun plans h, submits the plan to policy, executes it if approved,
// and classifies the result. A returned HaltError ends the cycle.
func (o *Orchestrator) designAndRun(ctx context.Context, c *Cycle, h experiment.Hypothesis) (AttemptReport, error) {
	ar := AttemptReport{Attempt: c.Attempt, Hypothesis: h}

	if err := o.move(c, StatePlanning); err != nil {
		return ar, err
	}
	plan, err := o.deps.Planner.Create(h, o.deps.Hardware.Status().Capabilities)
	if err != nil {
		var cfgErr *experiment.ConfigurationError
		if errors.As(err, &cfgErr) {
			entry, logErr := o.appendEntry(ctx, c, experiment.StatusConfigError, cfgErr.Error(), experiment.Plan{}, experiment.Result{})
			if logErr != nil {
				return ar, logErr
			}
			ar.Entry, ar.Reason = entry, cfgErr.Error()
			halt := experiment.Halt(experiment.KindConfiguration, "plan outside hardware bounds", cfgErr)
			halt.Entry = entry
			return ar, halt
		}
		return ar, experiment.Halt(experiment.KindFailed, "plan", err)
	}
	ar.Plan = plan

	if err := o.move(c, StatePolicyCheck); err != nil {
		return ar, err
	}
	decision := o.deps.Policy.Approve(plan)
	approval, ok := decision.Approval()
	if !ok {
		policyDecisions.WithLabelValues("denied").Inc()
		entry, err := o.appendEntry(ctx, c, experiment.StatusDenied, decision.Reason, plan, experiment.Result{})
		if err != nil {
			return ar, err
		}
		ar.Entry, ar.Reason = entry, decision.Reason
		o.emit(c, EventPolicyViolation, decision.Reason)
		halt := experiment.Halt(experiment.KindPolicyDenied, decision.Reason, nil)
		halt.Entry = entry
		return ar, halt
	}
	policyDecisions.WithLabelValues("approved").Inc()

	if err := o.move(c, StateExecuting); err != nil {
		return ar, err
	}
	result, entry, err := o.execute(ctx, c, plan, approval)
	ar.Entry = entry
	if err != nil {
		return ar, err
	}

	if err := o.move(c, StateClassifying); err != nil {
		return ar, err
	}
	if result.AbortedEarly {
		ar.Reason = result.AbortReason
		if err := o.deps.Knowledge.Tag(ctx, h.RecordKey, knowledge.TagAborted); err != nil {
			return ar, experiment.Halt(experiment.KindFailed, "tag aborted", err)
		}
		o.emit(c, EventHardwareAbort, result.AbortReason)
		halt := experiment.Halt(experiment.KindHardwareAbort, result.AbortReason, nil)
		halt.Entry = entry
		return ar, halt
	}
	ar, err = o.classifyAndUpdate(ctx, c, ar, result)
	if err != nil || result.SafetyTrip == "" {
		return ar, err
	}
	// The outputs are complete and classified, but tripped hardware ends the cycle.
	o.emit(c, EventHardwareAbort, result.SafetyTrip)
	halt := experiment.Halt(experiment.KindHardwareAbort, "safety trigger after final step", nil)
	halt.Entry = entry
	return ar, halt
}

// classifyAndUpdate applies the confirmation rule and tags the hypothesis.
func (o *Orchestrator) classifyAndUpdate(ctx context.Context, c *Cycle, ar AttemptReport, result experiment.Result) (AttemptReport, error) {
	verdict := eval.Confirm(ar.Plan, result)
	ar.Confirmed, ar.Reason = verdict.Confirmed, verdict.Reason

	label, event := knowledge.TagFalsified, EventFalsified
	if verdict.Confirmed {
		label, event = knowledge.TagVerified, EventConfirmed
	}
	if err := o.deps.Knowledge.Tag(ctx, ar.Hypothesis.RecordKey, label); err != nil {
		return ar, experiment.Halt(experiment.KindFailed, "tag "+label, err)
	}
	o.emit(c, event, verdict.Reason)
	return ar, nil
}

// #endregion

// #region finish

// halted records a halt on the report. A failed emergency stop is returned
// instead so that it escapes the cycle.
func (o *Orchestrator) halted(report *Report, c *Cycle, err error) (Report, error) {
	if errors.Is(err, experiment.ErrEmergencyStopFailed) {
		report.Halt = experiment.Halt(experiment.KindHardwareAbort, "emergency stop failed", err)
		cycleOutcomes.WithLabelValues("estop_failed").Inc()
		o.logger.Error("emergency stop failed", slog.String("cycle_id", c.ID), slog.Any("error", err))
		return *report, err
	}
	var halt *experiment.HaltError
	if !errors.As(err, &halt) {
		halt = experiment.Halt(experiment.KindFailed, "unexpected error", err)
	}
	report.Halt = halt
	cycleOutcomes.WithLabelValues(string(halt.Kind)).Inc()
	o.emit(c, EventHalt, halt.Error())
	o.logger.Warn("cycle halted",
		slog.String("cycle_id", c.ID), slog.String("kind", string(halt.Kind)), slog.String("reason", halt.Reason))
	return *report, nil
}

func (o *Orchestrator) finish(c *Cycle, report *Report) {
	c.Current = nil
	c.State = StateIdle
	o.state.Store(StateIdle)
}

func (o *Orchestrator) emit(c *Cycle, t EventType, reason string) {
	o.deps.Events.Emit(Event{
		Type:    t,
		CycleID: c.ID,
		SeedKey: c.SeedKey,
		Attempt: c.Attempt,
		Reason:  reason,
		At:      time.Now().UTC(),
	})
}

// #endregion

// #region helpers

// appendEntry writes one log entry for the current hypothesis of c.
func (o *Orchestrator) appendEntry(ctx context.Context, c *Cycle, status experiment.EntryStatus, reason string, plan experiment.Plan, result experiment.Result) (*experiment.LogEntry, error) {
	entry := experiment.LogEntry{
		CycleID: c.ID,
		Attempt: c.Attempt,
		Status:  status,
		Reason:  reason,
		Plan:    plan,
		Result:  result,
	}
	if c.Current != nil {
		entry.Hypothesis = *c.Current
	}
	written, err := o.deps.Log.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		return nil, experiment.Halt(experiment.KindFailed, "append log entry", err)
	}
	return &written, nil
}

const maxContextPayload = 240

// buildContext renders the seed and related records as generator input.
func buildContext(seed knowledge.MemoryRecord, related []knowledge.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "observation %s source=%s: %s\n", seed.Key, seed.Payload.Source, payloadText(seed.Payload.Payload))
	for _, r := range related {
		fmt.Fprintf(&b, "related %s score=%.3f", r.Key, r.Score)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(r.Tags, ","))
		}
		fmt.Fprintf(&b, ": %s\n", payloadText(r.Payload.Payload))
	}
	return b.String()
}

func payloadText(p []byte) string {
	s := strings.ToValidUTF8(string(p), "?")
	if r := []rune(s); len(r) > maxContextPayload {
		s = string(r[:maxContextPayload]) + "..."
	}
	return strings.Join(strings.Fields(s), " ")
}

// #endregion
