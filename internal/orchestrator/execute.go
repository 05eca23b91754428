package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #endregion

var errSafetyTrigger = errors.New("safety trigger")

// #region execute

// Execute runs an approved plan outside a theorize cycle. The approval must
// match the plan exactly. Exactly one log entry is appended.
func (o *Orchestrator) Execute(ctx context.Context, plan experiment.Plan, approval policy.Approval) (experiment.Result, *experiment.LogEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := newCycle("", 0)
	var report Report
	defer o.finish(c, &report)

	if err := o.move(c, StateExecuting); err != nil {
		return experiment.Result{}, nil, err
	}
	return o.execute(ctx, c, plan, approval)
}

// execute runs plan under an exclusive hardware session with the safety
// monitor active. Aborted runs drive the hardware to its safe state before
// the log entry is written. Only a halt or a failed emergency stop is
// returned as an error.
func (o *Orchestrator) execute(ctx context.Context, c *Cycle, plan experiment.Plan, approval policy.Approval) (experiment.Result, *experiment.LogEntry, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("plan", plan.Name), attribute.Int("steps", len(plan.Steps)))

	// The plan must pass policy again; an approval alone does not authorize it.
	decision := o.deps.Policy.Approve(plan)
	if !decision.Approved {
		policyDecisions.WithLabelValues("denied").Inc()
		entry, err := o.appendEntry(ctx, c, experiment.StatusDenied, decision.Reason, plan, experiment.Result{})
		if err != nil {
			return experiment.Result{}, nil, err
		}
		o.emit(c, EventPolicyViolation, decision.Reason)
		halt := experiment.Halt(experiment.KindPolicyDenied, decision.Reason, nil)
		halt.Entry = entry
		span.SetStatus(codes.Error, decision.Reason)
		return experiment.Result{}, entry, halt
	}
	if approval.Digest == "" || approval.PlanName != plan.Name || approval.Digest != decision.Digest {
		reason := fmt.Sprintf("approval for %q does not match plan %q", approval.PlanName, plan.Name)
		entry, err := o.appendEntry(ctx, c, experiment.StatusFailed, reason, plan, experiment.Result{})
		if err != nil {
			return experiment.Result{}, nil, err
		}
		halt := experiment.Halt(experiment.KindFailed, reason, experiment.ErrStaleApproval)
		halt.Entry = entry
		span.SetStatus(codes.Error, reason)
		return experiment.Result{}, entry, halt
	}

	session, err := o.deps.Hardware.Begin(ctx)
	if err != nil {
		entry, logErr := o.appendEntry(ctx, c, experiment.StatusFailed, "begin session: "+err.Error(), plan, experiment.Result{})
		if logErr != nil {
			return experiment.Result{}, nil, logErr
		}
		halt := experiment.Halt(experiment.KindFailed, "begin session", err)
		halt.Entry = entry
		return experiment.Result{}, entry, halt
	}
	defer session.Close()

	var result experiment.Result
	if err := session.Configure(ctx, plan.Settings); err != nil {
		var cfgErr *experiment.ConfigurationError
		if errors.As(err, &cfgErr) {
			entry, logErr := o.appendEntry(ctx, c, experiment.StatusConfigError, cfgErr.Error(), plan, experiment.Result{})
			if logErr != nil {
				return experiment.Result{}, nil, logErr
			}
			halt := experiment.Halt(experiment.KindConfiguration, "configure", cfgErr)
			halt.Entry = entry
			return experiment.Result{}, entry, halt
		}
		result = experiment.Result{AbortedEarly: true, AbortReason: "configure failed: " + err.Error()}
	} else {
		result = o.runMonitored(ctx, plan)
	}

	status, reason := experiment.StatusCompleted, ""
	var stopErr error
	switch {
	case result.AbortedEarly:
		status, reason = experiment.StatusAborted, result.AbortReason
		span.SetStatus(codes.Error, result.AbortReason)
		o.logger.Warn("experiment aborted, stopping hardware",
			slog.String("cycle_id", c.ID), slog.String("plan", plan.Name), slog.String("reason", result.AbortReason))
		if stopErr = o.deps.Hardware.EmergencyStop(context.WithoutCancel(ctx)); stopErr != nil {
			result.AbortReason += "; " + stopErr.Error()
			reason = result.AbortReason
			span.RecordError(stopErr)
		}
	case result.SafetyTrip != "":
		// Every step finished, so the outputs stand, but the hardware is
		// still driven to its safe state.
		reason = "after final step: " + result.SafetyTrip
		o.logger.Warn("safety trigger after final step, stopping hardware",
			slog.String("cycle_id", c.ID), slog.String("plan", plan.Name), slog.String("reason", result.SafetyTrip))
		if stopErr = o.deps.Hardware.EmergencyStop(context.WithoutCancel(ctx)); stopErr != nil {
			result.SafetyTrip += "; " + stopErr.Error()
			reason = "after final step: " + result.SafetyTrip
			span.RecordError(stopErr)
		}
	}

	entry, err := o.appendEntry(ctx, c, status, reason, plan, result)
	if stopErr != nil {
		return result, entry, stopErr
	}
	if err != nil {
		return result, nil, err
	}
	o.logger.Info("experiment logged",
		slog.String("cycle_id", c.ID), slog.Int64("seq", entry.Seq), slog.String("status", string(status)),
		slog.Int("outputs", len(result.Outputs)))
	return result, entry, nil
}

// #endregion

// #region monitor

// runMonitored runs the steps while a monitor polls the safety signal and
// preempts the running step when it fires.
func (o *Orchestrator) runMonitored(ctx context.Context, plan experiment.Plan) experiment.Result {
	stepCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		o.monitor(stepCtx, done, cancel)
		return nil
	})

	result := o.runSteps(stepCtx, plan)
	close(done)
	_ = g.Wait()
	return result
}

func (o *Orchestrator) monitor(ctx context.Context, done <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(o.cfg.SafetyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.deps.Hardware.SafetyTriggered() {
				cancel(errSafetyTrigger)
				return
			}
		}
	}
}

// #endregion

// #region steps

// runSteps executes steps in order. The safety signal is checked before each
// step and after the last. A trigger or cancellation before the last step
// completes ends the run early, and the outputs form a strict prefix of the
// plan; one seen afterwards is reported in SafetyTrip.
func (o *Orchestrator) runSteps(ctx context.Context, plan experiment.Plan) experiment.Result {
	var result experiment.Result
	for i, step := range plan.Steps {
		if reason, stop := o.shouldAbort(ctx); stop {
			result.AbortedEarly, result.AbortReason = true, reason
			return result
		}

		out, fatal := o.runStep(ctx, i, step)
		result.Outputs = append(result.Outputs, out)
		stepDuration.WithLabelValues(string(out.Kind), strconv.FormatBool(out.Interrupted)).
			Observe(out.Elapsed.Seconds())
		if fatal {
			result.AbortedEarly = true
			if reason, stop := o.shouldAbort(ctx); stop {
				result.AbortReason = reason
			} else {
				result.AbortReason = fmt.Sprintf("step %d failed: %s", i+1, out.Err)
			}
			return result
		}
	}
	// Every step completed: the outputs are the whole plan, not a prefix.
	if reason, tripped := o.tripped(ctx); tripped {
		result.SafetyTrip = reason
	}
	return result
}

func (o *Orchestrator) shouldAbort(ctx context.Context) (string, bool) {
	if reason, tripped := o.tripped(ctx); tripped {
		return reason, true
	}
	if err := ctx.Err(); err != nil {
		return "execution canceled: " + err.Error(), true
	}
	return "", false
}

func (o *Orchestrator) tripped(ctx context.Context) (string, bool) {
	if errors.Is(context.Cause(ctx), errSafetyTrigger) || o.deps.Hardware.SafetyTriggered() {
		return "safety trigger: " + o.deps.Hardware.TriggerReason(), true
	}
	return "", false
}

// runStep runs one step. fatal reports that the run cannot continue.
func (o *Orchestrator) runStep(ctx context.Context, i int, step experiment.TestStep) (out experiment.StepOutput, fatal bool) {
	start := time.Now()
	out = experiment.StepOutput{Index: i, Kind: step.Kind()}
	defer func() { out.Elapsed = time.Since(start) }()

	switch st := step.(type) {
	case experiment.StressTest:
		metrics, err := o.deps.Hardware.StressTest(ctx, st.Duration, st.Load)
		out.Metrics = metrics
		if err != nil {
			out.Interrupted = true
			out.Err = err.Error()
			return out, true
		}
	case experiment.MemoryAssociationTest:
		out.Metrics, out.Err = o.associate(ctx, st)
	default:
		out.Err = fmt.Sprintf("%v: %T", experiment.ErrUnknownStep, step)
		return out, true
	}
	return out, false
}

// associate queries the knowledge store. Failures are reported on the step
// and do not stop the run.
func (o *Orchestrator) associate(ctx context.Context, st experiment.MemoryAssociationTest) (map[string]float64, string) {
	topK := st.TopK
	if topK <= 0 {
		topK = o.cfg.RetrieveK
	}
	var err error
	var n int
	var top float32
	if st.QueryKey != "" {
		recs, rerr := o.deps.Knowledge.Retrieve(ctx, st.QueryKey, topK)
		err, n = rerr, len(recs)
		if n > 0 {
			top = recs[0].Score
		}
	} else {
		recs, serr := o.deps.Knowledge.Search(ctx, st.QueryVector, "", topK)
		err, n = serr, len(recs)
		if n > 0 {
			top = recs[0].Score
		}
	}
	if err != nil {
		return nil, err.Error()
	}
	return map[string]float64{
		"matches":   float64(n),
		"top_score": float64(top),
	}, ""
}

// #endregion
