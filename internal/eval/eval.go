package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #region confirm
// Confirm applies the theory-confirmation rule: the hypothesis is confirmed
// iff every planned step ran to completion without error and every metric the
// plan predicted was observed inside its predicted range at every step that
// reported it. The rule is a pure function of its inputs.
func Confirm(plan experiment.Plan, result experiment.Result) Verdict {
	if result.AbortedEarly {
		return Verdict{Reason: "aborted: " + result.AbortReason}
	}
	if len(result.Outputs) != len(plan.Steps) {
		return Verdict{Reason: fmt.Sprintf("ran %d of %d steps", len(result.Outputs), len(plan.Steps))}
	}
	for _, out := range result.Outputs {
		if out.Err != "" || out.Interrupted {
			return Verdict{Reason: fmt.Sprintf("step %d failed: %s", out.Index, out.Err)}
		}
	}

	metrics := make([]string, 0, len(plan.Expectations))
	for m := range plan.Expectations {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var checks []Check
	var failures []string
	for _, m := range metrics {
		bound := plan.Expectations[m]
		observed := false
		for _, out := range result.Outputs {
			v, ok := out.Metrics[m]
			if !ok {
				continue
			}
			observed = true
			pass := bound.Contains(v)
			checks = append(checks, Check{Metric: m, Step: out.Index, Value: v, Min: bound.Min, Max: bound.Max, Pass: pass})
			if !pass {
				failures = append(failures, fmt.Sprintf("%s=%.4g outside [%g, %g] at step %d", m, v, bound.Min, bound.Max, out.Index))
			}
		}
		if !observed {
			failures = append(failures, fmt.Sprintf("%s not observed", m))
		}
	}

	if len(failures) > 0 {
		return Verdict{Checks: checks, Reason: "falsified: " + strings.Join(failures, "; ")}
	}
	return Verdict{Confirmed: true, Checks: checks, Reason: fmt.Sprintf("confirmed: %d checks within bounds", len(checks))}
}

// #endregion confirm
