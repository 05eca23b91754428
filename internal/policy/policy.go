package policy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
)

// #region engine
// Engine decides whether a plan may run. It has no side effects and needs no
// hardware access.
type Engine struct {
	config Config
}

// New creates an engine with the given limits.
func New(config Config) *Engine {
	return &Engine{config: config}
}

// Approve evaluates every rule. Any violation denies the plan.
func (e *Engine) Approve(plan experiment.Plan) Decision {
	var violations []Violation

	// 1. Estimated risk
	if plan.EstimatedRisk > e.config.MaxRisk {
		violations = append(violations, Violation{
			Type:   ViolationRisk,
			Reason: fmt.Sprintf("estimated risk %.4f exceeds %.4f", plan.EstimatedRisk, e.config.MaxRisk),
		})
	}

	// 2. Voltage ceiling
	if v, ok := plan.Settings[hardware.ParamVoltage]; ok && v > e.config.MaxVoltage {
		violations = append(violations, Violation{
			Type:   ViolationVoltage,
			Reason: fmt.Sprintf("voltage %.3fV exceeds %.3fV", v, e.config.MaxVoltage),
		})
	}

	// 3. Every step must be a known, well-formed variant
	if len(plan.Steps) == 0 {
		violations = append(violations, Violation{Type: ViolationMalformed, Reason: "plan has no steps"})
	}
	for i, st := range plan.Steps {
		if err := experiment.ValidateStep(st); err != nil {
			violations = append(violations, Violation{
				Type:   ViolationStep,
				Reason: fmt.Sprintf("step %d: %v", i, err),
			})
		}
	}

	// 4. Non-finite numbers defeat every comparison above
	if bad := nonFinite(plan); len(bad) > 0 {
		violations = append(violations, Violation{
			Type:   ViolationMalformed,
			Reason: "non-finite values: " + strings.Join(bad, ", "),
		})
	}

	// 5. The approval must bind to a digest
	digest, err := plan.Digest()
	if err != nil {
		violations = append(violations, Violation{
			Type:   ViolationMalformed,
			Reason: err.Error(),
		})
	}

	if len(violations) > 0 {
		return Decision{
			Approved:   false,
			Reason:     fmt.Sprintf("denied: %s", violations[0].Reason),
			Violations: violations,
			PlanName:   plan.Name,
		}
	}
	return Decision{
		Approved: true,
		Reason:   fmt.Sprintf("approved: risk=%.4f", plan.EstimatedRisk),
		PlanName: plan.Name,
		Digest:   digest,
	}
}

// #endregion engine

// #region helpers
func nonFinite(plan experiment.Plan) []string {
	var bad []string
	check := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, name)
		}
	}
	check("estimated_risk", plan.EstimatedRisk)
	for name, v := range plan.Settings {
		check("settings."+name, v)
	}
	for name, b := range plan.Expectations {
		check("expectations."+name+".min", b.Min)
		check("expectations."+name+".max", b.Max)
	}
	sort.Strings(bad)
	return bad
}

// #endregion helpers
