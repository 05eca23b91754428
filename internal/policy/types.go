package policy

// #region violation-type
// ViolationType enumerates the rule categories that deny a plan.
type ViolationType string

const (
	ViolationRisk      ViolationType = "risk_exceeded"
	ViolationVoltage   ViolationType = "voltage_exceeded"
	ViolationStep      ViolationType = "invalid_step"
	ViolationMalformed ViolationType = "malformed_plan"
)

// #endregion violation-type

// #region violation
// Violation is one rule that the plan failed.
type Violation struct {
	Type   ViolationType `json:"type"`
	Reason string        `json:"reason"`
}

// #endregion violation

// #region config
// Config holds the hard limits.
type Config struct {
	MaxRisk    float64 // estimated_risk above this denies
	MaxVoltage float64 // settings["voltage"] above this denies
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxRisk:    0.05,
		MaxVoltage: 1.3,
	}
}

// #endregion config

// #region decision
// Decision is the outcome of one policy evaluation.
type Decision struct {
	Approved   bool
	Reason     string
	Violations []Violation // non-empty iff denied
	PlanName   string
	Digest     string // digest of the evaluated plan
}

// Approval authorizes execution of exactly one plan instance.
type Approval struct {
	PlanName string `json:"plan_name"`
	Digest   string `json:"digest"`
}

// Approval returns the execution token, or false when the plan was denied.
func (d Decision) Approval() (Approval, bool) {
	if !d.Approved {
		return Approval{}, false
	}
	return Approval{PlanName: d.PlanName, Digest: d.Digest}, true
}

// #endregion decision
