package experiment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// #region hypothesis
// Hypothesis is one candidate explanation chosen for testing.
type Hypothesis struct {
	Text        string   `json:"text"`
	Context     []string `json:"context"`              // knowledge record keys, most related first
	Testability float64  `json:"testability"`          // self-reported, 0 when absent
	Rank        int      `json:"rank"`                 // generation order within its batch
	RecordKey   string   `json:"record_key,omitempty"` // knowledge record holding this hypothesis
	SeedKey     string   `json:"seed_key,omitempty"`   // originating observation
}

// #endregion hypothesis

// #region bound
// Bound is an inclusive [Min, Max] range.
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v is inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// #endregion bound

// #region plan
// Plan is an immutable experiment procedure. It is approved or rejected as a whole.
type Plan struct {
	Name          string             `json:"name"`
	Settings      map[string]float64 `json:"hardware_settings"`
	Steps         Steps              `json:"steps"`
	EstimatedRisk float64            `json:"estimated_risk"`
	Expectations  map[string]Bound   `json:"expectations,omitempty"` // metric -> predicted range
}

// Digest identifies this exact plan instance. Any change to any field changes
// it. Plans whose steps cannot be encoded have no digest.
func (p Plan) Digest() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("digest plan %q: %w", p.Name, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion plan

// #region result
// StepOutput is what one executed step produced.
type StepOutput struct {
	Index       int                `json:"index"`
	Kind        StepKind           `json:"kind"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Err         string             `json:"error,omitempty"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// Result is the ordered output of an execution attempt.
type Result struct {
	Outputs      []StepOutput `json:"outputs"`
	AbortedEarly bool         `json:"aborted_early"`
	AbortReason  string       `json:"abort_reason,omitempty"`
	SafetyTrip   string       `json:"safety_trip,omitempty"` // trigger seen after the final step completed
}

// Completed counts outputs whose step ran to completion.
func (r Result) Completed() int {
	n := 0
	for _, o := range r.Outputs {
		if !o.Interrupted {
			n++
		}
	}
	return n
}

// #endregion result

// #region log-entry
// EntryStatus distinguishes the variants of an experiment log entry.
type EntryStatus string

const (
	StatusCompleted   EntryStatus = "completed"
	StatusAborted     EntryStatus = "aborted"
	StatusDenied      EntryStatus = "denied"
	StatusConfigError EntryStatus = "config_error"
	StatusFailed      EntryStatus = "failed"
)

// LogEntry is one append-only audit row: the hypothesis current at submission,
// the plan, and what happened to it.
type LogEntry struct {
	Seq        int64       `json:"seq"`
	ID         string      `json:"id"`
	CycleID    string      `json:"cycle_id"`
	Attempt    int         `json:"attempt"`
	Status     EntryStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Hypothesis Hypothesis  `json:"hypothesis"`
	Plan       Plan        `json:"plan"`
	Result     Result      `json:"result"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("#%d %s attempt=%d plan=%s status=%s aborted=%v",
		e.Seq, e.CycleID, e.Attempt, e.Plan.Name, e.Status, e.Result.AbortedEarly)
}

// #endregion log-entry
