package orchestrator

// #region imports
import (
	"context"
	"time"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

// #endregion

// #region collaborators

// Knowledge is the slice of the knowledge store the orchestrator uses.
type Knowledge interface {
	Store(ctx context.Context, kind string, obs knowledge.Observation) (string, error)
	Get(ctx context.Context, key string) (knowledge.MemoryRecord, error)
	Retrieve(ctx context.Context, key string, topK int) ([]knowledge.MemoryRecord, error)
	Search(ctx context.Context, vec []float32, kind string, topK int) ([]knowledge.MemoryRecord, error)
	Tag(ctx context.Context, key, label string) error
}

// Hardware is the slice of the hardware controller the orchestrator uses.
type Hardware interface {
	Status() hardware.Snapshot
	Begin(ctx context.Context) (*hardware.Session, error)
	StressTest(ctx context.Context, d time.Duration, load []string) (map[string]float64, error)
	SafetyTriggered() bool
	TriggerReason() string
	EmergencyStop(ctx context.Context) error
}

// Planner turns a hypothesis into a plan.
type Planner interface {
	Create(h experiment.Hypothesis, caps hardware.Capabilities) (experiment.Plan, error)
}

// Policy approves or denies plans.
type Policy interface {
	Approve(plan experiment.Plan) policy.Decision
}

// Log is the append-only experiment log.
type Log interface {
	Append(ctx context.Context, entry experiment.LogEntry) (experiment.LogEntry, error)
}

// #endregion

// #region config

// Config holds the cycle parameters.
type Config struct {
	NoveltyThreshold      float64       // observations scoring above this start a cycle
	RetrieveK             int           // related records fed to the generator
	CandidatesPerTheory   int           // candidates requested per theorize call
	MaxRetheorizeAttempts int           // re-theorize calls allowed after the first
	SafetyPollInterval    time.Duration // monitor sampling interval during execution
	MaxHypothesisLength   int           // passed to the generator as max_length
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		NoveltyThreshold:      0.6,
		RetrieveK:             3,
		CandidatesPerTheory:   3,
		MaxRetheorizeAttempts: 2,
		SafetyPollInterval:    100 * time.Millisecond,
		MaxHypothesisLength:   256,
	}
}

// #endregion

// #region report

// AttemptReport summarizes one theorize → execute pass.
type AttemptReport struct {
	Attempt    int
	Hypothesis experiment.Hypothesis
	Plan       experiment.Plan
	Entry      *experiment.LogEntry // nil when the pass stopped before policy
	Confirmed  bool
	Reason     string
}

// Report is the outcome of one Observe or Theorize call.
type Report struct {
	CycleID   string
	SeedKey   string
	Novelty   float32
	Triggered bool // novelty exceeded the threshold
	Attempts  []AttemptReport
	Confirmed bool
	Halt      *experiment.HaltError // why the cycle stopped, nil on confirmation or no trigger
}

// #endregion
