package orchestrator

// #region imports
import (
	"fmt"

	"github.com/google/uuid"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #endregion

// #region state

// State is the orchestrator's position in the experiment cycle.
type State string

const (
	StateIdle        State = "idle"
	StateObserving   State = "observing"
	StateTheorizing  State = "theorizing"
	StatePlanning    State = "planning"
	StatePolicyCheck State = "policy_check"
	StateExecuting   State = "executing"
	StateClassifying State = "classifying"
)

// Any state may return to Idle when a cycle halts.
var transitions = map[State][]State{
	StateIdle:        {StateObserving, StateTheorizing, StateExecuting},
	StateObserving:   {StateTheorizing},
	StateTheorizing:  {StatePlanning},
	StatePlanning:    {StatePolicyCheck},
	StatePolicyCheck: {StateExecuting},
	StateExecuting:   {StateClassifying},
	StateClassifying: {StateTheorizing},
}

func allowed(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// #endregion

// #region cycle

// Cycle carries the state of one observation's processing. It replaces any
// process-wide notion of a current theory.
type Cycle struct {
	ID      string
	SeedKey string
	Attempt int
	Current *experiment.Hypothesis
	State   State

	tried map[string]bool // candidate texts already tested for this seed
}

func newCycle(seedKey string, attempt int) *Cycle {
	return &Cycle{
		ID:      uuid.New().String(),
		SeedKey: seedKey,
		Attempt: attempt,
		State:   StateIdle,
		tried:   make(map[string]bool),
	}
}

// move performs a checked transition. An illegal edge is a programming error.
func (c *Cycle) move(to State) error {
	if !allowed(c.State, to) {
		return experiment.Halt(experiment.KindFailed,
			fmt.Sprintf("illegal transition %s -> %s", c.State, to), nil)
	}
	c.State = to
	return nil
}

// #endregion
