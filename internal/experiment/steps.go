package experiment

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// #region step-kind
// StepKind names a TestStep variant on the wire.
type StepKind string

const (
	KindStressTest        StepKind = "hardware_stress_test"
	KindMemoryAssociation StepKind = "memory_association_test"
)

// #endregion step-kind

// #region test-step
// TestStep is a closed sum type. The unexported marker keeps other packages
// from adding variants the executor does not know how to run.
type TestStep interface {
	Kind() StepKind
	isTestStep()
}

// StressTest loads the hardware for at most Duration.
type StressTest struct {
	Duration time.Duration `json:"duration"`
	Load     []string      `json:"load"`
}

func (StressTest) Kind() StepKind { return KindStressTest }
func (StressTest) isTestStep()    {}

// MemoryAssociationTest queries the knowledge store by key or by vector.
type MemoryAssociationTest struct {
	QueryKey    string    `json:"query_key,omitempty"`
	QueryVector []float32 `json:"query_vector,omitempty"`
	TopK        int       `json:"top_k,omitempty"`
}

func (MemoryAssociationTest) Kind() StepKind { return KindMemoryAssociation }
func (MemoryAssociationTest) isTestStep()    {}

// #endregion test-step

// #region validate
// ValidateStep checks a step's fields. Variants it does not recognise are errors.
func ValidateStep(s TestStep) error {
	switch st := s.(type) {
	case StressTest:
		if st.Duration <= 0 {
			return fmt.Errorf("stress test: duration must be > 0, got %s", st.Duration)
		}
		if len(st.Load) == 0 {
			return fmt.Errorf("stress test: empty load set")
		}
		return nil
	case MemoryAssociationTest:
		if st.QueryKey == "" && len(st.QueryVector) == 0 {
			return fmt.Errorf("memory association test: needs a query key or vector")
		}
		for i, v := range st.QueryVector {
			if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("memory association test: non-finite query vector component %d", i)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("%w: nil step", ErrUnknownStep)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownStep, s)
	}
}

// #endregion validate

// #region steps-json
// Steps is an ordered step list that encodes each step inside a kind envelope.
type Steps []TestStep

type stepEnvelope struct {
	Kind   StepKind        `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON implements json.Marshaler.
func (s Steps) MarshalJSON() ([]byte, error) {
	out := make([]stepEnvelope, 0, len(s))
	for i, st := range s {
		if err := ValidateStep(st); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		params, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, stepEnvelope{Kind: st.Kind(), Params: params})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Unknown kinds are rejected.
func (s *Steps) UnmarshalJSON(data []byte) error {
	var envs []stepEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	if envs == nil {
		*s = nil
		return nil
	}
	steps := make(Steps, 0, len(envs))
	for i, env := range envs {
		switch env.Kind {
		case KindStressTest:
			var st StressTest
			if err := json.Unmarshal(env.Params, &st); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			steps = append(steps, st)
		case KindMemoryAssociation:
			var st MemoryAssociationTest
			if err := json.Unmarshal(env.Params, &st); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			steps = append(steps, st)
		default:
			return fmt.Errorf("step %d: %w: %q", i, ErrUnknownStep, env.Kind)
		}
	}
	*s = steps
	return nil
}

// #endregion steps-json
