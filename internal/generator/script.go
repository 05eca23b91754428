package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// #region scripted

// Scripted replays canned candidate lists, one per call. Calls past the end
// of the script return no candidates.
type Scripted struct {
	mu        sync.Mutex
	responses [][]string
	calls     int
	prompts   []string
}

// NewScripted creates a Scripted generator.
func NewScripted(responses ...[]string) *Scripted {
	return &Scripted{responses: responses}
}

func (s *Scripted) Generate(_ context.Context, prompt string, maxLength, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if idx >= len(s.responses) {
		return nil, nil
	}
	out := make([]string, 0, n)
	for _, c := range s.responses[idx] {
		if len(out) == n {
			break
		}
		out = append(out, truncate(c, maxLength))
	}
	return out, nil
}

// Calls returns how many times Generate ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns the contexts received, in call order.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// #endregion scripted

// #region local

// Local is an offline generator for runs without a model service. It
// proposes one hypothesis per known anomaly family mentioned in the context.
type Local struct{}

var families = []struct {
	keyword     string
	hypothesis  string
	testability float64
}{
	{"thermal", "thermal throttling under sustained load", 0.8},
	{"voltage", "voltage droop at high clock voltage=1.2", 0.7},
	{"memory", "memory association drift for recent observations", 0.6},
	{"clock", "clock instability near maximum frequency", 0.5},
}

func (Local) Generate(_ context.Context, prompt string, maxLength, n int) ([]string, error) {
	lower := strings.ToLower(prompt)
	var out []string
	for _, f := range families {
		if len(out) == n {
			break
		}
		if strings.Contains(lower, f.keyword) {
			out = append(out, truncate(fmt.Sprintf("%s testability=%.2f", f.hypothesis, f.testability), maxLength))
		}
	}
	return out, nil
}

// #endregion local

// #region helpers

func truncate(s string, maxLength int) string {
	if maxLength <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	return string(r[:maxLength])
}

// #endregion helpers
