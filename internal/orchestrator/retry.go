package orchestrator

// #region imports
import (
	"regexp"
	"strconv"
	"strings"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #endregion

// #region budget

// RetryBudget bounds re-theorization per originating observation. Attempt 0
// is the first theorize call; attempts 1..max are re-theorizations.
type RetryBudget struct {
	max int
}

// NewRetryBudget creates a budget allowing n re-theorizations.
func NewRetryBudget(n int) RetryBudget {
	if n < 0 {
		n = 0
	}
	return RetryBudget{max: n}
}

// Allow reports whether attempt may call the generator.
func (r RetryBudget) Allow(attempt int) bool {
	return attempt >= 0 && attempt <= r.max
}

// #endregion

// #region ranking

var testabilityRe = regexp.MustCompile(`(?i)testability\s*[=:]\s*([0-9]*\.?[0-9]+)`)

// Testability reads the self-reported testability=<x> marker, clamped to
// [0, 1]. Candidates without one score 0.
func Testability(text string) float64 {
	m := testabilityRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SelectCandidate picks the untried candidate with the highest testability.
// Ties go to the earlier candidate. Blank candidates are skipped.
func SelectCandidate(candidates []string, tried map[string]bool) (experiment.Hypothesis, bool) {
	best := -1
	bestScore := -1.0
	for i, c := range candidates {
		text := strings.TrimSpace(c)
		if text == "" || tried[text] {
			continue
		}
		if s := Testability(text); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return experiment.Hypothesis{}, false
	}
	return experiment.Hypothesis{
		Text:        strings.TrimSpace(candidates[best]),
		Testability: bestScore,
		Rank:        best,
	}, true
}

// #endregion
