package eval

// #region check
// Check is one predicted-range comparison.
type Check struct {
	Metric string
	Step   int
	Value  float64
	Min    float64
	Max    float64
	Pass   bool
}

// #endregion check

// #region verdict
// Verdict is the outcome of the confirmation rule.
type Verdict struct {
	Confirmed bool
	Checks    []Check
	Reason    string
}

// #endregion verdict
