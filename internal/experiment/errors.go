package experiment

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	ErrUnknownStep         = errors.New("unknown test step variant")
	ErrStaleApproval       = errors.New("approval does not match plan")
	ErrEmergencyStopFailed = errors.New("emergency stop failed")
)

// #endregion sentinels

// #region kind
// Kind classifies why a cycle halted.
type Kind string

const (
	KindNone               Kind = ""
	KindConfiguration      Kind = "ConfigurationError"
	KindPolicyDenied       Kind = "PolicyDenied"
	KindGeneratorExhausted Kind = "GeneratorExhausted"
	KindRetryBoundExceeded Kind = "RetryBoundExceeded"
	KindHardwareAbort      Kind = "HardwareAbort"
	KindFailed             Kind = "Failed"
)

// #endregion kind

// #region configuration-error
// ConfigurationError reports a setting outside declared hardware bounds.
type ConfigurationError struct {
	Param string
	Value float64
	Min   float64
	Max   float64
	Msg   string // set instead of the bound fields for non-range problems
}

func (e *ConfigurationError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("configuration error: %s", e.Msg)
	}
	return fmt.Sprintf("configuration error: %s=%g outside [%g, %g]", e.Param, e.Value, e.Min, e.Max)
}

// #endregion configuration-error

// #region halt-error
// HaltError ends one observation's processing. It never crashes the process.
type HaltError struct {
	Kind   Kind
	Reason string
	Entry  *LogEntry // log entry produced by the halting step, if any
	Err    error
}

func (e *HaltError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *HaltError) Unwrap() error { return e.Err }

// Halt builds a HaltError.
func Halt(kind Kind, reason string, err error) *HaltError {
	return &HaltError{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the halt kind carried by err, or KindNone.
func KindOf(err error) Kind {
	var h *HaltError
	if errors.As(err, &h) {
		return h.Kind
	}
	var c *ConfigurationError
	if errors.As(err, &c) {
		return KindConfiguration
	}
	return KindNone
}

// #endregion halt-error
