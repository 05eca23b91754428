package hardware

import (
	"context"
	"errors"
	"sync"
	"time"
)

// #region sim-types
// SimCalls counts driver invocations.
type SimCalls struct {
	Apply  int
	Run    int
	Health int
}

// SimDriver is an in-process Driver with a first-order thermal model. It
// backs tests, replay, and runs without real hardware.
type SimDriver struct {
	mu       sync.Mutex
	caps     Capabilities
	settings map[string]float64
	ambientC float64
	active   int // running load generators

	tripped   bool
	tripOnRun int // trip when this RunLoad call starts; 0 disables
	failApply int // fail the next n Apply calls
	applyLag  time.Duration

	calls SimCalls
}

// DefaultCapabilities describes a desktop-class CPU.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Params: map[string]ParamBound{
			ParamClock:   {Min: 0.8e9, Max: 4.0e9, Nominal: 3.0e9, Safe: 0.8e9, Unit: "Hz"},
			ParamVoltage: {Min: 0.7, Max: 1.4, Nominal: 1.1, Safe: 0.9, Unit: "V"},
		},
		Loads: []string{"cpu", "memory", "cache"},
	}
}

// NewSimDriver returns a driver at nominal settings and 25C ambient.
func NewSimDriver(caps Capabilities) *SimDriver {
	if len(caps.Params) == 0 {
		caps = DefaultCapabilities()
	}
	return &SimDriver{
		caps:     caps,
		settings: caps.NominalSettings(),
		ambientC: 25,
	}
}

// #endregion sim-types

// #region sim-faults
// Trip latches the protection flag.
func (s *SimDriver) Trip() {
	s.mu.Lock()
	s.tripped = true
	s.mu.Unlock()
}

// ClearTrip resets the protection flag.
func (s *SimDriver) ClearTrip() {
	s.mu.Lock()
	s.tripped = false
	s.tripOnRun = 0
	s.mu.Unlock()
}

// TripOnRun latches the protection flag when the nth RunLoad call starts.
func (s *SimDriver) TripOnRun(n int) {
	s.mu.Lock()
	s.tripOnRun = n
	s.mu.Unlock()
}

// FailApply makes the next n Apply calls fail.
func (s *SimDriver) FailApply(n int) {
	s.mu.Lock()
	s.failApply = n
	s.mu.Unlock()
}

// SetApplyLag delays every Apply call by d.
func (s *SimDriver) SetApplyLag(d time.Duration) {
	s.mu.Lock()
	s.applyLag = d
	s.mu.Unlock()
}

// Calls returns the invocation counters.
func (s *SimDriver) Calls() SimCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Settings returns the last applied configuration.
func (s *SimDriver) Settings() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// #endregion sim-faults

// #region sim-driver
func (s *SimDriver) Capabilities() Capabilities {
	return s.caps
}

func (s *SimDriver) Apply(ctx context.Context, settings map[string]float64) error {
	s.mu.Lock()
	s.calls.Apply++
	lag := s.applyLag
	fail := s.failApply > 0
	if fail {
		s.failApply--
	}
	s.mu.Unlock()

	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("sim: register write rejected")
	}

	s.mu.Lock()
	for k, v := range settings {
		s.settings[k] = v
	}
	s.mu.Unlock()
	return nil
}

func (s *SimDriver) RunLoad(ctx context.Context, load []string, d time.Duration) (map[string]float64, error) {
	start := time.Now()
	s.mu.Lock()
	s.calls.Run++
	if s.tripOnRun > 0 && s.calls.Run == s.tripOnRun {
		s.tripped = true
	}
	s.active += len(load)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active -= len(load)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return s.metrics(load, time.Since(start)), nil
	case <-ctx.Done():
		return s.metrics(load, time.Since(start)), ctx.Err()
	}
}

func (s *SimDriver) Health(ctx context.Context) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Health++
	temp, current := s.thermalLocked(s.active)
	return Health{
		TemperatureC: temp,
		CurrentA:     current,
		Tripped:      s.tripped,
		SampledAt:    time.Now(),
	}, nil
}

// #endregion sim-driver

// #region sim-model
// thermalLocked: heat scales with clock and voltage squared, and with the
// number of active load generators.
func (s *SimDriver) thermalLocked(loads int) (tempC, currentA float64) {
	clockGHz := s.settings[ParamClock] / 1e9
	volt := s.settings[ParamVoltage]
	power := clockGHz * volt * volt
	tempC = s.ambientC + 3*power + 6*power*float64(loads)
	currentA = 8*clockGHz*volt + 12*clockGHz*volt*float64(loads)
	return tempC, currentA
}

func (s *SimDriver) metrics(load []string, elapsed time.Duration) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	temp, current := s.thermalLocked(len(load))
	clockGHz := s.settings[ParamClock] / 1e9
	return map[string]float64{
		"temp_c":     temp,
		"current_a":  current,
		"throughput": clockGHz * float64(len(load)) * elapsed.Seconds(),
		"elapsed_s":  elapsed.Seconds(),
	}
}

// #endregion sim-model
