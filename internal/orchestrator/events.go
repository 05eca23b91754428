package orchestrator

// #region imports
import (
	"context"
	"log/slog"
	"time"
)

// #endregion

// #region event

// EventType names what happened.
type EventType string

const (
	EventPolicyViolation EventType = "policy_violation"
	EventHardwareAbort   EventType = "hardware_abort"
	EventConfirmed       EventType = "confirmed"
	EventFalsified       EventType = "falsified"
	EventHalt            EventType = "halt"
)

// Event is reported to the sink as the cycle progresses.
type Event struct {
	Type    EventType
	CycleID string
	SeedKey string
	Attempt int
	Reason  string
	At      time.Time
}

// EventSink receives events. Emit must not block the cycle.
type EventSink interface {
	Emit(Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(Event)

func (f EventFunc) Emit(e Event) { f(e) }

// #endregion

// #region log-sink

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e Event) {
	level := slog.LevelInfo
	switch e.Type {
	case EventPolicyViolation, EventHardwareAbort, EventHalt:
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, "event",
		slog.String("type", string(e.Type)),
		slog.String("cycle_id", e.CycleID),
		slog.String("seed", e.SeedKey),
		slog.Int("attempt", e.Attempt),
		slog.String("reason", e.Reason),
	)
}

// #endregion
