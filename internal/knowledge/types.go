package knowledge

import (
	"errors"
	"time"
)

// #region kinds
// Record kinds.
const (
	KindObservation = "observation"
	KindHypothesis  = "hypothesis"
)

// Standard tags applied after classification.
const (
	TagVerified  = "verified"
	TagFalsified = "falsified"
	TagAborted   = "aborted"
)

// ErrNotFound is returned for unknown record keys.
var ErrNotFound = errors.New("memory record not found")

// #endregion kinds

// #region observation
// Observation is an opaque sensor reading. Features is the optional embedding
// used for similarity; Payload is never interpreted by the store.
type Observation struct {
	Source    string    `json:"source"`
	Payload   []byte    `json:"payload,omitempty"`
	Features  []float32 `json:"features,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// #endregion observation

// #region memory-record
// MemoryRecord is a stored payload plus its accumulated tags.
type MemoryRecord struct {
	Key       string
	Kind      string
	Payload   Observation
	Tags      []string
	Score     float32 // similarity to the query, set by Retrieve/Search
	CreatedAt time.Time
}

// HasTag reports whether label has been applied to the record.
func (r MemoryRecord) HasTag(label string) bool {
	for _, t := range r.Tags {
		if t == label {
			return true
		}
	}
	return false
}

// #endregion memory-record
