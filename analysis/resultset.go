package analysis

import (
	"encoding/json"
	"errors"
)

var (
	ErrNoProject      = errors.New("analysis: project id is required")
	ErrNoFeatures     = errors.New("analysis: no features requested")
	ErrUnknownFeature = errors.New("analysis: unknown feature")
	ErrRunInProgress  = errors.New("analysis: a run is already in progress")
)

// State is the explicit lifecycle of one feature within a run.
type State string

const (
	StateNotRun    State = "not_run"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition happens without a new run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is what a view shows for a feature.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one feature's slot in a ResultSet.
type Entry struct {
	State  State           `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// Status derives the display status. A succeeded entry whose payload is null
// is not completed.
func (e Entry) Status() Status {
	switch e.State {
	case StateInFlight:
		return StatusProcessing
	case StateFailed:
		return StatusFailed
	case StateSucceeded:
		if hasPayload(e.Result) {
			return StatusCompleted
		}
	}
	return StatusPending
}

func hasPayload(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// ResultSet maps each feature to its entry. Missing keys are not_run.
type ResultSet map[Feature]Entry

func (rs ResultSet) clone() ResultSet {
	out := make(ResultSet, len(rs))
	for f, e := range rs {
		out[f] = e
	}
	return out
}

// Completed lists the features that have a usable payload.
func (rs ResultSet) Completed() []Feature {
	var out []Feature
	for _, f := range allFeatures {
		if e, ok := rs[f]; ok && e.Status() == StatusCompleted {
			out = append(out, f)
		}
	}
	return out
}

// Failed lists the features with a recorded terminal error.
func (rs ResultSet) Failed() []Feature {
	var out []Feature
	for _, f := range allFeatures {
		if e, ok := rs[f]; ok && e.State == StateFailed {
			out = append(out, f)
		}
	}
	return out
}
