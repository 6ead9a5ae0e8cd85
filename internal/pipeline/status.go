package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Status is the execution state of an action, and the aggregate state of a
// pipeline. The zero value is not a valid status.
type Status int

const (
	StatusPending Status = iota + 1
	StatusScheduled
	StatusRunning
	StatusCompleted
	StatusError
)

// AllStatuses lists every valid status in declaration order.
var AllStatuses = []Status{StatusPending, StatusScheduled, StatusRunning, StatusCompleted, StatusError}

// UnknownStatusError is returned when decoding a status string the controller
// is not known to send.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown action status %q", e.Value)
}

// String returns the wire form, e.g. "ACTION_STATUS_RUNNING".
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "ACTION_STATUS_PENDING"
	case StatusScheduled:
		return "ACTION_STATUS_SCHEDULED"
	case StatusRunning:
		return "ACTION_STATUS_RUNNING"
	case StatusCompleted:
		return "ACTION_STATUS_COMPLETED"
	case StatusError:
		return "ACTION_STATUS_ERROR"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Label returns a short human-readable name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusScheduled:
		return "scheduled"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	}
	return "invalid"
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusError
}

// Tone is the indicator colour used to render s: "error", "success" or
// "warning".
func (s Status) Tone() string {
	switch s {
	case StatusError:
		return "error"
	case StatusCompleted:
		return "success"
	case StatusPending, StatusScheduled, StatusRunning:
		return "warning"
	}
	return "error"
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(v string) (Status, error) {
	for _, s := range AllStatuses {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, &UnknownStatusError{Value: v}
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal invalid status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("action status: %w", err)
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// precedence orders statuses for aggregation. Higher wins.
func (s Status) precedence() int {
	switch s {
	case StatusCompleted:
		return 0
	case StatusPending:
		return 1
	case StatusScheduled:
		return 2
	case StatusRunning:
		return 3
	case StatusError:
		return 4
	}
	// A status that never came off the wire is a programming error; let it
	// surface as a failure instead of disappearing into COMPLETED.
	return 4
}

// DeriveStatus reduces action statuses to a single pipeline status:
// ERROR, then RUNNING, then SCHEDULED, then PENDING, and COMPLETED when none
// of those is present (including when there are no actions at all).
// The result depends only on which statuses occur, not on their order.
func DeriveStatus(actions []Action) Status {
	agg := StatusCompleted
	for _, a := range actions {
		st := a.Status
		if !st.Valid() {
			st = StatusError
		}
		if st.precedence() > agg.precedence() {
			agg = st
		}
		if agg == StatusError {
			break
		}
	}
	return agg
}

// Counts tallies pipelines by aggregate status.
func Counts(pipelines []Pipeline) map[Status]int {
	return lo.CountValuesBy(pipelines, func(p Pipeline) Status {
		return p.Status()
	})
}
