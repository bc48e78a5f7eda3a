package document

import "fmt"

// Status is the lifecycle state of a document.
// The zero value is StatusPending.
type Status uint8

const (
	// StatusPending is the placeholder state right after upload.
	StatusPending Status = iota
	// StatusProcessing means extraction or vectorization is running.
	StatusProcessing
	// StatusCompleted means the live chunk set is fully indexed.
	StatusCompleted
	// StatusError is a terminal failure; a reindex is required to retry.
	StatusError
	// StatusWarning means the text was stored but the index could not be fully confirmed.
	StatusWarning

	statusCount
)

var statusNames = [statusCount]string{
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusError:      "error",
	StatusWarning:    "warning",
}

// transitions[from][to] reports whether from → to is allowed.
var transitions = [statusCount][statusCount]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusProcessing: true, // stage updates, redelivered jobs
		StatusCompleted:  true,
		StatusError:      true,
		StatusWarning:    true,
	},
	StatusCompleted: {
		StatusProcessing: true,
		StatusWarning:    true, // stale chunks left behind after a swap
	},
	StatusError: {
		StatusProcessing: true,
	},
	StatusWarning: {
		StatusProcessing: true,
	},
}

// String returns the persisted name of the status.
func (s Status) String() string {
	if s >= statusCount {
		return fmt.Sprintf("status(%d)", uint8(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s < statusCount
}

// Terminal reports whether no further automatic transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusWarning
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return transitions[s][next]
}

// ParseStatus converts a persisted status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown document status %q", name)
}

// MarshalText implements encoding.TextMarshaler so statuses serialize by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid document status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransitionError is returned when a status change violates the lifecycle.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
