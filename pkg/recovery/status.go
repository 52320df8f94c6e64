package recovery

import (
	"fmt"
	"time"
)

// Status is the derived lifecycle state of an escape request. It is never
// stored; every operation recomputes it from the request's snapshot fields
// and the current time.
type Status int

const (
	// StatusNone means no active request (or a zero ready-at reference).
	StatusNone Status = iota
	// StatusNotReady means the security period has not yet elapsed.
	StatusNotReady
	// StatusReady means the request is inside the completion window.
	StatusReady
	// StatusExpired means the window has passed; only a new trigger can
	// produce an earlier status again.
	StatusExpired
)

// String implements fmt.Stringer for Status.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusNotReady:
		return "NOT_READY"
	case StatusReady:
		return "READY"
	case StatusExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText lets Status serialize as its name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NONE":
		*s = StatusNone
	case "NOT_READY":
		*s = StatusNotReady
	case "READY":
		*s = StatusReady
	case "EXPIRED":
		*s = StatusExpired
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// StatusAt derives the request's status at the given instant. Pure and
// side-effect free; monotonic non-decreasing in now. The Ready window is
// inclusive at both ends: [createdAt+period, createdAt+2*period].
func StatusAt(req EscapeRequest, now time.Time) Status {
	if !req.Active || req.CreatedAt.IsZero() {
		return StatusNone
	}
	readyAt := req.CreatedAt.Add(req.SecurityPeriod)
	if now.Before(readyAt) {
		return StatusNotReady
	}
	if now.After(readyAt.Add(req.SecurityPeriod)) {
		return StatusExpired
	}
	return StatusReady
}
