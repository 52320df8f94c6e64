// Package recovery implements the dual-party timelocked account-recovery
// protocol: an owner and a guardian can jointly or unilaterally replace a
// compromised credential validator, subject to a mandatory security period,
// an expiration window, trigger cooldowns, and asymmetric override rights
// favoring the owner.
package recovery

import "time"

// Role identifies which of the two recognized principals is acting.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleGuardian Role = "guardian"
)

// Valid reports whether r is one of the two recognized roles.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleGuardian
}

// Party is the explicit caller descriptor passed into every operation.
// The surrounding environment authenticates the caller and resolves its role;
// the recovery core never infers roles from ambient call-site identity.
type Party struct {
	ID   string
	Role Role
}

// EscapeRequest is an in-flight recovery request for one validator.
// At most one is active per validator at any time; a new trigger fully
// replaces any prior request.
type EscapeRequest struct {
	// CreatedAt is the instant the request was (re)created.
	CreatedAt time.Time `json:"created_at"`
	// Initiator is the principal that created the request. Only the exact
	// initiator, calling through the matching role path, may complete it.
	Initiator string `json:"initiator"`
	// OwnerInitiated discriminates the owner path from the guardian path.
	OwnerInitiated bool `json:"owner_initiated"`
	// Payload is handed opaquely to the validator's install capability
	// on completion.
	Payload []byte `json:"payload,omitempty"`
	// Active is the liveness flag; an inactive request is logically absent
	// regardless of its other fields.
	Active bool `json:"active"`
	// SecurityPeriod is the timelock in effect at creation, frozen for the
	// request's entire lifetime. Later global changes never affect it.
	SecurityPeriod time.Duration `json:"security_period"`
}

// Cooldowns are the per-validator anti-spam timestamps. Only the trigger
// timestamps gate anything; completion timestamps are recorded for audit
// and read-out.
type Cooldowns struct {
	OwnerTriggered    time.Time `json:"owner_triggered,omitzero"`
	GuardianTriggered time.Time `json:"guardian_triggered,omitzero"`
	OwnerCompleted    time.Time `json:"owner_completed,omitzero"`
	GuardianCompleted time.Time `json:"guardian_completed,omitzero"`
}

// triggered returns the last trigger timestamp for the given role.
func (c Cooldowns) triggered(r Role) time.Time {
	if r == RoleOwner {
		return c.OwnerTriggered
	}
	return c.GuardianTriggered
}

// CancelApprovals tracks the two-phase cancellation state for a validator.
// Both roles must approve before the request actually clears. Approvals are
// reset whenever a new request is created and after a successful cancel.
type CancelApprovals struct {
	Owner    bool `json:"owner"`
	Guardian bool `json:"guardian"`
}

// Both reports whether both roles have approved.
func (a CancelApprovals) Both() bool { return a.Owner && a.Guardian }

// CancelPolicy selects which of the two cancellation designs a deployment
// runs. They are not equivalent: unilateral lets a single hostile party
// cancel, two-phase requires consensus.
type CancelPolicy string

const (
	// CancelUnilateral clears the request on a single cancel call from
	// either party.
	CancelUnilateral CancelPolicy = "unilateral"
	// CancelTwoPhase clears the request only once both roles have approved.
	CancelTwoPhase CancelPolicy = "two-phase"
)

// Clock provides authority time for the recovery core. All time-based status
// transitions are computed lazily from an injected clock so they are testable
// without wall-clock execution.
type Clock interface {
	Now() time.Time
}

// wallClock is the default clock. Tests inject a controllable one.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
