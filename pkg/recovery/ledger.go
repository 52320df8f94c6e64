package recovery

import (
	"context"
	"errors"
	"time"
)

// errReadOnly guards writes attempted through a View transaction.
var errReadOnly = errors.New("recovery: write inside read-only transaction")

// Tx is a scoped view of the recovery ledger. All reads and staged writes
// inside one Update call are committed together or not at all; returning an
// error from the closure discards every staged write. This is what makes
// completion atomic with the external validator invocation: the request is
// cleared inside the transaction, the capability is invoked, and a capability
// failure rolls the clearing back.
type Tx interface {
	// Escape returns the request for a validator and whether one is stored.
	Escape(validator string) (EscapeRequest, bool, error)
	// PutEscape fully replaces the request for a validator.
	PutEscape(validator string, req EscapeRequest) error
	// ClearEscape removes the request for a validator.
	ClearEscape(validator string) error

	Cooldowns(validator string) (Cooldowns, error)
	PutCooldowns(validator string, cd Cooldowns) error

	Approvals(validator string) (CancelApprovals, error)
	PutApprovals(validator string, ap CancelApprovals) error

	// SecurityPeriod is the current global timelock duration. Requests
	// snapshot it at creation; changing it never affects existing requests.
	SecurityPeriod() (time.Duration, error)
	SetSecurityPeriod(d time.Duration) error
}

// Ledger is the durable per-validator recovery state. Operations on the same
// validator are serialized by the implementation; each Update closure runs as
// one atomic unit.
type Ledger interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn against a writable transaction, committing staged
	// writes only when fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
}
