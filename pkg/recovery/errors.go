package recovery

import "errors"

// Each failure condition is a distinct sentinel; there is no generic
// catch-all. Every check happens before any mutation is committed, so a
// returned error means no state change is observable.
var (
	// ErrNoActiveEscape: the target validator has no active request.
	ErrNoActiveEscape = errors.New("no active escape")
	// ErrSecurityPeriodNotElapsed: completion attempted before the
	// request's snapshotted security period elapsed.
	ErrSecurityPeriodNotElapsed = errors.New("security period not elapsed")
	// ErrEscapeExpired: completion attempted after the expiration window.
	ErrEscapeExpired = errors.New("escape expired")
	// ErrNotEscapeInitiator: the caller is not the stored initiator, or is
	// calling through the wrong role path.
	ErrNotEscapeInitiator = errors.New("caller is not the escape initiator")
	// ErrCannotOverrideOwnerEscape: override applies only to
	// guardian-initiated requests.
	ErrCannotOverrideOwnerEscape = errors.New("cannot override an owner-initiated escape")
	// ErrInvalidSecurityPeriod: the proposed period is below the floor.
	ErrInvalidSecurityPeriod = errors.New("invalid security period")
	// ErrInvalidEscapeType: the request's derived status is None, so there
	// is nothing to cancel.
	ErrInvalidEscapeType = errors.New("invalid escape type")
	// ErrEscapeAttemptTooEarly: a trigger by the same role is still inside
	// the cooldown window.
	ErrEscapeAttemptTooEarly = errors.New("escape attempt too early")
	// ErrGuardianEscapeActive: an owner trigger would silently clobber a
	// guardian-initiated request that has not yet expired. The owner must
	// use the explicit override operation instead.
	ErrGuardianEscapeActive = errors.New("guardian escape still active")
)
