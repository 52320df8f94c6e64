package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/aegis/pkg/capability"
	"github.com/Mindburn-Labs/aegis/pkg/events"
)

// Options configure a recovery Service.
type Options struct {
	// MinSecurityPeriod is the floor below which SetSecurityPeriod fails.
	MinSecurityPeriod time.Duration
	// TriggerCooldown is the minimum spacing between successive triggers
	// by the same role for the same validator. Zero disables the check.
	TriggerCooldown time.Duration
	// CancelPolicy selects the cancellation design for this deployment.
	CancelPolicy CancelPolicy
}

// DefaultOptions returns the production defaults: 1h floor, 12h trigger
// cooldown, two-phase cancellation.
func DefaultOptions() Options {
	return Options{
		MinSecurityPeriod: time.Hour,
		TriggerCooldown:   12 * time.Hour,
		CancelPolicy:      CancelTwoPhase,
	}
}

// Service implements the recovery operations against a Ledger. Every
// operation runs inside one ledger transaction: all eligibility checks happen
// before any mutation, and a failure leaves no partial state behind.
type Service struct {
	ledger     Ledger
	clock      Clock
	log        *events.Log
	validators *capability.Registry
	opts       Options
	logger     *slog.Logger
}

// NewService creates a recovery service. If clock is nil a wall clock is
// used; production code should inject an authority clock.
func NewService(ledger Ledger, validators *capability.Registry, log *events.Log, opts Options, clock ...Clock) *Service {
	var c Clock
	if len(clock) > 0 && clock[0] != nil {
		c = clock[0]
	} else {
		c = wallClock{}
	}
	return &Service{
		ledger:     ledger,
		clock:      c,
		log:        log,
		validators: validators,
		opts:       opts,
		logger:     slog.Default().With("component", "recovery"),
	}
}

// SetSecurityPeriod updates the global timelock duration. Existing requests
// keep their snapshots; only requests triggered after this call observe the
// new period.
func (s *Service) SetSecurityPeriod(ctx context.Context, period time.Duration) error {
	if period < s.opts.MinSecurityPeriod {
		return fmt.Errorf("%w: %s below floor %s", ErrInvalidSecurityPeriod, period, s.opts.MinSecurityPeriod)
	}
	if err := s.ledger.Update(ctx, func(tx Tx) error {
		return tx.SetSecurityPeriod(period)
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "security period changed", "period", period)
	_, err := s.log.Append(events.KindSecurityPeriodChanged, "", "", false, map[string]any{
		"period": period.String(),
	})
	return err
}

// SecurityPeriod returns the current global timelock duration.
func (s *Service) SecurityPeriod(ctx context.Context) (time.Duration, error) {
	var period time.Duration
	err := s.ledger.View(ctx, func(tx Tx) error {
		var e error
		period, e = tx.SecurityPeriod()
		return e
	})
	return period, err
}

// TriggerEscape creates a fresh escape request for the validator on behalf of
// the caller, fully replacing any prior request and resetting cancellation
// approvals. The same role may not trigger again inside the cooldown window.
// An owner trigger refuses to clobber a guardian-initiated request that has
// not yet expired; the owner must use OverrideGuardianEscape instead.
// Guardian triggers carry no equivalent guard.
func (s *Service) TriggerEscape(ctx context.Context, caller Party, validator string, payload []byte) error {
	if !caller.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrNotEscapeInitiator, caller.Role)
	}

	var created EscapeRequest
	err := s.ledger.Update(ctx, func(tx Tx) error {
		now := s.clock.Now()

		cd, err := tx.Cooldowns(validator)
		if err != nil {
			return err
		}
		if s.opts.TriggerCooldown > 0 {
			if last := cd.triggered(caller.Role); !last.IsZero() && now.Sub(last) < s.opts.TriggerCooldown {
				return fmt.Errorf("%w: next %s trigger allowed at %s",
					ErrEscapeAttemptTooEarly, caller.Role, last.Add(s.opts.TriggerCooldown).UTC().Format(time.RFC3339))
			}
		}

		if caller.Role == RoleOwner {
			prior, ok, err := tx.Escape(validator)
			if err != nil {
				return err
			}
			if ok && !prior.OwnerInitiated && StatusAt(prior, now) != StatusExpired && StatusAt(prior, now) != StatusNone {
				return ErrGuardianEscapeActive
			}
		}

		period, err := tx.SecurityPeriod()
		if err != nil {
			return err
		}

		created = EscapeRequest{
			CreatedAt:      now,
			Initiator:      caller.ID,
			OwnerInitiated: caller.Role == RoleOwner,
			Payload:        payload,
			Active:         true,
			SecurityPeriod: period,
		}
		if err := tx.PutEscape(validator, created); err != nil {
			return err
		}
		if err := tx.PutApprovals(validator, CancelApprovals{}); err != nil {
			return err
		}

		if caller.Role == RoleOwner {
			cd.OwnerTriggered = now
		} else {
			cd.GuardianTriggered = now
		}
		return tx.PutCooldowns(validator, cd)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "escape triggered",
		"validator", validator, "initiator", caller.ID, "role", caller.Role)
	_, err = s.log.Append(events.KindEscapeTriggered, validator, caller.ID, created.OwnerInitiated, nil)
	return err
}

// CompleteEscape finishes a Ready escape: it clears the request, uninstalls
// the validator's current credential state, and installs the recovery
// payload. The clearing and the capability invocations are one atomic unit:
// if either capability call fails the transaction rolls back and the request
// stays active.
func (s *Service) CompleteEscape(ctx context.Context, caller Party, validator string) error {
	if !caller.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrNotEscapeInitiator, caller.Role)
	}

	var completed EscapeRequest
	err := s.ledger.Update(ctx, func(tx Tx) error {
		now := s.clock.Now()

		req, ok, err := tx.Escape(validator)
		if err != nil {
			return err
		}
		if !ok || !req.Active {
			return ErrNoActiveEscape
		}
		if req.OwnerInitiated != (caller.Role == RoleOwner) || req.Initiator != caller.ID {
			return ErrNotEscapeInitiator
		}
		switch StatusAt(req, now) {
		case StatusNotReady:
			return ErrSecurityPeriodNotElapsed
		case StatusExpired:
			return ErrEscapeExpired
		case StatusNone:
			return ErrNoActiveEscape
		}

		if err := tx.ClearEscape(validator); err != nil {
			return err
		}
		if err := tx.PutApprovals(validator, CancelApprovals{}); err != nil {
			return err
		}

		cd, err := tx.Cooldowns(validator)
		if err != nil {
			return err
		}
		if caller.Role == RoleOwner {
			cd.OwnerCompleted = now
		} else {
			cd.GuardianCompleted = now
		}
		if err := tx.PutCooldowns(validator, cd); err != nil {
			return err
		}

		// External capability calls happen inside the transaction so a
		// failing uninstall or install rolls back the clearing above.
		v, err := s.validators.Lookup(validator)
		if err != nil {
			return err
		}
		if err := v.Uninstall(ctx, nil); err != nil {
			return fmt.Errorf("validator %s: uninstall: %w", validator, err)
		}
		if err := v.Install(ctx, req.Payload); err != nil {
			return fmt.Errorf("validator %s: install: %w", validator, err)
		}

		completed = req
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "escape completed",
		"validator", validator, "initiator", completed.Initiator, "role", caller.Role)
	_, err = s.log.Append(events.KindEscapeCompleted, validator, completed.Initiator, completed.OwnerInitiated, nil)
	return err
}

// CancelEscape clears an active request. Under the unilateral policy either
// party cancels on its own; under the two-phase policy this records the
// caller role's approval and clears only once both roles have approved.
// A successful cancellation also resets the validator's cooldown timestamps.
func (s *Service) CancelEscape(ctx context.Context, caller Party, validator string) error {
	if !caller.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrNotEscapeInitiator, caller.Role)
	}
	if s.opts.CancelPolicy == CancelTwoPhase {
		return s.approveCancel(ctx, caller, validator)
	}
	return s.cancelUnilateral(ctx, caller, validator)
}

// ApproveCancelEscape records the caller role's cancellation approval and
// clears the request once both roles have approved. Unlike CancelEscape it is
// always two-phase, regardless of the configured policy.
func (s *Service) ApproveCancelEscape(ctx context.Context, caller Party, validator string) error {
	if !caller.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrNotEscapeInitiator, caller.Role)
	}
	return s.approveCancel(ctx, caller, validator)
}

func (s *Service) cancelUnilateral(ctx context.Context, caller Party, validator string) error {
	err := s.ledger.Update(ctx, func(tx Tx) error {
		req, ok, err := tx.Escape(validator)
		if err != nil {
			return err
		}
		if !ok || !req.Active {
			return ErrNoActiveEscape
		}
		if StatusAt(req, s.clock.Now()) == StatusNone {
			return ErrInvalidEscapeType
		}
		return s.clearCancelled(tx, validator)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "escape cancelled", "validator", validator, "by", caller.ID)
	_, err = s.log.Append(events.KindEscapeCancelled, validator, "", false, nil)
	return err
}

func (s *Service) approveCancel(ctx context.Context, caller Party, validator string) error {
	var cleared bool
	err := s.ledger.Update(ctx, func(tx Tx) error {
		req, ok, err := tx.Escape(validator)
		if err != nil {
			return err
		}
		if !ok || !req.Active {
			return ErrNoActiveEscape
		}

		ap, err := tx.Approvals(validator)
		if err != nil {
			return err
		}
		if caller.Role == RoleOwner {
			ap.Owner = true
		} else {
			ap.Guardian = true
		}
		if !ap.Both() {
			return tx.PutApprovals(validator, ap)
		}

		cleared = true
		return s.clearCancelled(tx, validator)
	})
	if err != nil {
		return err
	}

	if !cleared {
		s.logger.InfoContext(ctx, "cancel approval recorded",
			"validator", validator, "role", caller.Role)
		return nil
	}
	s.logger.InfoContext(ctx, "escape cancelled", "validator", validator, "by", caller.ID)
	_, err = s.log.Append(events.KindEscapeCancelled, validator, "", false, nil)
	return err
}

// clearCancelled removes the request, resets cooldowns and approvals.
func (s *Service) clearCancelled(tx Tx, validator string) error {
	if err := tx.ClearEscape(validator); err != nil {
		return err
	}
	if err := tx.PutCooldowns(validator, Cooldowns{}); err != nil {
		return err
	}
	return tx.PutApprovals(validator, CancelApprovals{})
}

// OverrideGuardianEscape lets the owner unconditionally clear a
// guardian-initiated request regardless of its status. Owner-initiated
// requests are never overridable; the caller's owner role is established by
// the surrounding environment (the API layer restricts this operation to
// owner principals). Cooldown timestamps are untouched.
func (s *Service) OverrideGuardianEscape(ctx context.Context, caller Party, validator string) error {
	err := s.ledger.Update(ctx, func(tx Tx) error {
		req, ok, err := tx.Escape(validator)
		if err != nil {
			return err
		}
		if !ok || !req.Active {
			return ErrNoActiveEscape
		}
		if req.OwnerInitiated {
			return ErrCannotOverrideOwnerEscape
		}
		if err := tx.ClearEscape(validator); err != nil {
			return err
		}
		return tx.PutApprovals(validator, CancelApprovals{})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "guardian escape overridden", "validator", validator, "by", caller.ID)
	_, err = s.log.Append(events.KindEscapeOverridden, validator, "", false, nil)
	return err
}

// EscapeState is the read model for one validator's recovery state.
type EscapeState struct {
	Request   EscapeRequest   `json:"request"`
	Status    Status          `json:"status"`
	Cooldowns Cooldowns       `json:"cooldowns"`
	Approvals CancelApprovals `json:"approvals"`
}

// Escape returns the full recovery state for a validator with the status
// derived at the current time. A validator with no active request reports
// StatusNone and a zero request.
func (s *Service) Escape(ctx context.Context, validator string) (EscapeState, error) {
	var state EscapeState
	err := s.ledger.View(ctx, func(tx Tx) error {
		req, ok, err := tx.Escape(validator)
		if err != nil {
			return err
		}
		if ok {
			state.Request = req
		}
		state.Status = StatusAt(state.Request, s.clock.Now())

		if state.Cooldowns, err = tx.Cooldowns(validator); err != nil {
			return err
		}
		state.Approvals, err = tx.Approvals(validator)
		return err
	})
	return state, err
}
