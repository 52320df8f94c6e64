// Package store provides the durable SQLite-backed recovery ledger. Each
// Update runs inside one database transaction, which is what gives every
// recovery operation its all-or-nothing semantics.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aegis/pkg/recovery"

	_ "modernc.org/sqlite"
)

const securityPeriodKey = "security_period_ns"

// SQLiteLedger implements recovery.Ledger on SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates the ledger, runs migrations, and seeds the global
// security period with defaultPeriod if no value is stored yet.
func NewSQLiteLedger(db *sql.DB, defaultPeriod time.Duration) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	if err := l.seedPeriod(defaultPeriod); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS escape_requests (
		validator TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		initiator TEXT NOT NULL,
		owner_initiated INTEGER NOT NULL,
		payload BLOB,
		active INTEGER NOT NULL,
		security_period_ns INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cooldowns (
		validator TEXT PRIMARY KEY,
		owner_triggered TEXT NOT NULL DEFAULT '',
		guardian_triggered TEXT NOT NULL DEFAULT '',
		owner_completed TEXT NOT NULL DEFAULT '',
		guardian_completed TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS cancel_approvals (
		validator TEXT PRIMARY KEY,
		owner_approved INTEGER NOT NULL DEFAULT 0,
		guardian_approved INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLedger) seedPeriod(d time.Duration) error {
	_, err := l.db.ExecContext(context.Background(),
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		securityPeriodKey, fmt.Sprintf("%d", d.Nanoseconds()))
	return err
}

// View implements recovery.Ledger.
func (l *SQLiteLedger) View(ctx context.Context, fn func(recovery.Tx) error) error {
	// Reads run inside a transaction that is always rolled back, so staged
	// writes from a misbehaving closure can never leak.
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqliteTx{ctx: ctx, tx: tx, readOnly: true})
}

// Update implements recovery.Ledger. The closure's error aborts the
// transaction; nothing staged becomes visible.
func (l *SQLiteLedger) Update(ctx context.Context, fn func(recovery.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

var errReadOnlyTx = errors.New("store: write inside read-only transaction")

func (t *sqliteTx) writable() error {
	if t.readOnly {
		return errReadOnlyTx
	}
	return nil
}

func (t *sqliteTx) Escape(validator string) (recovery.EscapeRequest, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT created_at, initiator, owner_initiated, payload, active, security_period_ns
		FROM escape_requests WHERE validator = ?`, validator)

	var (
		createdAt      string
		req            recovery.EscapeRequest
		ownerInitiated int
		active         int
		periodNs       int64
	)
	err := row.Scan(&createdAt, &req.Initiator, &ownerInitiated, &req.Payload, &active, &periodNs)
	if err == sql.ErrNoRows {
		return recovery.EscapeRequest{}, false, nil
	}
	if err != nil {
		return recovery.EscapeRequest{}, false, err
	}

	req.CreatedAt = parseTime(createdAt)
	req.OwnerInitiated = ownerInitiated != 0
	req.Active = active != 0
	req.SecurityPeriod = time.Duration(periodNs)
	return req, true, nil
}

func (t *sqliteTx) PutEscape(validator string, req recovery.EscapeRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO escape_requests (validator, created_at, initiator, owner_initiated, payload, active, security_period_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(validator) DO UPDATE SET
			created_at = excluded.created_at,
			initiator = excluded.initiator,
			owner_initiated = excluded.owner_initiated,
			payload = excluded.payload,
			active = excluded.active,
			security_period_ns = excluded.security_period_ns`,
		validator, formatTime(req.CreatedAt), req.Initiator, boolInt(req.OwnerInitiated),
		req.Payload, boolInt(req.Active), req.SecurityPeriod.Nanoseconds())
	return err
}

func (t *sqliteTx) ClearEscape(validator string) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM escape_requests WHERE validator = ?`, validator)
	return err
}

func (t *sqliteTx) Cooldowns(validator string) (recovery.Cooldowns, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT owner_triggered, guardian_triggered, owner_completed, guardian_completed
		FROM cooldowns WHERE validator = ?`, validator)

	var ot, gt, oc, gc string
	err := row.Scan(&ot, &gt, &oc, &gc)
	if err == sql.ErrNoRows {
		return recovery.Cooldowns{}, nil
	}
	if err != nil {
		return recovery.Cooldowns{}, err
	}
	return recovery.Cooldowns{
		OwnerTriggered:    parseTime(ot),
		GuardianTriggered: parseTime(gt),
		OwnerCompleted:    parseTime(oc),
		GuardianCompleted: parseTime(gc),
	}, nil
}

func (t *sqliteTx) PutCooldowns(validator string, cd recovery.Cooldowns) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO cooldowns (validator, owner_triggered, guardian_triggered, owner_completed, guardian_completed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(validator) DO UPDATE SET
			owner_triggered = excluded.owner_triggered,
			guardian_triggered = excluded.guardian_triggered,
			owner_completed = excluded.owner_completed,
			guardian_completed = excluded.guardian_completed`,
		validator, formatTime(cd.OwnerTriggered), formatTime(cd.GuardianTriggered),
		formatTime(cd.OwnerCompleted), formatTime(cd.GuardianCompleted))
	return err
}

func (t *sqliteTx) Approvals(validator string) (recovery.CancelApprovals, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT owner_approved, guardian_approved FROM cancel_approvals WHERE validator = ?`, validator)

	var owner, guardian int
	err := row.Scan(&owner, &guardian)
	if err == sql.ErrNoRows {
		return recovery.CancelApprovals{}, nil
	}
	if err != nil {
		return recovery.CancelApprovals{}, err
	}
	return recovery.CancelApprovals{Owner: owner != 0, Guardian: guardian != 0}, nil
}

func (t *sqliteTx) PutApprovals(validator string, ap recovery.CancelApprovals) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO cancel_approvals (validator, owner_approved, guardian_approved)
		VALUES (?, ?, ?)
		ON CONFLICT(validator) DO UPDATE SET
			owner_approved = excluded.owner_approved,
			guardian_approved = excluded.guardian_approved`,
		validator, boolInt(ap.Owner), boolInt(ap.Guardian))
	return err
}

func (t *sqliteTx) SecurityPeriod() (time.Duration, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT value FROM config WHERE key = ?`, securityPeriodKey)
	var value string
	if err := row.Scan(&value); err != nil {
		return 0, fmt.Errorf("security period not seeded: %w", err)
	}
	var ns int64
	if _, err := fmt.Sscanf(value, "%d", &ns); err != nil {
		return 0, fmt.Errorf("corrupt security period %q: %w", value, err)
	}
	return time.Duration(ns), nil
}

func (t *sqliteTx) SetSecurityPeriod(d time.Duration) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		securityPeriodKey, fmt.Sprintf("%d", d.Nanoseconds()))
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
