package recovery

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests and single-process
// deployments. Writes are staged in an overlay and applied only when the
// Update closure returns nil, mirroring the transactional semantics of the
// SQLite ledger.
type MemoryLedger struct {
	mu        sync.Mutex
	escapes   map[string]EscapeRequest
	cooldowns map[string]Cooldowns
	approvals map[string]CancelApprovals
	period    time.Duration
}

// NewMemoryLedger creates an empty ledger seeded with the given default
// security period.
func NewMemoryLedger(defaultPeriod time.Duration) *MemoryLedger {
	return &MemoryLedger{
		escapes:   make(map[string]EscapeRequest),
		cooldowns: make(map[string]Cooldowns),
		approvals: make(map[string]CancelApprovals),
		period:    defaultPeriod,
	}
}

// memTx stages writes against the parent ledger. Reads consult the overlay
// first, then the committed state.
type memTx struct {
	parent   *MemoryLedger
	writable bool

	escapes   map[string]*EscapeRequest // nil value = staged delete
	cooldowns map[string]Cooldowns
	approvals map[string]CancelApprovals
	period    time.Duration
	periodSet bool
}

func (l *MemoryLedger) newTx(writable bool) *memTx {
	return &memTx{
		parent:    l,
		writable:  writable,
		escapes:   make(map[string]*EscapeRequest),
		cooldowns: make(map[string]Cooldowns),
		approvals: make(map[string]CancelApprovals),
	}
}

// View implements Ledger.
func (l *MemoryLedger) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.newTx(false))
}

// Update implements Ledger. The lock is held for the closure's full duration,
// so operations on the ledger are strictly serialized.
func (l *MemoryLedger) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.newTx(true)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (tx *memTx) commit() {
	for v, req := range tx.escapes {
		if req == nil {
			delete(tx.parent.escapes, v)
		} else {
			tx.parent.escapes[v] = *req
		}
	}
	for v, cd := range tx.cooldowns {
		tx.parent.cooldowns[v] = cd
	}
	for v, ap := range tx.approvals {
		tx.parent.approvals[v] = ap
	}
	if tx.periodSet {
		tx.parent.period = tx.period
	}
}

func (tx *memTx) Escape(validator string) (EscapeRequest, bool, error) {
	if staged, ok := tx.escapes[validator]; ok {
		if staged == nil {
			return EscapeRequest{}, false, nil
		}
		return *staged, true, nil
	}
	req, ok := tx.parent.escapes[validator]
	return req, ok, nil
}

func (tx *memTx) PutEscape(validator string, req EscapeRequest) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.escapes[validator] = &req
	return nil
}

func (tx *memTx) ClearEscape(validator string) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.escapes[validator] = nil
	return nil
}

func (tx *memTx) Cooldowns(validator string) (Cooldowns, error) {
	if cd, ok := tx.cooldowns[validator]; ok {
		return cd, nil
	}
	return tx.parent.cooldowns[validator], nil
}

func (tx *memTx) PutCooldowns(validator string, cd Cooldowns) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.cooldowns[validator] = cd
	return nil
}

func (tx *memTx) Approvals(validator string) (CancelApprovals, error) {
	if ap, ok := tx.approvals[validator]; ok {
		return ap, nil
	}
	return tx.parent.approvals[validator], nil
}

func (tx *memTx) PutApprovals(validator string, ap CancelApprovals) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.approvals[validator] = ap
	return nil
}

func (tx *memTx) SecurityPeriod() (time.Duration, error) {
	if tx.periodSet {
		return tx.period, nil
	}
	return tx.parent.period, nil
}

func (tx *memTx) SetSecurityPeriod(d time.Duration) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.period = d
	tx.periodSet = true
	return nil
}
