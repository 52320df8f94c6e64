// Package events is the append-only notification log for the recovery
// kernel. Every externally observable transition (trigger, completion,
// cancellation, override, configuration change) is appended exactly once,
// hash-chained to its predecessor, and never retracted or re-delivered.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Kind categorizes a notification.
type Kind string

const (
	KindEscapeTriggered       Kind = "ESCAPE_TRIGGERED"
	KindEscapeCompleted       Kind = "ESCAPE_COMPLETED"
	KindEscapeCancelled       Kind = "ESCAPE_CANCELLED"
	KindEscapeOverridden      Kind = "ESCAPE_OVERRIDDEN"
	KindSecurityPeriodChanged Kind = "SECURITY_PERIOD_CHANGED"
)

// Event is one immutable notification.
type Event struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	// Validator is the identifier of the validator the event concerns;
	// empty for configuration events.
	Validator string `json:"validator,omitempty"`
	// Initiator and OwnerInitiated are carried on trigger and completion
	// events, mirroring the request they describe.
	Initiator      string `json:"initiator,omitempty"`
	OwnerInitiated bool   `json:"owner_initiated,omitempty"`

	// Data holds kind-specific fields (e.g. the new period).
	Data map[string]any `json:"data,omitempty"`

	// PrevHash links this event to the preceding one; ContentHash is the
	// SHA-256 of the event's RFC 8785 canonical form.
	PrevHash    string `json:"prev_hash"`
	ContentHash string `json:"content_hash"`
}

// Sink receives every appended event synchronously; an error from the sink
// fails the append. Used to mirror the log into durable storage.
type Sink interface {
	Persist(ev Event) error
}

// Log is the in-process append-only event log.
type Log struct {
	mu      sync.RWMutex
	entries []Event
	seq     uint64
	base    string
	head    string
	clock   func() time.Time
	sink    Sink
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{base: "genesis", head: "genesis", clock: time.Now}
}

// Resume continues a previously persisted chain: subsequent appends extend
// from the given sequence and head hash instead of a fresh genesis. A zero
// sequence with an empty head is a no-op. Must be called before the first
// Append; typically wired from the durable store's Last().
func (l *Log) Resume(seq uint64, head string) *Log {
	l.seq = seq
	if head != "" {
		l.base = head
		l.head = head
	}
	return l
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// WithSink attaches a durable sink. Appends fail if the sink fails.
func (l *Log) WithSink(s Sink) *Log {
	l.sink = s
	return l
}

// Append records a new event and returns it.
func (l *Log) Append(kind Kind, validator, initiator string, ownerInitiated bool, data map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{
		ID:             uuid.New().String(),
		Sequence:       l.seq + 1,
		Timestamp:      l.clock().UTC(),
		Kind:           kind,
		Validator:      validator,
		Initiator:      initiator,
		OwnerInitiated: ownerInitiated,
		Data:           data,
		PrevHash:       l.head,
	}

	hash, err := contentHash(ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: hash: %w", err)
	}
	ev.ContentHash = hash

	if l.sink != nil {
		if err := l.sink.Persist(ev); err != nil {
			return Event{}, fmt.Errorf("events: persist: %w", err)
		}
	}

	l.entries = append(l.entries, ev)
	l.seq = ev.Sequence
	l.head = ev.ContentHash
	return ev, nil
}

// List returns up to limit most recent events, newest last. limit <= 0
// returns everything.
func (l *Log) List(limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Length returns the number of events appended so far.
func (l *Log) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the current chain head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Verify walks the chain and recomputes every content hash. It returns false
// with a description at the first broken link or tampered entry.
func (l *Log) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := l.base
	for _, ev := range l.entries {
		if ev.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at sequence %d: expected prev %s, got %s", ev.Sequence, prev, ev.PrevHash)
		}
		computed, err := contentHash(ev)
		if err != nil {
			return false, fmt.Sprintf("hash recompute failed at sequence %d: %v", ev.Sequence, err)
		}
		if computed != ev.ContentHash {
			return false, fmt.Sprintf("content hash mismatch at sequence %d", ev.Sequence)
		}
		prev = ev.ContentHash
	}
	return true, "chain verified"
}

// contentHash computes the SHA-256 of the event's RFC 8785 canonical JSON,
// excluding the ContentHash field itself.
func contentHash(ev Event) (string, error) {
	ev.ContentHash = ""
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
