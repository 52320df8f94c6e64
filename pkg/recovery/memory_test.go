package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLedgerDiscardsOnError(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.Update(ctx, func(tx Tx) error {
		if err := tx.PutEscape("v", EscapeRequest{Active: true, CreatedAt: time.Now(), SecurityPeriod: time.Hour}); err != nil {
			return err
		}
		if err := tx.SetSecurityPeriod(5 * time.Hour); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected closure error, got %v", err)
	}

	err = l.View(ctx, func(tx Tx) error {
		if _, ok, _ := tx.Escape("v"); ok {
			t.Fatal("staged escape leaked past failed update")
		}
		period, _ := tx.SecurityPeriod()
		if period != time.Hour {
			t.Fatalf("staged period leaked: %s", period)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryLedgerCommit(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	created := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	err := l.Update(ctx, func(tx Tx) error {
		if err := tx.PutEscape("v", EscapeRequest{Active: true, CreatedAt: created, SecurityPeriod: time.Hour}); err != nil {
			return err
		}
		if err := tx.PutCooldowns("v", Cooldowns{OwnerTriggered: created}); err != nil {
			return err
		}
		return tx.PutApprovals("v", CancelApprovals{Owner: true})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = l.View(ctx, func(tx Tx) error {
		req, ok, _ := tx.Escape("v")
		if !ok || !req.CreatedAt.Equal(created) {
			t.Fatalf("escape not committed: ok=%v req=%+v", ok, req)
		}
		cd, _ := tx.Cooldowns("v")
		if !cd.OwnerTriggered.Equal(created) {
			t.Fatal("cooldowns not committed")
		}
		ap, _ := tx.Approvals("v")
		if !ap.Owner {
			t.Fatal("approvals not committed")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryLedgerReadsSeeStagedWrites(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	err := l.Update(ctx, func(tx Tx) error {
		if err := tx.PutEscape("v", EscapeRequest{Active: true, CreatedAt: time.Now(), SecurityPeriod: time.Hour}); err != nil {
			return err
		}
		if _, ok, _ := tx.Escape("v"); !ok {
			t.Fatal("staged write invisible inside its own transaction")
		}
		if err := tx.ClearEscape("v"); err != nil {
			return err
		}
		if _, ok, _ := tx.Escape("v"); ok {
			t.Fatal("staged delete invisible inside its own transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryLedgerViewIsReadOnly(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	err := l.View(context.Background(), func(tx Tx) error {
		return tx.PutEscape("v", EscapeRequest{})
	})
	if err == nil {
		t.Fatal("expected write inside View to fail")
	}
}
