package auth

import (
	"testing"
	"time"

	"github.com/Mindburn-Labs/aegis/pkg/recovery"
)

func TestTokenRoundTrip(t *testing.T) {
	tm, err := NewTokenManager([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	token, err := tm.Issue(Principal{ID: "alice", Account: "acct-1", Role: recovery.RoleOwner}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	p, err := tm.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "alice" || p.Account != "acct-1" || p.Role != recovery.RoleOwner {
		t.Fatalf("principal mangled: %+v", p)
	}

	party := p.Party()
	if party.ID != "alice" || party.Role != recovery.RoleOwner {
		t.Fatalf("party mangled: %+v", party)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tm1, _ := NewTokenManager([]byte("secret-one"))
	tm2, _ := NewTokenManager([]byte("secret-two"))

	token, err := tm1.Issue(Principal{ID: "alice", Role: recovery.RoleOwner}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm2.Validate(token); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	tm, _ := NewTokenManager([]byte("secret"))
	token, err := tm.Issue(Principal{ID: "alice", Role: recovery.RoleGuardian}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.Validate(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	tm, _ := NewTokenManager([]byte("secret"))
	token, err := tm.Issue(Principal{ID: "eve", Role: recovery.Role("admin")}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.Validate(token); err == nil {
		t.Fatal("unknown role accepted")
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager(nil); err == nil {
		t.Fatal("empty secret accepted")
	}
}
