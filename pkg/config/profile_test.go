package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validProfile = `
name: Test Profile
code: test
security_period:
  default: 168h
  floor: 2h
trigger_cooldown: 6h
cancel_policy: unilateral
validators:
  - id: passkey-module
    endpoint: http://localhost:9090/capabilities/passkey
`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(validProfile), "test")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Test Profile" || p.Code != "test" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	period, err := p.DefaultPeriod()
	if err != nil || period != 168*time.Hour {
		t.Fatalf("DefaultPeriod = %s, %v", period, err)
	}
	floor, err := p.FloorPeriod()
	if err != nil || floor != 2*time.Hour {
		t.Fatalf("FloorPeriod = %s, %v", floor, err)
	}
	cd, err := p.Cooldown()
	if err != nil || cd != 6*time.Hour {
		t.Fatalf("Cooldown = %s, %v", cd, err)
	}
	if len(p.Validators) != 1 || p.Validators[0].ID != "passkey-module" {
		t.Fatalf("validators: %+v", p.Validators)
	}
}

func TestParseProfileDefaults(t *testing.T) {
	minimal := "name: Minimal\nsecurity_period:\n  default: 24h\n"
	p, err := ParseProfile([]byte(minimal), "minimal")
	if err != nil {
		t.Fatal(err)
	}
	if p.Code != "minimal" {
		t.Fatalf("code not backfilled: %q", p.Code)
	}
	if floor, _ := p.FloorPeriod(); floor != time.Hour {
		t.Fatalf("default floor = %s", floor)
	}
	if cd, _ := p.Cooldown(); cd != 12*time.Hour {
		t.Fatalf("default cooldown = %s", cd)
	}
}

func TestParseProfileSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing name", "security_period:\n  default: 24h\n"},
		{"missing period", "name: X\n"},
		{"bad cancel policy", "name: X\nsecurity_period:\n  default: 24h\ncancel_policy: whatever\n"},
		{"validator without endpoint", "name: X\nsecurity_period:\n  default: 24h\nvalidators:\n  - id: a\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseProfile([]byte(tc.doc), "bad"); err == nil {
				t.Fatal("expected schema validation failure")
			}
		})
	}
}

func TestParseProfileBadYAML(t *testing.T) {
	if _, err := ParseProfile([]byte("{unbalanced"), "bad"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile_test.yaml")
	if err := os.WriteFile(path, []byte(validProfile), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(dir, "TEST") // case-insensitive
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Test Profile" {
		t.Fatalf("wrong profile loaded: %+v", p)
	}

	_, err = LoadProfile(dir, "missing")
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected load error naming the code, got %v", err)
	}
}
