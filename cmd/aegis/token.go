package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/aegis/pkg/auth"
	"github.com/Mindburn-Labs/aegis/pkg/recovery"
)

// runTokenCmd issues a bearer token for local testing and operations.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		account string
		role    string
		ttl     time.Duration
	)
	cmd.StringVar(&subject, "subject", "", "Principal identifier (REQUIRED)")
	cmd.StringVar(&account, "account", "", "Account the principal belongs to")
	cmd.StringVar(&role, "role", "owner", "Role: owner or guardian")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		cmd.Usage()
		return 2
	}
	r := recovery.Role(role)
	if !r.Valid() {
		fmt.Fprintf(stderr, "Error: unknown role %q (owner|guardian)\n", role)
		return 2
	}

	secret := os.Getenv("AEGIS_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(stderr, "Error: AEGIS_JWT_SECRET is not set")
		return 1
	}
	tm, err := auth.NewTokenManager([]byte(secret))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	token, err := tm.Issue(auth.Principal{ID: subject, Account: account, Role: r}, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error issuing token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
