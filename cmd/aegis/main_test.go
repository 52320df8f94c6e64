package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunDispatch(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()

	serverStarted := false
	startServer = func() int {
		serverStarted = true
		return 0
	}

	var out, errOut bytes.Buffer

	if code := Run([]string{"aegis"}, &out, &errOut); code != 0 || !serverStarted {
		t.Fatalf("bare invocation should start the server (code=%d started=%v)", code, serverStarted)
	}

	serverStarted = false
	if code := Run([]string{"aegis", "serve"}, &out, &errOut); code != 0 || !serverStarted {
		t.Fatal("serve should start the server")
	}

	out.Reset()
	if code := Run([]string{"aegis", "version"}, &out, &errOut); code != 0 {
		t.Fatalf("version exited %d", code)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("version output: %q", out.String())
	}

	out.Reset()
	if code := Run([]string{"aegis", "help"}, &out, &errOut); code != 0 {
		t.Fatal("help failed")
	}
	if !strings.Contains(out.String(), "USAGE") {
		t.Fatalf("help output: %q", out.String())
	}

	errOut.Reset()
	if code := Run([]string{"aegis", "bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command exited %d", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Fatalf("stderr: %q", errOut.String())
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("AEGIS_JWT_SECRET", "test-secret")

	var out, errOut bytes.Buffer
	code := runTokenCmd([]string{"--subject", "alice", "--role", "owner"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("token cmd exited %d: %s", code, errOut.String())
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Fatalf("output does not look like a JWT: %q", out.String())
	}

	errOut.Reset()
	if code := runTokenCmd([]string{"--role", "owner"}, &out, &errOut); code != 2 {
		t.Fatalf("missing subject exited %d", code)
	}

	errOut.Reset()
	if code := runTokenCmd([]string{"--subject", "x", "--role", "superuser"}, &out, &errOut); code != 2 {
		t.Fatalf("bad role exited %d", code)
	}
}
