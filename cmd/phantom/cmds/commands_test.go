package cmds

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Phantom Debugger\nVersion: ") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestAttachRequiresTarget(t *testing.T) {
	_, err := run(t, "attach")
	if err == nil || !strings.Contains(err.Error(), "pid or a process name") {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestRootRejectsArgs(t *testing.T) {
	if _, err := run(t, "1234"); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestLogSetupErrors(t *testing.T) {
	cmd := New()
	log, logOutput = false, "memory"
	defer func() { log, logOutput = false, "" }()
	if status := execute(cmd, ""); status != 1 {
		t.Fatalf("expected status 1, got %d", status)
	}
}
