package cmdrun

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesCombinedOutput(t *testing.T) {
	r := &Runner{}
	out, err := r.Run(context.Background(), Spec{
		Argv: []string{"sh", "-c", "echo out; echo err 1>&2"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "out") || !strings.Contains(text, "err") {
		t.Fatalf("expected combined output, got %q", text)
	}
}

func TestRunForwardsStdin(t *testing.T) {
	r := &Runner{}
	out, err := r.Run(context.Background(), Spec{
		Argv:  []string{"cat"},
		Stdin: []byte("payload\n"),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if string(out) != "payload\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := &Runner{}
	out, err := r.Run(context.Background(), Spec{
		Argv: []string{"sh", "-c", "echo boom; exit 3"},
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Fatalf("unexpected exit code %d", exitErr.Code)
	}
	if !strings.Contains(string(out), "boom") {
		t.Fatalf("expected output to be captured, got %q", out)
	}
}

func TestRunTimeout(t *testing.T) {
	r := &Runner{}
	start := time.Now()
	_, err := r.Run(context.Background(), Spec{
		Argv:    []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout did not bound execution, took %s", elapsed)
	}
}

func TestSudoArgvWithPassword(t *testing.T) {
	r := &Runner{SudoPassword: "hunter2"}
	argv, stdin := r.sudoArgv([]string{"sudo", "systemctl", "restart", "docker"}, []byte("extra"))

	want := []string{"sudo", "-S", "-p", "", "systemctl", "restart", "docker"}
	if len(argv) != len(want) {
		t.Fatalf("unexpected argv: %v", argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
	if string(stdin) != "hunter2\nextra" {
		t.Fatalf("unexpected stdin %q", stdin)
	}
}

func TestSudoArgvWithoutPassword(t *testing.T) {
	r := &Runner{}
	argv, _ := r.sudoArgv([]string{"systemctl", "status", "docker"}, nil)
	if argv[0] != "sudo" || argv[1] != "-n" {
		t.Fatalf("expected non-interactive sudo, got %v", argv)
	}
}
