// Package cmdrun executes external CLI commands with hard timeouts and
// combined output capture. Non-zero exits and timeouts surface as typed
// errors so callers can map them to "status unknown" instead of failing.
package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds read-only probe commands.
const DefaultTimeout = 5 * time.Second

// ErrTimeout indicates the command exceeded its deadline and was killed.
var ErrTimeout = errors.New("cmdrun: command timed out")

// ExitError reports a non-zero exit from an external command.
type ExitError struct {
	Argv   []string
	Code   int
	Output []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("cmdrun: %s exited with code %d", strings.Join(e.Argv, " "), e.Code)
}

// Spec describes one command invocation.
type Spec struct {
	Argv    []string      // Command and arguments; must be non-empty
	Stdin   []byte        // Optional payload written to the process stdin
	Timeout time.Duration // Zero means DefaultTimeout
	Env     []string      // Extra environment entries appended to os.Environ()
	Dir     string        // Working directory
	Sudo    bool          // Wrap the command with sudo
}

// Status strings that commonly come back from probes against stopped or
// missing services. They are expected, so failures carrying them are not
// worth an error log.
var benignOutputs = map[string]struct{}{
	"inactive":     {},
	"failed":       {},
	"deactivating": {},
	"not-found":    {},
}

// Runner executes external commands. The zero value is usable; SudoPassword
// enables password-fed sudo (`sudo -S`), otherwise sudo runs non-interactive
// (`sudo -n`).
type Runner struct {
	SudoPassword string
}

// Run executes the spec and returns combined stdout+stderr. A non-zero exit
// yields *ExitError (with the captured output attached); exceeding the
// timeout yields an error wrapping ErrTimeout.
func (r *Runner) Run(ctx context.Context, spec Spec) ([]byte, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("cmdrun: empty argv")
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := spec.Argv
	stdin := spec.Stdin
	if spec.Sudo {
		argv, stdin = r.sudoArgv(argv, stdin)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Env, spec.Env...)
	}
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := combined.Bytes()

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("cmdrun: %s after %s: %w", spec.Argv[0], timeout, ErrTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			trimmed := strings.TrimSpace(string(output))
			if _, benign := benignOutputs[trimmed]; !benign {
				log.Printf("[CmdRun] %s failed: %s", spec.Argv[0], firstLine(trimmed))
			}
			return output, &ExitError{
				Argv:   spec.Argv,
				Code:   exitErr.ExitCode(),
				Output: output,
			}
		}
		return output, fmt.Errorf("cmdrun: run %s: %w", spec.Argv[0], err)
	}

	return output, nil
}

// sudoArgv wraps argv with sudo. With a configured password the command reads
// it from stdin (-S); the password line is prepended to any caller payload.
func (r *Runner) sudoArgv(argv []string, stdin []byte) ([]string, []byte) {
	// Drop a leading sudo supplied by the caller so it is not doubled.
	if argv[0] == "sudo" {
		argv = argv[1:]
	}

	if r.SudoPassword == "" {
		return append([]string{"sudo", "-n"}, argv...), stdin
	}

	payload := append([]byte(r.SudoPassword+"\n"), stdin...)
	return append([]string{"sudo", "-S", "-p", ""}, argv...), payload
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
