package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	ptyDevice "github.com/creack/pty"
)

// readPollInterval bounds each blocking read so the pump can observe a stop
// request promptly.
const readPollInterval = 500 * time.Millisecond

// terminateGrace is how long Close waits for a terminated process to exit
// before killing it outright.
const terminateGrace = time.Second

// Process is one interactive OS process (or remote equivalent) owned by a
// session. Read should return os.ErrDeadlineExceeded periodically while idle
// so the pump loop can re-check its running flag.
type Process interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(rows, cols int) error
	Close() error
	Alive() bool
}

// ptyProcess runs a command attached to a freshly allocated pty pair.
type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
	exited    chan struct{}
}

// NewSystemProcess spawns an interactive login shell on a pty with a
// terminal-capable environment. This is the built-in "system" session kind.
func NewSystemProcess() (Process, error) {
	return NewCommandProcess([]string{"/bin/bash", "--login"}, nil)
}

// NewCommandProcess spawns argv attached to a pty. extraEnv entries are
// appended to the inherited environment. Modules use this to build their own
// session kinds (container exec, pod exec).
func NewCommandProcess(argv []string, extraEnv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("term: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	ptmx, err := ptyDevice.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("term: start %s: %w", argv[0], err)
	}

	p := &ptyProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		exited: make(chan struct{}),
	}
	go func() {
		p.reap()
		close(p.exited)
	}()

	return p, nil
}

// Read reads pending output from the pty master. Each call is bounded by
// readPollInterval; an idle pty yields os.ErrDeadlineExceeded.
func (p *ptyProcess) Read(buf []byte) (int, error) {
	if err := p.ptmx.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
		// Fall through to a blocking read; Close still unblocks it.
		_ = err
	}
	return p.ptmx.Read(buf)
}

func (p *ptyProcess) Write(data []byte) (int, error) {
	return p.ptmx.Write(data)
}

func (p *ptyProcess) Resize(rows, cols int) error {
	return ptyDevice.Setsize(p.ptmx, &ptyDevice.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Close releases the pty, terminates the process with a short grace period
// and reaps it. Safe to call multiple times and from any goroutine.
func (p *ptyProcess) Close() error {
	p.closeOnce.Do(func() {
		p.ptmx.Close()

		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)

			select {
			case <-p.exited:
			case <-time.After(terminateGrace):
				_ = p.cmd.Process.Kill()
				<-p.exited
			}
		}
	})
	return nil
}

// Alive reports whether the underlying process has not yet been reaped.
func (p *ptyProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *ptyProcess) reap() {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
}
