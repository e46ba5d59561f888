package term

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// State is a session lifecycle phase.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateClosing    State = "closing"
	StateTerminated State = "terminated"
)

// Factory builds the underlying process for one session kind from the
// caller-supplied parameters. Modules expose factories for their own kinds
// via the capability interface.
type Factory func(params map[string]string) (Process, error)

// Viewer is one connected client receiving the session's output stream.
// Send must not block indefinitely; delivery is best-effort.
type Viewer interface {
	Send(data []byte) error
}

var (
	restartedMarker = []byte("\r\n\x1b[2J\x1b[H\x1b[32m--- Session Restarted ---\x1b[0m\r\n")
)

func restartFailedMarker(err error) []byte {
	return []byte(fmt.Sprintf("\r\n\x1b[31mFailed to restart session: %v\x1b[0m\r\n", err))
}

func readErrorMarker(err error) []byte {
	return []byte(fmt.Sprintf("\r\n\x1b[31mError reading from terminal: %v\x1b[0m\r\n", err))
}

// Session owns one interactive process, a bounded history of its output and
// the set of attached viewers. A single pump goroutine reads process output
// and fans it out; all shared state is guarded by the session's lock.
type Session struct {
	key     string
	factory Factory
	params  map[string]string

	keepRunning atomic.Bool

	mu         sync.Mutex
	proc       Process
	state      State
	restarting bool
	history    *History
	viewers    map[Viewer]struct{}
	pumpDone   chan struct{}

	// onExit is invoked exactly once per terminated pump when the session is
	// not restarting; the manager uses it to drop its table entry.
	onExit func(*Session)
}

// NewSession constructs a session for key by spawning its process through
// factory. The session is in the created state; call Start to begin pumping.
func NewSession(key string, factory Factory, params map[string]string) (*Session, error) {
	proc, err := factory(params)
	if err != nil {
		return nil, err
	}

	return &Session{
		key:     key,
		factory: factory,
		params:  params,
		proc:    proc,
		state:   StateCreated,
		history: NewHistory(DefaultHistoryCapacity),
		viewers: make(map[Viewer]struct{}),
	}, nil
}

// Key returns the session's stable identity.
func (s *Session) Key() string {
	return s.key
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the session can still serve viewers.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateTerminated
}

// Start launches the I/O pump and returns immediately.
func (s *Session) Start() {
	s.mu.Lock()
	proc := s.proc
	s.state = StateRunning
	s.pumpDone = make(chan struct{})
	done := s.pumpDone
	s.mu.Unlock()

	s.keepRunning.Store(true)
	go s.pump(proc, done)
}

// SendInput forwards raw input to the process. Best-effort: input to a dead
// process is dropped.
func (s *Session) SendInput(data []byte) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return
	}
	if _, err := proc.Write(data); err != nil {
		log.Printf("[Term] Session %s dropped input: %v", s.key, err)
	}
}

// Resize propagates a terminal geometry change. Best-effort.
func (s *Session) Resize(rows, cols int) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Resize(rows, cols); err != nil {
		log.Printf("[Term] Session %s resize failed: %v", s.key, err)
	}
}

// RegisterViewer attaches a viewer. A viewer joining an otherwise empty
// session receives the full buffered history first; a viewer joining an
// already-watched session only sees output produced from now on.
func (s *Session) RegisterViewer(v Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.viewers[v]; exists {
		return
	}

	replay := len(s.viewers) == 0
	s.viewers[v] = struct{}{}

	if replay {
		for _, chunk := range s.history.Snapshot() {
			if err := v.Send(chunk); err != nil {
				break
			}
		}
	}
}

// UnregisterViewer detaches a viewer. The session keeps running with zero
// viewers; only process death or an explicit close ends it.
func (s *Session) UnregisterViewer(v Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, v)
}

// ViewerCount returns the number of attached viewers.
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// HistoryLen returns the number of buffered output chunks.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// appendOutput records chunk in history and fans it out to every viewer. A
// failing viewer never blocks delivery to the others.
func (s *Session) appendOutput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Append(chunk)
	for v := range s.viewers {
		if err := v.Send(chunk); err != nil {
			// Dead transport; the viewer unregisters itself on disconnect.
			continue
		}
	}
}

// Close requests termination. The pump observes the flag within one poll
// interval; closing the process unblocks an in-flight read immediately.
func (s *Session) Close() {
	s.keepRunning.Store(false)

	s.mu.Lock()
	if s.state == StateRunning || s.state == StateCreated {
		s.state = StateClosing
	}
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		proc.Close()
	}
}

// Restart tears the process down and spawns a fresh one under the same key,
// keeping registered viewers attached. History is cleared except for a
// visible restart marker. The work runs in the background; the caller never
// waits for teardown.
func (s *Session) Restart() {
	go s.restart()
}

func (s *Session) restart() {
	s.mu.Lock()
	if s.state == StateTerminated || s.restarting {
		s.mu.Unlock()
		return
	}
	s.restarting = true
	s.state = StateClosing
	proc := s.proc
	done := s.pumpDone
	s.mu.Unlock()

	log.Printf("[Term] Restarting session %s", s.key)

	s.keepRunning.Store(false)
	if proc != nil {
		proc.Close()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.history.Clear()

	newProc, err := s.factory(s.params)
	if err != nil {
		s.restarting = false
		s.state = StateTerminated
		s.mu.Unlock()

		log.Printf("[Term] Restart of session %s failed: %v", s.key, err)
		s.appendOutput(restartFailedMarker(err))
		if s.onExit != nil {
			s.onExit(s)
		}
		return
	}

	s.proc = newProc
	s.restarting = false
	s.state = StateRunning
	s.pumpDone = make(chan struct{})
	newDone := s.pumpDone
	s.mu.Unlock()

	s.keepRunning.Store(true)
	go s.pump(newProc, newDone)

	s.appendOutput(restartedMarker)
	log.Printf("[Term] Session %s restarted", s.key)
}

// pump reads process output until the process ends or a stop is requested,
// then releases the process and, unless a restart is in flight, marks the
// session terminated and notifies the manager.
func (s *Session) pump(proc Process, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for s.keepRunning.Load() {
		n, err := proc.Read(buf)
		if n > 0 {
			s.appendOutput(buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if !expectedReadEnd(err) && s.keepRunning.Load() {
			log.Printf("[Term] Session %s read error: %v", s.key, err)
			s.appendOutput(readErrorMarker(err))
		}
		break
	}

	proc.Close()

	s.mu.Lock()
	restarting := s.restarting
	if !restarting {
		s.state = StateTerminated
	}
	s.mu.Unlock()

	if restarting {
		return
	}

	log.Printf("[Term] Session %s terminated", s.key)
	if s.onExit != nil {
		s.onExit(s)
	}
}

// expectedReadEnd reports whether err is a normal end-of-stream for a pty or
// pipe whose process went away.
func expectedReadEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EIO)
}
