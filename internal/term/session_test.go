package term

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

// fakeProcess is an in-memory Process. Output is injected through emit;
// Read blocks briefly and reports os.ErrDeadlineExceeded while idle, the
// same contract the pty implementation follows.
type fakeProcess struct {
	mu      sync.Mutex
	written bytes.Buffer
	rows    int
	cols    int

	output chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		output: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeProcess) emit(data []byte) {
	f.output <- data
}

func (f *fakeProcess) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, os.ErrClosed
	case chunk := <-f.output:
		return copy(p, chunk), nil
	case <-time.After(5 * time.Millisecond):
		return 0, os.ErrDeadlineExceeded
	}
}

func (f *fakeProcess) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeProcess) Resize(rows, cols int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.cols = rows, cols
	return nil
}

func (f *fakeProcess) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeProcess) Alive() bool {
	select {
	case <-f.closed:
		return false
	default:
		return true
	}
}

func (f *fakeProcess) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// recordingViewer captures everything sent to it.
type recordingViewer struct {
	mu     sync.Mutex
	chunks [][]byte
	fail   bool
}

func (v *recordingViewer) Send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail {
		return errors.New("viewer gone")
	}
	v.chunks = append(v.chunks, append([]byte(nil), data...))
	return nil
}

func (v *recordingViewer) received() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.chunks))
	for i, c := range v.chunks {
		out[i] = string(c)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startTestSession(t *testing.T) (*Session, *fakeProcess) {
	t.Helper()
	proc := newFakeProcess()
	sess, err := NewSession("test_session", func(map[string]string) (Process, error) {
		return proc, nil
	}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Start()
	t.Cleanup(sess.Close)
	return sess, proc
}

func TestSessionFirstViewerReceivesHistory(t *testing.T) {
	sess, proc := startTestSession(t)

	proc.emit([]byte("c1"))
	proc.emit([]byte("c2"))
	proc.emit([]byte("c3"))
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.history.Len() == 3
	}, "output never reached history")

	first := &recordingViewer{}
	sess.RegisterViewer(first)

	got := first.received()
	if len(got) != 3 || got[0] != "c1" || got[1] != "c2" || got[2] != "c3" {
		t.Fatalf("first viewer replay = %v, want [c1 c2 c3]", got)
	}

	// A second viewer joins while the first is attached and must not see
	// any past output.
	second := &recordingViewer{}
	sess.RegisterViewer(second)
	if len(second.received()) != 0 {
		t.Fatalf("second viewer got retroactive output: %v", second.received())
	}

	proc.emit([]byte("c4"))
	waitFor(t, func() bool { return len(second.received()) == 1 }, "live output not fanned out")
	if got := second.received(); got[0] != "c4" {
		t.Fatalf("second viewer live chunk = %q, want c4", got[0])
	}
	waitFor(t, func() bool { return len(first.received()) == 4 }, "first viewer missed live output")
}

func TestSessionReplayAfterAllViewersLeft(t *testing.T) {
	sess, proc := startTestSession(t)

	proc.emit([]byte("hello"))
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.history.Len() == 1
	}, "output never reached history")

	v1 := &recordingViewer{}
	sess.RegisterViewer(v1)
	sess.UnregisterViewer(v1)

	// With zero viewers attached the next one counts as first again.
	v2 := &recordingViewer{}
	sess.RegisterViewer(v2)
	if got := v2.received(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("replay after all viewers left = %v, want [hello]", got)
	}
}

func TestSessionInputAndResizeReachProcess(t *testing.T) {
	sess, proc := startTestSession(t)

	sess.SendInput([]byte("ls -la\n"))
	sess.Resize(40, 120)

	if got := proc.writtenString(); got != "ls -la\n" {
		t.Fatalf("process input = %q", got)
	}
	proc.mu.Lock()
	rows, cols := proc.rows, proc.cols
	proc.mu.Unlock()
	if rows != 40 || cols != 120 {
		t.Fatalf("resize = %dx%d, want 40x120", rows, cols)
	}
}

func TestSessionFailingViewerDoesNotBlockOthers(t *testing.T) {
	sess, proc := startTestSession(t)

	bad := &recordingViewer{fail: true}
	good := &recordingViewer{}
	sess.RegisterViewer(bad)
	sess.RegisterViewer(good)

	proc.emit([]byte("data"))
	waitFor(t, func() bool { return len(good.received()) == 1 }, "healthy viewer starved by failing one")
}

func TestSessionSurvivesWithZeroViewers(t *testing.T) {
	sess, proc := startTestSession(t)

	v := &recordingViewer{}
	sess.RegisterViewer(v)
	sess.UnregisterViewer(v)

	proc.emit([]byte("still here"))
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.history.Len() == 1
	}, "session stopped buffering without viewers")

	if !sess.Alive() {
		t.Fatal("session died when last viewer left")
	}
}

func TestSessionRestartPreservesViewersAndClearsHistory(t *testing.T) {
	var (
		mu    sync.Mutex
		procs []*fakeProcess
	)
	factory := func(map[string]string) (Process, error) {
		p := newFakeProcess()
		mu.Lock()
		procs = append(procs, p)
		mu.Unlock()
		return p, nil
	}

	sess, err := NewSession("restart_target", factory, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Start()
	t.Cleanup(sess.Close)

	mu.Lock()
	first := procs[0]
	mu.Unlock()

	first.emit([]byte("old output"))
	v := &recordingViewer{}
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.history.Len() == 1
	}, "output never reached history")
	sess.RegisterViewer(v)

	sess.Restart()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(procs) == 2
	}, "restart never spawned a replacement process")
	waitFor(t, func() bool {
		for _, chunk := range v.received() {
			if chunk == string(restartedMarker) {
				return true
			}
		}
		return false
	}, "viewer never saw the restart marker")

	if first.Alive() {
		t.Fatal("old process left running after restart")
	}
	if sess.State() != StateRunning {
		t.Fatalf("state after restart = %s", sess.State())
	}
	if sess.ViewerCount() != 1 {
		t.Fatal("viewer lost across restart")
	}

	// History holds only the marker; pre-restart output is gone.
	sess.mu.Lock()
	snap := sess.history.Snapshot()
	sess.mu.Unlock()
	if len(snap) != 1 || !bytes.Equal(snap[0], restartedMarker) {
		t.Fatalf("history after restart has %d chunks", len(snap))
	}

	// The replacement process serves input and output under the same key.
	mu.Lock()
	second := procs[1]
	mu.Unlock()
	sess.SendInput([]byte("whoami\n"))
	if got := second.writtenString(); got != "whoami\n" {
		t.Fatalf("input after restart = %q", got)
	}
	second.emit([]byte("fresh"))
	waitFor(t, func() bool {
		for _, chunk := range v.received() {
			if chunk == "fresh" {
				return true
			}
		}
		return false
	}, "viewer never saw post-restart output")
}

func TestSessionRestartFailureTerminates(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	factory := func(map[string]string) (Process, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls > 1 {
			return nil, errors.New("spawn denied")
		}
		return newFakeProcess(), nil
	}

	sess, err := NewSession("doomed", factory, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Start()

	v := &recordingViewer{}
	sess.RegisterViewer(v)

	var exited *Session
	var exitMu sync.Mutex
	sess.onExit = func(s *Session) {
		exitMu.Lock()
		exited = s
		exitMu.Unlock()
	}

	sess.Restart()

	waitFor(t, func() bool { return sess.State() == StateTerminated }, "failed restart did not terminate session")
	waitFor(t, func() bool {
		exitMu.Lock()
		defer exitMu.Unlock()
		return exited == sess
	}, "manager never notified of termination")

	waitFor(t, func() bool {
		for _, chunk := range v.received() {
			if chunk == string(restartFailedMarker(errors.New("spawn denied"))) {
				return true
			}
		}
		return false
	}, "viewer never saw the failure marker")
}

func TestSessionProcessDeathTerminates(t *testing.T) {
	sess, proc := startTestSession(t)

	var exitMu sync.Mutex
	var exited bool
	sess.onExit = func(*Session) {
		exitMu.Lock()
		exited = true
		exitMu.Unlock()
	}

	proc.Close()

	waitFor(t, func() bool { return !sess.Alive() }, "session outlived its process")
	waitFor(t, func() bool {
		exitMu.Lock()
		defer exitMu.Unlock()
		return exited
	}, "exit notification never fired")
}
