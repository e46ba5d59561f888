package term

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
)

// KindSystem is the only session kind the core implements itself; every
// other kind is resolved through installed modules.
const KindSystem = "system"

// systemKey is the constant key for the single system shell session.
const systemKey = "system_shell"

// ErrUnknownKind reports a session kind no installed module declares.
var ErrUnknownKind = errors.New("term: unknown session kind")

// FactoryResolver resolves non-default session kinds to their process
// factories. The module registry implements this.
type FactoryResolver interface {
	SessionFactory(kind string) (Factory, bool)
}

// Key derives the deterministic session key for a logical terminal target.
// Parameters are sorted by name before composition so that iteration order
// never changes the key ("k8s" + {pod, namespace} always yields
// "k8s_<namespace>_<pod>").
func Key(kind string, params map[string]string) string {
	if kind == "" || kind == KindSystem {
		return systemKey
	}
	if len(params) == 0 {
		return kind
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(params)+1)
	parts = append(parts, kind)
	for _, name := range names {
		parts = append(parts, params[name])
	}
	return strings.Join(parts, "_")
}

// Manager is the process-wide table of live terminal sessions. Lookups and
// inserts are linearizable per key: concurrent requests for the same new key
// share one process, while requests for different keys never block each
// other on process startup.
type Manager struct {
	resolver FactoryResolver

	mu      sync.Mutex
	entries map[string]*managerEntry
}

// managerEntry pins creation of a session to a single caller. The table lock
// covers only the map; the once runs (and may block on process startup)
// outside it.
type managerEntry struct {
	once sync.Once
	sess *Session
	err  error
}

// NewManager creates a session manager. resolver may be nil, in which case
// only the system kind is available.
func NewManager(resolver FactoryResolver) *Manager {
	return &Manager{
		resolver: resolver,
		entries:  make(map[string]*managerEntry),
	}
}

// GetOrCreate returns the live session for key, creating it when absent. A
// stale entry (terminated session) is evicted first. An unknown kind yields
// ErrUnknownKind; a failed spawn yields the spawn error. In both cases the
// caller must treat the session as unavailable rather than fatal.
func (m *Manager) GetOrCreate(key, kind string, params map[string]string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && e.sess != nil && !e.sess.Alive() {
		log.Printf("[TermManager] Evicting dead session %s", key)
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		e = &managerEntry{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		factory := m.lookupFactory(kind)
		if factory == nil {
			e.err = ErrUnknownKind
			return
		}

		sess, err := NewSession(key, factory, params)
		if err != nil {
			e.err = err
			return
		}
		sess.onExit = m.evict
		sess.Start()
		e.sess = sess
		log.Printf("[TermManager] Created session %s (kind %s)", key, kind)
	})

	if e.err != nil {
		m.mu.Lock()
		if m.entries[key] == e {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, e.err
	}

	return e.sess, nil
}

// Restart requests an in-place restart of the session for key and reports
// whether such a session exists. The restart itself runs asynchronously.
func (m *Manager) Restart(key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()

	if !ok || e.sess == nil {
		return false
	}
	e.sess.Restart()
	return true
}

// Sessions returns a snapshot of the live sessions, sorted by key.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.entries))
	for _, e := range m.entries {
		if e.sess != nil {
			out = append(out, e.sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// CloseAll terminates every live session. Used on daemon shutdown.
func (m *Manager) CloseAll() {
	for _, sess := range m.Sessions() {
		sess.Close()
	}
}

func (m *Manager) lookupFactory(kind string) Factory {
	if kind == "" || kind == KindSystem {
		return func(map[string]string) (Process, error) {
			return NewSystemProcess()
		}
	}
	if m.resolver != nil {
		if factory, ok := m.resolver.SessionFactory(kind); ok {
			return factory
		}
	}
	return nil
}

// evict removes the table entry for a terminated session, unless the key has
// already been re-occupied by a newer session.
func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[s.key]; ok && e.sess == s {
		delete(m.entries, s.key)
	}
}
