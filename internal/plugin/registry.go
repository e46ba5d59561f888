package plugin

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/term"
)

// Registry is the process-wide module index. It is written during
// discovery and registration (low frequency) and read on every request,
// so one exclusion lock covers both.
type Registry struct {
	store  *store.Store
	runner *cmdrun.Runner

	mu      sync.RWMutex
	modules map[string]Module
	order   []string
	synced  bool
	gen     uint64
}

// NewRegistry creates an empty registry. st may be nil until the
// persistence layer is ready; SyncTools tolerates that.
func NewRegistry(st *store.Store, runner *cmdrun.Runner) *Registry {
	return &Registry{
		store:   st,
		runner:  runner,
		modules: make(map[string]Module),
	}
}

// Register inserts module under its id. Re-registration overwrites the
// prior entry (last-write-wins) and is logged as suspect. Any
// registration invalidates the tool-sync short circuit.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if _, exists := r.modules[id]; exists {
		log.Printf("[Registry] Module %s re-registered, overwriting previous entry", id)
	} else {
		r.order = append(r.order, id)
	}
	r.modules[id] = m
	r.synced = false
	r.gen++
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// All returns the registered modules in registration order.
func (r *Registry) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modules[id])
	}
	return out
}

// Discover scans dir for manifest module directories and registers each
// one that loads. A broken module is logged and skipped; it never aborts
// discovery of its siblings. A missing dir is created and yields nothing.
func (r *Registry) Discover(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Registry] Cannot read modules dir %s: %v", dir, err)
			return
		}
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			log.Printf("[Registry] Cannot create modules dir %s: %v", dir, mkErr)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		moduleDir := filepath.Join(dir, entry.Name())
		manifest, err := LoadManifest(moduleDir)
		if err != nil {
			log.Printf("[Registry] Skipping %s: %v", moduleDir, err)
			continue
		}
		mod, err := NewManifestModule(manifest, r.runner)
		if err != nil {
			log.Printf("[Registry] Skipping %s: %v", moduleDir, err)
			continue
		}
		r.Register(mod)
		log.Printf("[Registry] Discovered module %s (%s)", mod.ID(), mod.Version())
	}
}

// SyncTools ensures a Tool row exists for every registered module. It is
// idempotent: once a full pass succeeds, later calls short-circuit until
// force is set or a new module registers. Per-module failures are logged
// and do not abort the pass; a store that is not ready yet is tolerated
// the same way.
func (r *Registry) SyncTools(ctx context.Context, force bool) {
	r.mu.Lock()
	if r.synced && !force {
		r.mu.Unlock()
		return
	}
	st := r.store
	gen := r.gen
	mods := make([]Module, 0, len(r.order))
	for _, id := range r.order {
		mods = append(mods, r.modules[id])
	}
	r.mu.Unlock()

	if st == nil {
		log.Printf("[Registry] Tool sync skipped, store not ready")
		return
	}

	clean := true
	for _, m := range mods {
		created, err := st.EnsureTool(ctx, m.ID(), m.Version())
		if err != nil {
			log.Printf("[Registry] Tool sync failed for %s: %v", m.ID(), err)
			clean = false
			continue
		}
		if created {
			log.Printf("[Registry] Created tool record for %s", m.ID())
		}
	}

	// Only a fully clean pass over an unchanged module set arms the short
	// circuit; a partial failure or a concurrent registration leaves the
	// flag down so the next call retries.
	r.mu.Lock()
	if clean && r.gen == gen {
		r.synced = true
	}
	r.mu.Unlock()
}

// SessionFactory resolves a terminal session kind against the registered
// modules in registration order. Implements term.FactoryResolver.
func (r *Registry) SessionFactory(kind string) (term.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		types := r.modules[id].SessionTypes()
		if factory, ok := types[kind]; ok {
			return factory, true
		}
	}
	return nil, false
}
