package runtime

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultShutdownTimeout = 5 * time.Second

// Host starts registered services in order and stops them in reverse.
// A service whose Start returns an error aborts startup and unwinds the
// services already running.
type Host struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Service
	started bool
}

// NewHost creates an empty service host.
func NewHost() *Host {
	return &Host{entries: make(map[string]Service)}
}

// Register adds a named service. Registration after start is an error,
// as is reusing a name.
func (h *Host) Register(name string, svc Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: cannot register %q after start", name)
	}
	if _, exists := h.entries[name]; exists {
		return fmt.Errorf("runtime: service %q already registered", name)
	}
	h.entries[name] = svc
	h.order = append(h.order, name)
	return nil
}

// Start brings every registered service up in registration order.
func (h *Host) Start() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("runtime: host already started")
	}
	h.started = true
	order := append([]string(nil), h.order...)
	h.mu.Unlock()

	var started []string
	for _, name := range order {
		if err := h.entries[name].Start(); err != nil {
			h.stop(started)
			h.mu.Lock()
			h.started = false
			h.mu.Unlock()
			return fmt.Errorf("runtime: start %q: %w", name, err)
		}
		log.Printf("[Runtime] Service %s started", name)
		started = append(started, name)
	}
	return nil
}

// Stop shuts every service down in reverse registration order. Errors
// are logged, not propagated, so one stubborn service cannot block the
// teardown of the rest.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	order := append([]string(nil), h.order...)
	h.mu.Unlock()

	h.stop(order)
}

func (h *Host) stop(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		done := make(chan error, 1)
		go func() { done <- h.entries[name].Shutdown() }()

		select {
		case err := <-done:
			if err != nil {
				log.Printf("[Runtime] Service %s shutdown error: %v", name, err)
			} else {
				log.Printf("[Runtime] Service %s stopped", name)
			}
		case <-time.After(defaultShutdownTimeout):
			log.Printf("[Runtime] Service %s shutdown timed out", name)
		}
	}
}
