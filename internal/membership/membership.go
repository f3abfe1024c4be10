// Package membership tracks which daemons are currently live and evicts
// ones that stop sending heartbeats (§4.6). It owns the in-memory
// "host_name -> last_heartbeat_time" map that the reference implementation
// keeps as a bare module-level dict.
package membership

import (
	"context"
	"sync"
	"time"
)

// SweepInterval and ExpireAfter are part of the wire contract (§4.6): a
// daemon that hasn't heartbeat in ExpireAfter is evicted, checked every
// SweepInterval.
const (
	SweepInterval = 3 * time.Second
	ExpireAfter   = 3 * time.Second
)

// Evictor removes a host's records from the metadata store. Implemented by
// *store.Store in production; a small interface here keeps membership
// independent of the store package and easy to test.
type Evictor interface {
	Evict(hostName string) (int, error)
}

// Manager is the tracker's single-writer liveness map.
type Manager struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	evictor  Evictor
	onEvict  func(hostName string, removed int)
}

// New creates a Manager backed by evictor. onEvict, if non-nil, is called
// (outside the lock) after each host is evicted.
func New(evictor Evictor, onEvict func(hostName string, removed int)) *Manager {
	return &Manager{
		lastSeen: make(map[string]time.Time),
		evictor:  evictor,
		onEvict:  onEvict,
	}
}

// Touch records a heartbeat from hostName at the current time.
func (m *Manager) Touch(hostName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[hostName] = time.Now()
}

// Live returns a snapshot of the currently-tracked host names.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.lastSeen))
	for name := range m.lastSeen {
		out = append(out, name)
	}
	return out
}

// Run starts the sweeper loop, checking every SweepInterval for hosts whose
// last heartbeat is older than ExpireAfter, until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	now := time.Now()
	var stale []string
	for name, last := range m.lastSeen {
		if now.Sub(last) > ExpireAfter {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(m.lastSeen, name)
	}
	m.mu.Unlock()

	for _, name := range stale {
		removed, err := m.evictor.Evict(name)
		if err == nil && m.onEvict != nil {
			m.onEvict(name, removed)
		}
	}
}
