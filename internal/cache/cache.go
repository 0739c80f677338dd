// Package cache holds the in-process report cache used by the HTTP layer.
package cache

import (
	"strings"
	"sync"
	"time"

	"fleetcost/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// Invalidator is implemented by caches that can drop every entry of one
// organization.
type Invalidator interface {
	DeletePrefix(prefix string) int
}

// Key joins the organization id and the remaining parts into a cache key.
// The organization always comes first so InvalidateOrganization can match it
// as a prefix.
func Key(org string, parts ...string) string {
	return org + "|" + strings.Join(parts, "|")
}

// Manager handles cache lifecycle, periodic cleanup and per-organization
// invalidation across every registered cache.
//
// Each organization has a generation that InvalidateOrganization bumps. A
// reader that loads a report takes the generation first and stores the
// result through StoreIfCurrent, so a load that overlapped a write is never
// cached.
type Manager struct {
	mu          sync.Mutex
	caches      []Cleaner
	generations map[string]uint64
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
	logger      *log.Logger
}

// NewManager creates a new cache manager
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		generations: make(map[string]uint64),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger.WithComponent(log.ComponentCache),
	}
}

// Register adds a cache to the manager for cleanup
func (m *Manager) Register(cache Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, cache)
}

// Generation returns the current cache generation of org.
func (m *Manager) Generation(org string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[org]
}

// StoreIfCurrent runs store only while org is still at generation gen and
// reports whether it ran.
func (m *Manager) StoreIfCurrent(org string, gen uint64, store func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[org] != gen {
		return false
	}
	store()
	return true
}

// InvalidateOrganization drops every cached entry for org.
func (m *Manager) InvalidateOrganization(org string) int {
	m.mu.Lock()
	m.generations[org]++
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	removed := 0
	for _, c := range caches {
		if inv, ok := c.(Invalidator); ok {
			removed += inv.DeletePrefix(org + "|")
		}
	}
	if removed > 0 {
		m.logger.Debug("Invalidated cached reports", log.FieldOrganization, org, log.FieldCount, removed)
	}
	return removed
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			caches := append([]Cleaner(nil), m.caches...)
			m.mu.Unlock()

			total := 0
			for _, c := range caches {
				total += c.CleanExpired()
			}
			if total > 0 {
				m.logger.Debug("Expired cache entries removed", log.FieldCount, total)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-m.stopCleanup:
		return
	default:
		close(m.stopCleanup)
	}
	<-m.cleanupDone
}
