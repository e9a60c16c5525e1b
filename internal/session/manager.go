// Package session manages per-client inspection sessions and their
// directories on the shared filesystem.
package session

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionUnknown is returned for lookups of sessions that were never
// created or have been destroyed.
var ErrSessionUnknown = errors.New("session unknown")

// Status of a session in the registry.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Session owns one subtree of the shared filesystem:
// <shared_root>/sessions/<uuid>/{input,output}. The input and output
// directories exist for the whole lifetime of an Active session.
type Session struct {
	ID         string
	ProductID  string
	ClientInfo string
	CreatedAt  time.Time
	Status     Status

	dir string

	mu         sync.Mutex
	lastAccess time.Time
	inUse      int
}

// Dir returns the session's root directory.
func (s *Session) Dir() string { return s.dir }

// InputDir returns the directory clients write capture files into.
func (s *Session) InputDir() string { return filepath.Join(s.dir, "input") }

// OutputDir returns the directory inspection artifacts are written to.
func (s *Session) OutputDir() string { return filepath.Join(s.dir, "output") }

// Acquire marks the session as in use so the reaper leaves it alone.
// Callers must Release when the inspection finishes.
func (s *Session) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse++
	s.lastAccess = time.Now()
}

// Release undoes one Acquire.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse > 0 {
		s.inUse--
	}
	s.lastAccess = time.Now()
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse > 0
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Manager is the session registry. Destruction is atomic from the
// registry's point of view: a session is either resolvable or gone.
type Manager struct {
	root   string // <shared_root>/sessions
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	onCountChange func(int)
}

// NewManager creates a registry rooted at sharedRoot/sessions.
func NewManager(sharedRoot string) *Manager {
	return &Manager{
		root:     filepath.Join(sharedRoot, "sessions"),
		logger:   log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
		sessions: make(map[string]*Session),
	}
}

// OnCountChange registers a callback invoked with the session count
// after every create/destroy (feeds the active-sessions gauge).
func (m *Manager) OnCountChange(fn func(int)) {
	m.onCountChange = fn
}

// Create registers a new session and materializes its directories.
func (m *Manager) Create(productID, clientInfo string) (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)

	for _, sub := range []string{"input", "output"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			// Leave no half-created session behind.
			os.RemoveAll(dir)
			return nil, fmt.Errorf("creating session directories: %w", err)
		}
	}

	s := &Session{
		ID:         id,
		ProductID:  productID,
		ClientInfo: clientInfo,
		CreatedAt:  time.Now(),
		Status:     StatusActive,
		dir:        dir,
		lastAccess: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Printf("created session %s (product=%s)", id, productID)
	m.notify(count)
	return s, nil
}

// Get resolves an Active session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, id)
	}
	return s, nil
}

// Destroy removes a session from the registry and best-effort removes
// its directory tree.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		s.Status = StatusClosed
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionUnknown, id)
	}

	if err := os.RemoveAll(s.dir); err != nil {
		m.logger.Printf("failed to remove session directory %s: %v", s.dir, err)
	}
	m.logger.Printf("destroyed session %s", id)
	m.notify(count)
	return nil
}

// Reap removes registered sessions idle beyond ttl and orphaned
// session directories on disk older than ttl (left over from previous
// runs). Sessions with in-flight inspections are skipped. Returns the
// number of directories removed.
func (m *Manager) Reap(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	removed := 0

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.busy() {
			continue
		}
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			s.Status = StatusClosed
			stale = append(stale, s)
		}
	}
	count := len(m.sessions)
	live := make(map[string]bool, count)
	for id := range m.sessions {
		live[id] = true
	}
	m.mu.Unlock()

	for _, s := range stale {
		if err := os.RemoveAll(s.dir); err != nil {
			m.logger.Printf("reap: failed to remove %s: %v", s.dir, err)
			continue
		}
		removed++
	}

	// Orphans: directories on disk without a registry entry.
	entries, err := os.ReadDir(m.root)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() || live[e.Name()] {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			dir := filepath.Join(m.root, e.Name())
			if err := os.RemoveAll(dir); err != nil {
				m.logger.Printf("reap: failed to remove orphan %s: %v", dir, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		m.logger.Printf("reaped %d expired session directories", removed)
	}
	m.notify(count)
	return removed
}

// StartReaper runs Reap on the given interval until stop is closed.
func (m *Manager) StartReaper(ttl, interval time.Duration, stop <-chan struct{}, reaped func(int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := m.Reap(ttl)
				if reaped != nil && n > 0 {
					reaped(n)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) notify(count int) {
	if m.onCountChange != nil {
		m.onCountChange(count)
	}
}
