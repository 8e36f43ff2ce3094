package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/observer"
	"go-image-filter/pkg/models"
)

// Manager keeps one Controller per session id and expires idle sessions
type Manager struct {
	processor Processor
	events    observer.Subject
	ttl       time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager creates a manager; sessions untouched for ttl are removed by Sweep
func NewManager(processor Processor, events observer.Subject, ttl time.Duration) *Manager {
	return &Manager{
		processor: processor,
		events:    events,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*Controller),
	}
}

// Create registers a new idle session owned by owner; owner may be empty
func (m *Manager) Create(owner string) *Controller {
	c := NewController(uuid.NewString(), m.processor, m.events)
	c.owner = owner

	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()

	if m.events != nil {
		m.events.NotifyObservers(context.Background(), observer.SessionEvent{
			EventType: observer.SessionCreated,
			SessionID: c.ID(),
			Snapshot:  c.Response(),
		})
	}
	return c
}

// Get returns the session with id
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	c, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found", nil).WithDetails(id)
	}
	return c, nil
}

// Delete closes and removes the session with id
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return apperrors.NewNotFoundError("session not found", nil).WithDetails(id)
	}
	m.expire(c)
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the TTL. Loading sessions are kept.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	var expired []*Controller
	m.mu.Lock()
	for id, c := range m.sessions {
		if c.Current().Status == models.StatusLoading {
			continue
		}
		if c.UpdatedAt().Before(cutoff) {
			expired = append(expired, c)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		m.expire(c)
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done, then closes every session
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range sessions {
		m.expire(c)
	}
}

func (m *Manager) expire(c *Controller) {
	c.Close()
	if m.events != nil {
		m.events.NotifyObservers(context.Background(), observer.SessionEvent{
			EventType: observer.SessionExpired,
			SessionID: c.ID(),
			Snapshot:  c.Response(),
		})
	}
}
