package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCleanupInterval is how often idle sessions are looked for.
const DefaultCleanupInterval = time.Minute

type entry struct {
	engine   *Engine
	lastSeen time.Time
}

// Registry keeps live sessions between requests. Sessions idle for longer
// than the TTL are dropped.
type Registry struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	running  bool
	stopChan chan struct{}
}

// NewRegistry returns an empty registry whose engines share deps.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create registers a new, not yet started, session.
func (r *Registry) Create(userID, courseID string) *Engine {
	id := uuid.NewString()
	e := NewEngine(id, userID, courseID, r.deps)

	r.mu.Lock()
	r.sessions[id] = &entry{engine: e, lastSeen: r.now()}
	r.mu.Unlock()
	return e
}

// Get returns the session with the given id if it belongs to userID.
func (r *Registry) Get(id, userID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.sessions[id]
	if !ok || ent.engine.UserID() != userID {
		return nil, ErrNotFound
	}
	ent.lastSeen = r.now()
	return ent.engine, nil
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// RemoveCourse drops every session userID holds on courseID, so none of them
// keeps serving progress that was reset underneath it.
func (r *Registry) RemoveCourse(userID, courseID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, ent := range r.sessions {
		if ent.engine.UserID() == userID && ent.engine.CourseID() == courseID {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes idle sessions and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, ent := range r.sessions {
		if ent.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps idle sessions every interval until ctx is done or Stop
// is called.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	stop := r.stopChan
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					slog.Info("expired idle sessions", "removed", n)
				}
			}
		}
	}()

	slog.Info("session cleanup started", "ttl", r.ttl, "interval", interval)
}

// Stop ends the cleanup loop.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopChan)
	r.running = false
}
