// Package session owns the in-memory session registry: creation,
// access tracking, deletion, lifecycle events and TTL-based expiration.
// The registry is the single piece of shared mutable state in the
// engine; every mutation is serialized behind one lock and none of them
// call out to external code while holding it.
package session

import (
	"sync"
	"time"

	"go-mcp-session-engine/internal/config"
	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/pkg/logger"
)

// Registry is the in-memory session table keyed by handle.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Record

	sessionTimeout time.Duration
	dispatcher     *Dispatcher

	sweepTicker *time.Ticker
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewRegistry creates a registry and starts its expiration sweeper.
func NewRegistry(cfg config.EngineConfig, hooks Hooks) *Registry {
	r := &Registry{
		sessions:       make(map[string]*Record),
		sessionTimeout: cfg.SessionTimeout,
		dispatcher:     NewDispatcher(hooks, cfg.EventQueueSize),
		sweepTicker:    time.NewTicker(cfg.SweepInterval),
		stop:           make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// SessionTimeout returns the configured idle timeout.
func (r *Registry) SessionTimeout() time.Duration {
	return r.sessionTimeout
}

// Create validates the handle and context and inserts a new record. It
// returns false when either input is invalid and performs no mutation.
// Creating a handle that already exists is a successful no-op: the
// existing record is kept, no event fires, and true is returned. That
// idempotency is what makes concurrent warm starts safe.
func (r *Registry) Create(handle string, ictx instance.Context) bool {
	return r.insert(handle, ictx, EventCreated)
}

// Restore is the creation path used by the restoration controller. It
// behaves exactly like Create but emits a "restored" event instead of
// "created" for a newly inserted record.
func (r *Registry) Restore(handle string, ictx instance.Context) bool {
	return r.insert(handle, ictx, EventRestored)
}

func (r *Registry) insert(handle string, ictx instance.Context, kind EventKind) bool {
	if !ValidHandle(handle) {
		logger.Log.Warn("Rejecting session with malformed handle: %q", handle)
		return false
	}
	if violations := ictx.Validate(); len(violations) > 0 {
		logger.Log.Warn("Rejecting session %s with invalid context: %v", handle, violations)
		return false
	}

	r.mu.Lock()
	if _, exists := r.sessions[handle]; exists {
		r.mu.Unlock()
		return true
	}

	now := time.Now()
	rec := &Record{
		Handle:     handle,
		Context:    ictx.Clone(),
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(r.sessionTimeout),
	}
	r.sessions[handle] = rec
	snap := rec.snapshot()
	r.mu.Unlock()

	r.dispatcher.Dispatch(Event{Kind: kind, Handle: handle, Record: snap})
	return true
}

// Touch marks the session as accessed, pushing its expiry forward.
// Returns whether a record existed. Touching an unknown handle never
// creates one.
func (r *Registry) Touch(handle string) bool {
	r.mu.Lock()
	rec, exists := r.sessions[handle]
	if !exists {
		r.mu.Unlock()
		return false
	}
	now := time.Now()
	rec.LastAccess = now
	rec.ExpiresAt = now.Add(r.sessionTimeout)
	r.mu.Unlock()

	r.dispatcher.Dispatch(Event{Kind: EventAccessed, Handle: handle})
	return true
}

// Get returns a copy of the session record for the handle.
func (r *Registry) Get(handle string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, exists := r.sessions[handle]
	if !exists {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// Delete removes the session and returns whether one was removed.
// Deleting an unknown handle is a no-op.
func (r *Registry) Delete(handle string) bool {
	r.mu.Lock()
	rec, exists := r.sessions[handle]
	if !exists {
		r.mu.Unlock()
		return false
	}
	snap := rec.snapshot()
	delete(r.sessions, handle)
	r.mu.Unlock()

	r.dispatcher.Dispatch(Event{Kind: EventDeleted, Handle: handle, Record: snap})
	return true
}

// ListHandles returns the handles of all live sessions.
func (r *Registry) ListHandles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]string, 0, len(r.sessions))
	for h := range r.sessions {
		handles = append(handles, h)
	}
	return handles
}

// ListRecords returns detached copies of all live records, suitable for
// serialization by an external backup collaborator.
func (r *Registry) ListRecords() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		records = append(records, rec.snapshot())
	}
	return records
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the sweeper and the event dispatcher.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.sweepTicker.Stop()
	r.dispatcher.Close()
}

// sweepLoop periodically removes expired sessions.
func (r *Registry) sweepLoop() {
	for {
		select {
		case <-r.sweepTicker.C:
			r.SweepExpired()
		case <-r.stop:
			return
		}
	}
}

// SweepExpired removes every record whose expiry is in the past, firing
// an "expired" event with the record's final state. Expiration and
// explicit deletion are mutually exclusive terminal events, so no
// "deleted" event fires here.
func (r *Registry) SweepExpired() int {
	now := time.Now()

	r.mu.Lock()
	var expired []Record
	for handle, rec := range r.sessions {
		if rec.ExpiresAt.Before(now) {
			expired = append(expired, rec.snapshot())
			delete(r.sessions, handle)
		}
	}
	r.mu.Unlock()

	for _, snap := range expired {
		logger.Log.Info("Expiring idle session: %s", snap.Handle)
		r.dispatcher.Dispatch(Event{Kind: EventExpired, Handle: snap.Handle, Record: snap})
	}
	return len(expired)
}
