package session

import (
	"sync"

	"go-mcp-session-engine/pkg/logger"
)

// EventKind names a lifecycle transition of a session record.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventRestored EventKind = "restored"
	EventAccessed EventKind = "accessed"
	EventExpired  EventKind = "expired"
	EventDeleted  EventKind = "deleted"
)

// Event is one lifecycle notification. Record is the session's state at
// the time the event fired; for expired and deleted events it is the
// final state before removal.
type Event struct {
	Kind   EventKind
	Handle string
	Record Record
}

// Hooks are the optional lifecycle callbacks supplied by the embedding
// application (telemetry, persistence). Any hook may be nil. Hooks run
// off the request path: the engine never waits for them and a panicking
// hook is logged and discarded. OnSessionAccessed fires on every touch
// and is high-frequency; throttle inside the handler if needed.
type Hooks struct {
	OnSessionCreated  func(handle string, rec Record)
	OnSessionRestored func(handle string, rec Record)
	OnSessionAccessed func(handle string)
	OnSessionExpired  func(handle string, final Record)
	OnSessionDeleted  func(handle string)
}

// Dispatcher delivers lifecycle events to the configured hooks through a
// buffered queue so that registry and controller operations never block
// on user-supplied code.
type Dispatcher struct {
	hooks    Hooks
	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its delivery loop.
func NewDispatcher(hooks Hooks, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		hooks: hooks,
		queue: make(chan Event, queueSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Dispatch enqueues an event without blocking. If the queue is full the
// event is delivered on its own goroutine; a slow hook can delay other
// hooks, never the caller.
func (d *Dispatcher) Dispatch(ev Event) {
	select {
	case <-d.stop:
		return
	default:
	}

	select {
	case d.queue <- ev:
	default:
		go d.deliver(ev)
	}
}

// Close stops the delivery loop. Events already queued are dropped;
// events dispatched after Close are ignored.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			return
		}
	}
}

// deliver invokes the hook for one event inside its own failure boundary.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Lifecycle handler panicked on %s event for session %s: %v", ev.Kind, ev.Handle, r)
		}
	}()

	switch ev.Kind {
	case EventCreated:
		if d.hooks.OnSessionCreated != nil {
			d.hooks.OnSessionCreated(ev.Handle, ev.Record)
		}
	case EventRestored:
		if d.hooks.OnSessionRestored != nil {
			d.hooks.OnSessionRestored(ev.Handle, ev.Record)
		}
	case EventAccessed:
		if d.hooks.OnSessionAccessed != nil {
			d.hooks.OnSessionAccessed(ev.Handle)
		}
	case EventExpired:
		if d.hooks.OnSessionExpired != nil {
			d.hooks.OnSessionExpired(ev.Handle, ev.Record)
		}
	case EventDeleted:
		if d.hooks.OnSessionDeleted != nil {
			d.hooks.OnSessionDeleted(ev.Handle)
		}
	}
}
