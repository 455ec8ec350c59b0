package session

// EventAll subscribes a handler to every event the session dispatches.
const EventAll = "ALL"

// Lifecycle events dispatched by the session itself, alongside gateway
// notice commands.
const (
	EventConnected    = "CONNECTED"
	EventDisconnected = "DISCONNECTED"
	EventPopularity   = "POPULARITY"
)

// Handler receives a dispatched event. Notice events carry json.RawMessage,
// POPULARITY carries a uint32, lifecycle events carry a reason string or nil.
type Handler func(name string, payload any)

// Bus is a per-session publish/subscribe registry keyed by event name. It is
// not safe for concurrent use: the owning session registers handlers before
// connecting and dispatches from its receive loop only, so handlers run to
// completion before the next frame is processed.
type Bus struct {
	handlers map[string][]Handler
}

// NewBus creates an empty registry.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On registers a handler for an event name. Multiple handlers per name are
// invoked in registration order.
func (b *Bus) On(name string, h Handler) {
	b.handlers[name] = append(b.handlers[name], h)
}

// Dispatch invokes every handler registered for name, then every EventAll
// handler. Dispatching a name nobody registered is a no-op.
func (b *Bus) Dispatch(name string, payload any) {
	for _, h := range b.handlers[name] {
		h(name, payload)
	}
	if name == EventAll {
		return
	}
	for _, h := range b.handlers[EventAll] {
		h(name, payload)
	}
}
