package transaction

// Event names a transaction notification.
type Event string

const (
	// EventConnection carries the connection id passed to SetConnection.
	EventConnection Event = "connection"
	EventFinish     Event = "finish"
	EventResume     Event = "resume"
	// EventRequest fires on the server side once a request has been read.
	EventRequest Event = "request"
	// EventUpgrade carries the Exchange that takes over the connection.
	EventUpgrade Event = "upgrade"
	// EventMessage carries a complete WebSocket message.
	EventMessage Event = "message"
)

// Listener observes an event. payload is nil for events without one.
type Listener func(tx *Transaction, payload any)

// On registers fn for ev. Listeners run synchronously in registration order.
func (t *Transaction) On(ev Event, fn Listener) {
	if t.listeners == nil {
		t.listeners = make(map[Event][]Listener)
	}
	t.listeners[ev] = append(t.listeners[ev], fn)
}

// Emit notifies the listeners of ev.
func (t *Transaction) Emit(ev Event, payload any) {
	for _, fn := range t.listeners[ev] {
		fn(t, payload)
	}
}

// HasListeners reports whether anything is registered for ev.
func (t *Transaction) HasListeners(ev Event) bool {
	return len(t.listeners[ev]) > 0
}
