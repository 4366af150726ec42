package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EventCodeApplicationQuit SystemEventCode = 0x01

	// Keyboard key pressed/released. Key code in U16[0].
	EventCodeKeyPressed  SystemEventCode = 0x02
	EventCodeKeyReleased SystemEventCode = 0x03

	// Resized/resolution changed from the OS. Width/height in U32[0]/U32[1].
	EventCodeResized SystemEventCode = 0x08

	// The GPU device was lost; every cache must be invalidated and rebuilt.
	EventCodeDeviceLost SystemEventCode = 0x09

	MaxEventCode SystemEventCode = 0xFF
)

type EventContext struct {
	U32 [4]uint32
	F32 [4]float32
	Str string
}

// Should return true if handled; handled events stop propagating.
type FnOnEvent func(code SystemEventCode, sender interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches engine events to registered listeners. Owned by the
// engine instance rather than living in package state, so tests can create
// isolated buses.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

// Register subscribes the listener/callback pair to the given code.
// Duplicate listener registrations for the same code are rejected.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes a previous registration. Returns false when no matching
// registration is found.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire delivers the event to listeners of the given code. A handler that
// returns true consumes the event.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	b.mu.RLock()
	events := make([]*registeredEvent, len(b.registered[code]))
	copy(events, b.registered[code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback != nil && e.callback(code, sender, data) {
			return true
		}
	}
	return false
}
