package transport

import (
	"sync"
	"time"
)

// Event names emitted by the Manager.
type Event string

const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventError      Event = "error"
	EventMessage    Event = "message"
	EventPresence   Event = "presence"
)

// MessageEvent is a message delivered over the transport. It is transient;
// nothing in this package persists it.
type MessageEvent struct {
	SenderID   string    `json:"senderId"`
	RoomID     string    `json:"roomId"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"-"`
}

// PresenceEvent reports a peer joining or leaving a room.
type PresenceEvent struct {
	PeerID string `json:"peerId"`
	RoomID string `json:"roomId"`
	Online bool   `json:"online"`
}

// Handler receives events. The payload is *MessageEvent for EventMessage,
// *PresenceEvent for EventPresence, error for EventError and EventDisconnect
// (possibly nil), and nil for EventConnect.
type Handler func(event Event, payload interface{})

// HandlerID identifies a registered handler for removal via Off.
type HandlerID uint64

// wireFrame is the JSON envelope read from and written to the connection.
type wireFrame struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	PeerID   string `json:"peerId,omitempty"`
	Online   bool   `json:"online,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	TS       int64  `json:"ts,omitempty"`
}

const (
	frameTypeMessage  = "message"
	frameTypePresence = "presence"
)

// handlerRegistry is the subscription surface of the Manager. All handlers
// are dropped on teardown so navigation transitions cannot leak them.
type handlerRegistry struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[Event]map[HandlerID]Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[Event]map[HandlerID]Handler)}
}

func (r *handlerRegistry) add(event Event, h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[HandlerID]Handler)
	}
	r.handlers[event][id] = h
	return id
}

func (r *handlerRegistry) remove(event Event, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m := r.handlers[event]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(r.handlers, event)
		}
	}
}

func (r *handlerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Event]map[HandlerID]Handler)
}

// emit calls every handler registered for event. Handlers run on the
// manager's event goroutine; they must not block.
func (r *handlerRegistry) emit(event Event, payload interface{}) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[event]))
	for _, h := range r.handlers[event] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(event, payload)
	}
}
