// Package events carries the signals the session and offline layers raise
// for the presentation layer.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Name string

const (
	AuthFailure  Name = "auth:failure"
	AuthRestored Name = "auth:restored"
	AuthSwitched Name = "auth:switched"
	AuthLogin    Name = "auth:login"
	AuthLogout   Name = "auth:logout"

	OfflineMessageQueued   Name = "offline:messageQueued"
	OfflineMessageSent     Name = "offline:messageSent"
	OfflineMessageRejected Name = "offline:messageRejected"
	OfflineSyncComplete    Name = "offline:syncComplete"

	NetworkOnline  Name = "network:online"
	NetworkOffline Name = "network:offline"
)

type Event struct {
	Name    Name
	Payload any
	At      time.Time
}

type Handler func(Event)

// AuthFailurePayload accompanies AuthFailure.
type AuthFailurePayload struct {
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

// Bus dispatches events synchronously to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscription
	nextID   int
	logger   zerolog.Logger
}

type subscription struct {
	id      int
	handler Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Name][]subscription),
		logger:   log.Logger,
	}
}

// WithLogger replaces the logger used to report panicking handlers.
func (b *Bus) WithLogger(logger zerolog.Logger) *Bus {
	b.logger = logger
	return b
}

// Subscribe registers h for name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[name]
		for i, s := range subs {
			if s.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every subscriber of name. A nil Bus drops it.
func (b *Bus) Emit(name Name, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[name]...)
	b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload, At: time.Now()}
	for _, s := range subs {
		b.dispatch(s.handler, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event", string(ev.Name)).Msg("event handler panicked")
		}
	}()
	h(ev)
}
