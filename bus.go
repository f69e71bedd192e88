package rsp

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// EventBus dispatches named events to registered listeners. Listeners registered with
// Prepend run before those registered with Subscribe; within each group they run in
// registration order.
//
// Publish runs listeners synchronously on the caller's goroutine over a snapshot of the
// listener table, so listeners may subscribe or unsubscribe (themselves included) while
// an event is being dispatched. A listener removed during dispatch is not invoked again,
// even within the same dispatch. Listeners must not block: the bus of a Client is fed
// from its read loop.
//
// The zero value is not usable; create instances with NewEventBus.
type EventBus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	prepended map[EventName][]*Subscription
	appended  map[EventName][]*Subscription
}

// EventBusOption represents the options for the EventBus.
type EventBusOption func(*EventBus)

// Listener receives the payload of a published event. The concrete payload type is fixed
// by the event name, see EventName.
type Listener func(payload any)

// Subscription is the handle of one listener registration.
type Subscription struct {
	id       string
	name     EventName
	listener Listener
	bus      *EventBus
	removed  atomic.Bool
}

// NewEventBus creates an empty EventBus.
func NewEventBus(options ...EventBusOption) *EventBus {
	b := &EventBus{
		logger:    slog.Default(),
		prepended: make(map[EventName][]*Subscription),
		appended:  make(map[EventName][]*Subscription),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// WithBusLogger sets the logger used to report panicking listeners.
func WithBusLogger(logger *slog.Logger) EventBusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// Subscribe registers listener for the named event after every existing listener.
func (b *EventBus) Subscribe(name EventName, listener Listener) *Subscription {
	sub := b.newSubscription(name, listener)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.appended[name] = append(b.appended[name], sub)
	return sub
}

// Prepend registers listener for the named event ahead of every listener added with
// Subscribe. Once Prepend returns, the listener observes every later Publish of name.
func (b *EventBus) Prepend(name EventName, listener Listener) *Subscription {
	sub := b.newSubscription(name, listener)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prepended[name] = append(b.prepended[name], sub)
	return sub
}

// Unsubscribe removes the registration. Removing a nil, unknown or already removed
// subscription is a no-op.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.bus != b {
		return
	}
	if sub.removed.Swap(true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prepended[sub.name] = removeSubscription(b.prepended[sub.name], sub)
	if len(b.prepended[sub.name]) == 0 {
		delete(b.prepended, sub.name)
	}
	b.appended[sub.name] = removeSubscription(b.appended[sub.name], sub)
	if len(b.appended[sub.name]) == 0 {
		delete(b.appended, sub.name)
	}
}

// UnsubscribeAll removes every listener of the named event.
func (b *EventBus) UnsubscribeAll(name EventName) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.prepended[name] {
		sub.removed.Store(true)
	}
	for _, sub := range b.appended[name] {
		sub.removed.Store(true)
	}
	delete(b.prepended, name)
	delete(b.appended, name)
}

// Clear removes every listener of every event.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.prepended {
		for _, sub := range subs {
			sub.removed.Store(true)
		}
	}
	for _, subs := range b.appended {
		for _, sub := range subs {
			sub.removed.Store(true)
		}
	}
	b.prepended = make(map[EventName][]*Subscription)
	b.appended = make(map[EventName][]*Subscription)
}

// Publish delivers payload to every listener of name and returns once all of them ran.
// A panicking listener is logged and does not prevent the remaining listeners from
// running.
func (b *EventBus) Publish(name EventName, payload any) {
	for _, sub := range b.Listeners(name) {
		if sub.removed.Load() {
			continue
		}
		b.dispatch(sub, payload)
	}
}

// Listeners returns a snapshot of the registrations of name in dispatch order.
func (b *EventBus) Listeners(name EventName) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]*Subscription, 0, len(b.prepended[name])+len(b.appended[name]))
	subs = append(subs, b.prepended[name]...)
	subs = append(subs, b.appended[name]...)
	return subs
}

// Count returns the number of registrations of name.
func (b *EventBus) Count(name EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.prepended[name]) + len(b.appended[name])
}

func (b *EventBus) newSubscription(name EventName, listener Listener) *Subscription {
	return &Subscription{
		id:       uuid.New().String(),
		name:     name,
		listener: listener,
		bus:      b,
	}
}

func (b *EventBus) dispatch(sub *Subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				slog.String("event", string(sub.name)),
				slog.String("subscription", sub.id),
				slog.Any("panic", r))
		}
	}()

	sub.listener(payload)
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() EventName {
	return s.name
}

// Unsubscribe removes the subscription from its bus. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.Unsubscribe(s)
}

func removeSubscription(subs []*Subscription, sub *Subscription) []*Subscription {
	idx := slices.Index(subs, sub)
	if idx < 0 {
		return subs
	}
	return slices.Delete(subs, idx, idx+1)
}
