package acquisition

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-msbridge/logger"
)

// Subscription is the token returned by a subscribe call.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription returns a Subscription that calls cancel the first time it is unsubscribed.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe removes the subscriber. It is safe to call more than once, and on a nil Subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}

	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Bus is a synchronous publish/subscribe channel for one event type.
//
// Publish delivers to the subscribers registered at the moment Publish is called, in
// registration order. A subscriber that unsubscribes while a publish is in progress still
// receives that event; a subscriber added during a publish does not. Events are not retained.
//
// A panicking subscriber is logged and skipped; the remaining subscribers still receive the event.
type Bus[T any] struct {
	name   string
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
	logger logger.Logger
}

// NewBus creates an empty bus. name is used in log messages.
func NewBus[T any](name string, l logger.Logger) *Bus[T] {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Bus[T]{name: name, logger: l}
}

// Subscribe appends fn to the subscriber list.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})

	return NewSubscription(func() { b.remove(id) })
}

// Publish delivers v to every current subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	snapshot := make([]subscriber[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, v)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Bus[T]) deliver(sub subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panic", "bus", b.name, "subscriber", sub.id, "error", fmt.Sprint(r))
		}
	}()

	sub.fn(v)
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			// keep registration order of the remaining subscribers
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
