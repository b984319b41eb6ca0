package events

import (
	"fmt"
	"sync"
)

// CallbackEvent fans a value out to registered callbacks.
// A panicking callback is isolated from the others and reported through the
// panic handler given to NewCallbackEvent.
type CallbackEvent[T any] struct {
	mu          sync.RWMutex
	listeners   map[uint64]func(T)
	order       []uint64
	nextID      uint64
	replayLast  bool
	last        T
	hasNotified bool
	onPanic     func(error)
}

// NewCallbackEvent creates a CallbackEvent.
// replayLast: new listeners are called immediately with the latest value.
// onPanic may be nil, in which case listener panics are swallowed.
func NewCallbackEvent[T any](replayLast bool, onPanic func(error)) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners:  make(map[uint64]func(T)),
		replayLast: replayLast,
		onPanic:    onPanic,
	}
}

// Listen registers callback and returns its deregistration function.
// Callbacks are invoked in registration order.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	e.order = append(e.order, id)
	replay := e.replayLast && e.hasNotified
	last := e.last
	e.mu.Unlock()

	// outside the lock: the callback may call back into the event
	if replay {
		e.invoke(callback, last)
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.listeners[id]; !ok {
			return
		}
		delete(e.listeners, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Notify calls every registered callback with value.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.last = value
	e.hasNotified = true
	callbacks := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		callbacks = append(callbacks, e.listeners[id])
	}
	e.mu.Unlock()

	for _, callback := range callbacks {
		e.invoke(callback, value)
	}
}

// Last returns the latest notified value.
func (e *CallbackEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.hasNotified
}

// ListenerCount returns the current number of registered listeners
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

func (e *CallbackEvent[T]) invoke(callback func(T), value T) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(fmt.Errorf("event listener panic: %v", r))
		}
	}()
	callback(value)
}
