package events

import (
	"sync"
)

// ChannelEvent is a single-writer, multi-reader broadcast of values of type T.
// Readers register a buffered channel; Notify never blocks on a slow reader.
// When a reader's buffer is full the oldest queued value is replaced by the new
// one, so every reader eventually observes the latest value.
type ChannelEvent[T any] struct {
	mu          sync.RWMutex
	channels    map[uint64]chan T
	nextID      uint64
	replayLast  bool
	last        T
	hasNotified bool
}

// NewChannelEvent creates a ChannelEvent.
// replayLast: new listeners immediately receive the most recent value once Notify
// has been called at least once.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:   make(map[uint64]chan T),
		replayLast: replayLast,
	}
}

// Listen registers ch and returns a function that removes it again.
// The channel must be buffered (capacity >= 1) for conflation to work.
func (e *ChannelEvent[T]) Listen(ch chan T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	if e.replayLast && e.hasNotified {
		// under the lock so a concurrent Notify cannot slip in ahead of the replay
		offerLatest(ch, e.last)
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.channels, id)
			e.mu.Unlock()
		})
	}
}

// Notify delivers value to every registered channel without blocking.
// Values are delivered in Notify order per channel.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = value
	e.hasNotified = true

	for _, ch := range e.channels {
		offerLatest(ch, value)
	}
}

// Last returns the most recent value passed to Notify.
func (e *ChannelEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.hasNotified
}

// ListenerCount returns the number of registered channels.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}

// offerLatest sends value, evicting one stale value first if ch is full.
// Only Notify/Listen send on these channels and both hold e.mu, so after one
// eviction the send cannot fail unless the channel is unbuffered.
func offerLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}
