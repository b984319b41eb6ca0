package logging

import (
	"context"
	"sync"

	"github.com/lowaak/treadmill-pacer/internal/events"
)

const DefaultMaxTailLines = 1000

// Tail keeps the most recent log lines read from a channel and announces each
// new line to listeners.
type Tail struct {
	mu       sync.RWMutex
	lines    []string
	maxLines int
	event    *events.ChannelEvent[string]
}

func NewTail(maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = DefaultMaxTailLines
	}
	return &Tail{
		lines:    make([]string, 0, maxLines),
		maxLines: maxLines,
		event:    events.NewChannelEvent[string](false),
	}
}

// Run reads lines until ctx is done or lines is closed.
func (t *Tail) Run(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			t.Append(line)
		}
	}
}

func (t *Tail) Append(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
	}
	t.mu.Unlock()
	t.event.Notify(line)
}

// Listen registers ch to receive new lines.
func (t *Tail) Listen(ch chan string) func() {
	return t.event.Listen(ch)
}

// Last returns up to n of the most recent lines, oldest first.
func (t *Tail) Last(n int) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(t.lines) {
		n = len(t.lines)
	}
	out := make([]string, n)
	copy(out, t.lines[len(t.lines)-n:])
	return out
}
