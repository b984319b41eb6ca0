package ui

import (
	"sync"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/foreground"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

const pulseDuration = 300 * time.Millisecond

// StatusLine holds the persistent session indicator and the cue pulse for
// the dashboard. It is the foreground Presenter in terminal mode and never
// blocks its caller.
type StatusLine struct {
	mu         sync.Mutex
	notice     foreground.Notice
	pulseUntil time.Time
	dirty      chan struct{}
}

var _ foreground.Presenter = (*StatusLine)(nil)

func NewStatusLine() *StatusLine {
	return &StatusLine{dirty: make(chan struct{}, 1)}
}

// Show implements foreground.Presenter.
func (s *StatusLine) Show(n foreground.Notice) {
	s.mu.Lock()
	s.notice = n
	s.mu.Unlock()
	s.markDirty()
}

// Dismiss implements foreground.Presenter.
func (s *StatusLine) Dismiss(sessionID string) {
	s.mu.Lock()
	pending := sessionID == "" && s.notice.Phase == foreground.PhasePendingStart
	if !pending && (sessionID == "" || s.notice.SessionID != sessionID) {
		s.mu.Unlock()
		return
	}
	s.notice = foreground.Notice{}
	s.mu.Unlock()
	s.markDirty()
}

// Pulse flashes the session panel border, the terminal stand-in for a haptic buzz.
func (s *StatusLine) Pulse(pacer.Cue) {
	s.mu.Lock()
	s.pulseUntil = time.Now().Add(pulseDuration)
	s.mu.Unlock()
	s.markDirty()
}

// Dirty is signalled whenever the status changed.
func (s *StatusLine) Dirty() <-chan struct{} {
	return s.dirty
}

// Snapshot returns the notice and whether a pulse is still showing at now.
func (s *StatusLine) Snapshot(now time.Time) (foreground.Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pulseUntil.IsZero() && now.After(s.pulseUntil) {
		s.pulseUntil = time.Time{}
	}
	return s.notice, !s.pulseUntil.IsZero()
}

func (s *StatusLine) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}
