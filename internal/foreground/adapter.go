package foreground

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// Phase is what the persistent indicator currently reflects.
type Phase int

const (
	PhaseNone         Phase = iota // Nothing shown
	PhasePendingStart              // Start issued, no active snapshot seen yet
	PhaseRunning                   // A session is active
)

func (p Phase) String() string {
	switch p {
	case PhasePendingStart:
		return "pending-start"
	case PhaseRunning:
		return "running"
	default:
		return "none"
	}
}

// maxDismissed is how many dismissed session IDs are remembered.
const maxDismissed = 16

// DefaultPendingTimeout bounds how long the interim notice stays up when no
// session shows up after a start request.
const DefaultPendingTimeout = 5 * time.Second

// Notice is the content of the persistent session indicator.
type Notice struct {
	SessionID string
	Phase     Phase
	Title     string
	Detail    string
	Paused    bool

	// ElapsedSec is the elapsed time at the snapshot. While not paused the
	// display counts up from ChronometerBase, which is the wall-clock instant
	// elapsed was zero with pauses taken out.
	ElapsedSec      int
	ChronometerBase time.Time
	StartedAt       time.Time
}

// Presenter shows and removes the single persistent indicator. Show replaces
// whatever is shown. Dismiss("") removes the interim pending notice.
type Presenter interface {
	Show(notice Notice)
	Dismiss(sessionID string)
}

// StateSource publishes session snapshots and replays the latest to new listeners.
type StateSource interface {
	Listen(ch chan pacer.SessionState) func()
}

// AdapterArg holds the arguments for NewAdapter.
type AdapterArg struct {
	Presenter      Presenter
	Logger         *log.Logger
	PendingTimeout time.Duration
	Now            func() time.Time
}

// Adapter reconciles the scheduler state stream with a Presenter. A session
// already in progress is picked up from the replayed snapshot, and each
// finished session is dismissed exactly once.
type Adapter struct {
	presenter      Presenter
	logger         *log.Logger
	pendingTimeout time.Duration
	now            func() time.Time

	mu           sync.Mutex
	phase        Phase
	sessionID    string
	pendingSince time.Time
	dismissed    map[string]bool
	dismissOrder []string
}

func NewAdapter(args AdapterArg) *Adapter {
	if args.Presenter == nil {
		panic("Adapter: presenter cannot be nil")
	}
	if args.Logger == nil {
		panic("Adapter: logger cannot be nil")
	}
	a := &Adapter{
		presenter:      args.Presenter,
		logger:         args.Logger,
		pendingTimeout: args.PendingTimeout,
		now:            args.Now,
		dismissed:      make(map[string]bool),
	}
	if a.pendingTimeout <= 0 {
		a.pendingTimeout = DefaultPendingTimeout
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Phase returns the current phase.
func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// BeginPending records that a start was requested and shows the interim notice.
func (a *Adapter) BeginPending() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.phase = PhasePendingStart
	a.pendingSince = a.now()
	a.presenter.Show(Notice{Phase: PhasePendingStart, Title: "Starting workout..."})
	a.logger.Printf("Adapter: Pending start")
}

// Observe reconciles one snapshot.
func (a *Adapter) Observe(state pacer.SessionState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if state.Active {
		if a.dismissed[state.SessionID] {
			return
		}
		if a.phase != PhaseRunning || a.sessionID != state.SessionID {
			a.logger.Printf("Adapter: Session %s running", state.SessionID)
		}
		a.phase = PhaseRunning
		a.sessionID = state.SessionID
		a.presenter.Show(a.noticeFor(state))
		return
	}

	if state.SessionID == "" {
		// idle: the scheduler went away while a session was shown
		if a.phase == PhaseRunning {
			a.dismissLocked(a.sessionID)
			a.phase = PhaseNone
			a.sessionID = ""
		}
		return
	}
	if a.dismissed[state.SessionID] {
		return
	}

	switch {
	case a.phase == PhaseRunning && a.sessionID == state.SessionID:
		a.dismissLocked(state.SessionID)
		a.phase = PhaseNone
		a.sessionID = ""
	case a.phase == PhasePendingStart && a.sessionID == state.SessionID:
		// the previous session ending because of the pending start
		a.dismissLocked(state.SessionID)
		a.sessionID = ""
	case a.phase == PhasePendingStart && !time.UnixMilli(state.SessionStartTime).Before(a.pendingSince.Add(-time.Second)):
		// the requested session started and finished between two snapshots
		a.dismissLocked(state.SessionID)
		a.phase = PhaseNone
	}
}

// Expire ends a pending-start window that has outlived the timeout.
// It reports whether the window was expired.
func (a *Adapter) Expire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != PhasePendingStart || a.now().Sub(a.pendingSince) < a.pendingTimeout {
		return false
	}
	a.logger.Printf("Adapter: No session within %v of start request", a.pendingTimeout)
	a.presenter.Dismiss("")
	a.phase = PhaseNone
	return true
}

// Run observes source until ctx is done.
func (a *Adapter) Run(ctx context.Context, source StateSource) {
	ch := make(chan pacer.SessionState, 16)
	unregister := source.Listen(ch)
	defer unregister()

	ticker := time.NewTicker(a.pendingTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-ch:
			a.Observe(state)
		case <-ticker.C:
			a.Expire()
		}
	}
}

func (a *Adapter) dismissLocked(sessionID string) {
	if sessionID == "" || a.dismissed[sessionID] {
		return
	}
	a.dismissed[sessionID] = true
	a.dismissOrder = append(a.dismissOrder, sessionID)
	if len(a.dismissOrder) > maxDismissed {
		delete(a.dismissed, a.dismissOrder[0])
		a.dismissOrder = a.dismissOrder[1:]
	}
	a.presenter.Dismiss(sessionID)
	a.logger.Printf("Adapter: Dismissed session %s", sessionID)
}

func (a *Adapter) noticeFor(state pacer.SessionState) Notice {
	elapsed := time.Duration(state.ElapsedSec) * time.Second
	n := Notice{
		SessionID:       state.SessionID,
		Phase:           PhaseRunning,
		Paused:          state.IsPaused,
		ElapsedSec:      state.ElapsedSec,
		ChronometerBase: a.now().Add(-elapsed),
		StartedAt:       time.UnixMilli(state.SessionStartTime),
	}
	n.Title = fmt.Sprintf("%.1f %s - segment %d of %d", state.Speed, state.Units, state.CurrentSegment+1, len(state.Segments))
	if state.IsPaused {
		n.Title = "Paused - " + n.Title
	}
	if state.UpcomingSpeed != nil {
		n.Detail = fmt.Sprintf("Next %.1f in %s", *state.UpcomingSpeed, FormatClock(state.NextChangeInSec))
	} else {
		n.Detail = fmt.Sprintf("Finish in %s", FormatClock(state.NextChangeInSec))
	}
	return n
}

// FormatClock formats seconds as m:ss, or h:mm:ss from an hour up.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// LogPresenter presents notices as log lines, for headless runs. Repeated
// notices that differ only in elapsed time are not logged.
type LogPresenter struct {
	Logger *log.Logger

	mu   sync.Mutex
	last string
}

func (p *LogPresenter) Show(n Notice) {
	line := fmt.Sprintf("[%s] %s %s", n.Phase, n.Title, n.Detail)
	if n.Phase == PhaseRunning && n.Detail != "" {
		// detail carries the countdown; log on segment or pause changes only
		line = fmt.Sprintf("[%s] %s", n.Phase, n.Title)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	p.Logger.Printf("Notice: %s (%s)", line, FormatClock(n.ElapsedSec))
}

func (p *LogPresenter) Dismiss(sessionID string) {
	p.mu.Lock()
	p.last = ""
	p.mu.Unlock()
	p.Logger.Printf("Notice: dismissed %q", sessionID)
}
