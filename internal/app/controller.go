package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/events"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/safego"
	"github.com/lowaak/treadmill-pacer/internal/store"
)

var (
	// ErrNoActiveSession is returned by Control when no session is running.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionMismatch is returned by Control when the request names a
	// session other than the running one.
	ErrSessionMismatch = errors.New("session id does not match the active session")
	// ErrUnknownCommand is returned by Control for a command it does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrControllerClosed is returned after Close.
	ErrControllerClosed = errors.New("controller is closed")
)

// Command is a control operation on the running session.
type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandToggle Command = "toggle"
	CommandSkip   Command = "skip"
	CommandStop   Command = "stop"
)

// StartNotifier is told when a start was requested, before the session exists.
type StartNotifier interface {
	BeginPending()
}

// ControllerArg holds the arguments for NewController.
type ControllerArg struct {
	// Scheduler is the template for every scheduler the controller creates.
	// Its VoiceEnabled and Units are replaced by the controller's settings.
	Scheduler pacer.SchedulerArg
	Logger    *log.Logger
	// Store persists the active session and history. Nil disables persistence.
	Store *store.Store
	// Pending is optional.
	Pending StartNotifier

	VoiceEnabled     bool
	Units            pacer.Units
	PreChangeSeconds int
}

// Controller owns the scheduler. It creates one on the first start, tears it
// down again once no session is running and nobody is observing, and keeps
// the durable session record in step with the session.
type Controller struct {
	schedArg pacer.SchedulerArg
	logger   *log.Logger
	store    *store.Store
	pending  StartNotifier

	stateEvent  *events.ChannelEvent[pacer.SessionState]
	finishEvent *events.CallbackEvent[pacer.Outcome]

	// notifyMu orders finish notifications; each waits for the previous one
	notifyMu   sync.Mutex
	lastNotify chan struct{}

	mu               sync.Mutex
	sched            *pacer.Scheduler
	relayCancel      context.CancelFunc
	voiceEnabled     bool
	units            pacer.Units
	preChangeSeconds int
	closed           bool

	wg sync.WaitGroup
}

func NewController(args ControllerArg) *Controller {
	if args.Logger == nil {
		panic("Controller: logger cannot be nil")
	}
	if args.Scheduler.Sink == nil {
		panic("Controller: scheduler sink cannot be nil")
	}
	args.Scheduler.Logger = args.Logger
	units := args.Units
	if units == "" {
		units = pacer.UnitsMPH
	}

	c := &Controller{
		schedArg:         args.Scheduler,
		logger:           args.Logger,
		store:            args.Store,
		pending:          args.Pending,
		stateEvent:       events.NewChannelEvent[pacer.SessionState](true),
		voiceEnabled:     args.VoiceEnabled,
		units:            units,
		preChangeSeconds: args.PreChangeSeconds,
	}
	c.finishEvent = events.NewCallbackEvent[pacer.Outcome](false, func(err error) {
		c.logger.Printf("Controller: Finish listener failed: %v", err)
	})
	c.stateEvent.Notify(pacer.SessionState{Units: units})
	return c
}

// Listen registers ch for session snapshots; the latest one is replayed
// immediately. The scheduler is kept alive while anyone listens.
func (c *Controller) Listen(ch chan pacer.SessionState) func() {
	unregister := c.stateEvent.Listen(ch)
	var once sync.Once
	return func() {
		once.Do(func() {
			unregister()
			c.maybeTeardown()
		})
	}
}

// OnFinish registers callback for the outcome of every session. Callbacks run
// on their own goroutine in session order and may call back into the
// Controller.
func (c *Controller) OnFinish(callback func(pacer.Outcome)) func() {
	return c.finishEvent.Listen(callback)
}

// State returns the latest snapshot.
func (c *Controller) State() pacer.SessionState {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched != nil {
		return sched.State()
	}
	state, _ := c.stateEvent.Last()
	return state
}

func (c *Controller) SetVoiceEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voiceEnabled = enabled
	if c.sched != nil {
		c.sched.SetVoiceEnabled(enabled)
	}
}

// Start begins a session over segments, replacing any running one. A negative
// preChangeSeconds uses the configured default.
func (c *Controller) Start(segments []pacer.Segment, preChangeSeconds int) (string, error) {
	if len(pacer.PlayableSegments(segments)) == 0 {
		return "", pacer.ErrEmptyPlan
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrControllerClosed
	}
	if preChangeSeconds < 0 {
		preChangeSeconds = c.preChangeSeconds
	}
	if c.pending != nil {
		c.pending.BeginPending()
	}
	sched := c.ensureSchedulerLocked()

	// the outcome is not persisted before the active record exists
	begun := make(chan struct{})
	id, err := sched.Start(segments, preChangeSeconds, func(o pacer.Outcome) {
		<-begun
		c.finish(o)
	})
	if err != nil {
		close(begun)
		return "", err
	}

	state := sched.State()
	c.begin(store.ActiveSession{
		SessionID:        id,
		StartedAt:        time.UnixMilli(state.SessionStartTime),
		Plan:             pacer.PlayableSegments(segments),
		PreChangeSeconds: preChangeSeconds,
		Units:            state.Units,
	})
	close(begun)
	return id, nil
}

// Control applies cmd to the running session. An empty sessionID means
// whichever session is running.
func (c *Controller) Control(sessionID string, cmd Command) error {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return ErrNoActiveSession
	}
	state := sched.State()
	if !state.Active {
		return ErrNoActiveSession
	}
	if sessionID != "" && sessionID != state.SessionID {
		c.logger.Printf("Controller: Ignoring %s for session %s (active %s)", cmd, sessionID, state.SessionID)
		return ErrSessionMismatch
	}

	switch cmd {
	case CommandPause:
		sched.Pause()
	case CommandResume:
		sched.Resume()
	case CommandToggle:
		sched.TogglePause()
	case CommandSkip:
		sched.Skip()
	case CommandStop:
		sched.Stop()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return nil
}

// RecoverOrphan closes out a session left behind by a previous process.
// It reports whether there was one.
func (c *Controller) RecoverOrphan(ctx context.Context) (store.HistoryEntry, bool, error) {
	if c.store == nil {
		return store.HistoryEntry{}, false, nil
	}
	entry, err := c.store.RecoverOrphan(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.HistoryEntry{}, false, nil
	}
	if err != nil {
		return store.HistoryEntry{}, false, err
	}
	c.logger.Printf("Controller: Recovered orphaned session %s (%ds elapsed)", entry.SessionID, entry.ElapsedSeconds)
	return entry, true, nil
}

// Session returns the finished session id from history.
func (c *Controller) Session(ctx context.Context, id string) (store.HistoryEntry, error) {
	if c.store == nil {
		return store.HistoryEntry{}, store.ErrNotFound
	}
	return c.store.Session(ctx, id)
}

// History returns finished sessions, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.History(ctx, limit)
}

// Close stops any running session and shuts the scheduler down.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sched, cancel := c.detachLocked()
	c.mu.Unlock()

	c.logger.Println("Controller: Shutting down")
	if sched != nil {
		sched.Shutdown()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.logger.Println("Controller: Shutdown complete")
}

func (c *Controller) ensureSchedulerLocked() *pacer.Scheduler {
	if c.sched != nil {
		return c.sched
	}
	args := c.schedArg
	args.VoiceEnabled = c.voiceEnabled
	args.Units = c.units
	sched := pacer.NewScheduler(args)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan pacer.SessionState, 16)
	unregister := sched.Listen(ch)
	c.sched = sched
	c.relayCancel = cancel
	c.logger.Println("Controller: Scheduler created")

	c.wg.Add(1)
	safego.Go(c.logger, func() {
		defer c.wg.Done()
		defer unregister()
		c.relay(ctx, ch)
	})
	return sched
}

func (c *Controller) detachLocked() (*pacer.Scheduler, context.CancelFunc) {
	sched, cancel := c.sched, c.relayCancel
	c.sched, c.relayCancel = nil, nil
	return sched, cancel
}

// maybeTeardown drops the scheduler when it is idle and unobserved.
func (c *Controller) maybeTeardown() {
	c.mu.Lock()
	if c.sched == nil || c.sched.State().Active || c.stateEvent.ListenerCount() > 0 {
		c.mu.Unlock()
		return
	}
	sched, cancel := c.detachLocked()
	c.mu.Unlock()

	sched.Shutdown()
	cancel()
	c.logger.Println("Controller: Scheduler released")
}

// relay forwards snapshots to observers and checkpoints the active record on
// segment changes and pauses.
func (c *Controller) relay(ctx context.Context, ch chan pacer.SessionState) {
	var last pacer.SessionState
	forward := func(state pacer.SessionState) {
		c.stateEvent.Notify(state)
		if state.Active && last.Active && state.SessionID == last.SessionID &&
			(state.CurrentSegment != last.CurrentSegment || (state.IsPaused && !last.IsPaused)) {
			c.checkpoint(state)
		}
		last = state
	}
	for {
		select {
		case <-ctx.Done():
			// the terminal snapshot is queued before teardown starts
			for {
				select {
				case state := <-ch:
					forward(state)
				default:
					return
				}
			}
		case state := <-ch:
			forward(state)
		}
	}
}

func (c *Controller) begin(active store.ActiveSession) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.BeginSession(ctx, active); err != nil {
		c.logger.Printf("Controller: Failed to record session %s: %v", active.SessionID, err)
	}
}

func (c *Controller) checkpoint(state pacer.SessionState) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Checkpoint(ctx, state.SessionID, state.ElapsedSec); err != nil {
		c.logger.Printf("Controller: Checkpoint of session %s failed: %v", state.SessionID, err)
	}
}

func (c *Controller) finish(o pacer.Outcome) {
	if c.store != nil {
		entry := store.HistoryEntry{
			SessionID:      o.SessionID,
			StartedAt:      time.UnixMilli(o.StartEpochMillis),
			EndedAt:        time.UnixMilli(o.EndEpochMillis),
			ElapsedSeconds: o.ElapsedSeconds,
			Aborted:        o.Aborted,
			Units:          o.Units,
			Plan:           o.Plan,
			Realized:       o.Realized,
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.store.FinishSession(ctx, entry); err != nil {
			c.logger.Printf("Controller: Failed to record outcome of %s: %v", o.SessionID, err)
		}
		cancel()
	}

	c.notifyFinish(o)
	// the drive goroutine must return before the scheduler can shut down
	safego.Go(c.logger, c.maybeTeardown)
}

// notifyFinish hands o to the finish listeners off the calling goroutine,
// which may be Start holding c.mu.
func (c *Controller) notifyFinish(o pacer.Outcome) {
	c.notifyMu.Lock()
	prev := c.lastNotify
	done := make(chan struct{})
	c.lastNotify = done
	c.notifyMu.Unlock()

	c.wg.Add(1)
	safego.Go(c.logger, func() {
		defer c.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.finishEvent.Notify(o)
	})
}
