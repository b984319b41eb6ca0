package pacer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/treadmill-pacer/internal/events"
	"github.com/lowaak/treadmill-pacer/internal/safego"
)

var (
	// ErrEmptyPlan is returned by Start when no segment has a positive duration.
	ErrEmptyPlan = errors.New("plan has no playable segments")
	// ErrSchedulerClosed is returned by Start after Shutdown.
	ErrSchedulerClosed = errors.New("scheduler is shut down")
)

const (
	DefaultTickInterval      = time.Second
	DefaultPausePollInterval = 100 * time.Millisecond
)

// Clock supplies wall-clock time for session timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SchedulerArg holds the arguments for NewScheduler.
type SchedulerArg struct {
	Sink        CueSink
	Coordinator *DuckingCoordinator // defaults to one without focus or ducking
	Logger      *log.Logger
	Clock       Clock

	TickInterval      time.Duration
	PausePollInterval time.Duration

	VoiceEnabled bool
	Units        Units

	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

// tickOutcome is what ended a wait for the next tick.
type tickOutcome int

const (
	tickElapsed tickOutcome = iota
	tickPaused
	tickSkipped
	tickCancelled
)

// run is one started session. Fields below the mutex comment are guarded by
// Scheduler.mu.
type run struct {
	id        string
	plan      []Segment
	total     int
	preChange int
	onFinish  FinishFunc
	startTime time.Time
	policy    TickPolicy

	ctx    context.Context
	cancel context.CancelFunc

	pauseCh  chan struct{}
	resumeCh chan struct{}
	skipCh   chan struct{}

	finalizeOnce sync.Once

	// guarded by Scheduler.mu
	paused      bool
	finalized   bool
	exhausted   bool
	elapsed     int
	realized    []int
	segment     int
	segmentDone bool
	skipTarget  int
}

// Scheduler runs one workout session at a time. It owns the canonical
// SessionState and publishes a snapshot on every tick and control operation.
type Scheduler struct {
	sink         CueSink
	coord        *DuckingCoordinator
	logger       *log.Logger
	clock        Clock
	tickInterval time.Duration
	pollInterval time.Duration
	newID        func() string

	stateEvent *events.ChannelEvent[SessionState]

	// controlMu serializes Start and Shutdown so session hand-over is atomic
	controlMu sync.Mutex

	mu           sync.Mutex
	state        SessionState
	current      *run
	voiceEnabled bool
	units        Units
	closed       bool

	wg sync.WaitGroup
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(args SchedulerArg) *Scheduler {
	if args.Logger == nil {
		panic("Scheduler: logger cannot be nil")
	}
	if args.Sink == nil {
		panic("Scheduler: sink cannot be nil")
	}

	s := &Scheduler{
		sink:         args.Sink,
		coord:        args.Coordinator,
		logger:       args.Logger,
		clock:        args.Clock,
		tickInterval: args.TickInterval,
		pollInterval: args.PausePollInterval,
		newID:        args.NewSessionID,
		stateEvent:   events.NewChannelEvent[SessionState](true),
		voiceEnabled: args.VoiceEnabled,
		units:        args.Units,
	}
	if s.coord == nil {
		s.coord = NewDuckingCoordinator(DuckingCoordinatorArg{Logger: args.Logger})
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPausePollInterval
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	if s.units == "" {
		s.units = UnitsMPH
	}

	s.state = SessionState{Units: s.units}
	s.stateEvent.Notify(s.state.clone())
	return s
}

// Listen registers ch for state snapshots. The current snapshot is delivered
// immediately. ch should be buffered; a slow reader only misses stale values.
func (s *Scheduler) Listen(ch chan SessionState) func() {
	return s.stateEvent.Listen(ch)
}

// ListenerCount returns the number of registered state listeners.
func (s *Scheduler) ListenerCount() int {
	return s.stateEvent.ListenerCount()
}

// State returns the current snapshot.
func (s *Scheduler) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// SetVoiceEnabled changes whether cues are spoken. Takes effect on the next cue.
func (s *Scheduler) SetVoiceEnabled(enabled bool) {
	s.mu.Lock()
	s.voiceEnabled = enabled
	s.mu.Unlock()
}

// Start cancels any running session and starts a new one over the playable
// segments. onFinish is called exactly once for the new session and must not
// call Start itself. An empty plan starts nothing and returns ErrEmptyPlan.
func (s *Scheduler) Start(segments []Segment, preChangeSeconds int, onFinish FinishFunc) (string, error) {
	plan := PlayableSegments(segments)
	if len(plan) == 0 {
		s.logger.Printf("Scheduler: Ignoring start with empty plan")
		return "", ErrEmptyPlan
	}
	if preChangeSeconds < 0 {
		preChangeSeconds = 0
	}

	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	prev := s.current
	if prev != nil && prev.finalized {
		prev = nil
	}
	s.mu.Unlock()
	if closed {
		return "", ErrSchedulerClosed
	}
	if prev != nil {
		s.logger.Printf("Scheduler: Session %s replaced by a new start", prev.id)
		s.stopRun(prev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:         s.newID(),
		plan:       plan,
		total:      TotalSeconds(plan),
		preChange:  preChangeSeconds,
		onFinish:   onFinish,
		startTime:  s.clock.Now(),
		ctx:        ctx,
		cancel:     cancel,
		pauseCh:    make(chan struct{}, 1),
		resumeCh:   make(chan struct{}, 1),
		skipCh:     make(chan struct{}, 1),
		realized:   make([]int, len(plan)),
		skipTarget: -1,
	}

	s.mu.Lock()
	s.current = r
	s.state = SessionState{
		Active:           true,
		SessionID:        r.id,
		SessionStartTime: r.startTime.UnixMilli(),
		Segments:         plan,
		TotalDurationSec: r.total,
		Units:            s.units,
	}
	s.applySegmentLocked(r, 0, plan[0].Seconds)
	s.publishLocked(r)
	s.mu.Unlock()

	s.logger.Printf("Scheduler: Session %s started (%d segments, %ds, pre-change %ds)",
		r.id, len(plan), r.total, preChangeSeconds)

	s.wg.Add(1)
	go s.drive(r)
	return r.id, nil
}

// Pause blocks the drive loop before its next tick. No-op unless running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil || r.finalized || r.paused {
		return
	}
	r.paused = true
	s.state.IsPaused = true
	s.publishLocked(r)
	signal(r.pauseCh)
	s.logger.Printf("Scheduler: Session %s paused at %ds", r.id, r.elapsed)
}

// Resume releases the pause gate. No-op unless paused.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil || r.finalized || !r.paused {
		return
	}
	r.paused = false
	s.state.IsPaused = false
	s.publishLocked(r)
	signal(r.resumeCh)
	s.logger.Printf("Scheduler: Session %s resumed at %ds", r.id, r.elapsed)
}

// TogglePause pauses a running session or resumes a paused one.
func (s *Scheduler) TogglePause() {
	s.mu.Lock()
	r := s.current
	paused := r != nil && r.paused
	s.mu.Unlock()

	if paused {
		s.Resume()
	} else {
		s.Pause()
	}
}

// Skip ends the current segment at the next tick boundary. Once a segment
// has counted down, a skip targets the segment that follows it, so a skip
// issued while a cue plays is kept. No-op when idle.
func (s *Scheduler) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil || r.finalized {
		return
	}
	target := r.segment
	if r.segmentDone {
		target++
	}
	r.skipTarget = target
	signal(r.skipCh)
	s.logger.Printf("Scheduler: Session %s skip requested on segment %d", r.id, target)
}

// Stop cancels the running session and finalizes it before returning, so
// onFinish has run by the time Stop returns. Safe to call at any time.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	r := s.current
	if r != nil && r.finalized {
		r = nil
	}
	s.mu.Unlock()
	if r == nil {
		return
	}
	s.stopRun(r)
}

// Shutdown stops any session and waits for drive loops to exit.
// Safe to call multiple times.
func (s *Scheduler) Shutdown() {
	s.controlMu.Lock()
	s.mu.Lock()
	s.closed = true
	r := s.current
	if r != nil && r.finalized {
		r = nil
	}
	s.mu.Unlock()
	if r != nil {
		s.stopRun(r)
	}
	s.controlMu.Unlock()

	s.wg.Wait()
	s.logger.Printf("Scheduler: Shutdown complete")
}

func (s *Scheduler) stopRun(r *run) {
	r.cancel()
	s.finalize(r, nil)
}

// --- drive loop ---

func (s *Scheduler) drive(r *run) {
	defer s.wg.Done()

	err := safego.Call(func() error { return s.runPlan(r) })
	s.finalize(r, err)
}

func (s *Scheduler) runPlan(r *run) error {
	first := r.plan[0]
	s.playCue(r, Cue{
		Kind:             CueCountdown,
		SegmentIndex:     0,
		Speed:            first.Speed,
		UpcomingSpeed:    upcomingSpeed(r.plan, 0),
		SecondsRemaining: first.Seconds,
	})

	for idx, seg := range r.plan {
		if r.ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		if !s.liveLocked(r) {
			s.mu.Unlock()
			return nil
		}
		r.segment = idx
		r.segmentDone = false
		if idx > 0 {
			s.applySegmentLocked(r, idx, seg.Seconds)
			s.publishLocked(r)
		}
		// a skip aimed at an earlier segment is stale
		if r.skipTarget != idx {
			r.skipTarget = -1
			drainSignal(r.skipCh)
		}
		s.mu.Unlock()
		r.policy.ResetForSegment(seg.Seconds)

		if err := s.runSegment(r, idx); err != nil {
			return err
		}
		if r.ctx.Err() != nil {
			return nil
		}

		if idx == len(r.plan)-1 {
			break
		}
		next := r.plan[idx+1]
		s.playCue(r, Cue{
			Kind:             CueChangeNow,
			SegmentIndex:     idx + 1,
			Speed:            next.Speed,
			UpcomingSpeed:    upcomingSpeed(r.plan, idx+1),
			SecondsRemaining: next.Seconds,
		})
	}

	last := r.plan[len(r.plan)-1]
	s.playCue(r, Cue{Kind: CueFinish, SegmentIndex: len(r.plan) - 1, Speed: last.Speed})
	return nil
}

// runSegment counts segment idx down to zero, one tick per interval.
// Returns nil on cancellation; callers check r.ctx.
func (s *Scheduler) runSegment(r *run, idx int) error {
	seg := r.plan[idx]
	remaining := seg.Seconds
	var deadline time.Time

	for remaining > 0 {
		waited, err := s.waitWhilePaused(r)
		if err != nil {
			return nil
		}
		if waited || deadline.IsZero() {
			deadline = time.Now().Add(s.tickInterval)
		}

		switch s.waitTick(r, deadline) {
		case tickCancelled:
			return nil
		case tickPaused:
			// the partial second is discarded and restarted after resume
			deadline = time.Time{}
			continue
		case tickSkipped:
			s.mu.Lock()
			s.endSegmentLocked(r, idx)
			if s.liveLocked(r) {
				s.state.NextChangeInSec = 0
				s.state.RemainingSec = remainingFrom(r.plan, idx, 0)
				s.publishLocked(r)
			}
			s.mu.Unlock()
			s.logger.Printf("Scheduler: Session %s skipped segment %d with %ds left", r.id, idx, remaining)
			return nil
		}

		s.mu.Lock()
		if !s.liveLocked(r) {
			s.mu.Unlock()
			return nil
		}
		if r.paused {
			s.mu.Unlock()
			deadline = time.Time{}
			continue
		}
		remaining--
		r.elapsed++
		r.realized[idx]++
		if remaining == 0 {
			s.endSegmentLocked(r, idx)
		}
		s.state.ElapsedSec = r.elapsed
		s.state.NextChangeInSec = remaining
		s.state.RemainingSec = remainingFrom(r.plan, idx, remaining)
		s.publishLocked(r)
		voice := s.voiceEnabled
		s.mu.Unlock()

		deadline = deadline.Add(s.tickInterval)

		preChangeFired := false
		if r.preChange > 0 && remaining == r.preChange && seg.Seconds > r.preChange {
			preChangeFired = true
			s.playCue(r, Cue{
				Kind:             CuePreChange,
				SegmentIndex:     idx,
				Speed:            seg.Speed,
				UpcomingSpeed:    upcomingSpeed(r.plan, idx),
				SecondsRemaining: remaining,
			})
		}
		if !preChangeFired && r.policy.AllowTick(remaining, voice) {
			s.playCue(r, Cue{Kind: CueTick, SegmentIndex: idx, Speed: seg.Speed, SecondsRemaining: remaining})
		}
	}
	return nil
}

// waitWhilePaused blocks while r is paused, polling at pollInterval and
// waking early on resume. waited reports whether it blocked at all.
func (s *Scheduler) waitWhilePaused(r *run) (waited bool, err error) {
	for {
		s.mu.Lock()
		paused := r.paused
		s.mu.Unlock()

		if !paused {
			if waited {
				drainSignal(r.pauseCh)
			}
			return waited, nil
		}
		waited = true

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return waited, r.ctx.Err()
		case <-r.resumeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) waitTick(r *run, deadline time.Time) tickOutcome {
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-r.ctx.Done():
		return tickCancelled
	case <-r.skipCh:
		return tickSkipped
	case <-r.pauseCh:
		return tickPaused
	case <-timer.C:
		select {
		case <-r.skipCh:
			return tickSkipped
		default:
		}
		return tickElapsed
	}
}

func (s *Scheduler) playCue(r *run, cue Cue) {
	if r.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	voice := s.voiceEnabled
	cue.Units = s.units
	s.mu.Unlock()
	cue.SessionID = r.id
	cue.VoiceEnabled = voice

	err := s.coord.WithFocus(r.ctx, cue.Kind.Usage(voice), func(ctx context.Context) error {
		return dispatchCue(ctx, s.sink, cue)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("Scheduler: %s cue failed: %v", cue.Kind, err)
	}
}

// finalize reports the outcome of r exactly once. It runs from Stop and from
// the drive loop's exit path; whichever gets there first wins.
func (s *Scheduler) finalize(r *run, loopErr error) {
	r.finalizeOnce.Do(func() {
		if errors.Is(loopErr, context.Canceled) {
			loopErr = nil
		}

		s.mu.Lock()
		r.finalized = true
		aborted := !r.exhausted || loopErr != nil
		end := s.clock.Now()

		realized := make([]Segment, 0, len(r.plan))
		for i, secs := range r.realized {
			if secs > 0 {
				realized = append(realized, Segment{Speed: r.plan[i].Speed, Seconds: secs})
			}
		}
		outcome := Outcome{
			SessionID:        r.id,
			StartEpochMillis: r.startTime.UnixMilli(),
			EndEpochMillis:   end.UnixMilli(),
			ElapsedSeconds:   r.elapsed,
			Aborted:          aborted,
			Err:              loopErr,
			Plan:             copySegments(r.plan),
			Realized:         realized,
			Units:            s.state.Units,
		}

		if s.current == r {
			s.state.Active = false
			s.state.IsPaused = false
			if aborted {
				s.state.Terminal = StatusAborted
			} else {
				s.state.Terminal = StatusCompleted
				s.state.NextChangeInSec = 0
				s.state.RemainingSec = 0
			}
			s.stateEvent.Notify(s.state.clone())
		}
		s.mu.Unlock()

		r.cancel()

		if loopErr != nil {
			s.logger.Printf("Scheduler: Session %s drive loop failed: %v", r.id, loopErr)
			var panicErr *safego.PanicError
			if errors.As(loopErr, &panicErr) {
				s.logger.Printf("Scheduler: %s", panicErr.Stack)
			}
		}
		status := "completed"
		if aborted {
			status = "aborted"
		}
		s.logger.Printf("Scheduler: Session %s %s after %ds", r.id, status, r.elapsed)

		if r.onFinish == nil {
			return
		}
		if err := safego.Call(func() error { r.onFinish(outcome); return nil }); err != nil {
			s.logger.Printf("Scheduler: finish callback for %s failed: %v", r.id, err)
		}
	})
}

// --- state helpers (mu held) ---

// liveLocked reports whether r may still publish.
func (s *Scheduler) liveLocked(r *run) bool {
	return s.current == r && !r.finalized
}

func (s *Scheduler) publishLocked(r *run) {
	if !s.liveLocked(r) {
		return
	}
	s.stateEvent.Notify(s.state.clone())
}

// endSegmentLocked marks segment idx as counted down. Ending the last
// segment makes the session complete even if Stop arrives before the
// finish cue.
func (s *Scheduler) endSegmentLocked(r *run, idx int) {
	r.segmentDone = true
	if idx == len(r.plan)-1 {
		r.exhausted = true
	}
}

func (s *Scheduler) applySegmentLocked(r *run, idx int, remaining int) {
	s.state.CurrentSegment = idx
	s.state.Speed = r.plan[idx].Speed
	s.state.UpcomingSpeed = upcomingSpeed(r.plan, idx)
	s.state.NextChangeInSec = remaining
	s.state.RemainingSec = remainingFrom(r.plan, idx, remaining)
}

func upcomingSpeed(plan []Segment, idx int) *float64 {
	if idx+1 >= len(plan) {
		return nil
	}
	v := plan[idx+1].Speed
	return &v
}

// remainingFrom is the planned time left when segment idx has
// segmentRemaining seconds to go.
func remainingFrom(plan []Segment, idx int, segmentRemaining int) int {
	return segmentRemaining + TotalSeconds(plan[idx+1:])
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drainSignal(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
