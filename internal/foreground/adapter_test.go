package foreground

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/treadmill-pacer/internal/events"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

type recordingPresenter struct {
	mu        sync.Mutex
	shown     []Notice
	dismissed []string
}

func (p *recordingPresenter) Show(n Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
}

func (p *recordingPresenter) Dismiss(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, id)
}

func (p *recordingPresenter) lastShown() Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown[len(p.shown)-1]
}

func (p *recordingPresenter) dismissals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dismissed...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAdapter() (*Adapter, *recordingPresenter, *fakeClock) {
	presenter := &recordingPresenter{}
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	a := NewAdapter(AdapterArg{
		Presenter:      presenter,
		Logger:         log.New(io.Discard, "", 0),
		PendingTimeout: 5 * time.Second,
		Now:            clock.Now,
	})
	return a, presenter, clock
}

func runningState(id string, startMillis int64, elapsed int) pacer.SessionState {
	upcoming := 6.0
	return pacer.SessionState{
		Active:           true,
		SessionID:        id,
		SessionStartTime: startMillis,
		ElapsedSec:       elapsed,
		Speed:            4,
		UpcomingSpeed:    &upcoming,
		NextChangeInSec:  75,
		Segments:         []pacer.Segment{{Speed: 4, Seconds: 100}, {Speed: 6, Seconds: 100}},
		Units:            pacer.UnitsMPH,
	}
}

func terminal(state pacer.SessionState, status pacer.Status) pacer.SessionState {
	state.Active = false
	state.Terminal = status
	return state
}

func TestNewAdapter_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "Adapter: presenter cannot be nil", func() { NewAdapter(AdapterArg{Logger: log.Default()}) })
	assert.PanicsWithValue(t, "Adapter: logger cannot be nil", func() { NewAdapter(AdapterArg{Presenter: &recordingPresenter{}}) })
}

func TestAdapter_PendingThenRunningThenDismissed(t *testing.T) {
	a, presenter, clock := newTestAdapter()

	a.BeginPending()
	assert.Equal(t, PhasePendingStart, a.Phase())
	assert.Equal(t, PhasePendingStart, presenter.lastShown().Phase)

	// the replayed idle snapshot does not end the pending window
	a.Observe(pacer.SessionState{})
	assert.Equal(t, PhasePendingStart, a.Phase())

	state := runningState("s1", clock.Now().UnixMilli(), 0)
	a.Observe(state)
	assert.Equal(t, PhaseRunning, a.Phase())
	notice := presenter.lastShown()
	assert.Equal(t, "s1", notice.SessionID)
	assert.Equal(t, "4.0 mph - segment 1 of 2", notice.Title)
	assert.Equal(t, "Next 6.0 in 1:15", notice.Detail)

	clock.Advance(10 * time.Second)
	state.ElapsedSec = 10
	a.Observe(state)
	assert.Equal(t, clock.Now().Add(-10*time.Second), presenter.lastShown().ChronometerBase)

	done := terminal(state, pacer.StatusCompleted)
	a.Observe(done)
	a.Observe(done)
	assert.Equal(t, []string{"s1"}, presenter.dismissals())
	assert.Equal(t, PhaseNone, a.Phase())

	// late replay of an active snapshot for a dismissed session is ignored
	a.Observe(state)
	assert.Equal(t, PhaseNone, a.Phase())
}

func TestAdapter_PausedNotice(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	state := runningState("s1", clock.Now().UnixMilli(), 30)
	state.IsPaused = true

	a.Observe(state)
	notice := presenter.lastShown()
	assert.True(t, notice.Paused)
	assert.Equal(t, 30, notice.ElapsedSec)
	assert.Contains(t, notice.Title, "Paused")
}

func TestAdapter_LateAttachKeepsElapsed(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	start := clock.Now().Add(-5 * time.Minute)

	// attaching mid-session shows the snapshot's elapsed, not zero
	a.Observe(runningState("s1", start.UnixMilli(), 280))
	notice := presenter.lastShown()
	assert.Equal(t, 280, notice.ElapsedSec)
	assert.Equal(t, clock.Now().Add(-280*time.Second), notice.ChronometerBase)
	assert.Equal(t, start.UnixMilli(), notice.StartedAt.UnixMilli())
}

func TestAdapter_DismissedSetIsBounded(t *testing.T) {
	a, presenter, clock := newTestAdapter()

	var last pacer.SessionState
	for i := 0; i < 3*maxDismissed; i++ {
		last = runningState(fmt.Sprintf("s%d", i), clock.Now().UnixMilli(), 1)
		a.Observe(last)
		a.Observe(terminal(last, pacer.StatusCompleted))
	}
	assert.Len(t, presenter.dismissals(), 3*maxDismissed)
	assert.Len(t, a.dismissed, maxDismissed)
	assert.Len(t, a.dismissOrder, maxDismissed)

	// a late replay of a recent session is still ignored
	a.Observe(last)
	a.Observe(terminal(last, pacer.StatusCompleted))
	assert.Len(t, presenter.dismissals(), 3*maxDismissed)
	assert.Equal(t, PhaseNone, a.Phase())
}

func TestAdapter_PendingExpires(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	a.BeginPending()

	clock.Advance(4 * time.Second)
	assert.False(t, a.Expire())
	clock.Advance(2 * time.Second)
	assert.True(t, a.Expire())
	assert.Equal(t, PhaseNone, a.Phase())
	assert.Equal(t, []string{""}, presenter.dismissals())
	assert.False(t, a.Expire())
}

func TestAdapter_RestartDismissesPreviousSessionOnce(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	first := runningState("s1", clock.Now().UnixMilli(), 12)
	a.Observe(first)

	clock.Advance(time.Second)
	a.BeginPending()
	a.Observe(terminal(first, pacer.StatusAborted))
	assert.Equal(t, PhasePendingStart, a.Phase(), "still waiting for the new session")

	second := runningState("s2", clock.Now().UnixMilli(), 0)
	a.Observe(second)
	assert.Equal(t, PhaseRunning, a.Phase())

	a.Observe(terminal(second, pacer.StatusCompleted))
	assert.Equal(t, []string{"s1", "s2"}, presenter.dismissals())
}

func TestAdapter_SessionFinishedBeforeFirstActiveSnapshot(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	a.BeginPending()

	quick := terminal(runningState("s1", clock.Now().UnixMilli(), 1), pacer.StatusCompleted)
	a.Observe(quick)
	assert.Equal(t, PhaseNone, a.Phase())
	assert.Equal(t, []string{"s1"}, presenter.dismissals())
}

func TestAdapter_OldTerminalSnapshotDoesNotEndPending(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	old := terminal(runningState("old", clock.Now().Add(-time.Hour).UnixMilli(), 60), pacer.StatusCompleted)

	a.BeginPending()
	a.Observe(old)
	assert.Equal(t, PhasePendingStart, a.Phase())
	assert.Empty(t, presenter.dismissals())
}

func TestAdapter_IdleAfterRunningDismisses(t *testing.T) {
	a, presenter, clock := newTestAdapter()
	a.Observe(runningState("s1", clock.Now().UnixMilli(), 3))
	a.Observe(pacer.SessionState{})
	assert.Equal(t, []string{"s1"}, presenter.dismissals())
}

type eventSource struct {
	event *events.ChannelEvent[pacer.SessionState]
}

func (s eventSource) Listen(ch chan pacer.SessionState) func() { return s.event.Listen(ch) }

func TestAdapter_Run(t *testing.T) {
	presenter := &recordingPresenter{}
	a := NewAdapter(AdapterArg{Presenter: presenter, Logger: log.New(io.Discard, "", 0), PendingTimeout: 40 * time.Millisecond})
	source := eventSource{event: events.NewChannelEvent[pacer.SessionState](true)}
	source.event.Notify(runningState("s1", time.Now().UnixMilli(), 5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx, source)
	}()

	require.Eventually(t, func() bool { return a.Phase() == PhaseRunning }, time.Second, time.Millisecond)
	source.event.Notify(terminal(runningState("s1", time.Now().UnixMilli(), 5), pacer.StatusAborted))
	require.Eventually(t, func() bool { return len(presenter.dismissals()) == 1 }, time.Second, time.Millisecond)

	a.BeginPending()
	require.Eventually(t, func() bool { return a.Phase() == PhaseNone }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "0:00", FormatClock(-4))
	assert.Equal(t, "1:05", FormatClock(65))
	assert.Equal(t, "1:00:01", FormatClock(3601))
}

func TestLogPresenter(t *testing.T) {
	var buf bytes.Buffer
	p := &LogPresenter{Logger: log.New(&buf, "", 0)}

	n := Notice{Phase: PhaseRunning, Title: "4.0 mph", Detail: "Next 6.0 in 0:10", ElapsedSec: 1}
	p.Show(n)
	n.Detail, n.ElapsedSec = "Next 6.0 in 0:09", 2
	p.Show(n)
	p.Dismiss("s1")

	assert.Equal(t, "Notice: [running] 4.0 mph (0:01)\nNotice: dismissed \"s1\"\n", buf.String())
}
