package ui

import (
	"bytes"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/treadmill-pacer/internal/app"
	"github.com/lowaak/treadmill-pacer/internal/foreground"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/treadmill"
	"github.com/lowaak/treadmill-pacer/internal/workout"
)

type controlCall struct {
	sessionID string
	cmd       app.Command
}

type fakeSessions struct {
	mu         sync.Mutex
	started    [][]pacer.Segment
	preChanges []int
	controls   []controlCall
	voice      []bool
	startErr   error
	controlErr error
}

func (f *fakeSessions) Start(segments []pacer.Segment, preChangeSeconds int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, segments)
	f.preChanges = append(f.preChanges, preChangeSeconds)
	return "s1", nil
}

func (f *fakeSessions) Control(sessionID string, cmd app.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, controlCall{sessionID, cmd})
	return f.controlErr
}

func (f *fakeSessions) Listen(ch chan pacer.SessionState) func() { return func() {} }

func (f *fakeSessions) SetVoiceEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = append(f.voice, enabled)
}

func newTestDashboard(t *testing.T) (*Dashboard, *fakeSessions, *bytes.Buffer) {
	t.Helper()
	sessions := &fakeSessions{}
	var buf bytes.Buffer
	d := NewDashboard(DashboardArg{
		App:          tview.NewApplication(),
		Sessions:     sessions,
		Workouts:     workout.BuiltinWorkouts,
		Units:        pacer.UnitsMPH,
		VoiceEnabled: true,
		Logger:       log.New(&buf, "", 0),
	})
	t.Cleanup(d.cancel)
	return d, sessions, &buf
}

func runeKey(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "20 min", formatDuration(20*time.Minute))
	assert.Equal(t, "1m 30s", formatDuration(90*time.Second))
	assert.Equal(t, "1h 15m", formatDuration(75*time.Minute))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", progressBar(5, 10, 10))
	assert.Equal(t, "██████████", progressBar(12, 10, 10))
	assert.Equal(t, "░░░░", progressBar(1, 0, 4))
}

func TestSessionText(t *testing.T) {
	assert.Contains(t, sessionText(pacer.SessionState{}), "No workout running")

	upcoming := 6.0
	state := pacer.SessionState{
		Active:           true,
		IsPaused:         true,
		ElapsedSec:       65,
		CurrentSegment:   0,
		NextChangeInSec:  55,
		Speed:            4,
		UpcomingSpeed:    &upcoming,
		Segments:         []pacer.Segment{{Speed: 4, Seconds: 120}, {Speed: 6, Seconds: 60}},
		TotalDurationSec: 180,
		RemainingSec:     115,
		Units:            pacer.UnitsMPH,
	}
	text := sessionText(state)
	assert.Contains(t, text, "PAUSED")
	assert.Contains(t, text, "4.0")
	assert.Contains(t, text, "1 of 2")
	assert.Contains(t, text, "6.0 mph in [yellow]0:55")
	assert.Contains(t, text, "1:05")

	state.Active = false
	state.Terminal = pacer.StatusCompleted
	assert.Contains(t, sessionText(state), "Workout complete")
	state.Terminal = pacer.StatusAborted
	assert.Contains(t, sessionText(state), "Time run: 1:05 of 3:00")
}

func TestPlanText(t *testing.T) {
	assert.Empty(t, planText(pacer.SessionState{}))

	state := pacer.SessionState{
		Active:         true,
		CurrentSegment: 1,
		Segments:       []pacer.Segment{{Speed: 4, Seconds: 60}, {Speed: 6, Seconds: 30}, {Speed: 3, Seconds: 90}},
		Units:          pacer.UnitsKMH,
	}
	text := planText(state)
	assert.Contains(t, text, "[gray]   1.   4.0 kmh for 1:00[white]")
	assert.Contains(t, text, "[yellow]   2.   6.0 kmh for 0:30 ◀[white]")
	assert.Contains(t, text, "   3.   3.0 kmh for 1:30\n")
}

func TestWorkoutDetailsText(t *testing.T) {
	assert.Contains(t, workoutDetailsText(nil, pacer.UnitsMPH), "Select a workout")

	w := workout.Workout{
		Name:   "Short",
		Units:  pacer.UnitsKMH,
		Blocks: []workout.Block{{Speed: 16.09344, Duration: 2 * time.Minute}},
	}
	text := workoutDetailsText(&w, pacer.UnitsMPH)
	assert.Contains(t, text, "Short")
	assert.Contains(t, text, "2 min")
	assert.Contains(t, text, "1. 10.0 mph for 2:00")
}

func TestTreadmillText(t *testing.T) {
	assert.Contains(t, treadmillText(nil, pacer.UnitsMPH), "No treadmill connected")

	data := treadmill.TreadmillData{
		HasSpeed:       true,
		SpeedKMH:       16.09344,
		HasDistance:    true,
		DistanceMeters: 1500,
		HasHeartRate:   true,
		HeartRate:      142,
	}
	text := treadmillText(&data, pacer.UnitsMPH)
	assert.Contains(t, text, "10.0[white] mph")
	assert.Contains(t, text, "1.50 km")
	assert.Contains(t, text, "142")
	assert.NotContains(t, text, "Incline")
}

func TestNoticeText(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Empty(t, noticeText(foreground.Notice{}, now))
	assert.Contains(t, noticeText(foreground.Notice{Phase: foreground.PhasePendingStart, Title: "Starting workout..."}, now), "Starting workout...")

	running := foreground.Notice{
		SessionID:       "s1",
		Phase:           foreground.PhaseRunning,
		Title:           "4.0 mph - segment 1 of 2",
		Detail:          "Next 6.0 in 0:55",
		ElapsedSec:      10,
		ChronometerBase: now.Add(-65 * time.Second),
	}
	assert.Contains(t, noticeText(running, now), "1:05")

	running.Paused = true
	assert.Contains(t, noticeText(running, now), "0:10")
}

func TestNewDashboard_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "Dashboard: logger cannot be nil", func() {
		NewDashboard(DashboardArg{App: tview.NewApplication(), Sessions: &fakeSessions{}})
	})
	assert.PanicsWithValue(t, "Dashboard: sessions cannot be nil", func() {
		NewDashboard(DashboardArg{App: tview.NewApplication(), Logger: log.New(&bytes.Buffer{}, "", 0)})
	})
}

func TestDashboard_HandleKey_Commands(t *testing.T) {
	d, sessions, _ := newTestDashboard(t)

	assert.Nil(t, d.handleKey(runeKey(' ')))
	assert.Nil(t, d.handleKey(runeKey('s')))
	assert.Nil(t, d.handleKey(runeKey('X')))

	d.renderSession(pacer.SessionState{Active: true, SessionID: "s7"})
	assert.Nil(t, d.handleKey(runeKey('x')))

	assert.Equal(t, []controlCall{
		{"", app.CommandToggle},
		{"", app.CommandSkip},
		{"", app.CommandStop},
		{"s7", app.CommandStop},
	}, sessions.controls)

	// a finished session no longer targets its ID
	d.renderSession(pacer.SessionState{SessionID: "s7", Terminal: pacer.StatusAborted})
	d.handleKey(runeKey(' '))
	assert.Equal(t, controlCall{"", app.CommandToggle}, sessions.controls[len(sessions.controls)-1])
}

func TestDashboard_HandleKey_NoActiveSession(t *testing.T) {
	d, sessions, buf := newTestDashboard(t)
	sessions.controlErr = app.ErrNoActiveSession

	d.handleKey(runeKey('s'))
	assert.Contains(t, buf.String(), "UI: No workout running")

	sessions.controlErr = errors.New("boom")
	d.handleKey(runeKey('s'))
	assert.Contains(t, buf.String(), "UI: skip failed: boom")
}

func TestDashboard_HandleKey_Voice(t *testing.T) {
	d, sessions, buf := newTestDashboard(t)

	d.handleKey(runeKey('v'))
	d.handleKey(runeKey('V'))
	assert.Equal(t, []bool{false, true}, sessions.voice)
	assert.Contains(t, buf.String(), "UI: Voice cues off")
}

func TestDashboard_HandleKey_Pages(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	require.Equal(t, pageWorkoutSelection, d.page())

	assert.Nil(t, d.handleKey(runeKey('2')))
	assert.Equal(t, pageDashboard, d.page())
	name, _ := d.pages.GetFrontPage()
	assert.Equal(t, pageDashboard, name)

	// Tab only cycles focus on the selection page
	tab := tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
	assert.Same(t, tab, d.handleKey(tab))

	assert.Nil(t, d.handleKey(runeKey('1')))
	assert.Equal(t, pageWorkoutSelection, d.page())
	assert.True(t, d.workoutList.HasFocus())

	assert.Nil(t, d.handleKey(tab))
	assert.True(t, d.workoutDetails.HasFocus())
	assert.Nil(t, d.handleKey(tab))
	assert.True(t, d.workoutList.HasFocus())
}

func TestDashboard_HandleKey_PassThrough(t *testing.T) {
	d, sessions, _ := newTestDashboard(t)

	key := runeKey('j')
	assert.Same(t, key, d.handleKey(key))
	enter := tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)
	assert.Same(t, enter, d.handleKey(enter))
	assert.Empty(t, sessions.controls)
}

func TestDashboard_HandleKey_Escape(t *testing.T) {
	d, _, buf := newTestDashboard(t)

	assert.Nil(t, d.handleKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
	assert.Contains(t, buf.String(), "UI: Quit requested")
	assert.Error(t, d.ctx.Err())
}

func TestDashboard_StartWorkout(t *testing.T) {
	d, sessions, _ := newTestDashboard(t)

	d.startWorkout(len(workout.BuiltinWorkouts))
	assert.Empty(t, sessions.started)

	d.startWorkout(0)
	require.Len(t, sessions.started, 1)
	assert.Equal(t, workout.BuiltinWorkouts[0].Segments(pacer.UnitsMPH), sessions.started[0])
	assert.Equal(t, []int{-1}, sessions.preChanges)
	assert.Equal(t, pageDashboard, d.page())
}

func TestDashboard_StartWorkout_Error(t *testing.T) {
	d, sessions, buf := newTestDashboard(t)
	sessions.startErr = pacer.ErrEmptyPlan

	d.startWorkout(1)
	assert.Contains(t, buf.String(), "UI: Could not start")
	assert.Equal(t, pageWorkoutSelection, d.page())
}

func TestStatusLine_Dismiss(t *testing.T) {
	s := NewStatusLine()
	notice := func() foreground.Notice {
		n, _ := s.Snapshot(time.Now())
		return n
	}

	s.Show(foreground.Notice{Phase: foreground.PhasePendingStart, Title: "Starting workout..."})
	s.Dismiss("old")
	assert.Equal(t, foreground.PhasePendingStart, notice().Phase)
	s.Dismiss("")
	assert.Equal(t, foreground.PhaseNone, notice().Phase)

	s.Show(foreground.Notice{SessionID: "s1", Phase: foreground.PhaseRunning})
	s.Dismiss("")
	s.Dismiss("s2")
	assert.Equal(t, "s1", notice().SessionID)
	s.Dismiss("s1")
	assert.Equal(t, foreground.Notice{}, notice())
}

func TestStatusLine_DirtyNeverBlocks(t *testing.T) {
	s := NewStatusLine()
	for i := 0; i < 5; i++ {
		s.Show(foreground.Notice{Phase: foreground.PhaseRunning, ElapsedSec: i})
	}
	assert.Len(t, s.Dirty(), 1)
	<-s.Dirty()
	assert.Len(t, s.Dirty(), 0)
}

func TestStatusLine_Pulse(t *testing.T) {
	s := NewStatusLine()
	now := time.Now()

	_, pulsing := s.Snapshot(now)
	assert.False(t, pulsing)

	s.Pulse(pacer.Cue{Kind: pacer.CueChangeNow})
	_, pulsing = s.Snapshot(now)
	assert.True(t, pulsing)
	_, pulsing = s.Snapshot(now.Add(time.Second))
	assert.False(t, pulsing)
	_, pulsing = s.Snapshot(now)
	assert.False(t, pulsing)
}
