package ui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/treadmill-pacer/internal/app"
	"github.com/lowaak/treadmill-pacer/internal/logging"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/safego"
	"github.com/lowaak/treadmill-pacer/internal/treadmill"
	"github.com/lowaak/treadmill-pacer/internal/workout"
)

// Page names for tview.Pages
const (
	pageWorkoutSelection = "workout_selection"
	pageDashboard        = "dashboard"
)

// Sessions is the part of the controller the dashboard drives.
type Sessions interface {
	Start(segments []pacer.Segment, preChangeSeconds int) (string, error)
	Control(sessionID string, cmd app.Command) error
	Listen(ch chan pacer.SessionState) func()
	SetVoiceEnabled(enabled bool)
}

// TreadmillSource publishes Treadmill Data notifications.
type TreadmillSource interface {
	ListenData(ch chan treadmill.TreadmillData) func()
}

// DashboardArg holds the arguments for NewDashboard.
type DashboardArg struct {
	App          *tview.Application
	Sessions     Sessions
	Workouts     []workout.Workout
	Units        pacer.Units
	VoiceEnabled bool
	Status       *StatusLine
	Tail         *logging.Tail
	Logger       *log.Logger
}

// Dashboard is the terminal UI: a workout picker, the running session and a
// log pane, with the StatusLine on top.
type Dashboard struct {
	app      *tview.Application
	sessions Sessions
	workouts []workout.Workout
	units    pacer.Units
	status   *StatusLine
	tail     *logging.Tail
	logger   *log.Logger

	pages             *tview.Pages
	mainFlex          *tview.Flex
	statusBar         *tview.TextView
	logView           *tview.TextView
	workoutList       *tview.List
	workoutDetails    *tview.TextView
	sessionPanel      *tview.TextView
	planPanel         *tview.TextView
	treadmillPanel    *tview.TextView
	workoutTabWidgets []tview.Primitive

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	currentPage  string
	sessionID    string
	voiceEnabled bool
}

func NewDashboard(args DashboardArg) *Dashboard {
	if args.Logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	if args.App == nil {
		panic("Dashboard: app cannot be nil")
	}
	if args.Sessions == nil {
		panic("Dashboard: sessions cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		app:          args.App,
		sessions:     args.Sessions,
		workouts:     args.Workouts,
		units:        args.Units,
		status:       args.Status,
		tail:         args.Tail,
		logger:       args.Logger,
		ctx:          ctx,
		cancel:       cancel,
		currentPage:  pageWorkoutSelection,
		voiceEnabled: args.VoiceEnabled,
	}
	if d.units == "" {
		d.units = pacer.UnitsMPH
	}
	if d.status == nil {
		d.status = NewStatusLine()
	}
	d.initWidgets()
	d.app.SetInputCapture(d.handleKey)
	return d
}

func (d *Dashboard) initWidgets() {
	// Don't use SetChangedFunc with app.Draw() on the log view; listeners
	// below queue their own redraws.
	d.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	d.logView.SetBorder(true).SetTitle(" Logs ")

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(helpText)

	d.statusBar = tview.NewTextView().SetDynamicColors(true)

	d.workoutList = tview.NewList().
		ShowSecondaryText(true).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			d.startWorkout(index)
		}).
		SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			d.workoutDetails.SetText(workoutDetailsText(d.workoutAt(index), d.units))
		})
	d.workoutList.SetBorder(true).SetTitle(" Workouts ")
	d.workoutDetails = tview.NewTextView().SetDynamicColors(true)
	d.workoutDetails.SetBorder(true).SetTitle(" Workout Details ")
	d.workoutDetails.SetText(workoutDetailsText(nil, d.units))
	for _, w := range d.workouts {
		d.workoutList.AddItem(w.Name, formatDuration(w.TotalDuration()), 0, nil)
	}
	if len(d.workouts) > 0 {
		d.workoutDetails.SetText(workoutDetailsText(&d.workouts[0], d.units))
	}
	d.workoutTabWidgets = []tview.Primitive{d.workoutList, d.workoutDetails}

	d.sessionPanel = tview.NewTextView().SetDynamicColors(true)
	d.sessionPanel.SetBorder(true).SetTitle(" Session ")
	d.sessionPanel.SetText(sessionText(pacer.SessionState{}))
	d.planPanel = tview.NewTextView().SetDynamicColors(true)
	d.planPanel.SetBorder(true).SetTitle(" Plan ")
	d.treadmillPanel = tview.NewTextView().SetDynamicColors(true)
	d.treadmillPanel.SetBorder(true).SetTitle(" Treadmill ")
	d.treadmillPanel.SetText(treadmillText(nil, d.units))

	workoutFlex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(d.workoutList, 0, 1, true).
		AddItem(d.workoutDetails, 0, 1, false)

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.sessionPanel, 0, 2, false).
		AddItem(d.treadmillPanel, 8, 0, false)
	dashboardFlex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(leftColumn, 0, 1, false).
		AddItem(d.planPanel, 0, 1, false)

	d.pages = tview.NewPages().
		AddPage(pageWorkoutSelection, workoutFlex, true, true).
		AddPage(pageDashboard, dashboardFlex, true, false)

	body := tview.NewFlex().
		AddItem(d.pages, 0, 1, true).
		AddItem(d.logView, 0, 1, false)

	d.mainFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(help, 1, 0, false).
		AddItem(d.statusBar, 1, 0, false).
		AddItem(body, 0, 1, true)
}

func (d *Dashboard) workoutAt(index int) *workout.Workout {
	if index < 0 || index >= len(d.workouts) {
		return nil
	}
	return &d.workouts[index]
}

// handleKey is the application input capture.
func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		d.logger.Println("UI: Quit requested")
		d.Stop()
		return nil
	case tcell.KeyTab:
		if d.page() == pageWorkoutSelection {
			d.cycleFocus()
			return nil
		}
		return event
	case tcell.KeyRune:
	default:
		return event
	}

	switch event.Rune() {
	case '1':
		d.switchTo(pageWorkoutSelection)
	case '2':
		d.switchTo(pageDashboard)
	case ' ':
		d.control(app.CommandToggle)
	case 's', 'S':
		d.control(app.CommandSkip)
	case 'x', 'X':
		d.control(app.CommandStop)
	case 'v', 'V':
		d.mu.Lock()
		d.voiceEnabled = !d.voiceEnabled
		enabled := d.voiceEnabled
		d.mu.Unlock()
		d.sessions.SetVoiceEnabled(enabled)
		d.logger.Printf("UI: Voice cues %s", onOff(enabled))
	default:
		return event
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (d *Dashboard) control(cmd app.Command) {
	d.mu.Lock()
	id := d.sessionID
	d.mu.Unlock()
	if err := d.sessions.Control(id, cmd); err != nil {
		if errors.Is(err, app.ErrNoActiveSession) {
			d.logger.Println("UI: No workout running - select one in Workout Selection (press 1)")
			return
		}
		d.logger.Printf("UI: %s failed: %v", cmd, err)
	}
}

func (d *Dashboard) startWorkout(index int) {
	w := d.workoutAt(index)
	if w == nil {
		d.logger.Printf("UI: Invalid workout index: %d", index)
		return
	}
	d.logger.Printf("UI: Workout selected: %s", w.Name)
	if _, err := d.sessions.Start(w.Segments(d.units), -1); err != nil {
		d.logger.Printf("UI: Could not start %s: %v", w.Name, err)
		return
	}
	d.switchTo(pageDashboard)
}

func (d *Dashboard) page() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPage
}

func (d *Dashboard) switchTo(page string) {
	d.mu.Lock()
	if d.currentPage == page {
		d.mu.Unlock()
		return
	}
	d.currentPage = page
	d.mu.Unlock()

	d.pages.SwitchToPage(page)
	if page == pageWorkoutSelection {
		d.app.SetFocus(d.workoutList)
	}
}

func (d *Dashboard) cycleFocus() {
	for i, w := range d.workoutTabWidgets {
		if w.HasFocus() {
			d.app.SetFocus(d.workoutTabWidgets[(i+1)%len(d.workoutTabWidgets)])
			return
		}
	}
	d.app.SetFocus(d.workoutTabWidgets[0])
}

func (d *Dashboard) renderStatus() {
	notice, pulsing := d.status.Snapshot(time.Now())
	d.statusBar.SetText(noticeText(notice, time.Now()))
	if pulsing {
		d.sessionPanel.SetBorderColor(tcell.ColorYellow)
	} else {
		d.sessionPanel.SetBorderColor(tview.Styles.BorderColor)
	}
}

func (d *Dashboard) renderSession(state pacer.SessionState) {
	d.mu.Lock()
	if state.Active {
		d.sessionID = state.SessionID
	} else {
		d.sessionID = ""
	}
	d.mu.Unlock()
	d.sessionPanel.SetText(sessionText(state))
	d.planPanel.SetText(planText(state))
}

func (d *Dashboard) renderLogs() {
	if d.tail == nil {
		return
	}
	_, _, _, height := d.logView.GetInnerRect()
	if height <= 0 {
		height = 50
	}
	d.logView.Clear()
	for _, line := range d.tail.Last(height) {
		fmt.Fprintln(d.logView, tview.Escape(line))
	}
}

// queueDraw runs f on the event loop and waits for it, or for the dashboard
// to stop. QueueUpdateDraw never returns once the event loop has exited.
func (d *Dashboard) queueDraw(f func()) {
	select {
	case <-d.ctx.Done():
		return
	default:
	}
	done := make(chan struct{})
	go func() {
		d.app.QueueUpdateDraw(f)
		close(done)
	}()
	select {
	case <-done:
	case <-d.ctx.Done():
	}
}

// AttachTreadmill shows live data from source until the dashboard stops.
func (d *Dashboard) AttachTreadmill(source TreadmillSource) {
	ch := make(chan treadmill.TreadmillData, 4)
	unregister := source.ListenData(ch)
	d.wg.Add(1)
	safego.Go(d.logger, func() {
		defer d.wg.Done()
		defer unregister()
		for {
			select {
			case <-d.ctx.Done():
				return
			case data := <-ch:
				d.queueDraw(func() { d.treadmillPanel.SetText(treadmillText(&data, d.units)) })
			}
		}
	})
}

func (d *Dashboard) startListeners() {
	states := make(chan pacer.SessionState, 4)
	unregisterStates := d.sessions.Listen(states)
	d.wg.Add(1)
	safego.Go(d.logger, func() {
		defer d.wg.Done()
		defer unregisterStates()
		for {
			select {
			case <-d.ctx.Done():
				return
			case state := <-states:
				d.queueDraw(func() { d.renderSession(state) })
			}
		}
	})

	if d.tail != nil {
		lines := make(chan string, 1)
		unregisterLines := d.tail.Listen(lines)
		d.wg.Add(1)
		safego.Go(d.logger, func() {
			defer d.wg.Done()
			defer unregisterLines()
			for {
				select {
				case <-d.ctx.Done():
					return
				case <-lines:
					d.queueDraw(d.renderLogs)
				}
			}
		})
	}

	// keeps the chronometer moving and ends border pulses
	d.wg.Add(1)
	safego.Go(d.logger, func() {
		defer d.wg.Done()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-d.status.Dirty():
			case <-ticker.C:
			}
			d.queueDraw(d.renderStatus)
		}
	})
}

// Run starts the UI and blocks until it exits.
func (d *Dashboard) Run() error {
	d.startListeners()
	// SetRoot must be called before setting focus, otherwise focus may be reset
	d.app.SetRoot(d.mainFlex, true)
	d.app.SetFocus(d.workoutList)
	err := d.app.Run()
	d.shutdown()
	return err
}

// Stop ends Run.
func (d *Dashboard) Stop() {
	d.cancel()
	d.app.Stop()
}

func (d *Dashboard) shutdown() {
	d.logger.Println("UI: Shutting down")
	d.cancel()
	d.wg.Wait()
	d.logger.Println("UI: Shutdown complete")
}
