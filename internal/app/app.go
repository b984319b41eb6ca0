package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/treadmill-pacer/internal/audio"
	"github.com/lowaak/treadmill-pacer/internal/config"
	"github.com/lowaak/treadmill-pacer/internal/events"
	"github.com/lowaak/treadmill-pacer/internal/foreground"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/safego"
	"github.com/lowaak/treadmill-pacer/internal/store"
	"github.com/lowaak/treadmill-pacer/internal/treadmill"
	"github.com/lowaak/treadmill-pacer/internal/workout"
)

// Options are the process-specific pieces of an App.
type Options struct {
	// Presenter shows the session indicator. Defaults to log lines.
	Presenter foreground.Presenter
	// BeepOut receives terminal bells. Defaults to standard error.
	BeepOut io.Writer
	// Speaker overrides the configured speech output.
	Speaker audio.Speaker
}

// App wires the pacer components for one process.
type App struct {
	Config     config.Config
	Logger     *log.Logger
	Store      *store.Store
	Library    *workout.Library
	Mixer      *audio.Mixer
	Focus      *audio.LocalFocus
	Foreground *foreground.Adapter
	Controller *Controller

	pulseEvent *events.CallbackEvent[pacer.Cue]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	treadmillMu sync.Mutex
	treadmill   *treadmill.BLETreadmill

	releaseFocus func()
}

// New opens the session store, loads the workout library and builds the
// controller. Close releases everything.
func New(cfg config.Config, logger *log.Logger, opts Options) (*App, error) {
	if logger == nil {
		panic("App: logger cannot be nil")
	}

	st, err := store.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	library := workout.NewLibrary(logger)
	if cfg.PlansDir != "" {
		if err := library.LoadDir(cfg.PlansDir); err != nil {
			logger.Printf("App: Could not load plans from %s: %v", cfg.PlansDir, err)
		}
	}

	presenter := opts.Presenter
	if presenter == nil {
		presenter = &foreground.LogPresenter{Logger: logger}
	}
	beepOut := opts.BeepOut
	if beepOut == nil {
		beepOut = os.Stderr
	}
	speaker := opts.Speaker
	if speaker == nil {
		speaker = newSpeaker(cfg.SpeechCommand, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Library: library,
		Mixer:   audio.NewMixer(cfg.Volume),
		Focus:   audio.NewLocalFocus(),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.pulseEvent = events.NewCallbackEvent[pacer.Cue](false, func(err error) {
		logger.Printf("App: Pulse listener failed: %v", err)
	})

	a.Foreground = foreground.NewAdapter(foreground.AdapterArg{
		Presenter: presenter,
		Logger:    logger,
	})

	if cfg.SharedAudio {
		a.releaseFocus = a.Focus.HoldExclusive()
		logger.Println("App: Sharing the speakers, cues will be ducked")
	}

	sink := audio.NewCueSink(audio.SinkOptions{
		BeepEnabled:  cfg.BeepEnabled,
		PulseEnabled: cfg.HapticsEnabled,
		Speaker:      speaker,
		BeepOut:      beepOut,
		Mixer:        a.Mixer,
		Pulse:        a.pulseEvent.Notify,
	})
	coordinator := pacer.NewDuckingCoordinator(pacer.DuckingCoordinatorArg{
		Focus:     a.Focus,
		Ducker:    a.Mixer,
		Logger:    logger,
		CueBudget: cfg.CueBudget,
	})
	a.Controller = NewController(ControllerArg{
		Scheduler: pacer.SchedulerArg{
			Sink:         sink,
			Coordinator:  coordinator,
			TickInterval: cfg.TickInterval,
		},
		Logger:           logger,
		Store:            st,
		Pending:          a.Foreground,
		VoiceEnabled:     cfg.VoiceEnabled,
		Units:            cfg.Units,
		PreChangeSeconds: cfg.PreChangeSeconds,
	})

	if _, _, err := a.Controller.RecoverOrphan(ctx); err != nil {
		logger.Printf("App: Orphan recovery failed: %v", err)
	}

	a.wg.Add(1)
	safego.Go(logger, func() {
		defer a.wg.Done()
		a.Foreground.Run(a.ctx, a.Controller)
	})
	return a, nil
}

func newSpeaker(command string, logger *log.Logger) audio.Speaker {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return audio.LogSpeaker{Logger: logger}
	}
	return audio.CommandSpeaker{Command: fields[0], Args: fields[1:]}
}

// ListenPulses registers callback for cues routed to the visual pulse.
func (a *App) ListenPulses(callback func(pacer.Cue)) func() {
	return a.pulseEvent.Listen(callback)
}

// ResolvePlan finds a plan by library name, or parses an inline plan such as
// "4x2m,6x1m".
func (a *App) ResolvePlan(name string) (workout.Workout, error) {
	w, err := a.Library.Get(name)
	if err == nil || !strings.Contains(name, "x") {
		return w, err
	}
	return workout.ParseInline("Custom", a.Config.Units, name)
}

// Workouts lists the plan library.
func (a *App) Workouts() []workout.Workout {
	return a.Library.All()
}

// StartWorkout starts w converted to the configured units.
func (a *App) StartWorkout(w workout.Workout) (string, error) {
	a.Logger.Printf("App: Starting %s (%v)", w.Name, w.TotalDuration())
	return a.Controller.Start(w.Segments(a.Config.Units), -1)
}

// ConnectTreadmill connects to the configured FTMS treadmill and makes it
// follow the session until the App is closed.
func (a *App) ConnectTreadmill(ctx context.Context) (*treadmill.BLETreadmill, error) {
	connector := treadmill.NewBLEConnector(bluetooth.DefaultAdapter, a.Logger, a.Config.Treadmill.ScanTimeout)
	tm, err := connector.Connect(ctx, a.Config.Treadmill.Address)
	if err != nil {
		return nil, err
	}

	a.treadmillMu.Lock()
	a.treadmill = tm
	a.treadmillMu.Unlock()

	follower := treadmill.NewSpeedFollower(tm, a.Logger)
	a.wg.Add(1)
	safego.Go(a.Logger, func() {
		defer a.wg.Done()
		follower.Run(a.ctx, a.Controller)
	})
	return tm, nil
}

// Close stops any session and releases the store and treadmill.
func (a *App) Close() error {
	a.Controller.Close()
	a.cancel()
	a.wg.Wait()
	if a.releaseFocus != nil {
		a.releaseFocus()
	}

	a.treadmillMu.Lock()
	tm := a.treadmill
	a.treadmill = nil
	a.treadmillMu.Unlock()
	if tm != nil {
		if err := tm.Close(); err != nil {
			a.Logger.Printf("App: Treadmill disconnect failed: %v", err)
		}
	}
	return a.Store.Close()
}
