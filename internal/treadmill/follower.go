package treadmill

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// ControlPoint writes FTMS Control Point commands to a treadmill.
type ControlPoint interface {
	Write(data []byte) error
}

// StateSource publishes session snapshots.
type StateSource interface {
	Listen(ch chan pacer.SessionState) func()
}

// SpeedFollower keeps a treadmill's target speed in step with the session:
// it takes control and starts the belt when a session starts, sets the target
// speed on every segment change, pauses and resumes with the session, and
// stops the belt when the session ends.
type SpeedFollower struct {
	cp     ControlPoint
	logger *log.Logger

	mu        sync.Mutex
	sessionID string
	started   bool
	paused    bool
	stopped   bool
	hasSpeed  bool
	lastSpeed float64
}

func NewSpeedFollower(cp ControlPoint, logger *log.Logger) *SpeedFollower {
	if cp == nil {
		panic("SpeedFollower: control point cannot be nil")
	}
	if logger == nil {
		panic("SpeedFollower: logger cannot be nil")
	}
	return &SpeedFollower{cp: cp, logger: logger}
}

// Run applies every snapshot from source until ctx is done.
func (f *SpeedFollower) Run(ctx context.Context, source StateSource) {
	ch := make(chan pacer.SessionState, 8)
	unregister := source.Listen(ch)
	defer unregister()

	f.logger.Printf("SpeedFollower: Following session state")
	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("SpeedFollower: Stopped following")
			return
		case state := <-ch:
			if err := f.Apply(state); err != nil {
				f.logger.Printf("SpeedFollower: %v", err)
			}
		}
	}
}

// Apply sends whatever commands bring the treadmill in line with state.
// Commands that fail are retried on the next snapshot.
func (f *SpeedFollower) Apply(state pacer.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !state.Active {
		if f.sessionID == "" || f.sessionID != state.SessionID || f.stopped {
			return nil
		}
		if err := f.write("stop", EncodeStop()); err != nil {
			return err
		}
		f.stopped = true
		return nil
	}

	if state.SessionID != f.sessionID {
		f.sessionID = state.SessionID
		f.started = false
		f.paused = false
		f.stopped = false
		f.hasSpeed = false
	}

	if !f.started {
		if err := f.write("request control", EncodeRequestControl()); err != nil {
			return err
		}
		if err := f.write("start", EncodeStartOrResume()); err != nil {
			return err
		}
		f.started = true
	}

	if state.IsPaused {
		if f.paused {
			return nil
		}
		if err := f.write("pause", EncodePause()); err != nil {
			return err
		}
		f.paused = true
		return nil
	}
	if f.paused {
		if err := f.write("resume", EncodeStartOrResume()); err != nil {
			return err
		}
		f.paused = false
		f.hasSpeed = false
	}

	if f.hasSpeed && f.lastSpeed == state.Speed {
		return nil
	}
	data, err := EncodeSetTargetSpeed(state.Speed, state.Units)
	if err != nil {
		return err
	}
	if err := f.write(fmt.Sprintf("set speed %.2f %s", state.Speed, state.Units), data); err != nil {
		return err
	}
	f.hasSpeed = true
	f.lastSpeed = state.Speed
	return nil
}

func (f *SpeedFollower) write(what string, data []byte) error {
	if err := f.cp.Write(data); err != nil {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	f.logger.Printf("SpeedFollower: %s (% X)", what, data)
	return nil
}
