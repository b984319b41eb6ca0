package pacer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lowaak/treadmill-pacer/internal/safego"
)

// ErrCueTimeout is returned when a cue could not start or finish within its budget.
var ErrCueTimeout = errors.New("cue exceeded its time budget")

// FocusResult is the answer of a FocusManager to a focus request.
type FocusResult int

const (
	FocusGranted FocusResult = iota
	FocusDelayed             // try again shortly
	FocusDenied
)

func (r FocusResult) String() string {
	switch r {
	case FocusGranted:
		return "granted"
	case FocusDelayed:
		return "delayed"
	default:
		return "denied"
	}
}

// FocusManager grants transient exclusive audio focus.
type FocusManager interface {
	Request(ctx context.Context, usage FocusUsage) (FocusResult, error)
	Abandon(usage FocusUsage)
}

// SoftDucker temporarily lowers the shared output volume. The returned
// function restores it and must be called exactly once.
type SoftDucker interface {
	Duck() (restore func())
}

const (
	DefaultMaxFocusRetries = 3
	DefaultFocusRetryDelay = 150 * time.Millisecond
	DefaultCueBudget       = 4 * time.Second
)

// DuckingCoordinatorArg holds the arguments for NewDuckingCoordinator.
// Focus and Ducker may be nil; zero durations take the defaults.
type DuckingCoordinatorArg struct {
	Focus           FocusManager
	Ducker          SoftDucker
	Logger          *log.Logger
	MaxFocusRetries int
	FocusRetryDelay time.Duration
	CueBudget       time.Duration
}

// DuckingCoordinator serializes cue playback process-wide and wraps each cue
// in audio focus, falling back to a soft duck when focus is not granted.
type DuckingCoordinator struct {
	gate            *semaphore.Weighted
	focus           FocusManager
	ducker          SoftDucker
	logger          *log.Logger
	maxFocusRetries int
	focusRetryDelay time.Duration
	cueBudget       time.Duration
}

func NewDuckingCoordinator(args DuckingCoordinatorArg) *DuckingCoordinator {
	if args.Logger == nil {
		panic("DuckingCoordinator: logger cannot be nil")
	}
	c := &DuckingCoordinator{
		gate:            semaphore.NewWeighted(1),
		focus:           args.Focus,
		ducker:          args.Ducker,
		logger:          args.Logger,
		maxFocusRetries: args.MaxFocusRetries,
		focusRetryDelay: args.FocusRetryDelay,
		cueBudget:       args.CueBudget,
	}
	if c.maxFocusRetries <= 0 {
		c.maxFocusRetries = DefaultMaxFocusRetries
	}
	if c.focusRetryDelay <= 0 {
		c.focusRetryDelay = DefaultFocusRetryDelay
	}
	if c.cueBudget <= 0 {
		c.cueBudget = DefaultCueBudget
	}
	return c
}

// WithFocus runs block while holding the cue gate and audio focus (or a soft
// duck). It returns within the cue budget even if block does not; block's
// context is cancelled at that point and focus is released once it returns.
func (c *DuckingCoordinator) WithFocus(ctx context.Context, usage FocusUsage, block func(ctx context.Context) error) error {
	budgetCtx, cancel := context.WithTimeout(ctx, c.cueBudget)

	if err := c.gate.Acquire(budgetCtx, 1); err != nil {
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: another cue is still playing", ErrCueTimeout)
	}

	done := make(chan error, 1)
	go func() {
		defer c.gate.Release(1)
		defer cancel()
		done <- c.play(budgetCtx, usage, block)
	}()

	select {
	case err := <-done:
		return err
	case <-budgetCtx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("DuckingCoordinator: %s cue still running after %v, moving on", usage, c.cueBudget)
		return ErrCueTimeout
	}
}

// play must be called with the gate held.
func (c *DuckingCoordinator) play(ctx context.Context, usage FocusUsage, block func(ctx context.Context) error) error {
	if c.acquireFocus(ctx, usage) {
		defer c.focus.Abandon(usage)
	} else if c.ducker != nil {
		restore := c.ducker.Duck()
		defer restore()
	}
	return safego.Call(func() error { return block(ctx) })
}

// acquireFocus returns true if focus is now held and must be abandoned.
func (c *DuckingCoordinator) acquireFocus(ctx context.Context, usage FocusUsage) bool {
	if c.focus == nil {
		return false
	}
	for attempt := 0; attempt <= c.maxFocusRetries; attempt++ {
		result, err := c.focus.Request(ctx, usage)
		if err != nil {
			c.logger.Printf("DuckingCoordinator: focus request failed: %v", err)
			return false
		}
		switch result {
		case FocusGranted:
			return true
		case FocusDenied:
			c.logger.Printf("DuckingCoordinator: %s focus denied, soft ducking", usage)
			return false
		}
		if attempt == c.maxFocusRetries {
			break
		}
		timer := time.NewTimer(c.focusRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	c.logger.Printf("DuckingCoordinator: %s focus still delayed after %d retries, soft ducking", usage, c.maxFocusRetries)
	return false
}
