package audio

import (
	"context"
	"sync"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// LocalFocus arbitrates transient audio focus between producers in this
// process. A request is granted when nobody holds focus, delayed while a
// transient holder plays, and denied while an exclusive hold is in place.
type LocalFocus struct {
	mu        sync.Mutex
	holder    *pacer.FocusUsage
	exclusive int
}

var _ pacer.FocusManager = (*LocalFocus)(nil)

func NewLocalFocus() *LocalFocus {
	return &LocalFocus{}
}

func (f *LocalFocus) Request(ctx context.Context, usage pacer.FocusUsage) (pacer.FocusResult, error) {
	if err := ctx.Err(); err != nil {
		return pacer.FocusDenied, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.exclusive > 0:
		return pacer.FocusDenied, nil
	case f.holder != nil:
		return pacer.FocusDelayed, nil
	}
	u := usage
	f.holder = &u
	return pacer.FocusGranted, nil
}

func (f *LocalFocus) Abandon(usage pacer.FocusUsage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder != nil && *f.holder == usage {
		f.holder = nil
	}
}

// HoldExclusive denies focus to cue playback until release is called, as
// when another program owns the speakers. release is idempotent.
func (f *LocalFocus) HoldExclusive() (release func()) {
	f.mu.Lock()
	f.exclusive++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.exclusive--
			f.mu.Unlock()
		})
	}
}
