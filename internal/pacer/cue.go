package pacer

import (
	"context"
	"fmt"
)

// CueKind identifies the timing event a cue announces.
type CueKind int

const (
	CueCountdown CueKind = iota // Before the first tick
	CuePreChange                // nextChangeInSec reached the pre-change threshold
	CueChangeNow                // Segment boundary
	CueFinish                   // Plan completed
	CueTick                     // Low-key countdown tick for the last seconds
)

func (k CueKind) String() string {
	switch k {
	case CueCountdown:
		return "countdown"
	case CuePreChange:
		return "pre-change"
	case CueChangeNow:
		return "change-now"
	case CueFinish:
		return "finish"
	case CueTick:
		return "tick"
	default:
		return fmt.Sprintf("cue(%d)", int(k))
	}
}

// FocusUsage is the kind of transient audio focus a cue asks for.
type FocusUsage int

const (
	UsageSonification     FocusUsage = iota // beeps and ticks
	UsageSpeechNavigation                   // spoken announcements
)

func (u FocusUsage) String() string {
	if u == UsageSpeechNavigation {
		return "speech-navigation"
	}
	return "sonification"
}

// Usage returns the focus usage for a cue kind when voice narration is on.
func (k CueKind) Usage(voiceEnabled bool) FocusUsage {
	if k == CueTick || !voiceEnabled {
		return UsageSonification
	}
	return UsageSpeechNavigation
}

// Cue describes what to announce.
type Cue struct {
	Kind             CueKind
	SessionID        string
	SegmentIndex     int
	Speed            float64
	UpcomingSpeed    *float64
	SecondsRemaining int
	Units            Units
	// VoiceEnabled is the narration setting when the cue was played.
	VoiceEnabled bool
}

// CueSink plays cues. Each call may take noticeable wall-clock time and should
// return early when ctx is done.
type CueSink interface {
	AnnounceCountdown(ctx context.Context, cue Cue) error
	AnnouncePreChange(ctx context.Context, cue Cue) error
	AnnounceChangeNow(ctx context.Context, cue Cue) error
	AnnounceFinish(ctx context.Context, cue Cue) error
	Tick(ctx context.Context, cue Cue) error
}

// dispatchCue routes cue to the CueSink method for its kind.
func dispatchCue(ctx context.Context, sink CueSink, cue Cue) error {
	switch cue.Kind {
	case CueCountdown:
		return sink.AnnounceCountdown(ctx, cue)
	case CuePreChange:
		return sink.AnnouncePreChange(ctx, cue)
	case CueChangeNow:
		return sink.AnnounceChangeNow(ctx, cue)
	case CueFinish:
		return sink.AnnounceFinish(ctx, cue)
	case CueTick:
		return sink.Tick(ctx, cue)
	default:
		return fmt.Errorf("unknown cue kind %v", cue.Kind)
	}
}

// NopSink discards every cue.
type NopSink struct{}

var _ CueSink = NopSink{}

func (NopSink) AnnounceCountdown(context.Context, Cue) error { return nil }
func (NopSink) AnnouncePreChange(context.Context, Cue) error { return nil }
func (NopSink) AnnounceChangeNow(context.Context, Cue) error { return nil }
func (NopSink) AnnounceFinish(context.Context, Cue) error    { return nil }
func (NopSink) Tick(context.Context, Cue) error              { return nil }
