package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// Speaker turns text into speech.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// LogSpeaker "speaks" by logging the text. Used when no speech command is configured.
type LogSpeaker struct {
	Logger *log.Logger
}

func (s LogSpeaker) Say(_ context.Context, text string) error {
	s.Logger.Printf("Voice: %s", text)
	return nil
}

// CommandSpeaker speaks through an external program such as say or espeak,
// passing the text as the last argument.
type CommandSpeaker struct {
	Command string
	Args    []string
}

func (s CommandSpeaker) Say(ctx context.Context, text string) error {
	args := append(append([]string(nil), s.Args...), text)
	cmd := exec.CommandContext(ctx, s.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", s.Command, err, out)
	}
	return nil
}

// SpeechSink speaks announcements while the cue says narration is on. Ticks
// are left to the beep sink.
type SpeechSink struct {
	speaker Speaker
	mixer   *Mixer
}

var _ pacer.CueSink = (*SpeechSink)(nil)

func NewSpeechSink(speaker Speaker, mixer *Mixer) *SpeechSink {
	if speaker == nil {
		panic("SpeechSink: speaker cannot be nil")
	}
	return &SpeechSink{speaker: speaker, mixer: mixer}
}

func (s *SpeechSink) say(ctx context.Context, cue pacer.Cue) error {
	if !cue.VoiceEnabled {
		return nil
	}
	if s.mixer != nil && s.mixer.Volume() == 0 {
		return nil
	}
	return s.speaker.Say(ctx, Announcement(cue))
}

func (s *SpeechSink) AnnounceCountdown(ctx context.Context, cue pacer.Cue) error { return s.say(ctx, cue) }
func (s *SpeechSink) AnnouncePreChange(ctx context.Context, cue pacer.Cue) error { return s.say(ctx, cue) }
func (s *SpeechSink) AnnounceChangeNow(ctx context.Context, cue pacer.Cue) error { return s.say(ctx, cue) }
func (s *SpeechSink) AnnounceFinish(ctx context.Context, cue pacer.Cue) error    { return s.say(ctx, cue) }
func (s *SpeechSink) Tick(context.Context, pacer.Cue) error                      { return nil }

// DefaultBeepGap is the pause between beeps of one pattern.
const DefaultBeepGap = 180 * time.Millisecond

// BeepSink rings the terminal bell in a short pattern per cue kind.
type BeepSink struct {
	out   io.Writer
	mixer *Mixer
	gap   time.Duration

	mu sync.Mutex
}

var _ pacer.CueSink = (*BeepSink)(nil)

func NewBeepSink(out io.Writer, mixer *Mixer, gap time.Duration) *BeepSink {
	if out == nil {
		panic("BeepSink: writer cannot be nil")
	}
	if gap <= 0 {
		gap = DefaultBeepGap
	}
	return &BeepSink{out: out, mixer: mixer, gap: gap}
}

// BeepCount is the number of beeps played for kind.
func BeepCount(kind pacer.CueKind) int {
	switch kind {
	case pacer.CueCountdown, pacer.CueFinish:
		return 3
	case pacer.CuePreChange:
		return 2
	default:
		return 1
	}
}

func (s *BeepSink) beep(ctx context.Context, kind pacer.CueKind) error {
	if s.mixer != nil && s.mixer.Volume() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := BeepCount(kind)
	for i := 0; i < n; i++ {
		if _, err := io.WriteString(s.out, "\a"); err != nil {
			return fmt.Errorf("beep: %w", err)
		}
		if i == n-1 {
			break
		}
		timer := time.NewTimer(s.gap)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (s *BeepSink) AnnounceCountdown(ctx context.Context, cue pacer.Cue) error {
	return s.beep(ctx, cue.Kind)
}
func (s *BeepSink) AnnouncePreChange(ctx context.Context, cue pacer.Cue) error {
	return s.beep(ctx, cue.Kind)
}
func (s *BeepSink) AnnounceChangeNow(ctx context.Context, cue pacer.Cue) error {
	return s.beep(ctx, cue.Kind)
}
func (s *BeepSink) AnnounceFinish(ctx context.Context, cue pacer.Cue) error {
	return s.beep(ctx, cue.Kind)
}
func (s *BeepSink) Tick(ctx context.Context, cue pacer.Cue) error {
	return s.beep(ctx, cue.Kind)
}

// PulseSink forwards every cue to a visual pulse, the desktop stand-in for a
// haptic buzz.
type PulseSink struct {
	pulse func(pacer.Cue)
}

var _ pacer.CueSink = PulseSink{}

func NewPulseSink(pulse func(pacer.Cue)) PulseSink {
	if pulse == nil {
		panic("PulseSink: pulse cannot be nil")
	}
	return PulseSink{pulse: pulse}
}

func (s PulseSink) fire(cue pacer.Cue) error {
	s.pulse(cue)
	return nil
}

func (s PulseSink) AnnounceCountdown(_ context.Context, cue pacer.Cue) error { return s.fire(cue) }
func (s PulseSink) AnnouncePreChange(_ context.Context, cue pacer.Cue) error { return s.fire(cue) }
func (s PulseSink) AnnounceChangeNow(_ context.Context, cue pacer.Cue) error { return s.fire(cue) }
func (s PulseSink) AnnounceFinish(_ context.Context, cue pacer.Cue) error    { return s.fire(cue) }
func (s PulseSink) Tick(_ context.Context, cue pacer.Cue) error              { return s.fire(cue) }

// MultiSink plays each cue on every sink in order. One sink failing does not
// stop the others; the errors are joined.
type MultiSink []pacer.CueSink

var _ pacer.CueSink = MultiSink(nil)

func (m MultiSink) each(fn func(pacer.CueSink) error) error {
	var errs []error
	for _, sink := range m {
		if err := fn(sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) AnnounceCountdown(ctx context.Context, cue pacer.Cue) error {
	return m.each(func(s pacer.CueSink) error { return s.AnnounceCountdown(ctx, cue) })
}
func (m MultiSink) AnnouncePreChange(ctx context.Context, cue pacer.Cue) error {
	return m.each(func(s pacer.CueSink) error { return s.AnnouncePreChange(ctx, cue) })
}
func (m MultiSink) AnnounceChangeNow(ctx context.Context, cue pacer.Cue) error {
	return m.each(func(s pacer.CueSink) error { return s.AnnounceChangeNow(ctx, cue) })
}
func (m MultiSink) AnnounceFinish(ctx context.Context, cue pacer.Cue) error {
	return m.each(func(s pacer.CueSink) error { return s.AnnounceFinish(ctx, cue) })
}
func (m MultiSink) Tick(ctx context.Context, cue pacer.Cue) error {
	return m.each(func(s pacer.CueSink) error { return s.Tick(ctx, cue) })
}

// SinkOptions selects the cue outputs. Speech is built whenever a Speaker is
// given and follows the narration setting carried by each cue.
type SinkOptions struct {
	BeepEnabled  bool
	PulseEnabled bool

	Speaker Speaker
	BeepOut io.Writer
	Mixer   *Mixer
	Pulse   func(pacer.Cue)
}

// NewCueSink builds the sink for the enabled outputs. With nothing enabled
// every cue is dropped.
func NewCueSink(opts SinkOptions) pacer.CueSink {
	var sinks MultiSink
	if opts.BeepEnabled && opts.BeepOut != nil {
		sinks = append(sinks, NewBeepSink(opts.BeepOut, opts.Mixer, DefaultBeepGap))
	}
	if opts.Speaker != nil {
		sinks = append(sinks, NewSpeechSink(opts.Speaker, opts.Mixer))
	}
	if opts.PulseEnabled && opts.Pulse != nil {
		sinks = append(sinks, NewPulseSink(opts.Pulse))
	}
	switch len(sinks) {
	case 0:
		return pacer.NopSink{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}
