package workout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// ErrPlanNotFound is returned when no workout has the requested name.
var ErrPlanNotFound = errors.New("workout not found")

const kmPerMile = 1.609344

// Block holds one speed for a duration.
type Block struct {
	Speed    float64       `yaml:"speed"`
	Duration time.Duration `yaml:"duration"`
}

// Workout is a named sequence of blocks. Speeds are in Units.
type Workout struct {
	Name   string      `yaml:"name"`
	Units  pacer.Units `yaml:"units"`
	Blocks []Block     `yaml:"blocks"`
}

// TotalDuration returns the total duration of all blocks in the workout
func (w *Workout) TotalDuration() time.Duration {
	var total time.Duration
	for _, block := range w.Blocks {
		total += block.Duration
	}
	return total
}

// Segments converts the blocks to scheduler segments with speeds in units.
// Durations are rounded to whole seconds.
func (w *Workout) Segments(units pacer.Units) []pacer.Segment {
	segments := make([]pacer.Segment, 0, len(w.Blocks))
	for _, block := range w.Blocks {
		segments = append(segments, pacer.Segment{
			Speed:   ConvertSpeed(block.Speed, w.Units, units),
			Seconds: int(block.Duration.Round(time.Second) / time.Second),
		})
	}
	return segments
}

// Validate reports the first problem that would make the workout unusable.
func (w *Workout) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("workout has no name")
	}
	switch w.Units {
	case pacer.UnitsMPH, pacer.UnitsKMH:
	default:
		return fmt.Errorf("workout %q: unknown units %q", w.Name, w.Units)
	}
	if len(w.Blocks) == 0 {
		return fmt.Errorf("workout %q has no blocks", w.Name)
	}
	for i, block := range w.Blocks {
		if block.Speed < 0 {
			return fmt.Errorf("workout %q block %d: negative speed", w.Name, i+1)
		}
		if block.Duration < time.Second {
			return fmt.Errorf("workout %q block %d: duration under one second", w.Name, i+1)
		}
	}
	return nil
}

// ConvertSpeed converts speed between units, rounded to 0.01.
func ConvertSpeed(speed float64, from, to pacer.Units) float64 {
	if from == to || from == "" || to == "" {
		return speed
	}
	var out float64
	switch {
	case from == pacer.UnitsMPH && to == pacer.UnitsKMH:
		out = speed * kmPerMile
	case from == pacer.UnitsKMH && to == pacer.UnitsMPH:
		out = speed / kmPerMile
	default:
		return speed
	}
	return math.Round(out*100) / 100
}

// ParseInline parses an ad-hoc plan like "3.0x5m,6.5x30s,3.0x90".
// Each comma-separated item is speed "x" duration; a bare number is seconds.
func ParseInline(name string, units pacer.Units, plan string) (Workout, error) {
	w := Workout{Name: name, Units: units}
	for _, item := range strings.Split(plan, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		speedStr, durStr, ok := strings.Cut(item, "x")
		if !ok {
			return Workout{}, fmt.Errorf("plan item %q: expected speed x duration", item)
		}
		speed, err := strconv.ParseFloat(strings.TrimSpace(speedStr), 64)
		if err != nil {
			return Workout{}, fmt.Errorf("plan item %q: bad speed: %w", item, err)
		}
		dur, err := parseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return Workout{}, fmt.Errorf("plan item %q: bad duration: %w", item, err)
		}
		w.Blocks = append(w.Blocks, Block{Speed: speed, Duration: dur})
	}
	if err := w.Validate(); err != nil {
		return Workout{}, err
	}
	return w, nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
