package audio

import (
	"fmt"
	"strings"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// Announcement returns the spoken text for cue. Ticks are spoken as the bare
// number of seconds left.
func Announcement(cue pacer.Cue) string {
	unit := unitName(cue.Units)
	switch cue.Kind {
	case pacer.CueCountdown:
		return fmt.Sprintf("Starting at %s %s. First change in %s.",
			formatSpeed(cue.Speed), unit, formatDuration(cue.SecondsRemaining))
	case pacer.CuePreChange:
		if cue.UpcomingSpeed == nil {
			return fmt.Sprintf("%s left.", capitalize(formatDuration(cue.SecondsRemaining)))
		}
		verb := "Change"
		switch {
		case *cue.UpcomingSpeed > cue.Speed:
			verb = "Speed up"
		case *cue.UpcomingSpeed < cue.Speed:
			verb = "Slow down"
		}
		return fmt.Sprintf("%s to %s %s in %s.", verb, formatSpeed(*cue.UpcomingSpeed), unit, formatDuration(cue.SecondsRemaining))
	case pacer.CueChangeNow:
		return fmt.Sprintf("Now %s %s.", formatSpeed(cue.Speed), unit)
	case pacer.CueFinish:
		return "Workout complete. Great job."
	case pacer.CueTick:
		return fmt.Sprintf("%d", cue.SecondsRemaining)
	default:
		return ""
	}
}

func unitName(units pacer.Units) string {
	if units == pacer.UnitsKMH {
		return "kilometers per hour"
	}
	return "miles per hour"
}

func formatSpeed(speed float64) string {
	return fmt.Sprintf("%.1f", speed)
}

func formatDuration(seconds int) string {
	minutes, secs := seconds/60, seconds%60
	var parts []string
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if secs > 0 || minutes == 0 {
		parts = append(parts, plural(secs, "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
