package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/treadmill-pacer/internal/foreground"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/treadmill"
	"github.com/lowaak/treadmill-pacer/internal/workout"
)

const progressWidth = 30

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes >= 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	if seconds > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%d min", minutes)
}

func progressBar(done, total, width int) string {
	if total <= 0 || width <= 0 {
		return strings.Repeat("░", width)
	}
	if done > total {
		done = total
	}
	if done < 0 {
		done = 0
	}
	filled := done * width / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// sessionText renders the session panel.
func sessionText(state pacer.SessionState) string {
	switch state.Status() {
	case pacer.StatusIdle:
		return "\n\n  [yellow]No workout running[white]\n\n" +
			"  Pick a workout in Workout Selection (press 1)\n  and press Enter to start."
	case pacer.StatusCompleted:
		return fmt.Sprintf("\n\n  [green]Workout complete[white]\n\n  Total time: %s\n",
			foreground.FormatClock(state.ElapsedSec))
	case pacer.StatusAborted:
		return fmt.Sprintf("\n\n  [red]Workout stopped[white]\n\n  Time run: %s of %s\n",
			foreground.FormatClock(state.ElapsedSec), foreground.FormatClock(state.TotalDurationSec))
	}

	var b strings.Builder
	b.WriteString("\n")
	if state.IsPaused {
		b.WriteString("  [orange]PAUSED[white]\n\n")
	}
	fmt.Fprintf(&b, "  [gray]Speed:[white]      [yellow]%.1f[white] %s\n", state.Speed, state.Units)
	fmt.Fprintf(&b, "  [gray]Segment:[white]    %d of %d\n", state.CurrentSegment+1, len(state.Segments))
	if state.UpcomingSpeed != nil {
		fmt.Fprintf(&b, "  [gray]Next:[white]       %.1f %s in [yellow]%s[white]\n", *state.UpcomingSpeed, state.Units,
			foreground.FormatClock(state.NextChangeInSec))
	} else {
		fmt.Fprintf(&b, "  [gray]Next:[white]       finish in [yellow]%s[white]\n", foreground.FormatClock(state.NextChangeInSec))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [gray]Elapsed:[white]    %s\n", foreground.FormatClock(state.ElapsedSec))
	fmt.Fprintf(&b, "  [gray]Remaining:[white]  %s\n\n", foreground.FormatClock(state.RemainingSec))
	fmt.Fprintf(&b, "  %s\n", progressBar(state.ElapsedSec, state.TotalDurationSec, progressWidth))
	return b.String()
}

// planText lists the segments with the current one highlighted.
func planText(state pacer.SessionState) string {
	if len(state.Segments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for i, seg := range state.Segments {
		line := fmt.Sprintf("  %2d. %5.1f %s for %s", i+1, seg.Speed, state.Units, foreground.FormatClock(seg.Seconds))
		switch {
		case state.Active && i == state.CurrentSegment:
			fmt.Fprintf(&b, "[yellow]%s ◀[white]\n", line)
		case state.Active && i < state.CurrentSegment:
			fmt.Fprintf(&b, "[gray]%s[white]\n", line)
		default:
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// workoutDetailsText describes w in the given display units.
func workoutDetailsText(w *workout.Workout, units pacer.Units) string {
	if w == nil {
		return "\n\n  [yellow]Workout Selection[white]\n\n" +
			"  Select a workout from the list to view details.\n\n" +
			"  [gray]Press Enter to start the selected workout.[white]\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n  [yellow]%s[white]\n\n", w.Name)
	fmt.Fprintf(&b, "  [gray]Duration:[white] %s\n", formatDuration(w.TotalDuration()))
	fmt.Fprintf(&b, "  [gray]Blocks:[white] %d\n\n", len(w.Blocks))
	b.WriteString("  [gray]Structure:[white]\n")
	for i, seg := range w.Segments(units) {
		fmt.Fprintf(&b, "    %d. %.1f %s for %s\n", i+1, seg.Speed, units, foreground.FormatClock(seg.Seconds))
	}
	b.WriteString("\n  [green]Press Enter to start this workout[white]\n")
	return b.String()
}

// treadmillText renders the latest Treadmill Data in the display units.
func treadmillText(data *treadmill.TreadmillData, units pacer.Units) string {
	if data == nil {
		return "\n  [gray]No treadmill connected[white]"
	}
	var b strings.Builder
	b.WriteString("\n")
	if data.HasSpeed {
		speed := workout.ConvertSpeed(data.SpeedKMH, pacer.UnitsKMH, units)
		fmt.Fprintf(&b, "  [gray]Belt speed:[white] [yellow]%.1f[white] %s\n", speed, units)
	}
	if data.HasInclination {
		fmt.Fprintf(&b, "  [gray]Incline:[white]    %.1f%%\n", data.InclinationPct)
	}
	if data.HasDistance {
		fmt.Fprintf(&b, "  [gray]Distance:[white]   %.2f km\n", float64(data.DistanceMeters)/1000)
	}
	if data.HasHeartRate {
		fmt.Fprintf(&b, "  [red]♥[white] Heart rate: [yellow]%d[white] bpm\n", data.HeartRate)
	}
	if data.HasElapsedTime {
		fmt.Fprintf(&b, "  [gray]Belt time:[white]  %s\n", foreground.FormatClock(int(data.ElapsedSeconds)))
	}
	return b.String()
}

// noticeText renders the one-line session indicator.
func noticeText(n foreground.Notice, now time.Time) string {
	switch n.Phase {
	case foreground.PhasePendingStart:
		return " [yellow]" + n.Title + "[white]"
	case foreground.PhaseRunning:
		elapsed := n.ElapsedSec
		if !n.Paused && !n.ChronometerBase.IsZero() {
			elapsed = int(now.Sub(n.ChronometerBase) / time.Second)
		}
		return fmt.Sprintf(" [green]●[white] %s  [gray]%s[white]  %s", n.Title, n.Detail, foreground.FormatClock(elapsed))
	default:
		return ""
	}
}

const helpText = "[yellow]1[white] Workouts  |  [yellow]2[white] Dashboard  |  [yellow]Enter[white] Start  |  " +
	"[yellow]Space[white] Pause/Resume  |  [yellow]S[white] Skip  |  [yellow]X[white] Stop  |  [yellow]V[white] Voice  |  [yellow]Esc[white] Quit"
