package pacer

import "fmt"

// Units is a display-unit tag. The scheduler passes it through unchanged.
type Units string

const (
	UnitsMPH Units = "mph"
	UnitsKMH Units = "kmh"
)

// Status is the coarse scheduler state derived from a SessionState.
type Status int

const (
	StatusIdle      Status = iota // No session has run yet
	StatusRunning                 // Drive loop ticking
	StatusPaused                  // Drive loop blocked on the pause gate
	StatusCompleted               // Plan ran to the end
	StatusAborted                 // Stopped, cancelled or failed before the end
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// SessionState is a snapshot of the running session. The scheduler is the
// only writer; observers receive copies.
type SessionState struct {
	Active           bool      `json:"active"`
	IsPaused         bool      `json:"isPaused"`
	ElapsedSec       int       `json:"elapsedSec"`
	CurrentSegment   int       `json:"currentSegment"`
	NextChangeInSec  int       `json:"nextChangeInSec"`
	Speed            float64   `json:"speed"`
	UpcomingSpeed    *float64  `json:"upcomingSpeed,omitempty"`
	Segments         []Segment `json:"segments"`
	SessionID        string    `json:"sessionId,omitempty"`
	SessionStartTime int64     `json:"sessionStartTime"` // epoch millis
	TotalDurationSec int       `json:"totalDurationSec"`
	RemainingSec     int       `json:"remainingSec"`
	Units            Units     `json:"units"`

	// Terminal is StatusCompleted or StatusAborted once the session has
	// finished, StatusIdle otherwise.
	Terminal Status `json:"terminal"`
}

// Status derives the coarse status of the snapshot.
func (s SessionState) Status() Status {
	switch {
	case s.Active && s.IsPaused:
		return StatusPaused
	case s.Active:
		return StatusRunning
	case s.Terminal == StatusCompleted || s.Terminal == StatusAborted:
		return s.Terminal
	default:
		return StatusIdle
	}
}

// clone returns a copy that shares no memory with s.
func (s SessionState) clone() SessionState {
	out := s
	out.Segments = copySegments(s.Segments)
	if s.UpcomingSpeed != nil {
		v := *s.UpcomingSpeed
		out.UpcomingSpeed = &v
	}
	return out
}

// Outcome is reported exactly once per started session.
type Outcome struct {
	SessionID        string
	StartEpochMillis int64
	EndEpochMillis   int64
	ElapsedSeconds   int
	Aborted          bool
	// Err is set when the drive loop failed rather than being stopped.
	Err error
	// Plan is the playable plan the session was started with.
	Plan []Segment
	// Realized lists the seconds actually run per segment, skips included.
	Realized []Segment
	Units    Units
}

// FinishFunc receives the outcome of a session.
type FinishFunc func(Outcome)
