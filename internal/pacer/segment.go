package pacer

// Segment is one leg of a workout plan: hold Speed for Seconds.
type Segment struct {
	Speed   float64 `json:"speed" yaml:"speed"`
	Seconds int     `json:"seconds" yaml:"seconds"`
}

// PlayableSegments returns the segments with a positive duration, in order.
func PlayableSegments(segments []Segment) []Segment {
	result := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Seconds > 0 {
			result = append(result, seg)
		}
	}
	return result
}

// TotalSeconds sums the durations of all segments.
func TotalSeconds(segments []Segment) int {
	total := 0
	for _, seg := range segments {
		if seg.Seconds > 0 {
			total += seg.Seconds
		}
	}
	return total
}

// RealizedSegments truncates plan to the first elapsedSec seconds. The last
// returned segment is shortened when the cut falls inside it.
//
//	RealizedSegments([(5.0, 60)], 20) == [(5.0, 20)]
func RealizedSegments(plan []Segment, elapsedSec int) []Segment {
	result := make([]Segment, 0, len(plan))
	remaining := elapsedSec
	for _, seg := range plan {
		if remaining <= 0 {
			break
		}
		if seg.Seconds <= 0 {
			continue
		}
		secs := seg.Seconds
		if secs > remaining {
			secs = remaining
		}
		result = append(result, Segment{Speed: seg.Speed, Seconds: secs})
		remaining -= secs
	}
	return result
}

func copySegments(segments []Segment) []Segment {
	if segments == nil {
		return nil
	}
	out := make([]Segment, len(segments))
	copy(out, segments)
	return out
}
