package pacer

// MinTickSegmentSeconds is the shortest segment that gets countdown ticks.
const MinTickSegmentSeconds = 10

// maxTickSecondsRemaining is the first remaining-second value that ticks.
const maxTickSecondsRemaining = 3

// TickPolicy decides whether a countdown tick fires for the current segment.
type TickPolicy struct {
	segmentSeconds int
}

// ResetForSegment records the duration of the segment that just started.
func (p *TickPolicy) ResetForSegment(seconds int) {
	p.segmentSeconds = seconds
}

// AllowTick reports whether a tick should fire with secondsRemaining left in
// the segment. Voice narration already covers the boundary, so it suppresses
// ticks entirely.
func (p *TickPolicy) AllowTick(secondsRemaining int, voiceEnabled bool) bool {
	if voiceEnabled {
		return false
	}
	if p.segmentSeconds < MinTickSegmentSeconds {
		return false
	}
	return secondsRemaining >= 1 && secondsRemaining <= maxTickSecondsRemaining
}
