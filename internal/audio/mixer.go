package audio

import (
	"sync"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// DefaultDuckLevel is the fraction of the volume kept while ducked.
const DefaultDuckLevel = 0.3

// Mixer holds the shared output volume. Ducks stack: the volume is lowered
// while at least one duck is outstanding.
type Mixer struct {
	mu        sync.Mutex
	volume    float64
	duckLevel float64
	ducks     int
}

var _ pacer.SoftDucker = (*Mixer)(nil)

func NewMixer(volume float64) *Mixer {
	return &Mixer{volume: clamp01(volume), duckLevel: DefaultDuckLevel}
}

// Volume returns the effective output volume.
func (m *Mixer) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ducks > 0 {
		return m.volume * m.duckLevel
	}
	return m.volume
}

// Duck lowers the volume until restore is called. restore is idempotent.
func (m *Mixer) Duck() (restore func()) {
	m.mu.Lock()
	m.ducks++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.ducks--
			m.mu.Unlock()
		})
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
