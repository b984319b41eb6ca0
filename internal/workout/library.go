package workout

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// BuiltinWorkouts defines the workouts available without any plan files
var BuiltinWorkouts = []Workout{
	{
		Name:  "Walk Intervals 20",
		Units: pacer.UnitsMPH,
		Blocks: []Block{
			{Speed: 2.8, Duration: 3 * time.Minute}, // Warmup
			{Speed: 3.8, Duration: 2 * time.Minute},
			{Speed: 3.0, Duration: 2 * time.Minute},
			{Speed: 3.8, Duration: 2 * time.Minute},
			{Speed: 3.0, Duration: 2 * time.Minute},
			{Speed: 3.8, Duration: 2 * time.Minute},
			{Speed: 3.0, Duration: 2 * time.Minute},
			{Speed: 2.8, Duration: 5 * time.Minute}, // Cooldown
		},
	},
	{
		Name:  "Run Walk 30",
		Units: pacer.UnitsMPH,
		Blocks: []Block{
			{Speed: 3.2, Duration: 5 * time.Minute}, // Warmup
			// Interval 1
			{Speed: 5.5, Duration: 3 * time.Minute},
			{Speed: 3.5, Duration: 2 * time.Minute},
			// Interval 2
			{Speed: 5.5, Duration: 3 * time.Minute},
			{Speed: 3.5, Duration: 2 * time.Minute},
			// Interval 3
			{Speed: 5.5, Duration: 3 * time.Minute},
			{Speed: 3.5, Duration: 2 * time.Minute},
			// Interval 4
			{Speed: 5.5, Duration: 3 * time.Minute},
			{Speed: 3.2, Duration: 7 * time.Minute}, // Cooldown
		},
	},
	{
		Name:  "Sprint 10x30s",
		Units: pacer.UnitsKMH,
		Blocks: append(append([]Block{
			{Speed: 6.0, Duration: 5 * time.Minute}, // Warmup
		}, repeat(10, Block{Speed: 14.0, Duration: 30 * time.Second}, Block{Speed: 6.0, Duration: 90 * time.Second})...),
			Block{Speed: 5.0, Duration: 5 * time.Minute}, // Cooldown
		),
	},
	{
		Name:  "Steady 5k",
		Units: pacer.UnitsKMH,
		Blocks: []Block{
			{Speed: 6.0, Duration: 3 * time.Minute},
			{Speed: 10.0, Duration: 30 * time.Minute},
			{Speed: 5.5, Duration: 3 * time.Minute},
		},
	},
}

func repeat(n int, work, rest Block) []Block {
	out := make([]Block, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, work, rest)
	}
	return out
}

// Library holds the built-in workouts plus any loaded from plan files.
type Library struct {
	logger *log.Logger

	mu       sync.RWMutex
	byName   map[string]Workout
	ordering []string
}

func NewLibrary(logger *log.Logger) *Library {
	if logger == nil {
		panic("Library: logger cannot be nil")
	}
	l := &Library{logger: logger, byName: make(map[string]Workout)}
	for _, w := range BuiltinWorkouts {
		l.add(w)
	}
	return l
}

// LoadDir reads every *.yaml and *.yml file in dir. A file may hold one
// workout or a list of them. Files that fail to parse are logged and skipped;
// a missing directory is not an error.
func (l *Library) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		l.logger.Printf("Library: plans dir %s does not exist", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plans dir: %w", err)
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		workouts, err := LoadFile(path)
		if err != nil {
			l.logger.Printf("Library: skipping %s: %v", path, err)
			continue
		}
		for _, w := range workouts {
			l.add(w)
		}
		l.logger.Printf("Library: loaded %d workout(s) from %s", len(workouts), path)
	}
	return nil
}

// LoadFile parses one plan file.
func LoadFile(path string) ([]Workout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML holding a workout or a list of workouts.
func Parse(raw []byte) ([]Workout, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse plan yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("plan file is empty")
	}

	var workouts []Workout
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&workouts); err != nil {
			return nil, fmt.Errorf("decode workouts: %w", err)
		}
	default:
		var w Workout
		if err := node.Content[0].Decode(&w); err != nil {
			return nil, fmt.Errorf("decode workout: %w", err)
		}
		workouts = []Workout{w}
	}

	for i := range workouts {
		if workouts[i].Units == "" {
			workouts[i].Units = pacer.UnitsMPH
		}
		if err := workouts[i].Validate(); err != nil {
			return nil, err
		}
	}
	return workouts, nil
}

// Get returns the workout with name, matched case-insensitively.
func (l *Library) Get(name string) (Workout, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Workout{}, fmt.Errorf("%w: %q", ErrPlanNotFound, name)
	}
	return w, nil
}

// All returns every workout, built-ins first then files in load order.
func (l *Library) All() []Workout {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Workout, 0, len(l.ordering))
	for _, key := range l.ordering {
		out = append(out, l.byName[key])
	}
	return out
}

// Names returns the workout names sorted alphabetically.
func (l *Library) Names() []string {
	all := l.All()
	names := make([]string, 0, len(all))
	for _, w := range all {
		names = append(names, w.Name)
	}
	sort.Strings(names)
	return names
}

func (l *Library) add(w Workout) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(w.Name))
	if _, exists := l.byName[key]; !exists {
		l.ordering = append(l.ordering, key)
	} else {
		l.logger.Printf("Library: %q replaced by a later definition", w.Name)
	}
	l.byName[key] = w
}
