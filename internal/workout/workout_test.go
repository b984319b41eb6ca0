package workout

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWorkout_Segments(t *testing.T) {
	w := Workout{
		Name:  "Test",
		Units: pacer.UnitsMPH,
		Blocks: []Block{
			{Speed: 3.0, Duration: 90 * time.Second},
			{Speed: 6.0, Duration: 1500 * time.Millisecond},
		},
	}
	assert.Equal(t, 91*time.Second+500*time.Millisecond, w.TotalDuration())

	assert.Equal(t, []pacer.Segment{{Speed: 3.0, Seconds: 90}, {Speed: 6.0, Seconds: 2}}, w.Segments(pacer.UnitsMPH))
	assert.Equal(t, []pacer.Segment{{Speed: 4.83, Seconds: 90}, {Speed: 9.66, Seconds: 2}}, w.Segments(pacer.UnitsKMH))
}

func TestConvertSpeed(t *testing.T) {
	assert.Equal(t, 16.09, ConvertSpeed(10, pacer.UnitsMPH, pacer.UnitsKMH))
	assert.Equal(t, 6.21, ConvertSpeed(10, pacer.UnitsKMH, pacer.UnitsMPH))
	assert.Equal(t, 7.5, ConvertSpeed(7.5, pacer.UnitsKMH, pacer.UnitsKMH))
	assert.Equal(t, 7.5, ConvertSpeed(7.5, "", pacer.UnitsKMH))
}

func TestParseInline(t *testing.T) {
	w, err := ParseInline("adhoc", pacer.UnitsKMH, "6x5m, 12.5x30s,6x90")
	require.NoError(t, err)
	assert.Equal(t, []pacer.Segment{{Speed: 6, Seconds: 300}, {Speed: 12.5, Seconds: 30}, {Speed: 6, Seconds: 90}}, w.Segments(pacer.UnitsKMH))

	for _, bad := range []string{"", "6", "fastx5m", "6xforever", "-1x30", "6x0"} {
		_, err := ParseInline("adhoc", pacer.UnitsKMH, bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkout_Validate(t *testing.T) {
	ok := Workout{Name: "ok", Units: pacer.UnitsKMH, Blocks: []Block{{Speed: 5, Duration: time.Minute}}}
	assert.NoError(t, ok.Validate())

	noName := ok
	noName.Name = " "
	assert.Error(t, noName.Validate())

	badUnits := ok
	badUnits.Units = "furlongs"
	assert.Error(t, badUnits.Validate())

	noBlocks := ok
	noBlocks.Blocks = nil
	assert.Error(t, noBlocks.Validate())
}

func TestBuiltinWorkoutsAreValid(t *testing.T) {
	for _, w := range BuiltinWorkouts {
		assert.NoError(t, w.Validate(), w.Name)
		assert.NotEmpty(t, pacer.PlayableSegments(w.Segments(w.Units)), w.Name)
	}
	sprint := BuiltinWorkouts[2]
	assert.Len(t, sprint.Blocks, 22)
}

func TestParse(t *testing.T) {
	single := []byte(`
name: Hills
units: kmh
blocks:
  - speed: 5
    duration: 2m
  - speed: 8.5
    duration: 45s
`)
	workouts, err := Parse(single)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	assert.Equal(t, "Hills", workouts[0].Name)
	assert.Equal(t, pacer.UnitsKMH, workouts[0].Units)
	assert.Equal(t, []Block{{Speed: 5, Duration: 2 * time.Minute}, {Speed: 8.5, Duration: 45 * time.Second}}, workouts[0].Blocks)

	list := []byte(`
- name: A
  blocks:
    - {speed: 3, duration: 1m}
- name: B
  units: mph
  blocks:
    - {speed: 4, duration: 2m}
`)
	workouts, err = Parse(list)
	require.NoError(t, err)
	require.Len(t, workouts, 2)
	assert.Equal(t, pacer.UnitsMPH, workouts[0].Units, "units default to mph")

	_, err = Parse([]byte(""))
	assert.Error(t, err)
	_, err = Parse([]byte("name: [unclosed"))
	assert.Error(t, err)
	_, err = Parse([]byte("name: Empty\nblocks: []\n"))
	assert.Error(t, err)
}

func TestLibrary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(`
name: Custom Climb
units: kmh
blocks:
  - {speed: 5, duration: 1m}
  - {speed: 7, duration: 1m}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("blocks: nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	lib := NewLibrary(testLogger())
	require.NoError(t, lib.LoadDir(dir))
	require.NoError(t, lib.LoadDir(filepath.Join(dir, "missing")))

	w, err := lib.Get("custom climb")
	require.NoError(t, err)
	assert.Equal(t, "Custom Climb", w.Name)

	_, err = lib.Get("Walk Intervals 20")
	assert.NoError(t, err)

	_, err = lib.Get("nope")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	all := lib.All()
	assert.Len(t, all, len(BuiltinWorkouts)+1)
	assert.Equal(t, BuiltinWorkouts[0].Name, all[0].Name)
	assert.Equal(t, "Custom Climb", all[len(all)-1].Name)
	assert.Contains(t, lib.Names(), "Custom Climb")
}

func TestNewLibrary_NilLoggerPanics(t *testing.T) {
	assert.PanicsWithValue(t, "Library: logger cannot be nil", func() { NewLibrary(nil) })
}
