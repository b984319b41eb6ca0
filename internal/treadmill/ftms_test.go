package treadmill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

func TestEncodeSetTargetSpeed(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		units pacer.Units
		want  []byte
	}{
		{name: "kmh", speed: 10.5, units: pacer.UnitsKMH, want: []byte{OpCodeSetTargetSpeed, 0x1A, 0x04}},
		{name: "mph converted", speed: 5.0, units: pacer.UnitsMPH, want: []byte{OpCodeSetTargetSpeed, 0x25, 0x03}},
		{name: "zero", speed: 0, units: pacer.UnitsKMH, want: []byte{OpCodeSetTargetSpeed, 0x00, 0x00}},
		{name: "max", speed: MaxSpeedKMH, units: pacer.UnitsKMH, want: []byte{OpCodeSetTargetSpeed, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeSetTargetSpeed(tt.speed, tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := EncodeSetTargetSpeed(-1, pacer.UnitsKMH)
	assert.ErrorIs(t, err, ErrInvalidSpeed)
	_, err = EncodeSetTargetSpeed(MaxSpeedKMH+1, pacer.UnitsKMH)
	assert.ErrorIs(t, err, ErrInvalidSpeed)
}

func TestSimpleCommands(t *testing.T) {
	assert.Equal(t, []byte{0x00}, EncodeRequestControl())
	assert.Equal(t, []byte{0x07}, EncodeStartOrResume())
	assert.Equal(t, []byte{0x08, 0x01}, EncodeStop())
	assert.Equal(t, []byte{0x08, 0x02}, EncodePause())
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte{0x80, OpCodeSetTargetSpeed, ResultSuccess})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "Set Target Speed -> Success", resp.String())

	resp, err = DecodeResponse([]byte{0x80, OpCodeRequestControl, ResultControlNotPermitted, 0xAA})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "Request Control -> Control Not Permitted", resp.String())

	_, err = DecodeResponse([]byte{0x80, 0x00})
	assert.Error(t, err)
	_, err = DecodeResponse([]byte{0x07, 0x00, 0x01})
	assert.Error(t, err)

	assert.Equal(t, "OpCode 0x42", OpCodeName(0x42))
	assert.Equal(t, "Result 0x09", ResultName(0x09))
}

func TestParseTreadmillData(t *testing.T) {
	t.Run("speed only", func(t *testing.T) {
		data, err := ParseTreadmillData([]byte{0x00, 0x00, 0xE8, 0x03})
		require.NoError(t, err)
		assert.True(t, data.HasSpeed)
		assert.Equal(t, 10.0, data.SpeedKMH)
		assert.False(t, data.HasDistance)
	})

	t.Run("distance inclination heart rate elapsed", func(t *testing.T) {
		flags := uint16(tdFlagTotalDistance | tdFlagInclination | tdFlagHeartRate | tdFlagElapsedTime)
		// speed 3.00, distance 10000 m, inclination 1.5 % with ramp angle,
		// heart rate 140, elapsed 600 s
		buf := []byte{
			byte(flags), byte(flags >> 8),
			0x2C, 0x01,
			0x10, 0x27, 0x00,
			0x0F, 0x00, 0x00, 0x00,
			0x8C,
			0x58, 0x02,
		}
		data, err := ParseTreadmillData(buf)
		require.NoError(t, err)
		assert.Equal(t, 3.0, data.SpeedKMH)
		assert.Equal(t, uint32(10000), data.DistanceMeters)
		assert.Equal(t, 1.5, data.InclinationPct)
		assert.Equal(t, uint8(140), data.HeartRate)
		assert.Equal(t, uint16(600), data.ElapsedSeconds)
	})

	t.Run("more data without speed", func(t *testing.T) {
		data, err := ParseTreadmillData([]byte{0x01, 0x00})
		require.NoError(t, err)
		assert.False(t, data.HasSpeed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseTreadmillData([]byte{0x00})
		assert.Error(t, err)
		_, err = ParseTreadmillData([]byte{0x00, 0x00, 0xE8})
		assert.Error(t, err)
		_, err = ParseTreadmillData([]byte{0x00, 0x01, 0xE8, 0x03}) // heart rate flag, no heart rate byte
		assert.Error(t, err)
	})
}
