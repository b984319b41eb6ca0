package treadmill

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// Fitness Machine Service identifiers
const (
	FTMSServiceUUID         = "00001826-0000-1000-8000-00805f9b34fb"
	TreadmillDataUUID       = "00002acd-0000-1000-8000-00805f9b34fb"
	FTMSControlPointUUID    = "00002ad9-0000-1000-8000-00805f9b34fb"
	SupportedSpeedRangeUUID = "00002ad4-0000-1000-8000-00805f9b34fb"
)

// FTMS Control Point op codes
const (
	OpCodeRequestControl  byte = 0x00
	OpCodeReset           byte = 0x01
	OpCodeSetTargetSpeed  byte = 0x02
	OpCodeStartOrResume   byte = 0x07
	OpCodeStopOrPause     byte = 0x08
	OpCodeResponseCode    byte = 0x80
	stopOrPauseParamStop  byte = 0x01
	stopOrPauseParamPause byte = 0x02
)

// FTMS Control Point result codes
const (
	ResultSuccess             byte = 0x01
	ResultOpCodeNotSupported  byte = 0x02
	ResultInvalidParameter    byte = 0x03
	ResultOperationFailed     byte = 0x04
	ResultControlNotPermitted byte = 0x05
)

// MaxSpeedKMH is the largest speed the target speed field can carry.
const MaxSpeedKMH = math.MaxUint16 / 100.0

var ErrInvalidSpeed = errors.New("invalid target speed")

// EncodeSetTargetSpeed builds a Set Target Speed command. The field is a
// uint16 in 0.01 km/h; mph speeds are converted first.
func EncodeSetTargetSpeed(speed float64, units pacer.Units) ([]byte, error) {
	kmh := speed
	if units == pacer.UnitsMPH {
		kmh = speed * 1.609344
	}
	if math.IsNaN(kmh) || kmh < 0 || kmh > MaxSpeedKMH {
		return nil, fmt.Errorf("%w: %.2f %s", ErrInvalidSpeed, speed, units)
	}
	data := make([]byte, 3)
	data[0] = OpCodeSetTargetSpeed
	binary.LittleEndian.PutUint16(data[1:], uint16(math.Round(kmh*100)))
	return data, nil
}

func EncodeRequestControl() []byte { return []byte{OpCodeRequestControl} }
func EncodeStartOrResume() []byte  { return []byte{OpCodeStartOrResume} }
func EncodeStop() []byte           { return []byte{OpCodeStopOrPause, stopOrPauseParamStop} }
func EncodePause() []byte          { return []byte{OpCodeStopOrPause, stopOrPauseParamPause} }

// Response is a decoded Control Point indication.
type Response struct {
	RequestOpCode byte
	ResultCode    byte
}

func (r Response) OK() bool { return r.ResultCode == ResultSuccess }

func (r Response) String() string {
	return fmt.Sprintf("%s -> %s", OpCodeName(r.RequestOpCode), ResultName(r.ResultCode))
}

// DecodeResponse parses [0x80, RequestOpCode, ResultCode, ...].
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 3 {
		return Response{}, fmt.Errorf("control point response too short: %v", buf)
	}
	if buf[0] != OpCodeResponseCode {
		return Response{}, fmt.Errorf("unexpected control point op code: 0x%02X", buf[0])
	}
	return Response{RequestOpCode: buf[1], ResultCode: buf[2]}, nil
}

func OpCodeName(op byte) string {
	switch op {
	case OpCodeRequestControl:
		return "Request Control"
	case OpCodeReset:
		return "Reset"
	case OpCodeSetTargetSpeed:
		return "Set Target Speed"
	case OpCodeStartOrResume:
		return "Start/Resume"
	case OpCodeStopOrPause:
		return "Stop/Pause"
	default:
		return fmt.Sprintf("OpCode 0x%02X", op)
	}
}

func ResultName(code byte) string {
	switch code {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Result 0x%02X", code)
	}
}

// Treadmill Data flag bit positions (FTMS 1.0). More Data is inverted: the
// instantaneous speed field is present when the bit is 0.
const (
	tdFlagMoreData          = 1 << 0
	tdFlagAverageSpeed      = 1 << 1
	tdFlagTotalDistance     = 1 << 2
	tdFlagInclination       = 1 << 3
	tdFlagElevationGain     = 1 << 4
	tdFlagInstantaneousPace = 1 << 5
	tdFlagAveragePace       = 1 << 6
	tdFlagExpendedEnergy    = 1 << 7
	tdFlagHeartRate         = 1 << 8
	tdFlagMetabolicEquiv    = 1 << 9
	tdFlagElapsedTime       = 1 << 10
)

// TreadmillData holds the fields of a Treadmill Data notification that the
// pacer displays. Has* report which optional fields were present.
type TreadmillData struct {
	HasSpeed        bool
	SpeedKMH        float64
	HasDistance     bool
	DistanceMeters  uint32
	HasInclination  bool
	InclinationPct  float64
	HasHeartRate    bool
	HeartRate       uint8
	HasElapsedTime  bool
	ElapsedSeconds  uint16
	HasAverageSpeed bool
	AverageSpeedKMH float64
}

// ParseTreadmillData parses the FTMS Treadmill Data characteristic.
func ParseTreadmillData(buf []byte) (TreadmillData, error) {
	var data TreadmillData
	if len(buf) < 2 {
		return data, fmt.Errorf("treadmill data too short: %d bytes", len(buf))
	}
	flags := binary.LittleEndian.Uint16(buf[0:2])
	offset := 2

	need := func(n int, field string) error {
		if offset+n > len(buf) {
			return fmt.Errorf("treadmill data truncated at %s (flags 0x%04X, %d bytes)", field, flags, len(buf))
		}
		return nil
	}

	if flags&tdFlagMoreData == 0 {
		if err := need(2, "speed"); err != nil {
			return data, err
		}
		data.HasSpeed = true
		data.SpeedKMH = float64(binary.LittleEndian.Uint16(buf[offset:])) / 100
		offset += 2
	}
	if flags&tdFlagAverageSpeed != 0 {
		if err := need(2, "average speed"); err != nil {
			return data, err
		}
		data.HasAverageSpeed = true
		data.AverageSpeedKMH = float64(binary.LittleEndian.Uint16(buf[offset:])) / 100
		offset += 2
	}
	if flags&tdFlagTotalDistance != 0 {
		if err := need(3, "total distance"); err != nil {
			return data, err
		}
		data.HasDistance = true
		data.DistanceMeters = uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16
		offset += 3
	}
	if flags&tdFlagInclination != 0 {
		// inclination sint16 (0.1 %) followed by ramp angle sint16
		if err := need(4, "inclination"); err != nil {
			return data, err
		}
		data.HasInclination = true
		data.InclinationPct = float64(int16(binary.LittleEndian.Uint16(buf[offset:]))) / 10
		offset += 4
	}
	if flags&tdFlagElevationGain != 0 {
		offset += 4
	}
	if flags&tdFlagInstantaneousPace != 0 {
		offset += 1
	}
	if flags&tdFlagAveragePace != 0 {
		offset += 1
	}
	if flags&tdFlagExpendedEnergy != 0 {
		offset += 5
	}
	if flags&tdFlagHeartRate != 0 {
		if err := need(1, "heart rate"); err != nil {
			return data, err
		}
		data.HasHeartRate = true
		data.HeartRate = buf[offset]
		offset++
	}
	if flags&tdFlagMetabolicEquiv != 0 {
		offset++
	}
	if flags&tdFlagElapsedTime != 0 {
		if err := need(2, "elapsed time"); err != nil {
			return data, err
		}
		data.HasElapsedTime = true
		data.ElapsedSeconds = binary.LittleEndian.Uint16(buf[offset:])
	}
	return data, nil
}
