package treadmill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/treadmill-pacer/internal/events"
	"github.com/lowaak/treadmill-pacer/internal/safego"
)

// ErrNoTreadmill is returned when no FTMS treadmill was found before the scan timed out.
var ErrNoTreadmill = errors.New("no FTMS treadmill found")

// BLEConnector finds and connects to an FTMS treadmill.
type BLEConnector struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	scanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error
}

func NewBLEConnector(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout time.Duration) *BLEConnector {
	if adapter == nil {
		panic("BLEConnector: adapter cannot be nil")
	}
	if logger == nil {
		panic("BLEConnector: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}
	return &BLEConnector{adapter: adapter, logger: logger, scanTimeout: scanTimeout}
}

// Connect scans for a treadmill advertising the Fitness Machine Service, or
// for the device at address when it is not empty, and connects to it.
func (c *BLEConnector) Connect(ctx context.Context, address string) (*BLETreadmill, error) {
	c.enableOnce.Do(func() { c.enableErr = c.adapter.Enable() })
	if c.enableErr != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", c.enableErr)
	}

	serviceUUID, err := bluetooth.ParseUUID(FTMSServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", FTMSServiceUUID, err)
	}

	result, err := c.scan(ctx, serviceUUID, address)
	if err != nil {
		return nil, err
	}

	c.logger.Printf("BLEConnector: Connecting to %s (%s)", result.LocalName(), result.Address.String())
	device, err := c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", result.Address.String(), err)
	}

	t, err := newBLETreadmill(device, serviceUUID, result.Address.String(), c.logger)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return t, nil
}

func (c *BLEConnector) scan(ctx context.Context, serviceUUID bluetooth.UUID, address string) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.scanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)

	c.logger.Printf("BLEConnector: Scanning for FTMS treadmill (address filter %q)", address)
	safego.Go(c.logger, func() {
		scanDone <- c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if address != "" {
				if !strings.EqualFold(result.Address.String(), address) {
					return
				}
			} else if !result.HasServiceUUID(serviceUUID) {
				return
			}
			select {
			case found <- result:
				if err := adapter.StopScan(); err != nil {
					c.logger.Printf("BLEConnector: Error stopping scan: %v", err)
				}
			default:
			}
		})
	})

	select {
	case result := <-found:
		return result, nil
	case err := <-scanDone:
		if err != nil {
			return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
		}
		select {
		case result := <-found:
			return result, nil
		default:
			return bluetooth.ScanResult{}, ErrNoTreadmill
		}
	case <-ctx.Done():
		if err := c.adapter.StopScan(); err != nil {
			c.logger.Printf("BLEConnector: Error stopping scan: %v", err)
		}
		select {
		case result := <-found:
			return result, nil
		default:
		}
		return bluetooth.ScanResult{}, fmt.Errorf("%w within %v", ErrNoTreadmill, c.scanTimeout)
	}
}

// BLETreadmill is a connected FTMS treadmill. It implements ControlPoint.
type BLETreadmill struct {
	device  bluetooth.Device
	address string
	logger  *log.Logger

	// serializes BLE operations
	bleMu        sync.Mutex
	controlPoint bluetooth.DeviceCharacteristic

	dataEvent *events.ChannelEvent[TreadmillData]
}

var _ ControlPoint = (*BLETreadmill)(nil)

func newBLETreadmill(device bluetooth.Device, serviceUUID bluetooth.UUID, address string, logger *log.Logger) (*BLETreadmill, error) {
	cpUUID, err := bluetooth.ParseUUID(FTMSControlPointUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", FTMSControlPointUUID, err)
	}
	dataUUID, err := bluetooth.ParseUUID(TreadmillDataUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", TreadmillDataUUID, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return nil, fmt.Errorf("discover FTMS service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("device %s has no FTMS service", address)
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("discover FTMS characteristics: %w", err)
	}

	t := &BLETreadmill{
		device:    device,
		address:   address,
		logger:    logger,
		dataEvent: events.NewChannelEvent[TreadmillData](true),
	}

	foundCP := false
	for _, char := range chars {
		switch char.UUID() {
		case cpUUID:
			t.controlPoint = char
			foundCP = true
			if err := char.EnableNotifications(t.handleControlPointResponse); err != nil {
				// commands still work without confirmations
				logger.Printf("BLETreadmill: Control point indications unavailable: %v", err)
			}
		case dataUUID:
			if err := char.EnableNotifications(t.handleTreadmillData); err != nil {
				logger.Printf("BLETreadmill: Treadmill data notifications unavailable: %v", err)
			}
		}
	}
	if !foundCP {
		return nil, fmt.Errorf("device %s has no FTMS control point", address)
	}

	logger.Printf("BLETreadmill: Connected to %s", address)
	return t, nil
}

// Write sends one control point command and waits for the write response.
func (t *BLETreadmill) Write(data []byte) error {
	t.bleMu.Lock()
	defer t.bleMu.Unlock()
	if _, err := t.controlPoint.Write(data); err != nil {
		return fmt.Errorf("failed to write control point: %w", err)
	}
	return nil
}

// Address returns the treadmill's Bluetooth address.
func (t *BLETreadmill) Address() string {
	return t.address
}

// ListenData registers ch for parsed Treadmill Data notifications.
func (t *BLETreadmill) ListenData(ch chan TreadmillData) func() {
	return t.dataEvent.Listen(ch)
}

func (t *BLETreadmill) Close() error {
	t.logger.Printf("BLETreadmill: Disconnecting from %s", t.address)
	return t.device.Disconnect()
}

func (t *BLETreadmill) handleControlPointResponse(buf []byte) {
	resp, err := DecodeResponse(buf)
	if err != nil {
		t.logger.Printf("BLETreadmill: %v", err)
		return
	}
	t.logger.Printf("BLETreadmill: Control point %s", resp)
}

func (t *BLETreadmill) handleTreadmillData(buf []byte) {
	data, err := ParseTreadmillData(buf)
	if err != nil {
		t.logger.Printf("BLETreadmill: %v", err)
		return
	}
	t.dataEvent.Notify(data)
}
