package ingest

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialSource reads lines from the microcontroller's serial port
type SerialSource struct {
	device      string
	baudRate    int
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewSerialSource creates a source for device. readTimeout bounds how long a
// read blocks before cancellation is checked again.
func NewSerialSource(device string, baudRate int, readTimeout time.Duration, logger *zap.Logger) *SerialSource {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	return &SerialSource{
		device:      device,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Name returns the device path
func (s *SerialSource) Name() string {
	return s.device
}

// Run opens the port and streams lines until ctx is done
func (s *SerialSource) Run(ctx context.Context, lines chan<- string) error {
	port, err := serial.Open(s.device, &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.device, err)
	}
	defer port.Close()

	if err := port.SetReadTimeout(s.readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout on %s: %w", s.device, err)
	}

	s.logger.Info("Serial port opened",
		zap.String("device", s.device),
		zap.Int("baud_rate", s.baudRate))

	if err := readLines(ctx, port, lines); err != nil {
		return err
	}

	s.logger.Warn("Serial port closed by peer", zap.String("device", s.device))
	return nil
}
