package dmx

import (
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"
)

const (
	enttecStart    = 0x7E
	enttecEnd      = 0xE7
	enttecSendDMX  = 6
	enttecBaudRate = 57600
)

// Enttec drives an Enttec DMX USB Pro, which carries a single universe.
type Enttec struct {
	port     io.WriteCloser
	universe int
	logger   *slog.Logger
}

// OpenEnttec opens the serial device and binds it to one universe.
func OpenEnttec(name string, universe int, logger *slog.Logger) (*Enttec, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: enttecBaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	logger.Info("enttec: port opened", "device", name, "universe", universe)
	return &Enttec{port: p, universe: universe, logger: logger}, nil
}

// SerialPorts lists serial devices that may be an Enttec.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// EncodeEnttec wraps a universe in a USB Pro "Output Only Send DMX" message.
func EncodeEnttec(data []byte) []byte {
	n := len(data) + 1 // start code
	msg := make([]byte, 0, n+5)
	msg = append(msg, enttecStart, enttecSendDMX, byte(n&0xFF), byte(n>>8), 0x00)
	msg = append(msg, data...)
	return append(msg, enttecEnd)
}

// SendFrame writes the frame when it is for this port's universe.
func (e *Enttec) SendFrame(universe int, data []byte) error {
	if universe != e.universe {
		return nil
	}
	if len(data) > UniverseSize {
		return fmt.Errorf("dmx length %d > %d", len(data), UniverseSize)
	}
	_, err := e.port.Write(EncodeEnttec(data))
	return err
}

func (e *Enttec) Flush() error { return nil }

func (e *Enttec) Close() error {
	e.logger.Info("enttec: closing port")
	return e.port.Close()
}
