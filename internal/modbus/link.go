package modbus

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/ubertone/peacock-go/internal/fault"
)

// Link is the duplex byte stream a Transport owns. A Read that times out
// returns 0 bytes and a nil error; any error is a link failure.
type Link interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// Baud rates the probe firmware accepts.
var Bauds = []int{57600, 115200, 230400, 750000}

// DefaultBaud is the probe's factory setting.
const DefaultBaud = 230400

type serialLink struct {
	serial.Port
	lock io.Closer
}

func (l *serialLink) Close() error {
	err := l.Port.Close()
	if l.lock != nil {
		l.lock.Close()
	}
	return err
}

// OpenSerial opens path at baud, 8N1. On Linux the device node is also
// locked so a second process cannot interleave frames on the same port.
func OpenSerial(path string, baud int) (Link, error) {
	if !validBaud(baud) {
		return nil, fault.Configuration("modbus: open", "unsupported baud rate %d", baud)
	}
	lock, err := lockDevice(path)
	if err != nil {
		return nil, fault.Transport("modbus: open "+path, err)
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		if lock != nil {
			lock.Close()
		}
		return nil, fault.Transport("modbus: open "+path, err)
	}
	// drop whatever a previous session left in the driver buffer
	if err := port.ResetInputBuffer(); err != nil {
		slog.Debug("modbus: reset input buffer", "port", path, "err", err)
	}
	slog.Info("modbus: serial link open", "port", path, "baud", baud)
	return &serialLink{Port: port, lock: lock}, nil
}

func validBaud(baud int) bool {
	for _, b := range Bauds {
		if b == baud {
			return true
		}
	}
	return false
}

// ParseBaud validates a baud rate given on the command line or in settings.
func ParseBaud(baud int) (int, error) {
	if baud == 0 {
		return DefaultBaud, nil
	}
	if !validBaud(baud) {
		return 0, fmt.Errorf("modbus: baud rate %d not in %v", baud, Bauds)
	}
	return baud, nil
}
