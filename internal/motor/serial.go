package motor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Link carries frames to the driver board. Implementations must tolerate
// concurrent sends from the drain loop and the emergency stop path.
type Link interface {
	Send(frame [FrameSize]byte) error
	Close() error
}

// ErrLinkUnavailable marks sends on a link whose device never opened.
var ErrLinkUnavailable = errors.New("motor: link unavailable")

// OfflineLink stands in when the driver board port could not be opened,
// letting the rest of the rover run without motors. Every send fails
// with ErrLinkUnavailable.
type OfflineLink struct{}

func (OfflineLink) Send(frame [FrameSize]byte) error { return ErrLinkUnavailable }

func (OfflineLink) Close() error { return nil }

// SerialLink is a Link over a serial port, 8N1.
type SerialLink struct {
	mu   sync.Mutex
	port serial.Port
	name string
}

// OpenSerialLink opens the driver board port at the given baud rate.
func OpenSerialLink(portName string, baudRate int, timeout time.Duration) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open motor port %s", portName)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", portName)
	}
	return &SerialLink{port: port, name: portName}, nil
}

func (l *SerialLink) Send(frame [FrameSize]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return errors.Errorf("motor port %s is closed", l.name)
	}
	n, err := l.port.Write(frame[:])
	if err != nil {
		return errors.Wrapf(err, "write to %s", l.name)
	}
	if n != FrameSize {
		return errors.Errorf("short write to %s: %d of %d bytes", l.name, n, FrameSize)
	}
	return nil
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
