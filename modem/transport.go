package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mocks_test.go -package=modem . Transport,Dialer,Process,Spawner

// DefaultReadTimeout bounds every blocking read on a serial line. A read that
// times out returns no data, which the engine surfaces as an empty line.
const DefaultReadTimeout = 500 * time.Millisecond

// Transport represents an established, bidirectional byte stream to a modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Read is expected to return (0, nil) when its read timeout expires, as serial
// ports do; a Read that blocks forever makes every loop of the engine block
// with it. Typical implementations include serial ports, pseudo terminals,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// inputResetter is implemented by transports able to discard the bytes the
// driver has received but nobody has read yet (serial.Port does).
type inputResetter interface {
	ResetInputBuffer() error
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, a pseudo terminal, or test double) and is intended to be used
// during construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB1.
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the whole serial configuration when set.
	Mode *serial.Mode
	// ReadTimeout defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
}

var _ Dialer = SerialDialer{}

// Dial opens and configures the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.serialMode())
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}

	if err := port.SetReadTimeout(d.readTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
	}

	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// serialMode returns Mode, or 8N1 at BaudRate (115200 when unset).
func (d SerialDialer) serialMode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

func (d SerialDialer) readTimeout() time.Duration {
	if d.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return d.ReadTimeout
}

// isTerminal reports whether a transport error means the line is gone for
// good, as opposed to a transient I/O hiccup worth retrying.
func isTerminal(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrAlreadyClosed) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}
