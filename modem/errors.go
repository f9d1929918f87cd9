package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Modem or Link is constructed without a
	// Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Modem was not created
	// via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation on a closed Modem.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrDialFailed is returned by Link.Connect when the dial result is
	// neither a carrier nor an error reply.
	ErrDialFailed = errors.New("dial failed")
)

// ErrUsage is the parent of every error reporting an operation invoked in a
// state that forbids it. Usage errors are never retried or recovered.
var ErrUsage = errors.New("usage error")

var (
	ErrRouterRunning    = fmt.Errorf("%w: notification router already started", ErrUsage)
	ErrRouterStopped    = fmt.Errorf("%w: notification router not started", ErrUsage)
	ErrAlreadyConnected = fmt.Errorf("%w: link already connected", ErrUsage)
	ErrNotConnected     = fmt.Errorf("%w: link not connected", ErrUsage)
	ErrLinkBusy         = fmt.Errorf("%w: link connect in progress", ErrUsage)
)

// ProtocolError reports a reply line that matched the error vocabulary.
// The raw line is preserved for diagnostics.
type ProtocolError struct {
	Command string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("modem error: %s", e.Line)
	}
	return fmt.Sprintf("%s: modem error: %s", e.Command, e.Line)
}

// LinkStartupError reports that the link daemon could not be started.
type LinkStartupError struct {
	Path string
	Err  error
}

func (e *LinkStartupError) Error() string {
	return fmt.Sprintf("start link daemon %s: %v", e.Path, e.Err)
}

func (e *LinkStartupError) Unwrap() error {
	return e.Err
}

// TransientTransportError is returned only when MaxReadRetries is set and a
// read kept failing at the I/O layer for more than that many attempts.
type TransientTransportError struct {
	Attempts int
	Err      error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transport read failed %d times: %v", e.Attempts, e.Err)
}

func (e *TransientTransportError) Unwrap() error {
	return e.Err
}
