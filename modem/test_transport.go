package modem

import (
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// TestTransport is a test helper that simulates a serial port in memory.
// Reads block until data is available or the read timeout expires, like a
// real serial port with a read timeout would, and return (0, nil) on
// timeout. Respond, when set, is called with every written frame and its
// result is queued for reading, which makes the transport behave as a
// scripted modem.
//
// TestTransport also watches for overlapping calls: the engine must never
// read or write the line from two goroutines at once.
type TestTransport struct {
	// Respond maps a written frame to the bytes the modem sends back.
	Respond func(frame string) string

	mu          sync.Mutex
	buf         []byte
	writes      []string
	resets      int
	closed      bool
	signal      chan struct{}
	readTimeout time.Duration

	inFlight atomic.Int32
	overlaps atomic.Int32
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		signal:      make(chan struct{}, 1),
		readTimeout: 20 * time.Millisecond,
	}
}

// SetReadTimeout changes how long Read waits for data.
func (t *TestTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

func (t *TestTransport) enter() func() {
	if t.inFlight.Inc() > 1 {
		t.overlaps.Inc()
	}
	return func() { t.inFlight.Dec() }
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	defer t.enter()()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	frame := string(p)
	t.writes = append(t.writes, frame)
	respond := t.Respond
	t.mu.Unlock()

	if respond != nil {
		if reply := respond(frame); reply != "" {
			t.SendData(reply)
		}
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	defer t.enter()()

	t.mu.Lock()
	timer := time.NewTimer(t.readTimeout)
	t.mu.Unlock()
	defer timer.Stop()

	for {
		t.mu.Lock()
		if len(t.buf) > 0 {
			n = copy(p, t.buf)
			t.buf = t.buf[n:]
			t.mu.Unlock()
			return n, nil
		}
		if t.closed {
			t.mu.Unlock()
			return 0, io.EOF
		}
		t.mu.Unlock()

		select {
		case <-t.signal:
		case <-timer.C:
			return 0, nil
		}
	}
}

// ResetInputBuffer discards the data not read yet.
func (t *TestTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = nil
	t.resets++
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.wake()
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.buf = append(t.buf, data...)
		t.wake()
	}
}

func (t *TestTransport) wake() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Writes returns every frame written so far.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Pending returns the number of bytes queued but not read yet.
func (t *TestTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Overlaps returns how many times a Read or Write started while another
// one was still running.
func (t *TestTransport) Overlaps() int {
	return int(t.overlaps.Load())
}

// Closed reports whether Close was called.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
