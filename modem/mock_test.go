package modem_test

import (
	"context"
	"strings"
	"testing"
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/cellctl/modem"
)

// MockSequenceBuilder records the Write/Read pairs of a modem with echo on:
// every reply starts with the echoed command.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Exchange expects cmd to be written and answers with its echo and reply.
func (b *MockSequenceBuilder) Exchange(cmd, reply string) *MockSequenceBuilder {
	frame := cmd + "\r"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(frame)).Return(len(frame), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			resp := cmd + "\r\r\n" + reply
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "OK\r\n")
}

func (b *MockSequenceBuilder) EchoOn() *MockSequenceBuilder {
	return b.Exchange("ATE1", "OK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Exchange("AT+CMEE=2", "OK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EnterPIN(pin string) *MockSequenceBuilder {
	return b.Exchange(`AT+CPIN="`+pin+`"`, "OK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Exchange("AT+CMGF=1", "OK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls returns the expectations of a successful initialization.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOn().
		VerboseErrors().
		SimReady().
		SMSTextMode().
		Build()
}

type staticDialer struct {
	t modem.Transport
}

func (d staticDialer) Dial(context.Context) (modem.Transport, error) {
	return d.t, nil
}

// scriptedModem answers written frames like a modem with echo on. Frames
// found in replies get that reply after the echo; AT+CPIN? reports a ready
// SIM; everything else is answered with OK.
func scriptedModem(replies map[string]string) func(string) string {
	return func(frame string) string {
		cmd := strings.TrimSuffix(frame, "\r")
		if reply, ok := replies[cmd]; ok {
			return cmd + "\r\r\n" + reply
		}
		if cmd == "AT+CPIN?" {
			return cmd + "\r\r\n+CPIN: READY\r\n\r\nOK\r\n"
		}
		return cmd + "\r\r\nOK\r\n"
	}
}

// newTestModem returns an initialized modem on a TestTransport answering
// with scriptedModem(replies).
func newTestModem(t *testing.T, replies map[string]string, opts ...func(*modem.ConfigBuilder)) (*modem.Modem, *modem.TestTransport) {
	t.Helper()

	transport := modem.NewTestTransport()
	transport.Respond = scriptedModem(replies)

	b := modem.NewConfigBuilder().
		WithDialer(staticDialer{transport}).
		WithPollInterval(5 * time.Millisecond).
		WithRetryPause(time.Millisecond)
	for _, opt := range opts {
		opt(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, transport
}
