package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/atomic"

	"i4.energy/across/cellctl/at"
)

// Modem represents a cellular modem controlled over a single AT command line.
//
// The control line is shared by foreground callers of Send and by the
// notification feeder. Every access to it happens while holding the Gate,
// for exactly one command/reply cycle or one single-line poll.
type Modem struct {
	// transport provides the physical connection to the modem.
	transport Transport
	// config contains the modem configuration settings.
	config Config
	logger *slog.Logger

	// gate serializes all control line access.
	gate *Gate
	// lines and coll are only touched while holding gate.
	lines *lineReader
	coll  *collector

	status *Status
	router *Router

	// closed indicates if the modem has been shut down.
	closed atomic.Bool
}

const (
	// simReadyInterval and simReadyTimeout bound the wait for the SIM after
	// the PIN was entered.
	simReadyInterval = 500 * time.Millisecond
	simReadyTimeout  = 30 * time.Second
)

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and initializes the modem
// hardware with common actions. The notification router is not started.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := newModem(transport, config)
	if err := m.init(ctx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}
	return m, nil
}

func newModem(transport Transport, config Config) *Modem {
	logger := config.Logger.With("component", "modem")
	lines := newLineReader(transport)
	m := &Modem{
		transport: transport,
		config:    config,
		logger:    logger,
		gate:      NewGate(),
		lines:     lines,
		coll: &collector{
			lines:      lines,
			retryPause: config.RetryPause,
			maxRetries: config.MaxReadRetries,
			logger:     logger,
		},
		status: &Status{},
	}
	m.router = newRouter(m)
	return m
}

// Status returns the telemetry record updated by the notification handlers.
func (m *Modem) Status() *Status {
	return m.status
}

// Router returns the notification router of the modem.
func (m *Modem) Router() *Router {
	return m.router
}

// StartNotifications starts the notification router with table, or with
// DefaultRuleTable when table is nil.
func (m *Modem) StartNotifications(table *RuleTable) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	return m.router.Start(table)
}

// StopNotifications stops the notification router and waits for it.
func (m *Modem) StopNotifications() error {
	return m.router.Stop()
}

// Send writes cmd to the modem and collects its reply.
//
// ctx bounds only the wait for the control line. Once the line is held the
// call returns when the modem answers OK, an error line, or the transport
// fails for good. A reply line matching the error vocabulary is returned as
// a *ProtocolError.
func (m *Modem) Send(ctx context.Context, cmd at.Command) (Reply, error) {
	if m.closed.Load() {
		return nil, ErrAlreadyClosed
	}

	var reply Reply
	err := m.gate.Do(ctx, func() error {
		var err error
		reply, err = m.exchange(cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// exchange performs one command/reply cycle. The caller holds the gate.
func (m *Modem) exchange(cmd at.Command) (Reply, error) {
	if err := m.writeFrame(cmd); err != nil {
		return nil, err
	}
	return m.readReply(cmd)
}

func (m *Modem) writeFrame(cmd at.Command) error {
	if !m.config.KeepPending {
		n, err := m.lines.Drain()
		if err != nil {
			m.logger.Debug("drain input", "error", err)
		}
		if n > 0 {
			m.logger.Debug("discarded pending input", "bytes", n)
		}
	}

	m.logger.Debug("tx", "command", cmd.String())
	if _, err := m.transport.Write(cmd.Frame()); err != nil {
		return fmt.Errorf("write command %q: %w", cmd.String(), err)
	}
	return nil
}

func (m *Modem) readReply(cmd at.Command) (Reply, error) {
	if m.config.EchoOn {
		done, err := m.coll.skipEcho(cmd.String())
		if err != nil {
			return nil, err
		}
		if done {
			return Reply{}, nil
		}
	}

	mnemonic := ""
	if cmd.Prefixed {
		mnemonic = cmd.Mnemonic
	}
	return m.coll.collect(cmd.String(), mnemonic)
}

// exchangeWithPrompt sends cmd, waits for the "> " input prompt, writes
// body terminated by Ctrl-Z and collects the final reply. The caller holds
// the gate for the whole sequence.
func (m *Modem) exchangeWithPrompt(cmd at.Command, body string) (Reply, error) {
	if err := m.writeFrame(cmd); err != nil {
		return nil, err
	}

	for {
		line, err := m.coll.readLine()
		if errors.Is(err, ErrLineTooLong) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if at.Classify(line) == at.TypePrompt {
			break
		}
		trimmed := at.Trim(line)
		if at.IsError(trimmed) {
			return nil, &ProtocolError{Command: cmd.String(), Line: trimmed}
		}
		if trimmed == at.OK {
			return nil, fmt.Errorf("%s: reply ended before input prompt", cmd.String())
		}
	}

	m.logger.Debug("tx", "body_length", len(body))
	if _, err := m.transport.Write([]byte(body + at.CtrlZ)); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}

	reply := Reply{}
	if m.config.EchoOn {
		line, err := m.coll.skipBodyEcho(cmd.String(), cmd.Mnemonic)
		if err != nil {
			return nil, err
		}
		if line != "" {
			reply = append(reply, stripMnemonic(line, cmd.Mnemonic))
		}
	}
	rest, err := m.coll.collect(cmd.String(), cmd.Mnemonic)
	if err != nil {
		return nil, err
	}
	return append(reply, rest...), nil
}

// Close shuts down the modem and releases all resources.
// It stops the notification router if it runs and closes the transport.
// After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	if m.router.State() == RouterRunning {
		if err := m.router.Stop(); err != nil {
			m.logger.Warn("stop notification router", "error", err)
		}
	}

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// expectOK sends cmd and discards its reply.
func (m *Modem) expectOK(ctx context.Context, cmd at.Command) error {
	_, err := m.Send(ctx, cmd)
	return err
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOK(ctx, at.Run(at.CmdSanity)); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	echo := at.CmdEchoOff
	if m.config.EchoOn {
		echo = at.CmdEchoOn
	}
	if err := m.expectOK(ctx, at.Run(echo)); err != nil {
		return fmt.Errorf("could not set echo mode: %w", err)
	}

	if err := m.expectOK(ctx, at.Set(at.CmdVerboseError, "2")); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	// 4. Check SIM status
	state, err := m.PINStatus(ctx)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case state == at.SimReady:
		// OK

	case strings.HasPrefix(state, at.SimPin):
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.EnterPIN(ctx, m.config.SimPIN); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", state)
	}

	// 5. Select SMS text mode
	if err := m.expectOK(ctx, at.Set(at.CmdTextMode, "1")); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}

	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational.
func (m *Modem) waitForSIMReady(ctx context.Context) error {
	ticker := time.NewTicker(simReadyInterval)
	defer ticker.Stop()
	deadline := time.After(simReadyTimeout)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-deadline:
			return fmt.Errorf("SIM not ready after %v", simReadyTimeout)
		case <-ticker.C:
			state, err := m.PINStatus(ctx)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || isTerminal(err) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if state == at.SimReady {
				return nil
			}
		}
	}
}
