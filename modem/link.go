package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"i4.energy/across/cellctl/at"
)

const (
	DefaultDaemonPath  = "/usr/sbin/pppd"
	DefaultBaudRate    = 115200
	DefaultDialNumber  = "*99#"
	DefaultPeer        = "cellctl"
	DefaultDialTimeout = 60 * time.Second
)

// DefaultDaemonArgs returns the link negotiation flags passed to the daemon
// after the baud rate and the device path.
func DefaultDaemonArgs(peer string) []string {
	return []string{
		"modem", "crtscts", "defaultroute", "usehostname", "-detach",
		"noipdefault", "call", peer, "user", "ppp", "usepeerdns",
		"idle", "0", "logfd", "8",
	}
}

// LinkState is the lifecycle state of a Link.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// LinkConfig configures a Link. Dialer and Device are required; the rest
// default to the pppd setup used with USB data cards.
type LinkConfig struct {
	// Dialer opens the data port.
	Dialer Dialer
	// Device is the data port path handed to the daemon.
	Device  string
	Spawner Spawner
	// DaemonPath is the link daemon binary.
	DaemonPath string
	BaudRate   int
	DialNumber string
	// Args follow the baud rate and device on the daemon command line.
	Args []string
	// DialTimeout bounds the wait for the dial result when the context of
	// Connect has no deadline.
	DialTimeout time.Duration
	RetryPause  time.Duration
	Logger      *slog.Logger
}

func (c *LinkConfig) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.Device == "" {
		return errors.New("link device path is required")
	}
	return nil
}

func (c *LinkConfig) setDefaults() {
	if c.Spawner == nil {
		c.Spawner = ExecSpawner{}
	}
	if c.DaemonPath == "" {
		c.DaemonPath = DefaultDaemonPath
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DialNumber == "" {
		c.DialNumber = DefaultDialNumber
	}
	if c.Args == nil {
		c.Args = DefaultDaemonArgs(DefaultPeer)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RetryPause == 0 {
		c.RetryPause = DefaultRetryPause
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LinkConfigBuilder assembles a LinkConfig.
type LinkConfigBuilder struct {
	config LinkConfig
}

// NewLinkConfigBuilder returns an empty builder.
func NewLinkConfigBuilder() *LinkConfigBuilder {
	return &LinkConfigBuilder{}
}

// WithDataPort dials the data port over a serial line and hands the same
// device to the daemon.
func (b *LinkConfigBuilder) WithDataPort(device string, baudRate int) *LinkConfigBuilder {
	b.config.Dialer = SerialDialer{PortName: device, BaudRate: baudRate}
	b.config.Device = device
	b.config.BaudRate = baudRate
	return b
}

// WithDialer uses d for the data port and passes device to the daemon.
func (b *LinkConfigBuilder) WithDialer(d Dialer, device string) *LinkConfigBuilder {
	b.config.Dialer = d
	b.config.Device = device
	return b
}

func (b *LinkConfigBuilder) WithSpawner(s Spawner) *LinkConfigBuilder {
	b.config.Spawner = s
	return b
}

// WithDaemon replaces the daemon path and, when given, its arguments.
func (b *LinkConfigBuilder) WithDaemon(path string, args ...string) *LinkConfigBuilder {
	b.config.DaemonPath = path
	if len(args) > 0 {
		b.config.Args = args
	}
	return b
}

// WithPeer uses DefaultDaemonArgs for peer.
func (b *LinkConfigBuilder) WithPeer(peer string) *LinkConfigBuilder {
	b.config.Args = DefaultDaemonArgs(peer)
	return b
}

func (b *LinkConfigBuilder) WithDialNumber(number string) *LinkConfigBuilder {
	b.config.DialNumber = number
	return b
}

func (b *LinkConfigBuilder) WithDialTimeout(d time.Duration) *LinkConfigBuilder {
	b.config.DialTimeout = d
	return b
}

func (b *LinkConfigBuilder) WithLogger(l *slog.Logger) *LinkConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *LinkConfigBuilder) Build() (LinkConfig, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return LinkConfig{}, err
	}
	c.setDefaults()
	return c, nil
}

// Link brings a packet data connection up and down. It dials on the data
// port, which it owns, then hands the port over to a link daemon and
// supervises that process. Link never touches the control line, so it runs
// independently of Send and of the notification router.
type Link struct {
	config LinkConfig
	logger *slog.Logger

	mu    sync.Mutex
	state LinkState
	// proc and transport are set while connected.
	proc      Process
	transport Transport
}

// NewLink validates config and returns a disconnected Link. Nothing is
// opened until Connect.
func NewLink(config LinkConfig) (*Link, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()
	return &Link{
		config: config,
		logger: config.Logger.With("component", "link"),
	}, nil
}

// State returns the current lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// PID returns the daemon pid, or 0 when not connected.
func (l *Link) PID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc == nil {
		return 0
	}
	return l.proc.Pid()
}

// Info samples the running daemon.
func (l *Link) Info() (ProcessInfo, error) {
	l.mu.Lock()
	proc := l.proc
	l.mu.Unlock()
	if proc == nil {
		return ProcessInfo{}, ErrNotConnected
	}
	return proc.Info()
}

// Connect dials the network and starts the link daemon. It returns the
// daemon pid.
//
// When the link is already connected but its daemon has exited, the link
// is reset and dialed again; while the daemon runs Connect fails with
// ErrAlreadyConnected. A connect already in progress makes it fail with
// ErrLinkBusy. With dialtoneCheck false, dial tone detection is disabled
// before dialing.
func (l *Link) Connect(ctx context.Context, dialtoneCheck bool) (int, error) {
	l.mu.Lock()
	switch l.state {
	case LinkConnecting:
		l.mu.Unlock()
		return 0, ErrLinkBusy

	case LinkConnected:
		exited, err := l.proc.Exited()
		if err != nil {
			l.mu.Unlock()
			return 0, fmt.Errorf("check link daemon: %w", err)
		}
		if !exited {
			l.mu.Unlock()
			return 0, ErrAlreadyConnected
		}
		l.logger.Info("link daemon exited, reconnecting", "pid", l.proc.Pid())
		l.resetLocked()
	}
	l.state = LinkConnecting
	l.mu.Unlock()

	transport, proc, err := l.connect(ctx, dialtoneCheck)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = LinkDisconnected
		return 0, err
	}
	l.state = LinkConnected
	l.proc = proc
	l.transport = transport
	l.logger.Info("link connected", "pid", proc.Pid())
	return proc.Pid(), nil
}

func (l *Link) connect(ctx context.Context, dialtoneCheck bool) (Transport, Process, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.DialTimeout)
		defer cancel()
	}

	transport, err := l.config.Dialer.Dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open data port: %w", err)
	}

	if err := l.dial(ctx, transport, dialtoneCheck); err != nil {
		transport.Close()
		return nil, nil, err
	}

	args := append([]string{strconv.Itoa(l.config.BaudRate), l.config.Device}, l.config.Args...)
	proc, err := l.config.Spawner.Spawn(l.config.DaemonPath, args)
	if err != nil {
		transport.Close()
		return nil, nil, &LinkStartupError{Path: l.config.DaemonPath, Err: err}
	}
	return transport, proc, nil
}

// dial runs the reset, dial tone and dial commands on the data port and
// waits for the carrier.
func (l *Link) dial(ctx context.Context, t Transport, dialtoneCheck bool) error {
	coll := &collector{
		lines:      newLineReader(t),
		retryPause: l.config.RetryPause,
		logger:     l.logger,
		ctx:        ctx,
	}

	steps := []at.Command{at.Run(at.CmdReset)}
	if !dialtoneCheck {
		steps = append(steps, at.Run(at.CmdDialtoneOff))
	}
	for _, cmd := range steps {
		if err := l.write(t, cmd); err != nil {
			return err
		}
		if _, err := coll.collect(cmd.String(), cmd.Mnemonic); err != nil {
			return err
		}
	}

	dial := at.Run(at.CmdDial + l.config.DialNumber)
	if err := l.write(t, dial); err != nil {
		return err
	}
	return awaitCarrier(ctx, coll, dial.String())
}

func (l *Link) write(t Transport, cmd at.Command) error {
	l.logger.Debug("tx", "command", cmd.String())
	if _, err := t.Write(cmd.Frame()); err != nil {
		return fmt.Errorf("write command %q: %w", cmd.String(), err)
	}
	return nil
}

// awaitCarrier reads the dial result, skipping blank lines and the echoed
// dial command.
func awaitCarrier(ctx context.Context, coll *collector, command string) error {
	for {
		line, err := coll.readLine()
		if errors.Is(err, ErrLineTooLong) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("wait for carrier: %w", err)
			}
			return err
		}

		line = at.Trim(line)
		switch {
		case line == "", strings.HasPrefix(line, at.Prefix+"D"):
			continue
		case strings.HasPrefix(line, at.Connect):
			return nil
		case at.IsError(line):
			return &ProtocolError{Command: command, Line: line}
		default:
			return fmt.Errorf("%w: %q", ErrDialFailed, line)
		}
	}
}

// Disconnect terminates the daemon, waits for it and closes the data port.
// The link is Disconnected afterwards even when termination reported an
// error.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkConnected {
		return ErrNotConnected
	}

	pid := l.proc.Pid()
	err := l.proc.Terminate()
	l.resetLocked()
	if err != nil {
		return fmt.Errorf("terminate link daemon: %w", err)
	}
	l.logger.Info("link disconnected", "pid", pid)
	return nil
}

func (l *Link) resetLocked() {
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			l.logger.Debug("close data port", "error", err)
		}
	}
	l.transport = nil
	l.proc = nil
	l.state = LinkDisconnected
}
