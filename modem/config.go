package modem

import (
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the pause of the notification feeder between two
	// polls. It is what lets a waiting command get the control line.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultRetryPause is the pause after a failed transport read.
	DefaultRetryPause = 200 * time.Millisecond
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

// Config configures a Modem. Only Dialer is required.
type Config struct {
	Dialer Dialer
	SimPIN string
	// EchoOn puts the modem in echo mode during init and makes the collector
	// consume the echoed command line before collecting the reply.
	EchoOn bool
	// KeepPending disables discarding of already received bytes before a
	// command is written.
	KeepPending bool
	// PollInterval is the feeder pause between two polls.
	PollInterval time.Duration
	// RetryPause is the pause after a transient read failure.
	RetryPause time.Duration
	// MaxReadRetries caps consecutive transient read failures. Zero retries
	// forever.
	MaxReadRetries int
	// RecoverHandlers makes the dispatcher survive a panicking handler.
	RecoverHandlers bool
	// OnEvent receives the notifications the default handlers recognize.
	OnEvent func(Event)
	Logger  *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryPause == 0 {
		c.RetryPause = DefaultRetryPause
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder assembles a Config. Echo is on unless disabled.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with echo enabled.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{EchoOn: true}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithSimPIN sets the PIN entered when the SIM asks for one.
func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithEcho(on bool) *ConfigBuilder {
	b.config.EchoOn = on
	return b
}

// WithKeepPending stops Send from discarding unread input.
func (b *ConfigBuilder) WithKeepPending() *ConfigBuilder {
	b.config.KeepPending = true
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithRetryPause(d time.Duration) *ConfigBuilder {
	b.config.RetryPause = d
	return b
}

func (b *ConfigBuilder) WithMaxReadRetries(n int) *ConfigBuilder {
	b.config.MaxReadRetries = n
	return b
}

func (b *ConfigBuilder) WithHandlerRecovery() *ConfigBuilder {
	b.config.RecoverHandlers = true
	return b
}

func (b *ConfigBuilder) WithEventHandler(fn func(Event)) *ConfigBuilder {
	b.config.OnEvent = fn
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
