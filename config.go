package main

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"i4.energy/across/cellctl/modem"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// ControlPort is the modem's command port (e.g. "/dev/ttyUSB1")
	ControlPort string
	// DataPort is the modem's data port used by the link (e.g. "/dev/ttyUSB0")
	DataPort string
	// BaudRate is the baud rate of both serial ports (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// DialNumber is dialed to bring the link up
	DialNumber string
	// Peer is the link daemon's peer (call) name
	Peer string
	// DaemonPath is the link daemon executable
	DaemonPath string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.ControlPort = "/dev/ttyUSB1"
		c.DataPort = "/dev/ttyUSB0"
		c.BaudRate = modem.DefaultBaudRate
		c.LogLevel = "info"
		c.DialNumber = modem.DefaultDialNumber
		c.Peer = modem.DefaultPeer
		c.DaemonPath = modem.DefaultDaemonPath
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if port := os.Getenv("CONTROL_PORT"); port != "" {
			c.ControlPort = port
		}

		if port := os.Getenv("DATA_PORT"); port != "" {
			c.DataPort = port
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if number := os.Getenv("DIAL_NUMBER"); number != "" {
			c.DialNumber = number
		}

		if peer := os.Getenv("PEER"); peer != "" {
			c.Peer = peer
		}

		if path := os.Getenv("DAEMON_PATH"); path != "" {
			c.DaemonPath = path
		}

		return nil
	}
}

// WithFlags loads configuration from the command-line flags that were set
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "control-port":
				c.ControlPort = f.Value.String()
			case "data-port":
				c.DataPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "dial-number":
				c.DialNumber = f.Value.String()
			case "peer":
				c.Peer = f.Value.String()
			case "daemon":
				c.DaemonPath = f.Value.String()
			}
		})
		return nil
	}
}

// modemConfig builds the control line configuration.
func (c *Config) modemConfig(logger *slog.Logger) (modem.Config, error) {
	return modem.NewConfigBuilder().
		WithSimPIN(c.SimPIN).
		WithDialer(modem.SerialDialer{
			PortName: c.ControlPort,
			BaudRate: c.BaudRate,
		}).
		WithHandlerRecovery().
		WithLogger(logger).
		Build()
}

// linkConfig builds the data link configuration.
func (c *Config) linkConfig(logger *slog.Logger) (modem.LinkConfig, error) {
	return modem.NewLinkConfigBuilder().
		WithDataPort(c.DataPort, c.BaudRate).
		WithPeer(c.Peer).
		WithDaemon(c.DaemonPath).
		WithDialNumber(c.DialNumber).
		WithLogger(logger).
		Build()
}
