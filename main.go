package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"i4.energy/across/cellctl/modem"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries what every sub-command needs once flags are parsed.
type app struct {
	config *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "cellctl",
		Short:        "Drive an AT-command cellular modem",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(cmd.Flags()))
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a.config = config
			a.logger = newLogger(os.Stderr, config.LogLevel)
			slog.SetDefault(a.logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("control-port", "/dev/ttyUSB1", "Serial port the modem takes AT commands on")
	flags.String("data-port", "/dev/ttyUSB0", "Serial port the data link is dialed on")
	flags.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("sim-pin", "", "SIM card PIN code (if required)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newATCmd(a))
	root.AddCommand(newTermCmd(a))
	root.AddCommand(newDialCmd(a))
	return root
}

func (a *app) openModem(ctx context.Context) (*modem.Modem, error) {
	config, err := a.config.modemConfig(a.logger)
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}
	m, err := modem.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("open modem on %s: %w", a.config.ControlPort, err)
	}
	return m, nil
}

func (a *app) newLink() (*modem.Link, error) {
	config, err := a.config.linkConfig(a.logger)
	if err != nil {
		return nil, fmt.Errorf("link config: %w", err)
	}
	return modem.NewLink(config)
}

// linkFlags registers the flags of the sub-commands that bring a link up.
func linkFlags(cmd *cobra.Command) {
	cmd.Flags().String("dial-number", modem.DefaultDialNumber, "Number dialed to bring the link up")
	cmd.Flags().String("peer", modem.DefaultPeer, "Link daemon peer name")
	cmd.Flags().String("daemon", modem.DefaultDaemonPath, "Link daemon executable")
}
