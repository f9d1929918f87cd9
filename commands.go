package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"i4.energy/across/cellctl/at"
	"i4.energy/across/cellctl/modem"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with notifications enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	linkFlags(cmd)
	return cmd
}

// serve runs until ctx is cancelled. The link stays down until a client
// asks for it.
func (a *app) serve(ctx context.Context) error {
	logger := a.logger

	m, err := a.openModem(ctx)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	if err := m.EnableNewMessageIndications(ctx); err != nil {
		logger.Warn("New message indications unavailable", "error", err)
	}
	if err := m.StartNotifications(nil); err != nil {
		return err
	}

	link, err := a.newLink()
	if err != nil {
		return err
	}
	defer func() {
		if err := link.Disconnect(); err != nil && !errors.Is(err, modem.ErrNotConnected) {
			logger.Error("Failed to disconnect link", "error", err)
		}
	}()

	server := &Server{
		Logger: logger.With("component", "server"),
		Modem:  m,
		Link:   link,
	}

	httpServer := &http.Server{
		Addr:    a.config.BindAddress,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

func newATCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:     "at <command>",
		Short:   "Send one AT command and print the reply",
		Example: "  cellctl at AT+CSQ\n  cellctl at --raw ATI",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := at.ParseCommand(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if raw {
				c = c.Unprefixed()
			}

			m, err := a.openModem(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			reply, err := m.Send(cmd.Context(), c)
			printReply(cmd.OutOrStdout(), reply, err)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Keep every reply line, not only the ones prefixed by the command")
	return cmd
}

func newTermCmd(a *app) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "term",
		Short: "Interactive AT terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.openModem(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if notify {
				if err := m.StartNotifications(nil); err != nil {
					return err
				}
			}

			editor := newLineEditor(cmd.OutOrStdout())
			defer editor.Close()
			return runTerminal(cmd.Context(), m, editor, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Dispatch unsolicited notifications while the terminal is open")
	return cmd
}

func newDialCmd(a *app) *cobra.Command {
	var dialtone bool
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Bring the data link up until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := a.newLink()
			if err != nil {
				return err
			}

			pid, err := link.Connect(cmd.Context(), dialtone)
			if err != nil {
				return err
			}
			a.logger.Info("Link connected", "pid", pid, "device", a.config.DataPort)

			<-cmd.Context().Done()
			a.logger.Info("Bringing link down", "pid", pid)
			return link.Disconnect()
		},
	}
	cmd.Flags().BoolVar(&dialtone, "dialtone", false, "Wait for a dial tone before dialing")
	linkFlags(cmd)
	return cmd
}
