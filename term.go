package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
	"i4.energy/across/cellctl/at"
	"i4.energy/across/cellctl/modem"
)

const (
	historyFileName = ".cellctl_history"
	historySize     = 500
	termPrompt      = "AT> "
)

type lineSource interface {
	GetLine(prompt string) (string, error)
	Close()
}

// lineEditor reads terminal input with readline when stdin is a terminal and
// line by line otherwise, so commands can be piped in.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineEditor(out io.Writer) *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin), out: out}
	}

	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, historyFileName)
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            history,
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin), out: out}
	}
	return &lineEditor{rl: rl, out: out}
}

func (e *lineEditor) GetLine(prompt string) (string, error) {
	if e.rl == nil {
		fmt.Fprint(e.out, prompt)
		if !e.scanner.Scan() {
			if err := e.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return e.scanner.Text(), nil
	}

	e.rl.SetPrompt(prompt)
	line, err := e.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		e.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (e *lineEditor) Close() {
	if e.rl != nil {
		e.rl.Close()
		e.rl = nil
	}
}

// runTerminal is an interactive AT prompt. Besides AT commands it knows
// "raw <command>" (keep every reply line), "status" and "quit".
func runTerminal(ctx context.Context, m *modem.Modem, src lineSource, out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := src.GetLine(termPrompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		raw := false
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return nil
		case line == "status":
			if err := m.Status().Report(out); err != nil {
				return err
			}
			continue
		case strings.HasPrefix(line, "raw "):
			raw = true
			line = strings.TrimSpace(strings.TrimPrefix(line, "raw "))
		}

		cmd, err := at.ParseCommand(line)
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			continue
		}
		if raw {
			cmd = cmd.Unprefixed()
		}

		reply, err := m.Send(ctx, cmd)
		if errors.Is(err, modem.ErrAlreadyClosed) {
			return err
		}
		printReply(out, reply, err)
	}
}

func printReply(out io.Writer, reply modem.Reply, err error) {
	for _, l := range reply {
		fmt.Fprintln(out, l)
	}
	if err != nil {
		fmt.Fprintf(out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(out, at.OK)
}
