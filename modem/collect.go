package modem

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/cellctl/at"
)

// Reply holds the retained lines of one command, in arrival order.
type Reply []string

// collector consumes lines until the OK terminator or an error line. It is
// the synchronous half of every command and is only used by the goroutine
// that owns the line (the Gate holder, or the Link on the data line).
type collector struct {
	lines      *lineReader
	retryPause time.Duration
	maxRetries int
	logger     *slog.Logger
	// ctx, when set, aborts collection once done. The control line
	// collector has none: a held command waits for its terminator.
	ctx context.Context
}

// readLine reads one raw line. Transient I/O failures are paused on and
// retried; with maxRetries set, failure number maxRetries+1 is returned.
func (c *collector) readLine() (string, error) {
	failures := 0
	for {
		if c.ctx != nil {
			if err := c.ctx.Err(); err != nil {
				return "", err
			}
		}
		line, err := c.lines.ReadLine()
		if err == nil {
			if line != "" {
				c.logger.Debug("rx", "line", line)
			}
			return line, nil
		}
		if isTerminal(err) || errors.Is(err, ErrLineTooLong) {
			return "", err
		}

		failures++
		if c.maxRetries > 0 && failures > c.maxRetries {
			return "", &TransientTransportError{Attempts: failures, Err: err}
		}
		c.logger.Debug("transient read failure", "error", err, "attempt", failures)
		time.Sleep(c.retryPause)
	}
}

// skipEcho consumes the echoed command line: the first non-blank line.
// done is true when that line already was the OK terminator, which happens
// when the modem does not echo.
func (c *collector) skipEcho(command string) (done bool, err error) {
	for {
		line, err := c.readLine()
		if errors.Is(err, ErrLineTooLong) {
			c.logger.Warn("discarding oversized line", "command", command)
			continue
		}
		if err != nil {
			return false, err
		}

		line = at.Trim(line)
		switch {
		case line == "":
			continue
		case at.IsError(line):
			return false, &ProtocolError{Command: command, Line: line}
		default:
			return line == at.OK, nil
		}
	}
}

// skipBodyEcho consumes the echo of a message body written after the input
// prompt. The body is free text, so echoed lines are never classified: a
// body saying "ERROR" or "OK" must not end the exchange. The echo ends with
// the line carrying Ctrl-Z. A line starting with mnemonic means the modem
// did not echo and is returned for the reply; a +CMS/+CME error fails.
func (c *collector) skipBodyEcho(command, mnemonic string) (string, error) {
	for {
		line, err := c.readLine()
		if errors.Is(err, ErrLineTooLong) {
			continue
		}
		if err != nil {
			return "", err
		}

		line = at.Trim(line)
		switch {
		case strings.Contains(line, at.CtrlZ):
			return "", nil
		case mnemonic != "" && strings.HasPrefix(line, mnemonic):
			return line, nil
		case strings.HasPrefix(line, at.CmsError), strings.HasPrefix(line, at.CmeError):
			return "", &ProtocolError{Command: command, Line: line}
		}
	}
}

// collect returns the reply lines up to, not including, the OK terminator.
// With a mnemonic only lines starting with it are kept, minus the
// "<mnemonic>: " prefix; without one every non-blank line is kept.
// An error line aborts collection and nothing collected so far is returned.
func (c *collector) collect(command, mnemonic string) (Reply, error) {
	reply := Reply{}
	for {
		line, err := c.readLine()
		if errors.Is(err, ErrLineTooLong) {
			c.logger.Warn("discarding oversized line", "command", command)
			continue
		}
		if err != nil {
			return nil, err
		}

		line = at.Trim(line)
		if at.IsError(line) {
			return nil, &ProtocolError{Command: command, Line: line}
		}
		if line == at.OK {
			return reply, nil
		}

		if mnemonic != "" {
			if strings.HasPrefix(line, mnemonic) {
				reply = append(reply, stripMnemonic(line, mnemonic))
			}
		} else if line != "" {
			reply = append(reply, line)
		}
	}
}

func stripMnemonic(line, mnemonic string) string {
	line = strings.TrimPrefix(line, mnemonic)
	line = strings.TrimPrefix(line, ":")
	return strings.TrimPrefix(line, " ")
}
