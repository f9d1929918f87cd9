package at

import (
	"fmt"
	"strings"
)

// Kind selects the suffix a command is framed with.
type Kind int

const (
	// KindRun executes the command: AT<mnemonic>
	KindRun Kind = iota
	// KindGet reads the current value: AT<mnemonic>?
	KindGet
	// KindSet writes a value: AT<mnemonic>=<value>
	KindSet
	// KindDescribe lists the supported values: AT<mnemonic>=?
	KindDescribe
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindDescribe:
		return "describe"
	default:
		return "unknown"
	}
}

// Command is a single AT command. It is built per call and never modified.
type Command struct {
	// Mnemonic is the token following the AT prefix, e.g. "+CSQ".
	Mnemonic string
	Kind     Kind
	// Value is the argument of a KindSet command.
	Value string
	// Prefixed restricts the reply to lines starting with the mnemonic,
	// with the "<mnemonic>: " prefix stripped.
	Prefixed bool
}

// Run returns a prefixed KindRun command.
func Run(mnemonic string) Command {
	return Command{Mnemonic: mnemonic, Kind: KindRun, Prefixed: true}
}

// Get returns a prefixed KindGet command.
func Get(mnemonic string) Command {
	return Command{Mnemonic: mnemonic, Kind: KindGet, Prefixed: true}
}

// Set returns a prefixed KindSet command.
func Set(mnemonic, value string) Command {
	return Command{Mnemonic: mnemonic, Kind: KindSet, Value: value, Prefixed: true}
}

// Describe returns a prefixed KindDescribe command.
func Describe(mnemonic string) Command {
	return Command{Mnemonic: mnemonic, Kind: KindDescribe, Prefixed: true}
}

// Unprefixed returns a copy of c that keeps every non-empty reply line.
func (c Command) Unprefixed() Command {
	c.Prefixed = false
	return c
}

// Suffix returns the part of the frame between the mnemonic and the terminator.
func (c Command) Suffix() string {
	switch c.Kind {
	case KindGet:
		return "?"
	case KindSet:
		return "=" + c.Value
	case KindDescribe:
		return "=?"
	default:
		return ""
	}
}

// Frame returns the wire form of the command, terminator included.
func (c Command) Frame() []byte {
	return []byte(Prefix + c.Mnemonic + c.Suffix() + Terminator)
}

func (c Command) String() string {
	return Prefix + c.Mnemonic + c.Suffix()
}

// ParseCommand turns a command line as typed by a user ("AT+CSQ",
// "at+cops=?", "+CMGF=1") into a prefixed Command. The mnemonic of a
// command whose reply is not prefixed by its name (ATI, AT+GSN) simply
// never matches; use Unprefixed for those.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if len(line) >= len(Prefix) && strings.EqualFold(line[:len(Prefix)], Prefix) {
		line = line[len(Prefix):]
	}

	switch {
	case strings.HasSuffix(line, "=?"):
		return Describe(strings.TrimSuffix(line, "=?")), nil
	case strings.HasSuffix(line, "?"):
		return Get(strings.TrimSuffix(line, "?")), nil
	}

	if i := strings.IndexByte(line, '='); i >= 0 {
		if i == 0 {
			return Command{}, fmt.Errorf("missing mnemonic in %q", line)
		}
		return Set(line[:i], line[i+1:]), nil
	}
	return Run(line), nil
}
