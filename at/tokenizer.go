package at

import (
	"bufio"
	"bytes"
	"slices"
	"strings"
)

// errorPhrases are the short replies that fail a command when they make up
// the whole line. Any line containing ERROR fails it as well.
var errorPhrases = []string{
	CommandNotSupport,
	Err,
	NoCarrier,
	Busy,
	NoDialtone,
	NoAnswer,
}

// Splitter is used for tokenizing AT command modem output. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Unlike bufio.ScanLines the returned token is the raw line: it keeps its
// trailing "\r\n" (or "\n") so that callers can tell a blank CRLF line apart
// from a read timeout. It also recognizes the SMS input prompt ("> ") which
// the modem sends without a line ending.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match line ending, terminator included
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[0 : i+1], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Trim strips the line ending and trailing blanks from a raw line.
func Trim(line string) string {
	return strings.TrimRight(line, " \t\r\n")
}

// IsError reports whether a reply line signals a failed command.
func IsError(line string) bool {
	line = Trim(line)
	return strings.Contains(line, ERROR) || slices.Contains(errorPhrases, line)
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	line = Trim(line)
	if line == "" {
		return TypeEmpty
	}
	if line == OK {
		return TypeFinal
	}
	if IsError(line) {
		return TypeError
	}

	switch {
	case line == UrcCall,
		strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcBoot),
		strings.HasPrefix(line, UrcMode),
		strings.HasPrefix(line, UrcSignalStrength),
		strings.HasPrefix(line, UrcFlowReport):
		return TypeURC
	default:
		return TypeData
	}
}
