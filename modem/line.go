package modem

import (
	"i4.energy/across/cellctl/at"
)

const (
	// maxLineLength bounds a line that never sees its newline.
	maxLineLength = 4096
	readChunk     = 256
)

// lineReader turns a Transport into a source of raw lines. It is not safe for
// concurrent use: every caller holds the Gate (or owns the transport).
type lineReader struct {
	t       Transport
	buf     []byte
	scratch []byte
}

func newLineReader(t Transport) *lineReader {
	return &lineReader{
		t:       t,
		scratch: make([]byte, readChunk),
	}
}

// ReadLine returns the next raw line, line ending included. It performs at
// most one Read on the transport. When that Read times out without
// completing a line it returns "" and keeps any partial line buffered.
func (r *lineReader) ReadLine() (string, error) {
	if line, ok := r.next(); ok {
		return line, nil
	}

	n, err := r.t.Read(r.scratch)
	if n > 0 {
		r.buf = append(r.buf, r.scratch[:n]...)
	}
	if line, ok := r.next(); ok {
		return line, nil
	}
	if err != nil {
		return "", err
	}
	if len(r.buf) > maxLineLength {
		r.buf = r.buf[:0]
		return "", ErrLineTooLong
	}
	return "", nil
}

func (r *lineReader) next() (string, bool) {
	advance, token, _ := at.Splitter(r.buf, false)
	if advance == 0 {
		return "", false
	}
	line := string(token)
	r.buf = r.buf[advance:]
	return line, true
}

// Buffered returns the number of bytes read from the transport but not yet
// returned as a line.
func (r *lineReader) Buffered() int {
	return len(r.buf)
}

// Drain discards everything already received: the local buffer and, when
// the transport supports it, the bytes waiting in the driver.
func (r *lineReader) Drain() (int, error) {
	n := len(r.buf)
	r.buf = r.buf[:0]
	if rs, ok := r.t.(inputResetter); ok {
		return n, rs.ResetInputBuffer()
	}
	return n, nil
}
