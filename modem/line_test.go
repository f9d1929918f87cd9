package modem

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestLineReader(t *testing.T) {
	t.Run("Keeps line endings and splits buffered lines", func(t *testing.T) {
		transport := NewTestTransport()
		transport.SendData("RING\r\n\r\n+CMTI: \"SM\",1\r\n")
		r := newLineReader(transport)

		for _, want := range []string{"RING\r\n", "\r\n", "+CMTI: \"SM\",1\r\n"} {
			line, err := r.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, want, line)
		}
		assert.Zero(t, r.Buffered())
	})

	t.Run("Timeout yields an empty line and keeps partial data", func(t *testing.T) {
		transport := NewTestTransport()
		transport.SendData("+CSQ: 1")
		r := newLineReader(transport)

		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "", line)
		assert.Equal(t, len("+CSQ: 1"), r.Buffered())

		line, err = r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "", line, "read timeout on a silent line")

		transport.SendData("4,99\r\n")
		line, err = r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "+CSQ: 14,99\r\n", line)
	})

	t.Run("Prompt is a line of its own", func(t *testing.T) {
		transport := NewTestTransport()
		transport.SendData("> ")
		r := newLineReader(transport)

		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "> ", line)
	})

	t.Run("Oversized line", func(t *testing.T) {
		transport := NewTestTransport()
		r := newLineReader(transport)

		transport.SendData(strings.Repeat("x", maxLineLength+1))
		var err error
		for range maxLineLength/readChunk + 2 {
			if _, err = r.ReadLine(); err != nil {
				break
			}
		}
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Zero(t, r.Buffered())
	})

	t.Run("Read error after a complete line", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTransport := NewMockTransport(ctrl)
		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, "OK\r\n"), errors.New("late failure")
		})
		r := newLineReader(mockTransport)

		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "OK\r\n", line)
	})

	t.Run("Drain discards buffered and pending input", func(t *testing.T) {
		transport := NewTestTransport()
		transport.SendData("RING\r\nstale")
		r := newLineReader(transport)

		line, err := r.ReadLine()
		require.NoError(t, err)
		require.Equal(t, "RING\r\n", line)
		transport.SendData("more\r\n")

		n, err := r.Drain()
		require.NoError(t, err)
		assert.Equal(t, len("stale"), n)
		assert.Zero(t, r.Buffered())
		assert.Zero(t, transport.Pending())
	})
}
