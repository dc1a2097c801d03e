package pio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/popbox/popbox/mlog"
)

var ErrLineTooLong = errors.New("line from remote too long") // Returned by Linepool.Readline.

// Linepool caches byte slices for reuse during reading of line-terminated
// responses.
type Linepool struct {
	c    chan []byte
	size int
}

// NewLinepool makes a new pool, initially empty, but holding at most "max"
// buffers of "size" bytes each. Size is the maximum line length, including line
// ending.
func NewLinepool(max, size int) *Linepool {
	return &Linepool{
		c:    make(chan []byte, max),
		size: size,
	}
}

// get returns a buffer from the pool if available, otherwise allocates a new buffer.
// The buffer should be returned with a call to put.
func (b *Linepool) get() []byte {
	var buf []byte

	// Attempt to get buffer from pool. Otherwise create new buffer.
	select {
	case buf = <-b.c:
	default:
	}
	if buf == nil {
		buf = make([]byte, b.size)
	}
	return buf
}

// put puts a "buf" back in the pool. Put clears the first "n" bytes, which should
// be all the bytes that have been read in the buffer. If the pool is full, the
// buffer is discarded, and will be cleaned up by the garbage collector.
// The caller should no longer reference "buf" after a call to put.
func (b *Linepool) put(log mlog.Log, buf []byte, n int) {
	if len(buf) != b.size {
		log.Error("buffer with bad size returned, ignoring", slog.Int("badsize", len(buf)), slog.Int("expsize", b.size))
		return
	}

	for i := 0; i < n; i++ {
		buf[i] = 0
	}
	select {
	case b.c <- buf:
	default:
	}
}

// Readline reads a \n-terminated line. Unlike bufio.Reader.ReadString, the line
// length is bounded. The line is returned including its line ending, typically
// \r\n.
//
// If the line is too long, ErrLineTooLong is returned.
// If an EOF is encountered before a \n, io.ErrUnexpectedEOF is returned.
func (b *Linepool) Readline(log mlog.Log, r *bufio.Reader) (line string, rerr error) {
	var nread int
	buf := b.get()
	defer func() {
		b.put(log, buf, nread)
	}()

	// Read until newline. If we reach the end of the buffer first, we return an
	// error, the protocol cannot be recovered. We don't want to consume data until we
	// finally see a newline, which may be never.
	for {
		if nread >= len(buf) {
			return "", fmt.Errorf("%w: no newline after all %d bytes", ErrLineTooLong, nread)
		}
		c, err := r.ReadByte()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		} else if err != nil {
			return "", fmt.Errorf("reading line from remote: %w", err)
		}
		buf[nread] = c
		nread++
		if c == '\n' {
			return string(buf[:nread]), nil
		}
	}
}
