package transport

import (
	"errors"
	"io"

	"github.com/sardanioss/hophttp/proxy"
)

// DefaultBufferSize is the lookahead capacity of a BufferedReader.
const DefaultBufferSize = 1024

// BufferedReader adds CRLF line reading and bounded lookahead over a
// byte stream. Unlike bufio.Reader it never grows: EnsureBuffered is an
// error, not a reallocation, when asked for more than the capacity —
// and Read drains buffered bytes before issuing at most one read on the
// inner stream, so it never blocks holding response bytes a pooled
// connection is waiting to hand back.
type BufferedReader struct {
	inner io.Reader
	buf   []byte
	off   int // start of unread bytes
	n     int // count of unread bytes
}

// NewBufferedReader wraps r with the default capacity.
func NewBufferedReader(r io.Reader) *BufferedReader {
	return NewBufferedReaderSize(r, DefaultBufferSize)
}

// NewBufferedReaderSize wraps r with a fixed capacity of size bytes.
func NewBufferedReaderSize(r io.Reader, size int) *BufferedReader {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferedReader{inner: r, buf: make([]byte, size)}
}

// Buffered reports the number of unread bytes held in the buffer.
func (b *BufferedReader) Buffered() int {
	return b.n
}

// Read returns buffered bytes first; only with an empty buffer does it
// issue a single read against the inner stream.
func (b *BufferedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.n == 0 {
		m, err := b.inner.Read(b.buf)
		if m == 0 {
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		b.off, b.n = 0, m
	}
	k := copy(p, b.buf[b.off:b.off+b.n])
	b.off += k
	b.n -= k
	return k, nil
}

// readByte pulls one byte through the buffering path.
func (b *BufferedReader) readByte() (byte, error) {
	var p [1]byte
	for {
		n, err := b.Read(p[:])
		if n == 1 {
			return p[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadLine reads up to and including the next CRLF and returns the line
// without the terminator. A stream that ends before the CRLF yields the
// accumulated bytes verbatim; an immediate EOF yields io.EOF.
func (b *BufferedReader) ReadLine() (string, error) {
	var line []byte
	for {
		c, err := b.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
		line = append(line, c)
		if n := len(line); n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
			return string(line[:n-2]), nil
		}
	}
}

// EnsureBuffered compacts the buffer and fills it until at least min
// bytes are available. It returns false when the stream ends first.
// min larger than the capacity is a configuration mistake.
func (b *BufferedReader) EnsureBuffered(min int) (bool, error) {
	if min > len(b.buf) {
		return false, &proxy.ConfigError{Field: "buffer", Msg: "lookahead exceeds buffer capacity"}
	}
	copy(b.buf, b.buf[b.off:b.off+b.n])
	b.off = 0
	for b.n < min {
		m, err := b.inner.Read(b.buf[b.n:])
		b.n += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.n >= min, nil
			}
			return false, err
		}
	}
	return true, nil
}
