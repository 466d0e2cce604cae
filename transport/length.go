package transport

import "io"

// LengthReader yields exactly the Content-Length bytes of a response
// body and then reports EOF without ever touching the stream beyond the
// content boundary. It does not own the underlying stream's lifetime;
// that is the connection's concern.
type LengthReader struct {
	src       io.Reader
	remaining uint64
}

// NewLengthReader reads exactly length bytes from src.
func NewLengthReader(src io.Reader, length uint64) *LengthReader {
	return &LengthReader{src: src, remaining: length}
}

func (r *LengthReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	k := len(p)
	if uint64(k) > r.remaining {
		k = int(r.remaining)
	}
	n, err := r.src.Read(p[:k])
	r.remaining -= uint64(n)
	if err == io.EOF && r.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
