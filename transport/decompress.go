package transport

import (
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// drainingReader decompresses a response body and, on the first EOF
// from the decompressor, reads the framed stream underneath to
// exhaustion before reporting EOF upward. Compressed trailers (the gzip
// CRC, deflate's final empty block) can sit unread in the framing layer
// after the decompressor is logically done; draining them leaves the
// pooled tunnel fully consumed and eligible for reuse.
type drainingReader struct {
	dec     io.Reader
	raw     io.Reader
	drained bool
}

func (r *drainingReader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	if errors.Is(err, io.EOF) && !r.drained {
		r.drained = true
		var scratch [64]byte
		for {
			m, derr := r.raw.Read(scratch[:])
			if m == 0 || derr != nil {
				break
			}
		}
	}
	return n, err
}

// NewGzipReader wraps a gzip-encoded body stream.
func NewGzipReader(body io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, &ProtocolError{Msg: "invalid gzip body", Err: err}
	}
	// One stream only; chained encodings are not recognised and
	// whatever follows the stream belongs to the framing layer.
	zr.Multistream(false)
	return &drainingReader{dec: zr, raw: body}, nil
}

// NewDeflateReader wraps a raw-deflate (not zlib-wrapped) body stream.
func NewDeflateReader(body io.Reader) io.Reader {
	return &drainingReader{dec: flate.NewReader(body), raw: body}
}
