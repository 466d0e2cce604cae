package transport

import (
	"io"
	"strconv"
	"strings"
)

// ChunkedReader decodes a Transfer-Encoding: chunked body from the
// buffered transport. It terminates after the zero-length chunk; on any
// framing error it closes the supplied closer (the tunnel is unsafe to
// reuse once the framing is lost) and returns the error.
type ChunkedReader struct {
	src       *BufferedReader
	closer    io.Closer
	remaining uint64
	inChunk   bool
	done      bool
}

// NewChunkedReader decodes chunks from src. closer, if non-nil, is
// closed when the chunk framing turns out to be invalid.
func NewChunkedReader(src *BufferedReader, closer io.Closer) *ChunkedReader {
	return &ChunkedReader{src: src, closer: closer}
}

func (r *ChunkedReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !r.inChunk {
		size, err := r.readChunkHeader()
		if err != nil {
			return 0, r.fail(err)
		}
		if size == 0 {
			if err := r.readChunkTrailer(); err != nil {
				return 0, r.fail(err)
			}
			r.done = true
			return 0, io.EOF
		}
		r.remaining = size
		r.inChunk = true
	}

	k := len(p)
	if uint64(k) > r.remaining {
		k = int(r.remaining)
	}
	n, err := r.src.Read(p[:k])
	r.remaining -= uint64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, r.fail(err)
	}
	if r.remaining == 0 {
		if err := r.readChunkTrailer(); err != nil {
			return n, r.fail(err)
		}
		r.inChunk = false
	}
	return n, nil
}

// readChunkHeader parses one hex chunk-size line. Case and leading
// zeros are both acceptable.
func (r *ChunkedReader) readChunkHeader() (uint64, error) {
	line, err := r.src.ReadLine()
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseUint(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, &ProtocolError{Msg: "invalid chunk header " + strconv.Quote(line)}
	}
	return size, nil
}

// readChunkTrailer consumes the CRLF following chunk data, which must
// be an empty line.
func (r *ChunkedReader) readChunkTrailer() error {
	line, err := r.src.ReadLine()
	if err != nil {
		return err
	}
	if line != "" {
		return &ProtocolError{Msg: "chunk data not followed by CRLF"}
	}
	return nil
}

func (r *ChunkedReader) fail(err error) error {
	if r.closer != nil {
		r.closer.Close()
		r.closer = nil
	}
	return err
}
