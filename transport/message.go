package transport

import (
	"io"
	"net/textproto"
	"net/url"
)

// Header is a case-insensitive multi-valued header map. Keys are stored
// in canonical MIME form.
type Header map[string][]string

func (h Header) Add(key, value string) {
	k := textproto.CanonicalMIMEHeaderKey(key)
	h[k] = append(h[k], value)
}

func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

// Get returns the first value for key, or "".
func (h Header) Get(key string) string {
	v := h[textproto.CanonicalMIMEHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Request is one logical HTTP request to send through the tunnel.
type Request struct {
	Method string
	URL    *url.URL
	// Proto is the version on the request line; empty means HTTP/1.1.
	Proto  string
	Header Header

	// Body, when non-nil, is copied to the transport after the header
	// block. ContentLength is its declared length, used to synthesise a
	// Content-Length header when the caller did not set one.
	Body          io.Reader
	ContentLength int64

	// GetBody, when set, re-creates Body for a replay (a 307 redirect
	// re-sends the original body on a new tunnel).
	GetBody func() (io.Reader, error)
}

// Response is one logical HTTP response read from the tunnel. Body is
// the framed (and, where applicable, decompressed) payload; closing it
// is the caller's signal that the exchange is over.
type Response struct {
	StatusCode int
	Reason     string
	Proto      string
	Header     Header
	Body       io.ReadCloser
}
