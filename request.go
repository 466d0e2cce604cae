package hophttp

import (
	"io"
	"net/url"

	"github.com/sardanioss/hophttp/transport"
)

// Request, Response and Header are the transport's message types,
// re-exported so callers only import this package.
type (
	Request  = transport.Request
	Response = transport.Response
	Header   = transport.Header
)

// NewRequest builds a request for the given method and URL. body may be
// nil; when it is a *bytes.Reader-like value the caller should also set
// ContentLength (NewRequest sets it for the common in-memory readers).
func NewRequest(method, rawurl string, body io.Reader) (*Request, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Method: method,
		URL:    u,
		Header: Header{},
		Body:   body,
	}
	if body != nil {
		if l, ok := body.(interface{ Len() int }); ok {
			req.ContentLength = int64(l.Len())
		}
	}
	return req, nil
}
