package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// CookieJar supplies and stores cookies for an exchange. Implemented by
// cookiejar.Jar; the transport only needs the two header-shaped
// operations.
type CookieJar interface {
	// CookieHeader returns the Cookie header value for a request to u,
	// or "" when no cookies apply.
	CookieHeader(u *url.URL) string
	// SetFromHeader stores one Set-Cookie header value received from u.
	SetFromHeader(u *url.URL, header string)
}

// Conn drives one HTTP/1.x request/response round-trip over a tunnelled
// byte stream. Any error during the round-trip closes the supplied
// closer: a half-written request or half-read response leaves bytes on
// the wire that would corrupt the next exchange on the same tunnel.
type Conn struct {
	rw     io.ReadWriter
	br     *BufferedReader
	jar    CookieJar
	closer io.Closer
}

// NewConn prepares an exchange over rw. jar may be nil; closer, if
// non-nil, is closed when the exchange fails partway.
func NewConn(rw io.ReadWriter, jar CookieJar, closer io.Closer) *Conn {
	return &Conn{rw: rw, br: NewBufferedReader(rw), jar: jar, closer: closer}
}

// RoundTrip writes the request and reads the response head. The
// response body is left on the transport, wrapped in the framing (and
// decompression) the response headers call for.
func (c *Conn) RoundTrip(req *Request) (*Response, error) {
	if err := c.writeRequest(req); err != nil {
		return nil, c.fail(err)
	}
	resp, err := c.readResponse(req)
	if err != nil {
		return nil, c.fail(err)
	}
	return resp, nil
}

func (c *Conn) fail(err error) error {
	if c.closer != nil {
		c.closer.Close()
		c.closer = nil
	}
	return err
}

func (c *Conn) writeRequest(req *Request) error {
	proto := req.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, req.URL.RequestURI(), proto)
	if !req.Header.Has("Host") {
		fmt.Fprintf(&b, "Host: %s\r\n", req.URL.Host)
	}
	for name, values := range req.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	if req.Body != nil && !req.Header.Has("Content-Length") {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", req.ContentLength)
	}
	if c.jar != nil {
		if ck := c.jar.CookieHeader(req.URL); ck != "" {
			fmt.Fprintf(&b, "Cookie: %s\r\n", ck)
		}
	}
	b.WriteString("\r\n")

	if _, err := c.rw.Write(b.Bytes()); err != nil {
		return err
	}
	if req.Body != nil {
		if _, err := io.Copy(c.rw, req.Body); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readResponse(req *Request) (*Response, error) {
	line, err := c.br.ReadLine()
	if err != nil {
		return nil, &ProtocolError{Msg: "reading status line", Err: err}
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, &ProtocolError{Msg: "malformed status line " + strconv.Quote(line)}
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 0 {
		return nil, &ProtocolError{Msg: "malformed status code in " + strconv.Quote(line)}
	}
	resp := &Response{StatusCode: code, Proto: parts[0], Header: Header{}}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}

	for {
		line, err := c.br.ReadLine()
		if err != nil {
			return nil, &ProtocolError{Msg: "reading header block", Err: err}
		}
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, &ProtocolError{Msg: "invalid header line " + strconv.Quote(line)}
		}
		name := line[:colon]
		// One space after the colon is assumed and discarded.
		var value string
		if colon+2 <= len(line) {
			value = line[colon+2:]
		}
		if strings.EqualFold(name, "Set-Cookie") && c.jar != nil {
			c.jar.SetFromHeader(req.URL, value)
			continue
		}
		resp.Header.Add(name, value)
	}

	body, err := c.resolveBody(resp)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(body)
	return resp, nil
}

// resolveBody picks the framing layer the response headers call for and
// then unwraps the recognised content encodings.
func (c *Conn) resolveBody(resp *Response) (io.Reader, error) {
	var body io.Reader
	switch {
	case strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked"):
		body = NewChunkedReader(c.br, c.closer)
	case resp.Header.Has("Content-Length"):
		n, err := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
		if err != nil {
			return nil, &ProtocolError{Msg: "invalid Content-Length " + strconv.Quote(resp.Header.Get("Content-Length"))}
		}
		body = NewLengthReader(c.br, n)
	default:
		// No framing: the body is the raw remainder of the transport.
		body = c.br
	}

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := NewGzipReader(body)
		if err != nil {
			return nil, err
		}
		body = gz
		resp.Header.Del("Content-Encoding")
	case "deflate":
		body = NewDeflateReader(body)
		resp.Header.Del("Content-Encoding")
	}
	return body, nil
}
