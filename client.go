// Package hophttp is an HTTP/1.x client that carries every request
// through an upstream proxy: HTTP CONNECT, SOCKS4, SOCKS4a or SOCKS5.
//
// The client keeps a bounded pool of negotiated tunnels per
// destination, speaks HTTP/1.x over them directly (chunked and
// Content-Length framing, transparent gzip/deflate decompression),
// follows redirects, and feeds Set-Cookie headers into an attached jar.
//
//	client, err := hophttp.New(
//		hophttp.WithProxy(proxy.SOCKS5, "127.0.0.1", 1080),
//		hophttp.WithCookies(nil),
//	)
//	if err != nil { ... }
//	defer client.Close()
//
//	req, _ := hophttp.NewRequest("GET", "https://example.com/", nil)
//	resp, err := client.Do(ctx, req)
//	if err != nil { ... }
//	defer resp.Body.Close()
package hophttp

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sardanioss/hophttp/cookiejar"
	"github.com/sardanioss/hophttp/pool"
	"github.com/sardanioss/hophttp/proxy"
	"github.com/sardanioss/hophttp/transport"
)

const (
	defaultPoolSize     = 4
	defaultMaxRedirects = 10
)

// Client sends logical HTTP requests through pooled proxy tunnels.
type Client struct {
	cfg      Config
	registry *transport.Registry
	jar      *cookiejar.Jar
	log      *logrus.Logger

	requests  atomic.Uint64
	redirects atomic.Uint64
	closed    atomic.Bool
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	Requests        uint64
	Redirects       uint64
	TunnelsOpened   uint64
	TunnelsReplaced uint64
}

// New validates the options and builds a client. The proxy dialect and
// endpoint are required.
func New(opts ...Option) (*Client, error) {
	cfg := Config{
		PoolSizePerHost:   defaultPoolSize,
		AllowAutoRedirect: true,
		MaxRedirects:      defaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.err != nil {
		return nil, cfg.err
	}

	endpoint, err := proxy.NewEndpoint(cfg.ProxyHost, cfg.ProxyPort)
	if err != nil {
		return nil, err
	}
	endpoint = endpoint.WithCredentials(cfg.ProxyUser, cfg.ProxyPassword)
	if cfg.PoolSizePerHost < 1 {
		return nil, &proxy.ConfigError{Field: "pool size", Msg: "must be at least 1"}
	}
	if cfg.AllowAutoRedirect && cfg.MaxRedirects < 1 {
		return nil, &proxy.ConfigError{Field: "max redirects", Msg: "must be at least 1"}
	}

	factory := &proxy.Factory{
		Dialect:     cfg.Dialect,
		Endpoint:    endpoint,
		SendTimeout: cfg.ProxySendTimeout,
		RecvTimeout: cfg.ProxyRecvTimeout,
		Resolver:    cfg.Resolver,
	}
	if _, err := factory.New(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		registry: transport.NewRegistry(factory, cfg.PoolSizePerHost, cfg.CertValidator),
		log:      cfg.Logger,
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if cfg.UseCookies {
		c.jar = cfg.Jar
		if c.jar == nil {
			c.jar = cookiejar.New()
		}
	}
	return c, nil
}

// Jar returns the attached cookie jar, or nil when cookies are off.
func (c *Client) Jar() *cookiejar.Jar {
	return c.jar
}

// Stats snapshots the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:        c.requests.Load(),
		Redirects:       c.redirects.Load(),
		TunnelsOpened:   c.registry.TunnelsOpened(),
		TunnelsReplaced: c.registry.TunnelsReplaced(),
	}
}

// Close tears down every pooled tunnel. In-flight factories observe the
// cancellation.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.registry.Close()
}

// Do sends the request and returns the final response, following
// redirects when configured. The caller owns resp.Body and must close
// it: Close on a fully read body returns the tunnel for reuse, Close
// partway through discards the tunnel instead (the unread remainder
// would corrupt the next exchange).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.closed.Load() {
		return nil, errors.New("hophttp: client is closed")
	}
	if req.URL == nil {
		return nil, &proxy.ConfigError{Field: "request", Msg: "missing URL"}
	}
	c.requests.Add(1)
	return c.do(ctx, req, 0)
}

func (c *Client) do(ctx context.Context, req *Request, hops int) (*Response, error) {
	lease, err := c.registry.Acquire(ctx, req.URL, c.cfg.PoolAcquireTimeout)
	if err != nil {
		return nil, err
	}
	tun := lease.Value()

	stream, err := tun.Stream(ctx)
	if err != nil {
		lease.Release()
		return nil, err
	}

	var jar transport.CookieJar
	if c.jar != nil {
		jar = c.jar
	}
	conn := transport.NewConn(stream, jar, tunnelCloser{tun})
	resp, err := conn.RoundTrip(req)
	if err != nil {
		lease.Release()
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
		"status": resp.StatusCode,
	}).Debug("exchange complete")

	if next, follow := c.redirectTarget(req, resp, hops); follow {
		// The body must be drained before the tunnel can carry the
		// follow-up request.
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			tun.MarkBroken()
			lease.Release()
			return nil, err
		}
		lease.Release()
		c.redirects.Add(1)
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"to":     next.URL.String(),
			"hop":    hops + 1,
		}).Debug("following redirect")
		return c.do(ctx, next, hops+1)
	}

	framed := resp.Header.Has("Content-Length") ||
		strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked")
	resp.Body = &leaseBody{inner: resp.Body, tun: tun, lease: lease, framed: framed}
	return resp, nil
}

// redirectTarget decides whether resp redirects req, and builds the
// follow-up request when it does.
func (c *Client) redirectTarget(req *Request, resp *Response, hops int) (*Request, bool) {
	if !c.cfg.AllowAutoRedirect || hops >= c.cfg.MaxRedirects {
		return nil, false
	}
	switch resp.StatusCode {
	case 301, 302, 303, 307:
	default:
		return nil, false
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || loc.String() == "" {
		return nil, false
	}

	target := loc
	if !loc.IsAbs() {
		// Relative locations resolve against the authority root.
		base := &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: "/"}
		target = base.ResolveReference(loc)
	}

	method := req.Method
	switch {
	case resp.StatusCode == 303:
		method = "GET"
	case (resp.StatusCode == 301 || resp.StatusCode == 302) && req.Method == "POST":
		method = "GET"
	}

	next := &Request{
		Method: method,
		URL:    target,
		Proto:  req.Proto,
		Header: Header{},
	}
	for k, vs := range req.Header {
		if k == "Host" || k == "Content-Length" {
			continue
		}
		next.Header[k] = append([]string(nil), vs...)
	}

	if method == req.Method && req.Body != nil {
		// A 307 must replay the original body on the new tunnel; that
		// needs GetBody, since the first attempt consumed the reader.
		if req.GetBody == nil {
			return nil, false
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, false
		}
		next.Body = body
		next.ContentLength = req.ContentLength
		next.GetBody = req.GetBody
	}
	return next, true
}

// tunnelCloser marks the tunnel broken when the transport disposes a
// failed exchange.
type tunnelCloser struct {
	tun *transport.Tunnel
}

func (t tunnelCloser) Close() error {
	t.tun.MarkBroken()
	return nil
}

// leaseBody ties the response body to the tunnel lease: the exchange is
// over when the caller closes the body. A body read to EOF hands its
// tunnel back for reuse; a body dropped early discards the tunnel.
type leaseBody struct {
	inner  io.ReadCloser
	tun    *transport.Tunnel
	lease  *pool.Lease[*transport.Tunnel]
	framed bool

	eof    bool
	closed bool
}

func (b *leaseBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if errors.Is(err, io.EOF) {
		b.eof = true
	}
	return n, err
}

func (b *leaseBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.eof && b.framed {
		// One probe read distinguishes "consumed exactly to EOF" from
		// "abandoned mid-body". Unframed bodies are never probed: the
		// read would block until the server closes, and an unframed
		// tunnel cannot be reused anyway.
		var scratch [1]byte
		if n, err := b.inner.Read(scratch[:]); n == 0 && errors.Is(err, io.EOF) {
			b.eof = true
		}
	}
	if !b.framed {
		b.eof = false
	}
	if !b.eof {
		b.tun.MarkBroken()
	}
	b.lease.Release()
	return nil
}
