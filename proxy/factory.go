package proxy

import (
	"context"
	"net"
	"strconv"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Factory builds ready-to-connect proxy connections for one configured
// endpoint. New never performs I/O: the returned Conn dials and
// handshakes on its first Connect.
type Factory struct {
	Dialect  Dialect
	Endpoint Endpoint

	// Per-operation socket timeouts applied during the handshake.
	// Zero means no limit beyond the handshake wait.
	SendTimeout time.Duration
	RecvTimeout time.Duration

	// Resolver used for SOCKS4 client-side lookups. Nil falls back to
	// the system resolver.
	Resolver Resolver
}

// New returns a fresh idle connection for the factory's endpoint.
func (f *Factory) New() (*Conn, error) {
	if !f.Dialect.valid() {
		return nil, &ConfigError{Field: "dialect", Msg: "unknown proxy dialect"}
	}
	if _, err := NewEndpoint(f.Endpoint.Host, f.Endpoint.Port); err != nil {
		return nil, err
	}
	r := f.Resolver
	if r == nil {
		r = &systemResolver{}
	}
	return &Conn{
		dialect:     f.Dialect,
		endpoint:    f.Endpoint,
		resolver:    r,
		sendTimeout: f.SendTimeout,
		recvTimeout: f.RecvTimeout,
	}, nil
}

// Dialer adapts the factory to the golang.org/x/net/proxy interfaces so
// the tunnel can be plugged into anything that accepts a SOCKS-style
// dialer. Each Dial produces a fresh handshaken connection.
func (f *Factory) Dialer() *Dialer {
	return &Dialer{f: f}
}

type Dialer struct {
	f *Factory
}

var (
	_ xproxy.Dialer        = (*Dialer)(nil)
	_ xproxy.ContextDialer = (*Dialer)(nil)
)

func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, &ConfigError{Field: "network", Msg: "unsupported network " + strconv.Quote(network)}
	}
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return nil, &ConfigError{Field: "address", Msg: err.Error()}
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, &ConfigError{Field: "address", Msg: "bad port " + strconv.Quote(portText)}
	}

	c, err := d.f.New()
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, host, port); err != nil {
		return nil, err
	}
	return c.Tunnel(), nil
}
