package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// How long to wait for the proxy's handshake reply before giving up.
// The source of this limit is the proxy's own connection setup to the
// destination, which can be slow; 15s matches common proxy defaults.
const handshakeWait = 15 * time.Second

type connState int

const (
	stateIdle connState = iota
	stateTunnelled
	stateBroken
)

// Conn owns one TCP connection to the upstream proxy. It is created
// idle; Connect runs the dialect handshake and, on success, leaves the
// socket carrying end-to-end bytes between the caller and the
// destination. Any handshake or I/O error marks the Conn broken and it
// must not be reused.
type Conn struct {
	dialect  Dialect
	endpoint Endpoint
	resolver Resolver

	sendTimeout time.Duration
	recvTimeout time.Duration

	sock  net.Conn
	state connState
}

// Connected reports whether the handshake completed and the socket is
// still considered usable.
func (c *Conn) Connected() bool {
	return c.state == stateTunnelled
}

// Tunnel returns the proxied byte stream. Valid only while Connected;
// closing the returned conn closes the tunnel.
func (c *Conn) Tunnel() net.Conn {
	return c.sock
}

// Close tears down the socket. Safe to call in any state.
func (c *Conn) Close() error {
	c.state = stateBroken
	if c.sock == nil {
		return nil
	}
	return c.sock.Close()
}

// Connect dials the proxy endpoint and runs the dialect handshake for
// destHost:destPort. On success the Conn is tunnelled; on any error it
// is broken and unusable.
func (c *Conn) Connect(ctx context.Context, destHost string, destPort int) error {
	if c.state != stateIdle {
		return &Error{Op: "dial", Msg: "connection already used"}
	}

	d := net.Dialer{}
	sock, err := d.DialContext(ctx, "tcp", c.endpoint.addr())
	if err != nil {
		c.state = stateBroken
		return &Error{Op: "dial", Msg: "cannot reach proxy " + c.endpoint.addr(), Err: err}
	}
	c.sock = sock

	switch c.dialect {
	case HTTP:
		err = c.connectHTTP(destHost, destPort)
	case SOCKS4:
		err = c.connectSocks4(ctx, destHost, destPort)
	case SOCKS4a:
		err = c.connectSocks4a(destHost, destPort)
	case SOCKS5:
		err = c.connectSocks5(destHost, destPort)
	default:
		err = &ConfigError{Field: "dialect", Msg: "unknown proxy dialect"}
	}
	if err != nil {
		c.state = stateBroken
		c.sock.Close()
		return err
	}

	// Handshake deadlines must not leak into tunnel reads.
	c.sock.SetDeadline(time.Time{})
	c.state = stateTunnelled
	return nil
}

// write sends the whole of p under the configured send timeout.
func (c *Conn) write(op string, p []byte) error {
	if c.sendTimeout > 0 {
		c.sock.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	if _, err := c.sock.Write(p); err != nil {
		return &Error{Op: op, Msg: "write failed", Err: err}
	}
	return nil
}

// replyWait is the read deadline for handshake replies: the configured
// receive timeout when one is set and tighter than the handshake wait.
func (c *Conn) replyWait() time.Duration {
	if c.recvTimeout > 0 && c.recvTimeout < handshakeWait {
		return c.recvTimeout
	}
	return handshakeWait
}

// readReply fills p with exactly len(p) bytes of handshake reply,
// bounded by the handshake wait.
func (c *Conn) readReply(op string, p []byte) error {
	c.sock.SetReadDeadline(time.Now().Add(c.replyWait()))
	if _, err := io.ReadFull(c.sock, p); err != nil {
		return c.replyErr(op, err)
	}
	return nil
}

// readReplySome reads whatever the proxy sends next, up to len(p).
func (c *Conn) readReplySome(op string, p []byte) (int, error) {
	c.sock.SetReadDeadline(time.Now().Add(c.replyWait()))
	n, err := c.sock.Read(p)
	if err != nil {
		return n, c.replyErr(op, err)
	}
	return n, nil
}

func (c *Conn) replyErr(op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Op: op, Msg: "Timeout", Err: err}
	}
	return &Error{Op: op, Msg: "read failed", Err: err}
}
