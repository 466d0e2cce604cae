package proxy

import (
	"context"
	"net"
	"strconv"
)

// SOCKS4 wire constants.
const (
	socks4Version    = 0x04
	socks4CmdConnect = 0x01

	socks4Granted       = 90
	socks4Rejected      = 91
	socks4NoIdentd      = 92
	socks4IdentMismatch = 93
)

// connectSocks4 resolves the destination client-side and issues a
// SOCKS4 CONNECT: VN CMD DSTPORT(2) DSTIP(4) USERID NUL.
func (c *Conn) connectSocks4(ctx context.Context, host string, port int) error {
	ip, err := c.destIPv4(ctx, host)
	if err != nil {
		return err
	}

	req := newFrame(9 + len(c.endpoint.User)).
		byte(socks4Version).
		byte(socks4CmdConnect).
		port(port).
		bytes(ip).
		cstring(c.endpoint.User)

	if err := c.write("socks4", req.take()); err != nil {
		return err
	}
	return c.readSocks4Reply("socks4")
}

// connectSocks4a defers resolution to the proxy: the IP field carries
// the marker 0.0.0.1 and the hostname follows the userid.
func (c *Conn) connectSocks4a(host string, port int) error {
	req := newFrame(10 + len(c.endpoint.User) + len(host)).
		byte(socks4Version).
		byte(socks4CmdConnect).
		port(port).
		bytes([]byte{0, 0, 0, 1}).
		cstring(c.endpoint.User).
		cstring(host)

	if err := c.write("socks4a", req.take()); err != nil {
		return err
	}
	return c.readSocks4Reply("socks4a")
}

// destIPv4 yields the 4-byte destination address for SOCKS4: the host
// parsed as an IPv4 literal, or the first A record otherwise.
func (c *Conn) destIPv4(ctx context.Context, host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, &Error{Op: "socks4", Msg: "destination " + host + " is not an IPv4 address"}
	}
	ips, err := c.resolver.LookupIPv4(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, &Error{Op: "socks4", Msg: "DNS resolve failed: " + host, Err: err}
	}
	return ips[0].To4(), nil
}

// readSocks4Reply consumes the 8-byte reply VN CD DSTPORT(2) DSTIP(4)
// and maps the CD code onto an error.
func (c *Conn) readSocks4Reply(op string) error {
	var reply [8]byte
	if err := c.readReply(op, reply[:]); err != nil {
		return err
	}
	if reply[1] == socks4Granted {
		return nil
	}
	return &Error{Op: op, Msg: socks4RejectText(reply[1]) + " (reported " + socks4ReplyAddr(reply[:]) + ")"}
}

func socks4RejectText(code byte) string {
	switch code {
	case socks4Rejected:
		return "request rejected or failed"
	case socks4NoIdentd:
		return "request rejected: SOCKS server cannot connect to identd on the client"
	case socks4IdentMismatch:
		return "request rejected: client program and identd report different user-ids"
	}
	return "unknown reply code " + strconv.Itoa(int(code))
}

// socks4ReplyAddr decodes the diagnostic addr/port from a reject reply.
// The port is assembled from bytes [3] then [2], reversing the wire
// order; the value is purely diagnostic and the reversal is kept for
// compatibility with existing log consumers.
func socks4ReplyAddr(reply []byte) string {
	port := uint16(reply[3])<<8 | uint16(reply[2])
	return dottedQuad(reply[4:8]) + ":" + strconv.Itoa(int(port))
}
