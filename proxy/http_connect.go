package proxy

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// CONNECT reply headers are small; anything past this is a misbehaving
// proxy, not a slow one.
const connectReplyLimit = 16384

// connectHTTP issues an HTTP/1.0 CONNECT request and validates the
// proxy's status line. After a 200 the socket is a raw tunnel; any
// reply body beyond the header block belongs to the tunnel's peer and
// is never consumed here.
func (c *Conn) connectHTTP(host string, port int) error {
	authority := net.JoinHostPort(host, strconv.Itoa(port))

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.0\r\n", authority)
	fmt.Fprintf(&b, "Host: %s\r\n", authority)
	if c.endpoint.hasCredentials() {
		creds := base64.StdEncoding.EncodeToString([]byte(c.endpoint.User + ":" + c.endpoint.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", creds)
	}
	b.WriteString("\r\n")

	if err := c.write("http-connect", []byte(b.String())); err != nil {
		return err
	}

	code, reason, err := c.readConnectReply()
	if err != nil {
		return err
	}
	switch code {
	case 200:
		return nil
	case 502:
		return &Error{Op: "http-connect", Msg: "proxy returned 502 Bad Gateway"}
	}
	return &Error{Op: "http-connect", Msg: fmt.Sprintf("proxy refused tunnel: %d %s", code, reason)}
}

// readConnectReply accumulates the reply until the blank line ending
// the header block, then parses the status line. Reading to the blank
// line (rather than until the socket goes quiet) keeps a proxy that
// writes its headers in several segments from truncating the reply.
func (c *Conn) readConnectReply() (int, string, error) {
	c.sock.SetReadDeadline(time.Now().Add(c.replyWait()))

	var buf []byte
	scratch := make([]byte, 512)
	for !bytes.Contains(buf, []byte("\r\n\r\n")) {
		if len(buf) > connectReplyLimit {
			return 0, "", &Error{Op: "http-connect", Msg: "reply headers exceed 16KB limit"}
		}
		n, err := c.sock.Read(scratch)
		if n > 0 {
			buf = append(buf, scratch[:n]...)
		}
		if err != nil {
			return 0, "", c.replyErr("http-connect", err)
		}
	}

	line, _, _ := strings.Cut(string(buf), "\r")
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP") {
		return 0, "", &Error{Op: "http-connect", Msg: "malformed reply line " + strconv.Quote(line)}
	}
	codeText, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return 0, "", &Error{Op: "http-connect", Msg: "malformed status code in " + strconv.Quote(line)}
	}
	return code, reason, nil
}
