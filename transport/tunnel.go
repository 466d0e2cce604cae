package transport

import (
	"context"
	"crypto/x509"
	"net"

	tls "github.com/refraction-networking/utls"

	"github.com/sardanioss/hophttp/proxy"
)

// CertValidator is a caller-supplied certificate check, with the same
// shape as tls.Config.VerifyPeerCertificate. When set, it replaces the
// default chain verification for tunnel upgrades.
type CertValidator func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// Tunnel pairs one proxy connection with its destination and, for HTTPS
// destinations, the TLS-upgraded stream on top of it. A pool holds
// tunnels; a borrower uses one for the duration of one HTTP exchange.
type Tunnel struct {
	pc     *proxy.Conn
	host   string
	port   int
	useTLS bool
	verify CertValidator

	stream  net.Conn
	created bool
	broken  bool
}

// NewTunnel wraps pc for destination host:port. No I/O happens until
// the first Stream call.
func NewTunnel(pc *proxy.Conn, host string, port int, useTLS bool, verify CertValidator) *Tunnel {
	return &Tunnel{pc: pc, host: host, port: port, useTLS: useTLS, verify: verify}
}

// Stream realises the tunnel on first use: proxy handshake, then the
// TLS client handshake when the destination is HTTPS. The result is
// cached; subsequent calls return the same stream.
func (t *Tunnel) Stream(ctx context.Context) (net.Conn, error) {
	if t.created {
		return t.stream, nil
	}
	if err := t.pc.Connect(ctx, t.host, t.port); err != nil {
		t.created = true // a failed handshake still counts as realised, and broken
		return nil, err
	}
	raw := t.pc.Tunnel()
	if !t.useTLS {
		t.stream = raw
		t.created = true
		return t.stream, nil
	}

	cfg := &tls.Config{
		ServerName:   t.host,
		KeyLogWriter: keyLogWriter(),
	}
	if t.verify != nil {
		// The callback takes over validation entirely.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = t.verify
	}
	uc := tls.UClient(raw, cfg, tls.HelloGolang)
	if err := uc.HandshakeContext(ctx); err != nil {
		t.created = true
		t.pc.Close()
		return nil, err
	}
	t.stream = uc
	t.created = true
	return t.stream, nil
}

// Broken reports whether the tunnel was realised and its proxy
// connection is no longer usable. A pool uses this to drop the tunnel
// on acquire and realise a replacement.
func (t *Tunnel) Broken() bool {
	return t.broken || (t.created && !t.pc.Connected())
}

// MarkBroken flags the tunnel so the pool replaces it, and closes the
// underlying connection.
func (t *Tunnel) MarkBroken() {
	t.broken = true
	t.pc.Close()
}

// Close tears the tunnel down.
func (t *Tunnel) Close() error {
	if t.stream != nil && t.stream != t.pc.Tunnel() {
		t.stream.Close()
	}
	return t.pc.Close()
}
