package transport

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/sardanioss/hophttp/proxy"
)

func TestKeyForURL(t *testing.T) {
	tests := []struct {
		raw  string
		want HostPortKey
	}{
		{"http://example.com/a", HostPortKey{"example.com", 80, false}},
		{"https://example.com/a", HostPortKey{"example.com", 443, true}},
		{"http://example.com:8080/", HostPortKey{"example.com", 8080, false}},
		{"https://example.com:8443/", HostPortKey{"example.com", 8443, true}},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.raw, err)
		}
		key, err := KeyForURL(u)
		if err != nil {
			t.Fatalf("KeyForURL(%q): %v", tt.raw, err)
		}
		if key != tt.want {
			t.Errorf("KeyForURL(%q) = %+v, want %+v", tt.raw, key, tt.want)
		}
	}

	u, _ := url.Parse("http:///nohost")
	if _, err := KeyForURL(u); err == nil {
		t.Error("KeyForURL accepted a URL without a host")
	}
}

func TestRegistrySharesPoolPerKey(t *testing.T) {
	ep, _ := proxy.NewEndpoint("proxy.local", 1080)
	r := NewRegistry(&proxy.Factory{Dialect: proxy.SOCKS5, Endpoint: ep}, 2, nil)
	defer r.Close()

	a, err := r.poolFor(HostPortKey{"example.com", 80, false})
	if err != nil {
		t.Fatalf("poolFor: %v", err)
	}
	b, err := r.poolFor(HostPortKey{"example.com", 80, false})
	if err != nil {
		t.Fatalf("poolFor: %v", err)
	}
	if a != b {
		t.Error("same key produced two pools")
	}

	c, err := r.poolFor(HostPortKey{"example.com", 80, true})
	if err != nil {
		t.Fatalf("poolFor: %v", err)
	}
	if a == c {
		t.Error("TLS and plain destinations share a pool")
	}
}

func TestTunnelBrokenAfterFailedRealise(t *testing.T) {
	// A listener that is closed immediately gives a connect-refused
	// endpoint on a port nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ep, _ := proxy.NewEndpoint(addr.IP.String(), addr.Port)
	f := &proxy.Factory{Dialect: proxy.SOCKS5, Endpoint: ep}
	pc, err := f.New()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	tun := NewTunnel(pc, "example.com", 80, false, nil)
	if tun.Broken() {
		t.Error("tunnel broken before first Stream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := tun.Stream(ctx); err == nil {
		t.Fatal("Stream succeeded against a dead proxy")
	}
	if !tun.Broken() {
		t.Error("tunnel not broken after failed realise")
	}
}
