package proxy

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver maps a hostname to its IPv4 addresses. Only the SOCKS4
// dialect resolves client-side; SOCKS4a and SOCKS5 hand the hostname to
// the proxy, and HTTP CONNECT never sees an address at all.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) ([]net.IP, error)
}

// DNSResolver queries a specific nameserver directly using miekg/dns.
// Use it when lookups must go to a resolver the proxy environment
// controls rather than whatever the host system is configured with.
type DNSResolver struct {
	// Server is the nameserver to query, as host:port.
	Server string

	client *dns.Client
}

// NewDNSResolver returns a resolver querying server (host:port).
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{
		Server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupIPv4 returns the A records for host in answer order.
func (r *DNSResolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	in, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, &Error{Op: "resolve", Msg: "nameserver returned " + dns.RcodeToString[in.Rcode] + " for " + host}
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, &Error{Op: "resolve", Msg: "no A records for " + host}
	}
	return ips, nil
}

// systemResolver is the fallback when no nameserver is configured.
type systemResolver struct {
	r net.Resolver
}

func (s *systemResolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	return s.r.LookupIP(ctx, "ip4", host)
}
