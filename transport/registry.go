package transport

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sardanioss/hophttp/pool"
	"github.com/sardanioss/hophttp/proxy"
)

// HostPortKey identifies one pooled destination. Two requests share a
// pool exactly when host, port and TLS-ness all match.
type HostPortKey struct {
	Host string
	Port int
	TLS  bool
}

// KeyForURL derives the pool key from a request URL, defaulting the
// port by scheme.
func KeyForURL(u *url.URL) (HostPortKey, error) {
	tls := strings.EqualFold(u.Scheme, "https")
	port := 80
	if tls {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return HostPortKey{}, &proxy.ConfigError{Field: "url", Msg: "bad port in " + u.String()}
		}
		port = n
	}
	host := u.Hostname()
	if host == "" {
		return HostPortKey{}, &proxy.ConfigError{Field: "url", Msg: "missing host in " + u.String()}
	}
	return HostPortKey{Host: host, Port: port, TLS: tls}, nil
}

// Registry lazily maintains one tunnel pool per destination. Lookups on
// the hot path are lock-free; only the first request for a destination
// takes the insert lock.
type Registry struct {
	factory *proxy.Factory
	size    int
	verify  CertValidator

	pools    sync.Map // HostPortKey -> *pool.Pool[*Tunnel]
	insertMu sync.Mutex

	opened   atomic.Uint64
	replaced atomic.Uint64
}

// NewRegistry pools up to sizePerHost tunnels per destination, built
// from factory.
func NewRegistry(factory *proxy.Factory, sizePerHost int, verify CertValidator) *Registry {
	return &Registry{factory: factory, size: sizePerHost, verify: verify}
}

// Acquire borrows a tunnel for the given request URL, creating the
// destination's pool on first use.
func (r *Registry) Acquire(ctx context.Context, u *url.URL, timeout time.Duration) (*pool.Lease[*Tunnel], error) {
	key, err := KeyForURL(u)
	if err != nil {
		return nil, err
	}
	p, err := r.poolFor(key)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx, timeout)
}

func (r *Registry) poolFor(key HostPortKey) (*pool.Pool[*Tunnel], error) {
	if v, ok := r.pools.Load(key); ok {
		return v.(*pool.Pool[*Tunnel]), nil
	}
	r.insertMu.Lock()
	defer r.insertMu.Unlock()
	if v, ok := r.pools.Load(key); ok {
		return v.(*pool.Pool[*Tunnel]), nil
	}

	p, err := pool.New(
		r.size,
		func(ctx context.Context) (*Tunnel, error) {
			pc, err := r.factory.New()
			if err != nil {
				return nil, err
			}
			r.opened.Add(1)
			return NewTunnel(pc, key.Host, key.Port, key.TLS, r.verify), nil
		},
		nil,
		func(t *Tunnel) bool {
			if t.Broken() {
				r.replaced.Add(1)
				return true
			}
			return false
		},
	)
	if err != nil {
		return nil, err
	}
	r.pools.Store(key, p)
	return p, nil
}

// TunnelsOpened reports how many tunnels were constructed.
func (r *Registry) TunnelsOpened() uint64 { return r.opened.Load() }

// TunnelsReplaced reports how many broken tunnels were dropped on
// acquire.
func (r *Registry) TunnelsReplaced() uint64 { return r.replaced.Load() }

// Close disposes every pool and the tunnels they hold.
func (r *Registry) Close() error {
	var first error
	r.pools.Range(func(key, v any) bool {
		if err := v.(*pool.Pool[*Tunnel]).Close(); err != nil && first == nil {
			first = err
		}
		r.pools.Delete(key)
		return true
	})
	return first
}
