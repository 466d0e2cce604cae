// Package cookiejar stores cookies received on Set-Cookie headers and
// assembles Cookie headers for outbound requests.
//
// The jar recognises the Expires, Max-Age, Path, Port, Discard, Secure
// and HttpOnly attributes (names are case-insensitive). It does not
// implement the full RFC 6265 public-suffix rules: the cookie domain
// defaults to the exact request host, which is the right scope for a
// client that talks to a known set of services through a tunnel.
package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Cookie is one stored cookie with the attribute subset the jar tracks.
type Cookie struct {
	Name  string
	Value string

	Domain   string
	Path     string
	Port     string
	Expires  time.Time // zero means a session cookie
	Discard  bool
	Secure   bool
	HttpOnly bool
}

// Expired reports whether the cookie's effective expiry has passed.
// Session cookies never expire.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar is a thread-safe per-host cookie store.
type Jar struct {
	mu     sync.Mutex
	byHost map[string][]*Cookie

	now func() time.Time
}

// New returns an empty jar.
func New() *Jar {
	return &Jar{byHost: make(map[string][]*Cookie), now: time.Now}
}

// SetFromHeader parses one Set-Cookie header value received from u and
// stores (or expires) the cookie. A cookie whose effective expiry is
// already in the past expires the matching stored cookie instead of
// inserting a new one.
func (j *Jar) SetFromHeader(u *url.URL, header string) {
	now := j.now()
	c := parseSetCookie(header, now)
	if c == nil {
		return
	}
	if c.Domain == "" {
		c.Domain = u.Hostname()
	}
	if strings.EqualFold(u.Scheme, "https") {
		c.Secure = true
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	host := u.Hostname()
	if c.Expired(now) {
		for _, existing := range j.byHost[host] {
			if existing.Name == c.Name && existing.Path == c.Path {
				existing.Expires = c.Expires
			}
		}
		return
	}
	for i, existing := range j.byHost[host] {
		if existing.Name == c.Name && existing.Path == c.Path {
			j.byHost[host][i] = c
			return
		}
	}
	j.byHost[host] = append(j.byHost[host], c)
}

// CookieHeader returns the Cookie header value for a request to u, in
// the form "k1=v1; k2=v2;", or "" when no stored cookie applies.
func (j *Jar) CookieHeader(u *url.URL) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	https := strings.EqualFold(u.Scheme, "https")
	path := u.Path
	if path == "" {
		path = "/"
	}

	var parts []string
	for _, c := range j.byHost[u.Hostname()] {
		if c.Expired(now) {
			continue
		}
		if c.Secure && !https {
			continue
		}
		if !pathMatches(c.Path, path) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

func pathMatches(cookiePath, requestPath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return len(requestPath) == len(cookiePath) ||
		strings.HasSuffix(cookiePath, "/") ||
		requestPath[len(cookiePath)] == '/'
}

// Expires attribute layouts seen in the wild, most common first.
var expiresLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.ANSIC,
}

// parseSetCookie decodes one Set-Cookie header value. Attribute names
// are case-insensitive. The effective expiry is Expires when present,
// otherwise now+Max-Age, otherwise none.
func parseSetCookie(header string, now time.Time) *Cookie {
	segments := strings.Split(header, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(segments[0]), "=")
	if !ok || name == "" {
		return nil
	}
	c := &Cookie{Name: name, Value: value, Path: "/"}

	var expires time.Time
	var maxAge *int
	for _, seg := range segments[1:] {
		attr, val, _ := strings.Cut(strings.TrimSpace(seg), "=")
		switch strings.ToLower(attr) {
		case "expires":
			for _, layout := range expiresLayouts {
				if t, err := time.Parse(layout, val); err == nil {
					expires = t
					break
				}
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				maxAge = &n
			}
		case "path":
			if val != "" {
				c.Path = val
			}
		case "port":
			c.Port = val
		case "discard":
			c.Discard = true
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		}
	}

	switch {
	case !expires.IsZero():
		c.Expires = expires
	case maxAge != nil:
		c.Expires = now.Add(time.Duration(*maxAge) * time.Second)
	}
	return c
}
