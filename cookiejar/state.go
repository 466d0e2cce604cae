package cookiejar

import (
	"fmt"
	"time"
)

const StateVersion = 1

// State is the serializable snapshot of a jar, for callers that persist
// cookies between runs. The shape is stable under JSON encoding.
type State struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Cookies []CookieState `json:"cookies"`
}

// CookieState is one serializable cookie.
type CookieState struct {
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Port     string     `json:"port,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Discard  bool       `json:"discard,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
}

// State snapshots the live, unexpired cookies. Session cookies marked
// Discard are skipped: they were never meant to outlive the run.
func (j *Jar) State() *State {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	st := &State{Version: StateVersion, SavedAt: now}
	for host, cookies := range j.byHost {
		for _, c := range cookies {
			if c.Expired(now) || c.Discard {
				continue
			}
			cs := CookieState{
				Domain:   host,
				Path:     c.Path,
				Name:     c.Name,
				Value:    c.Value,
				Port:     c.Port,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
			}
			if !c.Expires.IsZero() {
				expires := c.Expires
				cs.Expires = &expires
			}
			st.Cookies = append(st.Cookies, cs)
		}
	}
	return st
}

// Restore replaces the jar's contents with a snapshot.
func (j *Jar) Restore(st *State) error {
	if st.Version != StateVersion {
		return fmt.Errorf("cookiejar: unsupported state version %d", st.Version)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.byHost = make(map[string][]*Cookie)
	for _, cs := range st.Cookies {
		c := &Cookie{
			Name:     cs.Name,
			Value:    cs.Value,
			Domain:   cs.Domain,
			Path:     cs.Path,
			Port:     cs.Port,
			Secure:   cs.Secure,
			HttpOnly: cs.HttpOnly,
		}
		if cs.Expires != nil {
			c.Expires = *cs.Expires
		}
		j.byHost[cs.Domain] = append(j.byHost[cs.Domain], c)
	}
	return nil
}
