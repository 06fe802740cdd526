package framing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrDuplicateEndpoint = errors.New("framing: endpoint already registered")
	ErrInvalidEndpoint   = errors.New("framing: invalid endpoint address")
)

// Host wildcards accepted in an endpoint address. A strong wildcard wins
// over an exact host name, a weak wildcard only catches what nothing else
// matched.
const (
	strongWildcard = "+"
	weakWildcard   = "*"
)

// Endpoint is a registered listen address. Messages whose via falls under
// the endpoint address are delivered with the endpoint attached.
type Endpoint struct {
	Name string
	Via  *url.URL

	scheme   string
	host     string
	port     string
	segments []string
}

// String returns the endpoint address.
func (e *Endpoint) String() string {
	return e.Via.String()
}

// hostRank orders host matches: strong wildcard, exact host, weak wildcard.
func (e *Endpoint) hostRank() int {
	switch e.host {
	case strongWildcard:
		return 2
	case weakWildcard:
		return 0
	default:
		return 1
	}
}

func (e *Endpoint) matches(scheme, host, port string, segments []string) bool {
	if e.scheme != scheme {
		return false
	}
	if e.host != strongWildcard && e.host != weakWildcard && e.host != host {
		return false
	}
	if e.port != "" && e.port != port {
		return false
	}
	if len(e.segments) > len(segments) {
		return false
	}
	for i, seg := range e.segments {
		if seg != segments[i] {
			return false
		}
	}
	return true
}

// EndpointTable resolves a message via to the registered endpoint with the
// longest matching path. Scheme, host and path compare case-insensitively
// and paths only match on whole segments.
//
// Thread safety:
// All methods are safe for concurrent use.
type EndpointTable struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

// NewEndpointTable returns an empty table.
func NewEndpointTable() *EndpointTable {
	return &EndpointTable{}
}

// Register adds an endpoint listening on address.
//
// The address must be absolute. Its host may be "+" or "*" to match any
// host. Registering the same scheme, host, port and path twice fails with
// ErrDuplicateEndpoint.
func (t *EndpointTable) Register(name, address string) (*Endpoint, error) {
	via, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidEndpoint, address, err)
	}
	if !via.IsAbs() || via.Host == "" {
		return nil, fmt.Errorf("%w %q: must be an absolute uri with a host", ErrInvalidEndpoint, address)
	}

	ep := &Endpoint{
		Name:     name,
		Via:      via,
		scheme:   strings.ToLower(via.Scheme),
		host:     strings.ToLower(via.Hostname()),
		port:     via.Port(),
		segments: pathSegments(via.Path),
	}
	if ep.Name == "" {
		ep.Name = address
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.endpoints {
		if existing.scheme == ep.scheme && existing.host == ep.host &&
			existing.port == ep.port && equalSegments(existing.segments, ep.segments) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpoint, address)
		}
	}
	t.endpoints = append(t.endpoints, ep)
	return ep, nil
}

// Unregister removes the endpoint registered under name.
func (t *EndpointTable) Unregister(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, ep := range t.endpoints {
		if ep.Name == name {
			t.endpoints = append(t.endpoints[:i], t.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Match returns the endpoint serving via, or nil.
func (t *EndpointTable) Match(via *url.URL) *Endpoint {
	if via == nil {
		return nil
	}
	scheme := strings.ToLower(via.Scheme)
	host := strings.ToLower(via.Hostname())
	port := via.Port()
	segments := pathSegments(via.Path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *Endpoint
	for _, ep := range t.endpoints {
		if !ep.matches(scheme, host, port, segments) {
			continue
		}
		if best == nil || len(ep.segments) > len(best.segments) ||
			(len(ep.segments) == len(best.segments) && ep.hostRank() > best.hostRank()) {
			best = ep
		}
	}
	return best
}

// Endpoints returns the registered endpoints in registration order.
func (t *EndpointTable) Endpoints() []*Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Endpoint(nil), t.endpoints...)
}

// Len returns the number of registered endpoints.
func (t *EndpointTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.endpoints)
}

func pathSegments(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, strings.ToLower(seg))
		}
	}
	return segments
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
