// Package discovery turns proxy targets into concrete backend addresses.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
)

var (
	// ErrUnsupportedScheme is returned when no resolver handles a target's scheme.
	ErrUnsupportedScheme = errors.New("unsupported target scheme")
	// ErrNoInstances is returned when a service has no usable instance.
	ErrNoInstances = errors.New("no instances available")
)

// Resolver maps a configured target to the address requests are sent to.
type Resolver interface {
	Resolve(ctx context.Context, target *url.URL) (*url.URL, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, target *url.URL) (*url.URL, error)

func (f ResolverFunc) Resolve(ctx context.Context, target *url.URL) (*url.URL, error) {
	return f(ctx, target)
}

// Static passes http and https targets through unchanged.
type Static struct{}

func (Static) Resolve(_ context.Context, target *url.URL) (*url.URL, error) {
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
	u := *target
	return &u, nil
}

// Mux dispatches on the target scheme. http and https are always handled by Static.
type Mux struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewMux returns a Mux that only knows http and https.
func NewMux() *Mux {
	return &Mux{resolvers: map[string]Resolver{
		"http":  Static{},
		"https": Static{},
	}}
}

// Handle registers r for scheme, replacing any previous resolver.
func (m *Mux) Handle(scheme string, r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[scheme] = r
}

func (m *Mux) Resolve(ctx context.Context, target *url.URL) (*url.URL, error) {
	m.mu.RLock()
	r, ok := m.resolvers[target.Scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
	return r.Resolve(ctx, target)
}

// IsDynamic reports whether target needs service discovery.
func IsDynamic(target *url.URL) bool {
	return target.Scheme != "http" && target.Scheme != "https"
}
