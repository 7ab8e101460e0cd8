package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"

	consulapi "github.com/hashicorp/consul/api"
)

// HealthQuerier is the subset of *consulapi.Health used to find instances.
type HealthQuerier interface {
	Service(service, tag string, passingOnly bool, q *consulapi.QueryOptions) ([]*consulapi.ServiceEntry, *consulapi.QueryMeta, error)
}

// Consul resolves consul://<service> targets to a passing instance,
// rotating through instances on successive calls. An optional
// ?tag=<tag> narrows the lookup.
type Consul struct {
	health HealthQuerier
	next   atomic.Uint64
}

// NewConsul creates a Consul resolver backed by health.
func NewConsul(health HealthQuerier) *Consul {
	return &Consul{health: health}
}

// NewConsulClient builds a Consul API client for addr. An empty addr uses
// the client defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewConsulClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

func (c *Consul) Resolve(ctx context.Context, target *url.URL) (*url.URL, error) {
	if target.Scheme != "consul" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
	service := target.Hostname()
	tag := target.Query().Get("tag")

	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := c.health.Service(service, tag, true, q)
	if err != nil {
		return nil, fmt.Errorf("consul lookup %q: %w", service, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("consul service %q: %w", service, ErrNoInstances)
	}

	entry := entries[c.next.Add(1)%uint64(len(entries))]
	host := entry.Service.Address
	if host == "" && entry.Node != nil {
		host = entry.Node.Address
	}
	if host == "" {
		return nil, fmt.Errorf("consul service %q: instance %q has no address", service, entry.Service.ID)
	}

	scheme := "http"
	if entry.Service.Meta["scheme"] == "https" {
		scheme = "https"
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(entry.Service.Port)),
		Path:   target.Path,
	}, nil
}
