package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultProxyTimeout bounds a proxied request when the rule sets no timeout.
const DefaultProxyTimeout = 60 * time.Second

// Route is a proxy rule with its target selected for one mode.
type Route struct {
	Context      string
	Target       *url.URL
	ChangeOrigin bool
	Rewrite      *Rewriter
	Timeout      time.Duration
}

// Resolved is the configuration the server runs with.
type Resolved struct {
	Mode       Mode
	PublicPath string
	// Routes are ordered longest context first.
	Routes []Route
}

// Resolve selects targets for mode and compiles every rule. cfg is expected to
// have passed Load validation; any leftover problem is returned as an error.
func Resolve(cfg *Config, mode Mode) (*Resolved, error) {
	if cfg == nil {
		return nil, fmt.Errorf("resolve: nil config")
	}
	out := &Resolved{
		Mode:       mode,
		PublicPath: NormalizePublicPath(cfg.PublicPath),
		Routes:     make([]Route, 0, len(cfg.Proxy)),
	}
	for _, rule := range cfg.Proxy {
		target, err := ParseTarget(rule.TargetFor(mode))
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rule.Context, err)
		}
		rw, err := NewRewriter(rule.PathRewrite)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rule.Context, err)
		}
		timeout := DefaultProxyTimeout
		if rule.Timeout != "" {
			timeout, err = time.ParseDuration(rule.Timeout)
			if err != nil {
				return nil, fmt.Errorf("route %s: invalid timeout: %w", rule.Context, err)
			}
		}
		out.Routes = append(out.Routes, Route{
			Context:      strings.TrimSpace(rule.Context),
			Target:       target,
			ChangeOrigin: rule.ChangesOrigin(),
			Rewrite:      rw,
			Timeout:      timeout,
		})
	}
	sort.SliceStable(out.Routes, func(i, j int) bool {
		return len(out.Routes[i].Context) > len(out.Routes[j].Context)
	})
	return out, nil
}

// NormalizePublicPath ensures the public path starts and ends with '/'.
func NormalizePublicPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
