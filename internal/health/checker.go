package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/discovery"
	"github.com/rathix/devserver/internal/state"
)

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// RouteSource returns the routes currently being served.
type RouteSource interface {
	Routes() []config.Route
}

// StateWriter records probe results.
type StateWriter interface {
	Update(route string, fn func(*state.Upstream))
}

// UpGauge receives the outcome of each probe per route.
type UpGauge interface {
	SetUpstreamUp(route string, up bool)
}

// Checker periodically probes every proxy upstream.
type Checker struct {
	routes   RouteSource
	resolver discovery.Resolver
	writer   StateWriter
	client   HTTPProber
	interval time.Duration
	gauge    UpGauge
	logger   *slog.Logger
}

// NewChecker creates a new health checker. If logger is nil, a no-op logger is
// used; gauge may be nil.
func NewChecker(routes RouteSource, resolver discovery.Resolver, writer StateWriter, client HTTPProber, interval time.Duration, gauge UpGauge, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checker{
		routes:   routes,
		resolver: resolver,
		writer:   writer,
		client:   client,
		interval: interval,
		gauge:    gauge,
		logger:   logger,
	}
}

// Run performs an immediate check, then checks at the configured interval
// until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every route concurrently and waits for all probes.
func (c *Checker) CheckAll(ctx context.Context) {
	routes := c.routes.Routes()
	if len(routes) == 0 {
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(r config.Route) {
			defer wg.Done()
			res := c.probeRoute(ctx, r)
			target := r.Target.String()
			applied := false
			c.writer.Update(r.Context, func(u *state.Upstream) {
				// A reload may have pointed the route elsewhere mid-probe.
				if u.Target != target {
					return
				}
				c.applyResult(u, res)
				applied = true
			})
			if applied && c.gauge != nil {
				c.gauge.SetUpstreamUp(r.Context, res.status != state.StatusUnreachable)
			}
		}(r)
	}
	wg.Wait()

	c.logger.Debug("upstream check cycle complete",
		"routes", len(routes),
		"durationMs", time.Since(start).Milliseconds(),
	)
}

const maxErrorLen = 256

type probeResult struct {
	status         state.Status
	address        string
	httpCode       *int
	responseTimeMs int64
	err            *string
}

func (c *Checker) probeRoute(ctx context.Context, r config.Route) probeResult {
	addr, err := c.resolver.Resolve(ctx, r.Target)
	if err != nil {
		return probeResult{status: state.StatusUnreachable, err: truncate(err.Error())}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout(r.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, addr.String(), nil)
	if err != nil {
		return probeResult{status: state.StatusUnreachable, address: addr.String(), err: truncate(err.Error())}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return probeResult{
			status:         state.StatusUnreachable,
			address:        addr.String(),
			responseTimeMs: elapsed,
			err:            truncate(err.Error()),
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	return probeResult{
		status:         classifyStatus(code),
		address:        addr.String(),
		httpCode:       &code,
		responseTimeMs: elapsed,
	}
}

// applyResult writes probe fields onto u and logs status transitions.
func (c *Checker) applyResult(u *state.Upstream, res probeResult) {
	previous := u.Status

	u.Status = res.status
	u.Address = res.address
	u.HTTPCode = res.httpCode
	u.ResponseTimeMs = &res.responseTimeMs
	u.Error = res.err

	now := time.Now()
	u.LastChecked = &now

	if res.status != previous {
		u.LastStateChange = &now
		level := slog.LevelInfo
		if res.status == state.StatusUnreachable {
			level = slog.LevelWarn
		}
		args := []any{"route", u.Route, "target", u.Target, "from", string(previous), "to", string(res.status)}
		if res.err != nil {
			args = append(args, "error", *res.err)
		}
		c.logger.Log(context.Background(), level, "upstream status changed", args...)
	}
}

// classifyStatus maps an HTTP status code to a Status. Any answer below 500
// means the backend is up, even a 404 for its root path.
func classifyStatus(code int) state.Status {
	if code >= 500 {
		return state.StatusDegraded
	}
	return state.StatusHealthy
}

func probeTimeout(routeTimeout time.Duration) time.Duration {
	const maxProbe = 5 * time.Second
	if routeTimeout > 0 && routeTimeout < maxProbe {
		return routeTimeout
	}
	return maxProbe
}

func truncate(s string) *string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen]
	}
	return &s
}
