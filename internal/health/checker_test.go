package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/discovery"
	"github.com/rathix/devserver/internal/state"
)

type mockResponse struct {
	statusCode int
	err        error
}

// mockHTTPProber answers by request URL; unknown URLs are refused.
type mockHTTPProber struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	requested []string
}

func (m *mockHTTPProber) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, req.URL.String())
	resp, ok := m.responses[req.URL.String()]
	if !ok {
		return nil, errors.New("dial tcp: connection refused")
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(strings.NewReader("body")),
	}, nil
}

type staticRoutes []config.Route

func (s staticRoutes) Routes() []config.Route { return s }

type recordingGauge struct {
	mu     sync.Mutex
	values map[string]bool
}

func (g *recordingGauge) SetUpstreamUp(route string, up bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.values == nil {
		g.values = map[string]bool{}
	}
	g.values[route] = up
}

func route(t *testing.T, ctx, target string) config.Route {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatal(err)
	}
	return config.Route{Context: ctx, Target: u}
}

func newStore(routes staticRoutes) *state.Store {
	s := state.NewStore()
	targets := map[string]string{}
	for _, r := range routes {
		targets[r.Context] = r.Target.String()
	}
	s.SetRoutes(targets)
	return s
}

func TestCheckAll_ClassifiesUpstreams(t *testing.T) {
	routes := staticRoutes{
		route(t, "/api", "http://localhost:5000"),
		route(t, "/broken", "http://localhost:5001"),
		route(t, "/down", "http://localhost:5002"),
	}
	store := newStore(routes)
	prober := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:5000": {statusCode: http.StatusNotFound},
		"http://localhost:5001": {statusCode: http.StatusBadGateway},
	}}
	gauge := &recordingGauge{}

	c := NewChecker(routes, discovery.Static{}, store, prober, time.Hour, gauge, nil)
	c.CheckAll(context.Background())

	want := map[string]state.Status{
		"/api":    state.StatusHealthy,
		"/broken": state.StatusDegraded,
		"/down":   state.StatusUnreachable,
	}
	for r, status := range want {
		u, _ := store.Get(r)
		if u.Status != status {
			t.Errorf("%s status = %q, want %q", r, u.Status, status)
		}
		if u.LastChecked == nil || u.LastStateChange == nil {
			t.Errorf("%s missing timestamps", r)
		}
	}

	down, _ := store.Get("/down")
	if down.Error == nil || !strings.Contains(*down.Error, "connection refused") {
		t.Errorf("expected error on /down, got %v", down.Error)
	}
	api, _ := store.Get("/api")
	if api.HTTPCode == nil || *api.HTTPCode != 404 {
		t.Errorf("expected httpCode 404, got %v", api.HTTPCode)
	}
	if api.Address != "http://localhost:5000" {
		t.Errorf("address = %q", api.Address)
	}

	if !gauge.values["/api"] || !gauge.values["/broken"] || gauge.values["/down"] {
		t.Errorf("gauge values = %v", gauge.values)
	}
}

func TestCheckAll_SkipsRouteRetargetedByReload(t *testing.T) {
	probed := staticRoutes{route(t, "/api", "http://localhost:5000")}
	store := newStore(probed)
	// The reload lands while the probe against the old target is in flight.
	store.SetRoutes(map[string]string{"/api": "http://localhost:6000"})

	prober := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:5000": {statusCode: http.StatusOK},
	}}
	gauge := &recordingGauge{}
	c := NewChecker(probed, discovery.Static{}, store, prober, time.Hour, gauge, nil)
	c.CheckAll(context.Background())

	u, _ := store.Get("/api")
	if u.Status != state.StatusUnknown || u.LastChecked != nil {
		t.Errorf("stale probe result written to retargeted route: %+v", u)
	}
	if u.Target != "http://localhost:6000" {
		t.Errorf("target = %q", u.Target)
	}
	if _, ok := gauge.values["/api"]; ok {
		t.Errorf("gauge updated from stale probe: %v", gauge.values)
	}
}

func TestCheckAll_ResolveFailure(t *testing.T) {
	routes := staticRoutes{route(t, "/api", "consul://backend")}
	store := newStore(routes)
	resolver := discovery.ResolverFunc(func(context.Context, *url.URL) (*url.URL, error) {
		return nil, discovery.ErrNoInstances
	})

	c := NewChecker(routes, resolver, store, &mockHTTPProber{}, time.Hour, nil, nil)
	c.CheckAll(context.Background())

	u, _ := store.Get("/api")
	if u.Status != state.StatusUnreachable {
		t.Errorf("status = %q", u.Status)
	}
	if u.Error == nil || !strings.Contains(*u.Error, "no instances") {
		t.Errorf("error = %v", u.Error)
	}
}

func TestApplyResult_LastStateChangeOnlyOnTransition(t *testing.T) {
	c := NewChecker(staticRoutes{}, discovery.Static{}, state.NewStore(), &mockHTTPProber{}, time.Hour, nil, nil)
	u := state.Upstream{Route: "/api", Status: state.StatusUnknown}

	c.applyResult(&u, probeResult{status: state.StatusHealthy})
	first := *u.LastStateChange

	time.Sleep(5 * time.Millisecond)
	c.applyResult(&u, probeResult{status: state.StatusHealthy})
	if !u.LastStateChange.Equal(first) {
		t.Error("LastStateChange moved without a transition")
	}
	if !u.LastChecked.After(first) {
		t.Error("LastChecked not advanced")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	routes := staticRoutes{route(t, "/api", "http://localhost:5000")}
	store := newStore(routes)
	prober := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:5000": {statusCode: 200},
	}}
	c := NewChecker(routes, discovery.Static{}, store, prober, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	prober.mu.Lock()
	n := len(prober.requested)
	prober.mu.Unlock()
	if n < 2 {
		t.Errorf("expected repeated probes, got %d", n)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want state.Status
	}{
		{200, state.StatusHealthy},
		{301, state.StatusHealthy},
		{404, state.StatusHealthy},
		{500, state.StatusDegraded},
		{503, state.StatusDegraded},
	}
	for _, tc := range tests {
		if got := classifyStatus(tc.code); got != tc.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
