package proxy

import (
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rathix/devserver/internal/config"
)

// Table is an immutable set of routes. The longest matching context wins.
type Table struct {
	routes   []config.Route
	handlers []http.Handler
}

// NewTable builds a handler per route.
func NewTable(routes []config.Route, opts Options) *Table {
	opts = opts.withDefaults()

	sorted := make([]config.Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Context) > len(sorted[j].Context)
	})

	t := &Table{
		routes:   sorted,
		handlers: make([]http.Handler, len(sorted)),
	}
	for i, r := range sorted {
		t.handlers[i] = newRouteHandler(r, opts)
	}
	return t
}

// Match returns the route whose context is a prefix of path.
func (t *Table) Match(path string) (config.Route, http.Handler, bool) {
	if t == nil {
		return config.Route{}, nil, false
	}
	for i, r := range t.routes {
		if strings.HasPrefix(path, r.Context) {
			return r, t.handlers[i], true
		}
	}
	return config.Route{}, nil, false
}

// Routes returns the routes in match order.
func (t *Table) Routes() []config.Route {
	if t == nil {
		return nil
	}
	out := make([]config.Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Router sends requests that match a proxy route upstream and everything
// else to the fallback handler. The table can be swapped while serving.
type Router struct {
	table    atomic.Pointer[Table]
	fallback http.Handler
}

// NewRouter creates a router. fallback may be nil, in which case
// unmatched requests get 404.
func NewRouter(t *Table, fallback http.Handler) *Router {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	r := &Router{fallback: fallback}
	r.table.Store(t)
	return r
}

// Swap installs t for all subsequent requests. In-flight requests finish on
// the table they started with.
func (r *Router) Swap(t *Table) {
	r.table.Store(t)
}

// Routes returns the routes of the active table.
func (r *Router) Routes() []config.Route {
	return r.table.Load().Routes()
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if _, h, ok := r.table.Load().Match(req.URL.Path); ok {
		h.ServeHTTP(w, req)
		return
	}
	r.fallback.ServeHTTP(w, req)
}
