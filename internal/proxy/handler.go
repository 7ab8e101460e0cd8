package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/discovery"
)

// Observer receives one call per proxied request.
type Observer interface {
	ObserveProxy(route string, code int, elapsed time.Duration)
}

// Options are shared by every route handler in a Table.
type Options struct {
	Resolver  discovery.Resolver
	Transport http.RoundTripper
	Observer  Observer
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Resolver == nil {
		o.Resolver = discovery.Static{}
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type targetKey struct{}

// routeHandler forwards requests for a single route.
type routeHandler struct {
	route config.Route
	opts  Options
	rp    *httputil.ReverseProxy
}

func newRouteHandler(route config.Route, opts Options) *routeHandler {
	h := &routeHandler{route: route, opts: opts}
	h.rp = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		Transport:    opts.Transport,
		ErrorHandler: h.handleError,
		ErrorLog:     slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
		// Flush streamed responses (SSE, chunked) as they arrive.
		FlushInterval: -1,
	}
	return h
}

func (h *routeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	timeout := h.route.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProxyTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	target, err := h.opts.Resolver.Resolve(ctx, h.route.Target)
	if err != nil {
		h.opts.Logger.Warn("failed to resolve proxy target",
			"route", h.route.Context,
			"target", h.route.Target.String(),
			"error", err,
		)
		writeError(sw, http.StatusBadGateway, "upstream unavailable: "+err.Error())
	} else {
		ctx = context.WithValue(ctx, targetKey{}, target)
		h.rp.ServeHTTP(sw, r.WithContext(ctx))
	}

	if h.opts.Observer != nil {
		h.opts.Observer.ObserveProxy(h.route.Context, sw.code(), time.Since(start))
	}
}

// rewrite builds the outbound request: path rewrite first, then the target
// base path is joined on and the query carried over.
func (h *routeHandler) rewrite(pr *httputil.ProxyRequest) {
	target := pr.In.Context().Value(targetKey{}).(*url.URL)

	// Rewrite the escaped form so encoded characters such as %2F reach the
	// backend unchanged.
	raw := h.route.Rewrite.Apply(pr.In.URL.EscapedPath())
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		pr.Out.URL.Path = decoded
		pr.Out.URL.RawPath = raw
	} else {
		pr.Out.URL.Path = raw
		pr.Out.URL.RawPath = ""
	}

	pr.SetURL(target)
	pr.SetXForwarded()
	if scheme := pr.In.URL.Scheme; scheme == "http" || scheme == "https" {
		pr.Out.Header.Set("X-Forwarded-Proto", scheme)
	}

	if !h.route.ChangeOrigin {
		pr.Out.Host = pr.In.Host
	}

	h.opts.Logger.Debug("proxying request",
		"route", h.route.Context,
		"method", pr.In.Method,
		"from", pr.In.URL.Path,
		"to", pr.Out.URL.String(),
	)
}

func (h *routeHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	msg := "upstream request failed"

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		code = http.StatusGatewayTimeout
		msg = "upstream timed out"
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		h.opts.Logger.Debug("client cancelled proxied request", "route", h.route.Context, "path", r.URL.Path)
		w.WriteHeader(499)
		return
	}

	h.opts.Logger.Warn("proxy error",
		"route", h.route.Context,
		"method", r.Method,
		"path", r.URL.Path,
		"target", h.route.Target.String(),
		"status", code,
		"error", err,
	)
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 && code >= 200 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
