package server

import (
	"net/http"
	"strings"

	"github.com/rathix/devserver/internal/config"
)

// PublicPathHandler serves inner under a public path prefix. The prefix is
// stripped before inner sees the request.
type PublicPathHandler struct {
	publicPath string
	inner      http.Handler
}

// NewPublicPathHandler mounts inner under publicPath. If publicPath
// normalizes to "/", inner is returned directly.
func NewPublicPathHandler(publicPath string, inner http.Handler) http.Handler {
	pp := config.NormalizePublicPath(publicPath)
	if pp == "/" {
		return inner
	}
	return &PublicPathHandler{publicPath: pp, inner: inner}
}

func (h *PublicPathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, h.publicPath):
		h.serveStripped(w, r, "/"+strings.TrimPrefix(r.URL.Path, h.publicPath))
	case r.URL.Path+"/" == h.publicPath:
		h.serveStripped(w, r, "/")
	case r.URL.Path == "/":
		// The build tool opens the app at its public path; do the same for
		// a bare visit to the server root.
		http.Redirect(w, r, h.publicPath, http.StatusFound)
	default:
		http.NotFound(w, r)
	}
}

func (h *PublicPathHandler) serveStripped(w http.ResponseWriter, r *http.Request, p string) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = p
	r2.URL.RawPath = ""
	h.inner.ServeHTTP(w, r2)
}
