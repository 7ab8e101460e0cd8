package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"path"
)

// SPAHandler serves built front-end assets and falls back to index.html for
// extensionless paths so client-side routes survive a reload.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler serves files from fsys below dir ("." for the root).
func NewSPAHandler(fsys fs.FS, dir string) (*SPAHandler, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	if _, err := fs.Stat(sub, "index.html"); err != nil {
		return nil, fmt.Errorf("static assets in %q have no index.html: %w", dir, err)
	}
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(sub)),
		filesystem: sub,
	}, nil
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" || urlPath == "/index.html" {
		h.serveIndex(w, r)
		return
	}

	if _, err := fs.Stat(h.filesystem, urlPath[1:]); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// Missing files with an extension are real 404s; serving index.html for
	// them would hand the browser HTML with the wrong MIME type.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	h.serveIndex(w, r)
}

// serveIndex writes index.html without caching so a rebuilt bundle is
// picked up on the next reload.
func (h *SPAHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r2)
}
