package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rathix/devserver/internal/state"
)

// UpstreamReader is the read side of state.Store.
type UpstreamReader interface {
	All() []state.Upstream
	LastReload() (time.Time, []string)
}

type healthResponse struct {
	Status       string           `json:"status"`
	Version      string           `json:"version"`
	Mode         string           `json:"mode"`
	PublicPath   string           `json:"publicPath"`
	LastReload   *time.Time       `json:"lastReload,omitempty"`
	ConfigErrors []string         `json:"configErrors,omitempty"`
	Upstreams    []state.Upstream `json:"upstreams"`
}

// Info is the static part of the health response.
type Info struct {
	Version    string
	Mode       string
	PublicPath func() string
}

// NewHealthHandler reports the dev server and its upstreams. The server
// itself always answers 200; status is "degraded" when any upstream is
// unreachable or failing.
func NewHealthHandler(reader UpstreamReader, info Info) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreams := reader.All()
		resp := healthResponse{
			Status:    "ok",
			Version:   info.Version,
			Mode:      info.Mode,
			Upstreams: upstreams,
		}
		if info.PublicPath != nil {
			resp.PublicPath = info.PublicPath()
		}
		for _, u := range upstreams {
			if u.Status == state.StatusUnreachable || u.Status == state.StatusDegraded {
				resp.Status = "degraded"
				break
			}
		}
		if at, errs := reader.LastReload(); !at.IsZero() {
			resp.LastReload = &at
			resp.ConfigErrors = errs
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
