package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	appconfig "github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/proxy"
	"github.com/rathix/devserver/internal/server"
)

// Reload results reported to devserver_config_reloads_total.
const (
	reloadOK      = "ok"
	reloadInvalid = "invalid"
	reloadFailed  = "failed"
)

type routeStore interface {
	SetRoutes(targets map[string]string)
	RecordReload(at time.Time, errs []error)
}

type reloadObserver interface {
	ObserveReload(result string)
}

// app owns everything a config reload replaces: the proxy table, the
// public path the front-end is mounted under and the upstream list.
type app struct {
	mode    appconfig.Mode
	spa     http.Handler
	opts    proxy.Options
	store   routeStore
	metrics reloadObserver
	logger  *slog.Logger

	router *proxy.Router
	site   *server.SwappableHandler

	mu     sync.RWMutex
	active *appconfig.Resolved
}

func newApp(mode appconfig.Mode, spa http.Handler, opts proxy.Options, store routeStore, metrics reloadObserver, logger *slog.Logger) *app {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &app{
		mode:    mode,
		spa:     spa,
		opts:    opts,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	a.site = server.NewSwappableHandler(http.NotFoundHandler())
	a.router = proxy.NewRouter(nil, a.site)
	return a
}

// install makes r the active configuration.
func (a *app) install(r *appconfig.Resolved) {
	a.site.Swap(server.NewPublicPathHandler(r.PublicPath, a.spa))
	a.router.Swap(proxy.NewTable(r.Routes, a.opts))

	targets := make(map[string]string, len(r.Routes))
	for _, route := range r.Routes {
		targets[route.Context] = route.Target.String()
	}
	a.store.SetRoutes(targets)

	a.mu.Lock()
	a.active = r
	a.mu.Unlock()
}

// reload applies a config delivered by the file watcher. A nil config or one
// that fails to resolve leaves the previous configuration serving. Returns
// true when a new configuration was installed.
func (a *app) reload(cfg *appconfig.Config, errs []error) bool {
	now := time.Now()
	if cfg == nil {
		a.logger.Error("config reload failed, keeping previous config", "error", errors.Join(errs...))
		a.store.RecordReload(now, errs)
		a.metrics.ObserveReload(reloadFailed)
		return false
	}

	resolved, err := appconfig.Resolve(cfg, a.mode)
	if err != nil {
		a.logger.Error("config reload failed, keeping previous config", "error", err)
		a.store.RecordReload(now, append(errs, err))
		a.metrics.ObserveReload(reloadFailed)
		return false
	}

	a.install(resolved)
	a.store.RecordReload(now, errs)

	result := reloadOK
	if len(errs) > 0 {
		result = reloadInvalid
		for _, e := range errs {
			a.logger.Warn("Config validation warning", "error", e)
		}
	}
	a.metrics.ObserveReload(result)
	a.logger.Info("config reloaded", "routes", len(resolved.Routes), "publicPath", resolved.PublicPath, "warnings", len(errs))
	return true
}

// publicPath reports the public path of the active configuration.
func (a *app) publicPath() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.active == nil {
		return ""
	}
	return a.active.PublicPath
}

type effectiveConfig struct {
	Mode       string                `yaml:"mode"`
	PublicPath string                `yaml:"publicPath"`
	Proxy      []appconfig.ProxyRule `yaml:"proxy"`
}

// printConfig writes the configuration the server would run with in YAML.
func printConfig(w io.Writer, cfg config, lookup func(string) (string, bool)) error {
	mode := resolveMode(cfg, lookup)
	pc, errs := loadProxyConfig(cfg.ConfigFile, lookup)
	if pc == nil {
		return fmt.Errorf("failed to load proxy config: %w", errors.Join(errs...))
	}
	resolved, err := appconfig.Resolve(pc, mode)
	if err != nil {
		return err
	}

	out := effectiveConfig{
		Mode:       string(mode),
		PublicPath: resolved.PublicPath,
		Proxy:      make([]appconfig.ProxyRule, 0, len(pc.Proxy)),
	}
	for _, rule := range pc.Proxy {
		changeOrigin := rule.ChangesOrigin()
		out.Proxy = append(out.Proxy, appconfig.ProxyRule{
			Context:      rule.Context,
			Target:       rule.TargetFor(mode),
			ChangeOrigin: &changeOrigin,
			PathRewrite:  rule.PathRewrite,
			Timeout:      rule.Timeout,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	for _, e := range errs {
		fmt.Fprintf(w, "# warning: %v\n", e)
	}
	return nil
}
