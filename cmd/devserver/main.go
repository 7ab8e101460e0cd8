package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rathix/devserver"
	appconfig "github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/discovery"
	"github.com/rathix/devserver/internal/health"
	"github.com/rathix/devserver/internal/k8s"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/proxy"
	"github.com/rathix/devserver/internal/server"
	"github.com/rathix/devserver/internal/sse"
	"github.com/rathix/devserver/internal/state"
)

const defaultAddr = ":8080"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds all process configuration. Proxy rules live in the YAML file.
type config struct {
	ListenAddr     string
	ConfigFile     string
	StaticDir      string
	Mode           string
	LogFormat      string
	LogLevel       string
	HealthInterval time.Duration
	ResolveTTL     time.Duration
	Kubeconfig     string
	ConsulAddr     string
	PrintConfig    bool
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("devserver version %s\n", Version)
			return
		}
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if cfg.PrintConfig {
		if err := printConfig(os.Stdout, cfg, os.LookupEnv); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	flags := flag.NewFlagSet("devserver", flag.ContinueOnError)

	cfg := config{}
	flags.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	flags.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "path to YAML proxy config (built-in /api rule when empty)")
	flags.StringVar(&cfg.StaticDir, "static-dir", getEnv("STATIC_DIR", ""), "directory with the front-end build (embedded build when empty)")
	flags.StringVar(&cfg.Mode, "mode", getEnv(appconfig.ModeEnv, ""), "deployment mode: production or development")
	flags.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")
	flags.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.Kubeconfig, "kubeconfig", getEnv("KUBECONFIG", ""), "kubeconfig used to resolve k8s:// targets")
	flags.StringVar(&cfg.ConsulAddr, "consul-addr", getEnv("CONSUL_HTTP_ADDR", ""), "Consul agent address used to resolve consul:// targets")
	flags.BoolVar(&cfg.PrintConfig, "print-config", getEnvBool("PRINT_CONFIG", false), "print the resolved proxy configuration and exit")
	flags.Bool("version", false, "print version and exit")

	healthIntervalStr := getEnv("HEALTH_INTERVAL", "15s")
	flags.StringVar(&healthIntervalStr, "health-interval", healthIntervalStr, "upstream health check interval")

	resolveTTLStr := getEnv("RESOLVE_TTL", "30s")
	flags.StringVar(&resolveTTLStr, "resolve-ttl", resolveTTLStr, "how long k8s:// and consul:// resolutions are cached")

	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	interval, err := time.ParseDuration(healthIntervalStr)
	if err != nil {
		return config{}, fmt.Errorf("invalid health interval %q: %w", healthIntervalStr, err)
	}
	if interval < time.Second {
		return config{}, fmt.Errorf("health interval must be at least 1s, got %q", healthIntervalStr)
	}
	cfg.HealthInterval = interval

	ttl, err := time.ParseDuration(resolveTTLStr)
	if err != nil {
		return config{}, fmt.Errorf("invalid resolve ttl %q: %w", resolveTTLStr, err)
	}
	if ttl < 0 {
		return config{}, fmt.Errorf("resolve ttl must not be negative, got %q", resolveTTLStr)
	}
	cfg.ResolveTTL = ttl

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
	return level, nil
}

func setupLogger(format, level string) *slog.Logger {
	return setupLoggerWithWriter(format, level, os.Stdout)
}

func setupLoggerWithWriter(format, level string, writer io.Writer) *slog.Logger {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler)
}

// resolveMode prefers the -mode flag and falls back to NODE_ENV.
func resolveMode(cfg config, lookup func(string) (string, bool)) appconfig.Mode {
	if cfg.Mode != "" {
		return appconfig.ParseMode(cfg.Mode)
	}
	return appconfig.ResolveMode(lookup)
}

// loadProxyConfig reads the proxy config file (or the built-in default) and
// applies environment overrides.
func loadProxyConfig(path string, lookup func(string) (string, bool)) (*appconfig.Config, []error) {
	var (
		pc   *appconfig.Config
		errs []error
	)
	if path == "" {
		pc = appconfig.Default()
	} else {
		pc, errs = appconfig.Load(path)
	}
	if pc != nil {
		appconfig.ApplyEnv(pc, lookup)
	}
	return pc, errs
}

// staticAssets picks the directory build or the embedded one.
func staticAssets(dir string) (fs.FS, string) {
	if dir != "" {
		return os.DirFS(dir), "."
	}
	return devserver.WebFS, devserver.WebRoot
}

// newResolver wires http/https, consul:// and, when reachable, k8s:// targets.
func newResolver(cfg config, needK8s bool, logger *slog.Logger) *discovery.Cached {
	mux := discovery.NewMux()

	consul, err := discovery.NewConsulClient(cfg.ConsulAddr)
	if err != nil {
		logger.Warn("consul:// targets disabled", "error", err)
	} else {
		mux.Handle("consul", discovery.NewConsul(consul.Health()))
	}

	if cfg.Kubeconfig != "" || needK8s {
		clientset, err := k8s.BuildClientset(cfg.Kubeconfig)
		if err != nil {
			logger.Warn("k8s:// targets disabled", "error", err)
		} else {
			mux.Handle("k8s", k8s.NewServiceResolver(clientset))
		}
	}

	return discovery.NewCached(mux, cfg.ResolveTTL)
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, cfg config) error {
	logger := setupLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	mode := resolveMode(cfg, os.LookupEnv)
	slog.Info("Starting devserver", "version", Version, "mode", mode)

	proxyCfg, errs := loadProxyConfig(cfg.ConfigFile, os.LookupEnv)
	if proxyCfg == nil {
		return fmt.Errorf("failed to load proxy config: %w", errors.Join(errs...))
	}
	for _, e := range errs {
		slog.Warn("Config validation warning", "error", e)
	}

	resolved, err := appconfig.Resolve(proxyCfg, mode)
	if err != nil {
		return fmt.Errorf("failed to resolve proxy config: %w", err)
	}

	m := metrics.New()
	store := state.NewStore()
	store.RecordReload(time.Now(), errs)
	resolver := newResolver(cfg, usesScheme(resolved, "k8s"), logger)

	assets, dir := staticAssets(cfg.StaticDir)
	spa, err := server.NewSPAHandler(assets, dir)
	if err != nil {
		return fmt.Errorf("failed to create static handler: %w", err)
	}

	app := newApp(mode, spa, proxy.Options{
		Resolver: resolver,
		Observer: m,
		Logger:   logger,
	}, store, m, logger)
	app.install(resolved)

	if cfg.ConfigFile != "" {
		watcher := appconfig.NewWatcher(cfg.ConfigFile, func(newCfg *appconfig.Config, errs []error) {
			if newCfg != nil {
				appconfig.ApplyEnv(newCfg, os.LookupEnv)
			}
			if app.reload(newCfg, errs) {
				resolver.Purge()
			}
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("config watcher stopped with error", "error", err)
			}
		}()
	}

	checker := health.NewChecker(app.router, resolver, store, &http.Client{Timeout: 10 * time.Second}, cfg.HealthInterval, m, logger)
	go checker.Run(ctx)

	broker := sse.NewBroker(store, sse.Info{
		Version:             Version,
		Mode:                string(mode),
		PublicPath:          app.publicPath,
		HealthCheckInterval: cfg.HealthInterval,
	}, logger)
	go broker.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", server.NewHealthHandler(store, server.Info{
		Version:    Version,
		Mode:       string(mode),
		PublicPath: app.publicPath,
	}))
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /_devserver/events", broker)
	mux.Handle("/", app.router)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.AccessLog(logger, server.ProxyHeaderMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverError := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.ListenAddr, "publicPath", resolved.PublicPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func usesScheme(r *appconfig.Resolved, scheme string) bool {
	for _, route := range r.Routes {
		if route.Target.Scheme == scheme {
			return true
		}
	}
	return false
}
