package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/proxy"
	"github.com/rathix/devserver/internal/server"
	"github.com/rathix/devserver/internal/state"
)

func TestConfigPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		envs     map[string]string
		expected string
	}{
		{
			name:     "default value",
			args:     []string{},
			envs:     map[string]string{},
			expected: ":8080",
		},
		{
			name:     "env var precedence",
			args:     []string{},
			envs:     map[string]string{"LISTEN_ADDR": ":9090"},
			expected: ":9090",
		},
		{
			name:     "flag precedence over env",
			args:     []string{"--listen-addr", ":9999"},
			envs:     map[string]string{"LISTEN_ADDR": ":9090"},
			expected: ":9999",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}
			cfg, err := loadConfig(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.ListenAddr)
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.HealthInterval)
	assert.Equal(t, 30*time.Second, cfg.ResolveTTL)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.ConfigFile)
	assert.False(t, cfg.PrintConfig)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string][]string{
		"log format":      {"-log-format", "xml"},
		"log level":       {"-log-level", "loud"},
		"health interval": {"-health-interval", "soon"},
		"short interval":  {"-health-interval", "100ms"},
		"negative ttl":    {"-resolve-ttl", "-1s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(args)
			assert.Error(t, err)
		})
	}
}

func TestGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		stop <- syscall.SIGTERM
	}()
	select {
	case <-stop:
		cancel()
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for signal")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestLogFormatSelection(t *testing.T) {
	cases := []struct {
		format string
		isJSON bool
	}{
		{"json", true},
		{"text", false},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			logger := setupLoggerWithWriter(tc.format, "info", io.Discard)
			_, ok := logger.Handler().(*slog.JSONHandler)
			assert.Equal(t, tc.isJSON, ok)
		})
	}
}

func TestLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLoggerWithWriter("text", "warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestResolveModeFlagWins(t *testing.T) {
	env := lookupFrom(map[string]string{"NODE_ENV": "production"})
	assert.Equal(t, appconfig.ModeProduction, resolveMode(config{}, env))
	assert.Equal(t, appconfig.ModeDevelopment, resolveMode(config{Mode: "development"}, env))
	assert.Equal(t, appconfig.ModeDevelopment, resolveMode(config{}, lookupFrom(nil)))
}

func TestPrintConfig(t *testing.T) {
	t.Run("development default", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printConfig(&buf, config{}, lookupFrom(nil)))
		out := buf.String()
		assert.Contains(t, out, "mode: development")
		assert.Contains(t, out, "publicPath: /")
		assert.Contains(t, out, "target: http://localhost:5000")
		assert.Contains(t, out, "changeOrigin: true")
		assert.Contains(t, out, `"^/api": ""`)
	})

	t.Run("production default", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printConfig(&buf, config{}, lookupFrom(map[string]string{"NODE_ENV": "production"})))
		out := buf.String()
		assert.Contains(t, out, "mode: production")
		assert.Contains(t, out, "target: "+appconfig.DefaultProductionTarget)
		assert.Contains(t, out, "publicPath: /")
	})

	t.Run("env override", func(t *testing.T) {
		var buf bytes.Buffer
		env := lookupFrom(map[string]string{"API_TARGET": "http://127.0.0.1:7000"})
		require.NoError(t, printConfig(&buf, config{}, env))
		assert.Contains(t, buf.String(), "target: http://127.0.0.1:7000")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devserver.yaml")
		require.NoError(t, os.WriteFile(path, []byte("proxy: [unclosed"), 0o644))
		err := printConfig(io.Discard, config{ConfigFile: path}, lookupFrom(nil))
		assert.Error(t, err)
	})
}

type reloadCounter struct {
	results []string
}

func (r *reloadCounter) ObserveReload(result string) {
	r.results = append(r.results, result)
}

func testSPA(t *testing.T) http.Handler {
	t.Helper()
	h, err := server.NewSPAHandler(fstest.MapFS{
		"index.html": {Data: []byte("<html>bookfinder</html>")},
	}, ".")
	require.NoError(t, err)
	return h
}

func apiConfig(target, publicPath string) *appconfig.Config {
	changeOrigin := true
	return &appconfig.Config{
		PublicPath: publicPath,
		Proxy: []appconfig.ProxyRule{{
			Context:      "/api",
			Target:       target,
			ChangeOrigin: &changeOrigin,
			PathRewrite:  appconfig.RewriteRules{{Pattern: "^/api", Replacement: ""}},
		}},
	}
}

func newTestApp(t *testing.T, cfg *appconfig.Config) (*app, *state.Store, *reloadCounter) {
	t.Helper()
	resolved, err := appconfig.Resolve(cfg, appconfig.ModeDevelopment)
	require.NoError(t, err)

	store := state.NewStore()
	counter := &reloadCounter{}
	a := newApp(appconfig.ModeDevelopment, testSPA(t), proxy.Options{}, store, counter, nil)
	a.install(resolved)
	return a, store, counter
}

func TestAppProxiesAPIAndServesSite(t *testing.T) {
	var gotPath, gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotHost = r.URL.RequestURI(), r.Host
		w.Write([]byte(`{"books":[]}`))
	}))
	defer backend.Close()

	a, store, _ := newTestApp(t, apiConfig(backend.URL, "/"))
	front := httptest.NewServer(a.router)
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/books?q=go")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"books":[]}`, string(body))
	assert.Equal(t, "/books?q=go", gotPath)
	assert.Equal(t, backend.Listener.Addr().String(), gotHost)

	resp, err = http.Get(front.URL + "/search")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "bookfinder")

	u, ok := store.Get("/api")
	require.True(t, ok)
	assert.Equal(t, backend.URL, u.Target)
	assert.Equal(t, "/", a.publicPath())
}

func TestAppReloadSwapsRoutesAndPublicPath(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first"))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("second"))
	}))
	defer second.Close()

	a, store, counter := newTestApp(t, apiConfig(first.URL, "/"))

	ok := a.reload(apiConfig(second.URL, "/books/"), nil)
	require.True(t, ok)
	assert.Equal(t, []string{reloadOK}, counter.results)
	assert.Equal(t, "/books/", a.publicPath())

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, "second", rec.Body.String())

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/detail/1", nil))
	assert.Contains(t, rec.Body.String(), "bookfinder")

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)

	at, errs := store.LastReload()
	assert.False(t, at.IsZero())
	assert.Empty(t, errs)
}

func TestAppReloadKeepsLastKnownGood(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alive"))
	}))
	defer backend.Close()

	a, store, counter := newTestApp(t, apiConfig(backend.URL, "/"))

	ok := a.reload(nil, []error{errors.New("failed to parse config YAML")})
	assert.False(t, ok)

	bad := apiConfig("ftp://nowhere", "/")
	ok = a.reload(bad, nil)
	assert.False(t, ok)
	assert.Equal(t, []string{reloadFailed, reloadFailed}, counter.results)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, "alive", rec.Body.String())

	_, errs := store.LastReload()
	assert.NotEmpty(t, errs)
}

func TestAppReloadWithWarnings(t *testing.T) {
	a, _, counter := newTestApp(t, appconfig.Default())
	ok := a.reload(appconfig.Default(), []error{errors.New("proxy[1].context: required field missing")})
	assert.True(t, ok)
	assert.Equal(t, []string{reloadInvalid}, counter.results)
}
