// Package sse streams upstream health to browsers as server-sent events.
package sse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rathix/devserver/internal/state"
)

// StateSource is what the broker reads and subscribes to.
type StateSource interface {
	All() []state.Upstream
	LastReload() (time.Time, []string)
	Subscribe() <-chan state.Event
	Unsubscribe(ch <-chan state.Event)
}

// Info describes the running server in "state" events.
type Info struct {
	Version             string
	Mode                string
	PublicPath          func() string
	HealthCheckInterval time.Duration
}

const defaultKeepaliveInterval = 15 * time.Second

type sseEvent struct {
	data []byte
}

// Broker fans state events out to connected clients.
type Broker struct {
	source            StateSource
	info              Info
	logger            *slog.Logger
	keepaliveInterval time.Duration

	mu      sync.Mutex
	clients map[chan sseEvent]struct{}
}

// NewBroker creates a broker. If logger is nil, a no-op logger is used.
func NewBroker(source StateSource, info Info, logger *slog.Logger) *Broker {
	return newBrokerWithKeepalive(source, info, logger, defaultKeepaliveInterval)
}

func newBrokerWithKeepalive(source StateSource, info Info, logger *slog.Logger, keepalive time.Duration) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	return &Broker{
		source:            source,
		info:              info,
		logger:            logger,
		keepaliveInterval: keepalive,
		clients:           make(map[chan sseEvent]struct{}),
	}
}

// Run forwards store events to clients until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	events := b.source.Subscribe()
	defer b.source.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			b.closeAllClients()
			return
		case evt, ok := <-events:
			if !ok {
				b.closeAllClients()
				b.logger.Warn("SSE broker source channel closed")
				return
			}

			var (
				data []byte
				err  error
			)
			switch evt.Type {
			case state.EventUpdated:
				data, err = formatSSEEvent("update", evt.Upstream)
			case state.EventRoutes, state.EventReloaded:
				data, err = b.buildStateEvent()
			default:
				continue
			}
			if err != nil {
				b.logger.Debug("failed to format SSE event", "error", err)
				continue
			}
			b.broadcast(sseEvent{data: data})
		}
	}
}

func (b *Broker) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

func (b *Broker) broadcast(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) addClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	b.logger.Debug("SSE client connected", "clients", len(b.clients))
}

func (b *Broker) removeClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
	b.logger.Debug("SSE client disconnected", "clients", len(b.clients))
}

// ServeHTTP sends the current snapshot and then streams events.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		if u, isWrapper := w.(interface{ Unwrap() http.ResponseWriter }); isWrapper {
			flusher, ok = u.Unwrap().(http.Flusher)
		}
	}
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Register before the snapshot so no update falls in between.
	clientCh := make(chan sseEvent, 64)
	b.addClient(clientCh)
	defer b.removeClient(clientCh)

	initial, err := b.buildStateEvent()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := writeAndFlush(w, flusher, initial); err != nil {
		return
	}

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write SSE event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (b *Broker) buildStateEvent() ([]byte, error) {
	at, errs := b.source.LastReload()
	var lastReload *time.Time
	if !at.IsZero() {
		lastReload = &at
	}
	publicPath := ""
	if b.info.PublicPath != nil {
		publicPath = b.info.PublicPath()
	}
	return formatSSEEvent("state", StateEventPayload{
		AppVersion:            b.info.Version,
		Mode:                  b.info.Mode,
		PublicPath:            publicPath,
		Upstreams:             b.source.All(),
		HealthCheckIntervalMs: int(b.info.HealthCheckInterval.Milliseconds()),
		LastReload:            lastReload,
		ConfigErrors:          errs,
	})
}
