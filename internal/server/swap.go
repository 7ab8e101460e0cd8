package server

import (
	"net/http"
	"sync/atomic"
)

// SwappableHandler delegates to a handler that can be replaced at runtime.
type SwappableHandler struct {
	current atomic.Pointer[http.Handler]
}

// NewSwappableHandler starts out delegating to h.
func NewSwappableHandler(h http.Handler) *SwappableHandler {
	s := &SwappableHandler{}
	s.Swap(h)
	return s
}

// Swap replaces the delegate.
func (s *SwappableHandler) Swap(h http.Handler) {
	s.current.Store(&h)
}

func (s *SwappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}
