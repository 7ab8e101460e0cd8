package state

import (
	"sort"
	"sync"
	"time"
)

// Status is the last observed reachability of a proxy upstream.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
)

// Upstream is the health record for one proxy route.
type Upstream struct {
	Route           string     `json:"route"`
	Target          string     `json:"target"`
	Address         string     `json:"address,omitempty"`
	Status          Status     `json:"status"`
	HTTPCode        *int       `json:"httpCode,omitempty"`
	ResponseTimeMs  *int64     `json:"responseTimeMs,omitempty"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	LastStateChange *time.Time `json:"lastStateChange,omitempty"`
	Error           *string    `json:"error,omitempty"`
}

// EventType identifies the kind of state mutation.
type EventType int

const (
	// EventRoutes follows SetRoutes: the set of tracked upstreams changed.
	EventRoutes EventType = iota
	EventUpdated
	EventReloaded
)

// Event represents a state mutation notification.
type Event struct {
	Type     EventType
	Upstream Upstream // Populated for EventUpdated
}

// Store is a concurrency-safe in-memory store of upstream health keyed by route context.
type Store struct {
	mu        sync.RWMutex
	upstreams map[string]Upstream
	subs      map[chan Event]struct{}
	reloadAt  time.Time
	reloadErr []string
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{
		upstreams: make(map[string]Upstream),
		subs:      make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives an event for every mutation.
// Events are dropped for subscribers whose buffer is full.
func (s *Store) Subscribe() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 128)
	s.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Store) Unsubscribe(ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for existing := range s.subs {
		if (<-chan Event)(existing) == ch {
			delete(s.subs, existing)
			close(existing)
			return
		}
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(evt Event) {
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SetRoutes replaces the tracked routes. A route whose target is unchanged
// keeps its health history; everything else starts as unknown.
func (s *Store) SetRoutes(targets map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Upstream, len(targets))
	for route, target := range targets {
		if prev, ok := s.upstreams[route]; ok && prev.Target == target {
			next[route] = prev
			continue
		}
		next[route] = Upstream{Route: route, Target: target, Status: StatusUnknown}
	}
	s.upstreams = next
	s.publish(Event{Type: EventRoutes})
}

// Get retrieves the record for route.
func (s *Store) Get(route string) (Upstream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.upstreams[route]
	if !ok {
		return Upstream{}, false
	}
	return u.DeepCopy(), true
}

// All returns a snapshot of every upstream ordered by route.
func (s *Store) All() []Upstream {
	s.mu.RLock()
	out := make([]Upstream, 0, len(s.upstreams))
	for _, u := range s.upstreams {
		out = append(out, u.DeepCopy())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Update performs a read-modify-write on one upstream under the store lock.
// If the route is not tracked, fn is not called.
func (s *Store) Update(route string, fn func(*Upstream)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.upstreams[route]
	if !ok {
		return
	}
	fn(&u)
	s.upstreams[route] = u
	s.publish(Event{Type: EventUpdated, Upstream: u.DeepCopy()})
}

// RecordReload stores the time and problems of the latest config load.
func (s *Store) RecordReload(at time.Time, errs []error) {
	strs := make([]string, 0, len(errs))
	for _, e := range errs {
		strs = append(strs, e.Error())
	}
	s.mu.Lock()
	s.reloadAt = at
	s.reloadErr = strs
	s.publish(Event{Type: EventReloaded})
	s.mu.Unlock()
}

// LastReload returns what RecordReload last stored.
func (s *Store) LastReload() (time.Time, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloadAt, append([]string(nil), s.reloadErr...)
}

// DeepCopy creates a complete copy of the Upstream, including pointer fields.
func (u Upstream) DeepCopy() Upstream {
	cp := u
	if u.HTTPCode != nil {
		val := *u.HTTPCode
		cp.HTTPCode = &val
	}
	if u.ResponseTimeMs != nil {
		val := *u.ResponseTimeMs
		cp.ResponseTimeMs = &val
	}
	if u.LastChecked != nil {
		val := *u.LastChecked
		cp.LastChecked = &val
	}
	if u.LastStateChange != nil {
		val := *u.LastStateChange
		cp.LastStateChange = &val
	}
	if u.Error != nil {
		val := *u.Error
		cp.Error = &val
	}
	return cp
}
