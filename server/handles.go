package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/vmkernel/image"
)

// handle is a server-side reference to an assembled program.
type handle struct {
	id       string
	img      *image.Image
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string IDs to assembled programs, so a client
// can assemble once and run many times.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	nextID  atomic.Uint64
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{
		handles: make(map[string]*handle),
	}
}

// Create registers a program and returns an opaque handle ID.
func (s *HandleStore) Create(img *image.Image) string {
	id := fmt.Sprintf("p-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:       id,
		img:      img,
		created:  now,
		lastUsed: now,
	}
	return id
}

// Lookup retrieves the program for a handle.
func (s *HandleStore) Lookup(id string) (*image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	h.lastUsed = time.Now()
	return h.img, true
}

// Release removes a handle.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.handles[id]
	delete(s.handles, id)
	return ok
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
