package syncutil

import "sync"

// InFlight is a set of keys currently being processed.
type InFlight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{keys: make(map[string]struct{})}
}

// TryClaim marks key as in flight. It returns false if key was already marked.
func (f *InFlight) TryClaim(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

// Release clears key.
func (f *InFlight) Release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

// Contains reports whether key is in flight.
func (f *InFlight) Contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.keys[key]
	return busy
}

// Len returns the number of keys in flight.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
