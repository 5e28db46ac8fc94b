// Package kv formalizes the "duck-typed cache" capability flagged in
// SPEC_FULL.md §9: a small KV port with TTL-based get/set/del, an atomic
// counter-with-window primitive for rate limiting, and prefix invalidation.
// The in-process implementation is a mutex-guarded map; a primary/fallback
// composition lets a distributed backend degrade gracefully to it.
package kv

import (
	"strings"
	"sync"
	"time"
)

// WindowResult is the outcome of an IncrWindow call.
type WindowResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// KV is the capability port every rate-limited or ticket-backed component
// depends on, never a concrete map or client.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Del(key string)
	// IncrWindow increments a fixed-window counter for key, returning whether
	// the increment is within limit for the current window.
	IncrWindow(key string, limit int, window time.Duration) WindowResult
	// DelPrefix removes every key with the given prefix (pattern invalidation).
	DelPrefix(prefix string)
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type windowCounter struct {
	count      int
	windowEnds time.Time
}

// InProcess is a mutex-guarded in-memory KV, used as the single-instance
// fallback (and, in tests, the sole implementation) behind the KV port.
// It caps the number of tracked ticket-like keys to avoid unbounded growth
// (SPEC_FULL.md §4.1: fallback map capped at 10,000 entries, LRU-by-insertion).
type InProcess struct {
	mu       sync.Mutex
	data     map[string]entry
	windows  map[string]windowCounter
	order    []string // insertion order, for LRU-by-insertion eviction
	capacity int
}

// NewInProcess creates an in-process KV with the given entry capacity. A
// capacity <= 0 means unbounded.
func NewInProcess(capacity int) *InProcess {
	return &InProcess{
		data:     make(map[string]entry),
		windows:  make(map[string]windowCounter),
		capacity: capacity,
	}
}

func (m *InProcess) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.data, key)
		return nil, false
	}
	return e.value, true
}

func (m *InProcess) Set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if _, exists := m.data[key]; !exists {
		m.order = append(m.order, key)
	}
	m.data[key] = entry{value: value, expiresAt: expiresAt}
	m.evictIfNeeded()
}

func (m *InProcess) Del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *InProcess) IncrWindow(key string, limit int, window time.Duration) WindowResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	wc, ok := m.windows[key]
	if !ok || now.After(wc.windowEnds) {
		wc = windowCounter{count: 0, windowEnds: now.Add(window)}
	}
	wc.count++
	m.windows[key] = wc

	remaining := limit - wc.count
	if remaining < 0 {
		remaining = 0
	}
	return WindowResult{
		Allowed:   wc.count <= limit,
		Remaining: remaining,
		ResetAt:   wc.windowEnds,
	}
}

func (m *InProcess) DelPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
}

// evictIfNeeded drops the oldest-inserted entries once capacity is exceeded.
// Must be called with m.mu held.
func (m *InProcess) evictIfNeeded() {
	if m.capacity <= 0 {
		return
	}
	for len(m.data) > m.capacity && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.data, oldest)
	}
}

// Fallback decorates a primary KV with a secondary KV used whenever the
// primary is unavailable. Primary is expected to perform its own health
// checking; Fallback does not retry, it composes two already-concrete KVs
// (e.g. a distributed cache in front of the in-process map).
type Fallback struct {
	Primary  KV
	Fallback KV
}

func (f Fallback) Get(key string) ([]byte, bool) {
	if v, ok := f.Primary.Get(key); ok {
		return v, true
	}
	return f.Fallback.Get(key)
}

func (f Fallback) Set(key string, value []byte, ttl time.Duration) {
	f.Primary.Set(key, value, ttl)
	f.Fallback.Set(key, value, ttl)
}

func (f Fallback) Del(key string) {
	f.Primary.Del(key)
	f.Fallback.Del(key)
}

func (f Fallback) IncrWindow(key string, limit int, window time.Duration) WindowResult {
	return f.Primary.IncrWindow(key, limit, window)
}

func (f Fallback) DelPrefix(prefix string) {
	f.Primary.DelPrefix(prefix)
	f.Fallback.DelPrefix(prefix)
}
