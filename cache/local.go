package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Local is the bounded in-process tier. Eviction is strict insertion order:
// once capacity is reached the oldest-inserted entry goes first, regardless
// of how recently it was read. This is intentionally not an LRU: reads must
// not change the eviction victim.
type Local struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = oldest inserted

	hits      uint64
	misses    uint64
	evictions uint64
}

type localEntry struct {
	key       string
	value     json.RawMessage
	expiresAt time.Time // zero means no expiry
}

// NewLocal creates a bounded local tier. ttl is the default entry lifetime.
func NewLocal(capacity int, ttl time.Duration) *Local {
	if capacity <= 0 {
		capacity = 1
	}
	return &Local{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the entry for key if present and fresh.
func (l *Local) Get(key string) (json.RawMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[key]
	if !ok {
		l.misses++
		return nil, false
	}
	ent := el.Value.(*localEntry)
	if !ent.expiresAt.IsZero() && !time.Now().Before(ent.expiresAt) {
		l.removeLocked(el)
		l.misses++
		return nil, false
	}
	l.hits++
	return ent.value, true
}

// Set stores value under key with the tier default lifetime, evicting the
// oldest-inserted entry when full. Overwriting an existing key refreshes its
// insertion position.
func (l *Local) Set(key string, value json.RawMessage) {
	l.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value with an entry-specific lifetime. A zero or negative
// ttl falls back to the tier default.
func (l *Local) SetWithTTL(key string, value json.RawMessage, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ttl <= 0 {
		ttl = l.ttl
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if el, ok := l.entries[key]; ok {
		l.removeLocked(el)
	}
	if l.order.Len() >= l.capacity {
		if oldest := l.order.Front(); oldest != nil {
			l.removeLocked(oldest)
			l.evictions++
		}
	}
	el := l.order.PushBack(&localEntry{key: key, value: value, expiresAt: expiresAt})
	l.entries[key] = el
}

// Invalidate removes key if present.
func (l *Local) Invalidate(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[key]; ok {
		l.removeLocked(el)
	}
}

// Clear drops all entries.
func (l *Local) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*list.Element)
	l.order.Init()
}

// Len returns the current entry count.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

func (l *Local) counters() (hits, misses, evictions uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits, l.misses, l.evictions
}

func (l *Local) removeLocked(el *list.Element) {
	ent := el.Value.(*localEntry)
	l.order.Remove(el)
	delete(l.entries, ent.key)
}
