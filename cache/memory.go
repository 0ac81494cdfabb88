package cache

import (
	"context"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
)

// entry is a single cached value with its expiry and model association.
type entry struct {
	value    interface{}
	expireAt time.Time // zero means no expiry
	model    string
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// Memory is an in-process LRU cache with per-key TTL, sized by maxSize,
// supporting glob-style pattern and model-scoped invalidation. Built on a
// plain map plus an LRU access-order slice, both guarded by one mutex,
// holding arbitrary values with TTL and pattern semantics.
type Memory struct {
	mu          sync.Mutex
	entries     map[string]*entry
	accessOrder []string
	// posIndex maps a key's xxhash fingerprint to its accessOrder slice
	// index, avoiding an O(n) scan of accessOrder on every touch/remove.
	posIndex    map[uint64]int
	maxSize     int

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64

	closed bool
}

// NewMemory creates an in-process cache holding at most maxSize entries
// (0 or negative means unbounded).
func NewMemory(maxSize int) *Memory {
	return &Memory{
		entries:  make(map[string]*entry),
		posIndex: make(map[uint64]int),
		maxSize:  maxSize,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		m.misses.Add(1)
		if ok {
			m.removeLocked(key)
		}
		return nil, ErrNotFound
	}

	m.hits.Add(1)
	m.touchLocked(key)
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.SetForModel(ctx, key, value, ttl, "")
}

// SetForModel is like Set but also records the model this key belongs to,
// enabling InvalidateModel to find it later.
func (m *Memory) SetForModel(ctx context.Context, key string, value interface{}, ttl time.Duration, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}

	if _, exists := m.entries[key]; !exists && m.maxSize > 0 && len(m.accessOrder) >= m.maxSize {
		m.evictLRULocked()
	}

	m.entries[key] = &entry{value: value, expireAt: expireAt, model: model}
	m.touchLocked(key)
	m.sets.Add(1)

	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.removeLocked(key)
	m.deletes.Add(1)
	return nil
}

func (m *Memory) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	count := 0
	for key := range m.entries {
		if matchGlob(pattern, key) {
			m.removeLocked(key)
			count++
		}
	}
	m.deletes.Add(int64(count))
	return count, nil
}

func (m *Memory) InvalidateModel(ctx context.Context, model string) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}

	direct := 0
	for key, e := range m.entries {
		if e.model == model {
			m.removeLocked(key)
			direct++
		}
	}
	m.deletes.Add(int64(direct))
	m.mu.Unlock()

	count := direct
	for _, pattern := range ModelPatterns(model) {
		n, _ := m.InvalidatePattern(ctx, pattern)
		count += n
	}
	return count, nil
}

func (m *Memory) GetStats() Stats {
	m.mu.Lock()
	size := int64(len(m.entries))
	m.mu.Unlock()

	return Stats{
		Backend: "memory",
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Sets:    m.sets.Load(),
		Deletes: m.deletes.Load(),
		Size:    size,
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	m.accessOrder = nil
	m.posIndex = nil
	return nil
}

// findPos locates key's current index in accessOrder. It first tries the
// fingerprint index (O(1)); a miss or a hash collision falls back to a
// linear scan, which also repairs the index.
func (m *Memory) findPos(key string) int {
	if idx, ok := m.posIndex[fingerprint(key)]; ok && idx >= 0 && idx < len(m.accessOrder) && m.accessOrder[idx] == key {
		return idx
	}
	for i, k := range m.accessOrder {
		if k == key {
			m.posIndex[fingerprint(key)] = i
			return i
		}
	}
	return -1
}

func (m *Memory) removeLocked(key string) {
	delete(m.entries, key)
	if i := m.findPos(key); i >= 0 {
		m.accessOrder = append(m.accessOrder[:i], m.accessOrder[i+1:]...)
		delete(m.posIndex, fingerprint(key))
		m.reindexFrom(i)
	}
}

func (m *Memory) touchLocked(key string) {
	if i := m.findPos(key); i >= 0 {
		m.accessOrder = append(m.accessOrder[:i], m.accessOrder[i+1:]...)
		m.reindexFrom(i)
	}
	m.accessOrder = append(m.accessOrder, key)
	m.posIndex[fingerprint(key)] = len(m.accessOrder) - 1
}

func (m *Memory) evictLRULocked() {
	if len(m.accessOrder) == 0 {
		return
	}
	lru := m.accessOrder[0]
	delete(m.entries, lru)
	delete(m.posIndex, fingerprint(lru))
	m.accessOrder = m.accessOrder[1:]
	m.reindexFrom(0)
}

// reindexFrom refreshes posIndex entries for accessOrder[from:] after a
// splice shifted every later element left by one.
func (m *Memory) reindexFrom(from int) {
	for i := from; i < len(m.accessOrder); i++ {
		m.posIndex[fingerprint(m.accessOrder[i])] = i
	}
}

// matchGlob supports '*' wildcards anywhere in pattern via path.Match
// semantics extended to match across ':' separators used by model keys.
func matchGlob(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	if err == nil && ok {
		return true
	}
	// path.Match treats '/' specially; our keys are ':'-delimited, so fall
	// back to a simple prefix/suffix check for the common "<model>:*" shape.
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// fingerprint hashes a cache key into a stable uint64 used to index
// accessOrder, turning touch/remove from an O(n) scan into an O(1) lookup
// for the common case.
func fingerprint(s string) uint64 {
	return xxhash.Sum64String(s)
}
