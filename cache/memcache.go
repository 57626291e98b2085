package cache

import (
	"container/list"
	"sync"
)

// MemCache is a map with a recency list.
type MemCache struct {
	mutex    sync.Mutex
	capacity int
	db       map[string]*list.Element
	lru      *list.List // of Entry, front is most recent
	closed   bool
}

// NewMemCache returns an empty cache holding up to capacity entries. A capacity below
// one means DefaultCapacity.
func NewMemCache(capacity int) *MemCache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &MemCache{
		capacity: capacity,
		db:       make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (m *MemCache) Get(key string) (Entry, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return Entry{}, false, ErrClosed
	}
	el, ok := m.db[key]
	if !ok {
		return Entry{}, false, nil
	}
	m.lru.MoveToFront(el)
	return el.Value.(Entry), true, nil
}

func (m *MemCache) Put(entry Entry) ([]Entry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if el, ok := m.db[entry.Key]; ok {
		el.Value = entry
		m.lru.MoveToFront(el)
		return nil, nil
	}
	var evicted []Entry
	for m.lru.Len() >= m.capacity {
		oldest := m.lru.Back()
		e := m.lru.Remove(oldest).(Entry)
		delete(m.db, e.Key)
		evicted = append(evicted, e)
	}
	m.db[entry.Key] = m.lru.PushFront(entry)
	return evicted, nil
}

func (m *MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if el, ok := m.db[key]; ok {
		m.lru.Remove(el)
		delete(m.db, key)
	}
	return nil
}

func (m *MemCache) PurgeAll() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db = make(map[string]*list.Element)
	m.lru.Init()
	return nil
}

func (m *MemCache) Entries() ([]Entry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries := make([]Entry, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(Entry))
	}
	return entries, nil
}

func (m *MemCache) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lru.Len()
}

func (m *MemCache) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	m.db = nil
	m.lru.Init()
	return nil
}
