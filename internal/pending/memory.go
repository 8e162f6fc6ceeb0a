package pending

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultTTL bounds how long an unanswered question is kept.
	DefaultTTL = 24 * time.Hour
	// DefaultCapacity caps stored questions; least recently used go first.
	DefaultCapacity = 10000
	cleanupTick     = 30 * time.Second
)

type entry struct {
	q          Question
	lastAccess time.Time
	listElem   *list.Element
}

// MemoryStore is an in-process Store with TTL expiry and LRU eviction.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List
	ttl      time.Duration
	capacity int
	now      func() time.Time
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a store and starts its cleanup goroutine. The caller
// must call Close.
func NewMemoryStore(ttl time.Duration, capacity int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &MemoryStore{
		entries:  make(map[string]*entry),
		lru:      list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() {
	close(s.stopCh)
	<-s.done
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.cleanupExpiredLocked(s.now())
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Put stores q, replacing any previous question of the same chat.
func (s *MemoryStore) Put(_ context.Context, q Question) error {
	if q.ChatID == "" {
		return errors.New("pending: empty chat id")
	}
	now := s.now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[q.ChatID]
	if !ok {
		e = &entry{}
		s.entries[q.ChatID] = e
	}
	e.q = *clone(q)
	e.lastAccess = now
	s.touchLRU(q.ChatID, e)
	s.evictIfNeededLocked()
	return nil
}

// Get returns a copy of the chat's question if present and not expired.
func (s *MemoryStore) Get(_ context.Context, chatID string) (*Question, bool, error) {
	if chatID == "" {
		return nil, false, nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[chatID]
	if !ok {
		return nil, false, nil
	}
	if now.Sub(e.lastAccess) > s.ttl {
		s.removeLocked(chatID, e)
		return nil, false, nil
	}
	e.lastAccess = now
	s.touchLRU(chatID, e)
	return clone(e.q), true, nil
}

// Delete removes the chat's question.
func (s *MemoryStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[chatID]; ok {
		s.removeLocked(chatID, e)
	}
	return nil
}

// Len returns the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) touchLRU(id string, e *entry) {
	if e.listElem != nil {
		s.lru.MoveToFront(e.listElem)
	} else {
		e.listElem = s.lru.PushFront(id)
	}
}

func (s *MemoryStore) removeLocked(id string, e *entry) {
	if e.listElem != nil {
		s.lru.Remove(e.listElem)
	}
	delete(s.entries, id)
}

func (s *MemoryStore) cleanupExpiredLocked(now time.Time) {
	for id, e := range s.entries {
		if now.Sub(e.lastAccess) > s.ttl {
			s.removeLocked(id, e)
		}
	}
}

func (s *MemoryStore) evictIfNeededLocked() {
	for len(s.entries) > s.capacity {
		back := s.lru.Back()
		if back == nil {
			return
		}
		id := back.Value.(string)
		if e, ok := s.entries[id]; ok {
			s.removeLocked(id, e)
		} else {
			s.lru.Remove(back)
		}
	}
}
