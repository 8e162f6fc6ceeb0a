package compat

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxModels = 64
	DefaultTTL       = 6 * time.Hour
)

// Cache holds one Record per lower-cased model id. It is owned by whoever
// builds the engine and passed to the negotiators that share it.
type Cache struct {
	mu        sync.Mutex
	records   map[string]Record
	lastWrite time.Time
	maxModels int
	ttl       time.Duration
	enabled   bool
	now       func() time.Time
	logger    *slog.Logger
}

// NewCache creates an enabled cache. Non-positive limits use the defaults.
func NewCache(maxModels int, ttl time.Duration, logger *slog.Logger) *Cache {
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		records:   map[string]Record{},
		maxModels: maxModels,
		ttl:       ttl,
		enabled:   true,
		now:       time.Now,
		logger:    logger,
	}
}

func modelKey(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// Get returns a copy of the record for model. Unknown models get an empty record.
func (c *Cache) Get(model string) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if !c.enabled {
		return Record{}
	}
	return c.records[modelKey(model)].Clone()
}

// Put stores rec for model. A new model beyond the capacity cap resets the
// whole cache first.
func (c *Cache) Put(model string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.touchLocked()
	key := modelKey(model)
	if _, ok := c.records[key]; !ok && len(c.records) >= c.maxModels {
		c.resetLocked("capacity exceeded")
	}
	c.records[key] = rec.Clone()
	c.lastWrite = c.now()
}

// Reset drops every record.
func (c *Cache) Reset(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(reason)
}

// Touch expires all records when the last write is older than the TTL.
func (c *Cache) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
}

// SetEnabled turns caching on or off. Disabling resets the cache.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.resetLocked("caching disabled")
	}
}

// SetLimits applies a new model cap and TTL. Changed limits reset the cache.
func (c *Cache) SetLimits(maxModels int, ttl time.Duration) {
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxModels == c.maxModels && ttl == c.ttl {
		return
	}
	c.maxModels = maxModels
	c.ttl = ttl
	c.resetLocked("limits changed")
}

// Len returns the number of tracked models.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	return len(c.records)
}

func (c *Cache) touchLocked() {
	if len(c.records) == 0 || c.lastWrite.IsZero() {
		return
	}
	if c.now().Sub(c.lastWrite) > c.ttl {
		c.resetLocked("ttl expired")
	}
}

func (c *Cache) resetLocked(reason string) {
	n := len(c.records)
	c.records = map[string]Record{}
	c.lastWrite = time.Time{}
	c.logger.Info("compat.reset", "reason", reason, "models", n)
}
