// Package cache holds the TTL key/value stores used for the graph view.
package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache. Expired entries are invisible to Get
// and swept once a minute until Close is called.
type Memory struct {
	items    map[string]memoryItem
	maxItems int
	ttl      time.Duration
	mu       sync.RWMutex
	stopCh   chan struct{}
	once     sync.Once
	now      func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates a cache holding at most maxItems entries; ttl is used
// when Set is called with a zero TTL.
func NewMemory(maxItems int, defaultTTL time.Duration) *Memory {
	if maxItems <= 0 {
		maxItems = 128
	}
	c := &Memory{
		items:    make(map[string]memoryItem),
		maxItems: maxItems,
		ttl:      defaultTTL,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go c.cleanup()
	return c
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || c.now().After(item.expiresAt) {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = memoryItem{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Invalidate drops a key. Missing keys are not an error.
func (c *Memory) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background sweeper.
func (c *Memory) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Memory) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestTime.IsZero() || item.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *Memory) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCh:
			return
		}
	}
}
