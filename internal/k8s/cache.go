package k8s

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ppiankov/podspectre/internal/models"
)

const defaultEventCacheSize = 10000

// EventCache holds formatted pod events for a short TTL.
// A nil or disabled cache never hits.
type EventCache struct {
	lru *expirable.LRU[models.PodIdentity, []string]
}

// NewEventCache creates a cache with the given TTL. A non-positive TTL disables caching.
func NewEventCache(ttl time.Duration) *EventCache {
	if ttl <= 0 {
		return &EventCache{}
	}
	return &EventCache{lru: expirable.NewLRU[models.PodIdentity, []string](defaultEventCacheSize, nil, ttl)}
}

// Get returns the cached events for id
func (c *EventCache) Get(id models.PodIdentity) ([]string, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	return c.lru.Get(id)
}

// Set stores events for id
func (c *EventCache) Set(id models.PodIdentity, events []string) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(id, events)
}

// Len returns the number of live entries
func (c *EventCache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry
func (c *EventCache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Purge()
}
