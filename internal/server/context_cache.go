package server

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// contextCacheSize bounds distinct (module, tab, scope) combinations held
// at once.
const contextCacheSize = 256

// contextCache memoises module ContextData results. Resource listings
// shell out to external CLIs, so a short TTL keeps tab polling cheap
// while bounding staleness.
type contextCache struct {
	lru *expirable.LRU[string, map[string]any]
}

func newContextCache(ttl time.Duration) *contextCache {
	return &contextCache{
		lru: expirable.NewLRU[string, map[string]any](contextCacheSize, nil, ttl),
	}
}

// get returns the cached context for key, or computes and stores it.
func (c *contextCache) get(key string, compute func() map[string]any) map[string]any {
	if data, ok := c.lru.Get(key); ok {
		return data
	}
	data := compute()
	c.lru.Add(key, data)
	return data
}

// invalidate drops every cached entry for a module, used after mutating
// actions so the next poll reflects them.
func (c *contextCache) invalidate(moduleID string) {
	prefix := moduleID + "|"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}
