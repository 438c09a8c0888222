// Package cache holds the in-process listing cache used when Redis is disabled.
package cache

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultSize = 4096
	defaultTTL  = 24 * time.Hour
)

type entry struct {
	value    []string
	storedAt time.Time
}

// Memory is a size-bounded LRU of string lists with a fixed time to live.
// Expired entries read as misses and stay until overwritten or evicted.
type Memory struct {
	lru *lru.Cache[string, entry]
	ttl time.Duration
	now func() time.Time
}

// NewMemory creates a Memory cache. Non-positive size or ttl fall back to defaults.
func NewMemory(size int, ttl time.Duration) (*Memory, error) {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	return &Memory{lru: c, ttl: ttl, now: time.Now}, nil
}

// Get returns a copy of the cached list.
func (m *Memory) Get(_ context.Context, key string) ([]string, bool) {
	e, ok := m.lru.Peek(key)
	if !ok || m.now().Sub(e.storedAt) >= m.ttl {
		return nil, false
	}
	m.lru.Get(key) // recency
	return slices.Clone(e.value), true
}

// Set stores a copy of value, replacing any previous entry.
func (m *Memory) Set(_ context.Context, key string, value []string) {
	if value == nil {
		value = []string{}
	}
	m.lru.Add(key, entry{value: slices.Clone(value), storedAt: m.now()})
}

// Len reports the number of entries, expired ones included.
func (m *Memory) Len() int { return m.lru.Len() }
