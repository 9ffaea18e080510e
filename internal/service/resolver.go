package service

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JonMunkholm/amrglass/internal/core"
)

// CachedResolver memoizes vocabulary lookups. Lab exports repeat the same
// few organism and antibiotic spellings on every row, so the substring scan
// runs once per distinct text.
type CachedResolver struct {
	next        core.Resolver
	organisms   *lru.Cache[string, core.Resolution]
	antibiotics *lru.Cache[string, core.Resolution]
}

// NewCachedResolver wraps next with two LRU caches of size entries each.
func NewCachedResolver(next core.Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = 4096
	}
	orgs, err := lru.New[string, core.Resolution](size)
	if err != nil {
		return nil, err
	}
	abx, err := lru.New[string, core.Resolution](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{next: next, organisms: orgs, antibiotics: abx}, nil
}

// ResolveOrganism implements core.Resolver.
func (c *CachedResolver) ResolveOrganism(text string) core.Resolution {
	if r, ok := c.organisms.Get(text); ok {
		return r
	}
	r := c.next.ResolveOrganism(text)
	c.organisms.Add(text, r)
	return r
}

// ResolveAntibiotic implements core.Resolver.
func (c *CachedResolver) ResolveAntibiotic(text string) core.Resolution {
	if r, ok := c.antibiotics.Get(text); ok {
		return r
	}
	r := c.next.ResolveAntibiotic(text)
	c.antibiotics.Add(text, r)
	return r
}

// Len returns the number of cached organism and antibiotic entries.
func (c *CachedResolver) Len() (organisms, antibiotics int) {
	return c.organisms.Len(), c.antibiotics.Len()
}
