// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache implements the LRU cache used by the direct-read engine's
// URL cache.
package cache

// This is grounded on https://github.com/golang/build/blob/master/internal/lru/cache.go,
// extended with Peek{Oldest,Newest}, Remove and an eviction notifier.
// directread's URL cache uses Add, Get and Remove; the Peek methods and the
// notifier are exercised by this package's tests.

import (
	"container/list"
	"sync"
)

// EvictionNotifier is implemented by cache values that want to be told when
// they are evicted by capacity pressure in Add. Remove and RemoveOldest do
// not notify.
type EvictionNotifier interface {
	OnEviction(key interface{})
}

// LRU is a least-recently used cache, safe for concurrent access.
type LRU struct {
	maxEntries int

	mu    sync.Mutex
	ll    *list.List
	cache map[interface{}]*list.Element
}

// *entry is the type stored in each *list.Element.
type entry struct {
	key, value interface{}
}

// NewLRU returns a new cache with the provided maximum items.
func NewLRU(maxEntries int) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		ll:         list.New(),
		cache:      make(map[interface{}]*list.Element),
	}
}

// NewLRUCache is a legacy alias for NewLRU.
func NewLRUCache(maxEntries int) *LRU { return NewLRU(maxEntries) }

// Add adds the provided key and value to the cache, evicting
// an old item if necessary. The evicted item's OnEviction is called, if it
// implements EvictionNotifier, but only when eviction happens due to
// capacity pressure, not on Add of a duplicate key.
func (c *LRU) Add(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ee, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ee)
		ee.Value.(*entry).value = value
		return
	}

	ele := c.ll.PushFront(&entry{key, value})
	c.cache[key] = ele

	if c.maxEntries != 0 && c.ll.Len() > c.maxEntries {
		k, v := c.removeOldest()
		if n, ok := v.(EvictionNotifier); ok {
			n.OnEviction(k)
		}
	}
}

// Get fetches the key's value from the cache.
// The ok result will be true if the item was found.
func (c *LRU) Get(key interface{}) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.cache[key]; hit {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry).value, true
	}
	return
}

// PeekOldest returns the least recently used key and value without
// promoting it, or nil, nil if the cache is empty.
func (c *LRU) PeekOldest() (key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele := c.ll.Back()
	if ele == nil {
		return nil, nil
	}
	ent := ele.Value.(*entry)
	return ent.key, ent.value
}

// PeekNewest returns the most recently used key and value without
// promoting it, or nil, nil if the cache is empty.
func (c *LRU) PeekNewest() (key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele := c.ll.Front()
	if ele == nil {
		return nil, nil
	}
	ent := ele.Value.(*entry)
	return ent.key, ent.value
}

// RemoveOldest removes the oldest item in the cache and returns its key and
// value. It does not call OnEviction; callers that want notification for
// this path should inspect the returned value themselves. If the cache is
// empty, both return values are nil.
func (c *LRU) RemoveOldest() (key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeOldest()
}

// note: must hold c.mu
func (c *LRU) removeOldest() (key, value interface{}) {
	ele := c.ll.Back()
	if ele == nil {
		return nil, nil
	}
	c.ll.Remove(ele)
	ent := ele.Value.(*entry)
	delete(c.cache, ent.key)
	return ent.key, ent.value
}

// Remove deletes key from the cache and returns its value, or nil if
// absent. It does not call OnEviction.
func (c *LRU) Remove(key interface{}) (value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.cache[key]
	if !ok {
		return nil
	}
	c.ll.Remove(ele)
	ent := ele.Value.(*entry)
	delete(c.cache, ent.key)
	return ent.value
}

// Len returns the number of items in the cache.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
