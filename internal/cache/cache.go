// Package cache provides a bounded FIFO response cache keyed by a fingerprint
// of the normalized question text.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Answer is a cached response. Degraded marks fallback answers produced while
// the upstream model was unavailable; those are never stored.
type Answer struct {
	Text     string
	Degraded bool
}

type entry struct {
	key    string
	answer Answer
}

// ResponseCache evicts the oldest-inserted entry once capacity is reached.
type ResponseCache struct {
	mu       sync.Mutex
	order    *list.List // front = oldest
	index    map[string]*list.Element
	capacity int
}

// New creates a cache holding at most capacity entries.
func New(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
		capacity: capacity,
	}
}

// Fingerprint returns the cache key for text: a SHA-256 over the lowercased,
// trimmed text with whitespace runs collapsed.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the answer stored under fp.
func (c *ResponseCache) Get(fp string) (Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[fp]
	if !ok {
		return Answer{}, false
	}
	return el.Value.(*entry).answer, true
}

// Put stores answer under fp and reports whether it was stored. Degraded
// answers are rejected. Replacing an existing key keeps its insertion slot.
func (c *ResponseCache) Put(fp string, answer Answer) bool {
	if answer.Degraded {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[fp]; ok {
		el.Value.(*entry).answer = answer
		return true
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).key)
	}
	c.index[fp] = c.order.PushBack(&entry{key: fp, answer: answer})
	return true
}

// Invalidate removes fp. Returns true if an entry was removed.
func (c *ResponseCache) Invalidate(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[fp]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, fp)
	return true
}

// PurgeDegraded removes every entry whose answer is flagged degraded or
// matches match (which may be nil). Returns the number of entries removed.
func (c *ResponseCache) PurgeDegraded(match func(Answer) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if e.answer.Degraded || (match != nil && match(e.answer)) {
			c.order.Remove(el)
			delete(c.index, e.key)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *ResponseCache) Capacity() int {
	return c.capacity
}
