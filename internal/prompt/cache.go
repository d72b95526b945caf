package prompt

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries is the cache capacity used when none is configured.
const DefaultMaxEntries = 64

// Cache maps a source path to the most recently loaded Prompt, keyed off
// the content hash of the file bytes. Inserting beyond capacity evicts the
// entry with the oldest cached_at first.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*list.Element
	order      *list.List // front = newest cachedAt, back = oldest
	maxEntries int
}

type cacheEntry struct {
	path     string
	prompt   *Prompt
	hash     string
	cachedAt time.Time
}

// NewCache creates a prompt cache holding at most maxEntries prompts.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the cached prompt for path if the stored content hash equals
// hash. Callers compute hash from the live file bytes, so a hit is always
// consistent with what is on disk.
func (c *Cache) Get(path, hash string) (*Prompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, exists := c.items[path]
	if !exists {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.hash != hash {
		return nil, false
	}

	// Callers get a copy; the cached Prompt is shared.
	p := *entry.prompt
	return &p, true
}

// Put stores prompt under path, replacing any existing entry.
func (c *Cache) Put(path string, prompt *Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[path]; exists {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.prompt = prompt
		entry.hash = prompt.ContentHash
		entry.cachedAt = time.Now()
		return
	}

	entry := &cacheEntry{
		path:     path,
		prompt:   prompt,
		hash:     prompt.ContentHash,
		cachedAt: time.Now(),
	}
	elem := c.order.PushFront(entry)
	c.items[path] = elem

	if c.order.Len() > c.maxEntries {
		c.evictOldest()
	}
}

// Invalidate drops the entry for path, if any.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[path]; exists {
		c.removeElement(elem)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// Size returns the number of cached prompts.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// evictOldest removes the entry with the oldest cachedAt.
func (c *Cache) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.path)
}
