package prompt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedPrompt(name string) *Prompt {
	return &Prompt{
		SourcePath:  name,
		Content:     "content of " + name,
		ContentHash: hashBytes([]byte(name)),
		Metadata:    DefaultMetadata(),
	}
}

func TestCache_GetRequiresMatchingHash(t *testing.T) {
	cache := NewCache(8)
	p := cachedPrompt("a.md")
	cache.Put(p.SourcePath, p)

	got, ok := cache.Get("a.md", p.ContentHash)
	require.True(t, ok)
	assert.Equal(t, p.Content, got.Content)

	_, ok = cache.Get("a.md", "different-hash")
	assert.False(t, ok, "stale hash must miss")

	_, ok = cache.Get("unknown.md", p.ContentHash)
	assert.False(t, ok)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	cache := NewCache(8)
	p := cachedPrompt("a.md")
	cache.Put(p.SourcePath, p)

	got, ok := cache.Get("a.md", p.ContentHash)
	require.True(t, ok)

	got.Content = "mutated"

	again, ok := cache.Get("a.md", p.ContentHash)
	require.True(t, ok)
	assert.Equal(t, "content of a.md", again.Content)
}

func TestCache_EvictsOldestFirst(t *testing.T) {
	cache := NewCache(2)

	p1 := cachedPrompt("p1.md")
	p2 := cachedPrompt("p2.md")
	p3 := cachedPrompt("p3.md")

	cache.Put(p1.SourcePath, p1)
	cache.Put(p2.SourcePath, p2)
	cache.Put(p3.SourcePath, p3)

	assert.Equal(t, 2, cache.Size())

	_, ok := cache.Get("p1.md", p1.ContentHash)
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = cache.Get("p2.md", p2.ContentHash)
	assert.True(t, ok)
	_, ok = cache.Get("p3.md", p3.ContentHash)
	assert.True(t, ok)
}

func TestCache_ReplacementRefreshesAge(t *testing.T) {
	cache := NewCache(2)

	p1 := cachedPrompt("p1.md")
	p2 := cachedPrompt("p2.md")
	cache.Put(p1.SourcePath, p1)
	cache.Put(p2.SourcePath, p2)

	// Re-inserting p1 makes p2 the oldest entry.
	updated := cachedPrompt("p1.md")
	updated.Content = "updated"
	cache.Put(updated.SourcePath, updated)

	p3 := cachedPrompt("p3.md")
	cache.Put(p3.SourcePath, p3)

	_, ok := cache.Get("p2.md", p2.ContentHash)
	assert.False(t, ok, "p2 should have been evicted")

	got, ok := cache.Get("p1.md", updated.ContentHash)
	require.True(t, ok)
	assert.Equal(t, "updated", got.Content)
}

func TestCache_Invalidate(t *testing.T) {
	cache := NewCache(8)
	p := cachedPrompt("a.md")
	cache.Put(p.SourcePath, p)

	cache.Invalidate("a.md")

	_, ok := cache.Get("a.md", p.ContentHash)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Size())

	// Invalidating an absent path is a no-op.
	cache.Invalidate("a.md")
}

func TestCache_Clear(t *testing.T) {
	cache := NewCache(8)
	for i := 0; i < 5; i++ {
		p := cachedPrompt(fmt.Sprintf("p%d.md", i))
		cache.Put(p.SourcePath, p)
	}
	require.Equal(t, 5, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(16)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				p := cachedPrompt(fmt.Sprintf("p%d.md", i%20))
				cache.Put(p.SourcePath, p)
				cache.Get(p.SourcePath, p.ContentHash)
				if i%10 == 0 {
					cache.Invalidate(p.SourcePath)
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.LessOrEqual(t, cache.Size(), 16)
}
