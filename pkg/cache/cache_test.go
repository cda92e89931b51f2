package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

func testCache(t *testing.T, mutate ...func(*config.CacheConfig)) *Cache {
	t.Helper()
	cfg := &config.CacheConfig{
		Dir: t.TempDir(),
		TTL: time.Hour,
	}
	for _, m := range mutate {
		m(cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutGetRoundTrip(t *testing.T) {
	c := testCache(t)

	require.NoError(t, c.Put("analysis", []byte(`{"findings": []}`), PutOptions{}, "code", "tmpl", "python"))

	got, ok := c.Get("analysis", "code", "tmpl", "python")
	require.True(t, ok)
	assert.Equal(t, `{"findings": []}`, string(got))

	// Different identifier parts miss
	_, ok = c.Get("analysis", "other code", "tmpl", "python")
	assert.False(t, ok)

	// Same key under a different type misses
	_, ok = c.Get("report", "code", "tmpl", "python")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 2, s.Misses)
}

func TestDependencyChangeInvalidatesGet(t *testing.T) {
	c := testCache(t)
	dep := writeTemp(t, "app.py", "original content")

	require.NoError(t, c.Put("analysis", []byte("result"), PutOptions{FileDeps: []string{dep}}, "k"))

	_, ok := c.Get("analysis", "k")
	require.True(t, ok)

	// Rewrite the dependency: the stored hash no longer matches
	require.NoError(t, os.WriteFile(dep, []byte("edited content"), 0o644))
	_, ok = c.Get("analysis", "k")
	assert.False(t, ok)

	// The stale entry was dropped, not retried
	assert.Zero(t, c.Stats().Entries)
}

func TestMissingDependencyInvalidatesGet(t *testing.T) {
	c := testCache(t)
	dep := writeTemp(t, "app.py", "content")

	require.NoError(t, c.Put("analysis", []byte("result"), PutOptions{FileDeps: []string{dep}}, "k"))
	require.NoError(t, os.Remove(dep))

	_, ok := c.Get("analysis", "k")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := testCache(t)

	require.NoError(t, c.Put("analysis", []byte("result"), PutOptions{TTL: 30 * time.Millisecond}, "k"))
	_, ok := c.Get("analysis", "k")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("analysis", "k")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Entries)
}

func TestSizeEviction(t *testing.T) {
	c := testCache(t, func(cfg *config.CacheConfig) {
		cfg.MaxSizeByte = 1000
	})

	payload := make([]byte, 300)
	require.NoError(t, c.Put("analysis", payload, PutOptions{}, "a"))
	require.NoError(t, c.Put("analysis", payload, PutOptions{}, "b"))
	require.NoError(t, c.Put("analysis", payload, PutOptions{}, "c"))

	// Touch "a" so it is the most recently used
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("analysis", "a")
	require.True(t, ok)

	// Fourth entry pushes the footprint over the 1000-byte cap; eviction
	// reclaims down to 800 by dropping the least recently accessed
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Put("analysis", payload, PutOptions{}, "d"))

	s := c.Stats()
	assert.LessOrEqual(t, s.SizeBytes, int64(800))
	assert.Positive(t, s.Evictions)

	_, ok = c.Get("analysis", "a")
	assert.True(t, ok, "recently used entry survives")
	_, ok = c.Get("analysis", "b")
	assert.False(t, ok, "oldest entry evicted")
}

func TestInvalidate(t *testing.T) {
	c := testCache(t)
	require.NoError(t, c.Put("analysis", []byte("1"), PutOptions{}, "a"))
	require.NoError(t, c.Put("analysis", []byte("2"), PutOptions{}, "b"))
	require.NoError(t, c.Put("report", []byte("3"), PutOptions{}, "c"))

	// By type and key
	assert.Equal(t, 1, c.Invalidate("analysis", "a"))
	// Wrong type does not match
	assert.Zero(t, c.Invalidate("report", "b"))
	// Whole type
	assert.Equal(t, 1, c.Invalidate("analysis"))
	// Everything left
	assert.Equal(t, 1, c.Invalidate(""))
	assert.Zero(t, c.Stats().Entries)
}

func TestInvalidateByFileChanges(t *testing.T) {
	c := testCache(t)
	dep1 := writeTemp(t, "a.py", "aa")
	dep2 := writeTemp(t, "b.py", "bb")

	require.NoError(t, c.Put("analysis", []byte("1"), PutOptions{FileDeps: []string{dep1}}, "a"))
	require.NoError(t, c.Put("analysis", []byte("2"), PutOptions{FileDeps: []string{dep2}}, "b"))
	require.NoError(t, c.Put("analysis", []byte("3"), PutOptions{}, "c"))

	assert.Equal(t, 1, c.InvalidateByFileChanges([]string{dep1}))

	_, ok := c.Get("analysis", "b")
	assert.True(t, ok)
	_, ok = c.Get("analysis", "c")
	assert.True(t, ok)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.CacheConfig{Dir: dir, TTL: time.Hour}

	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Put("analysis", []byte("persisted"), PutOptions{}, "k"))
	require.NoError(t, c.Close())

	c2, err := New(cfg)
	require.NoError(t, err)
	defer c2.Close()

	got, ok := c2.Get("analysis", "k")
	require.True(t, ok)
	assert.Equal(t, "persisted", string(got))
}

func TestCorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644))

	c, err := New(&config.CacheConfig{Dir: dir, TTL: time.Hour})
	require.NoError(t, err)
	defer c.Close()
	assert.Zero(t, c.Stats().Entries)
}

func TestDisabledCacheSkipsPut(t *testing.T) {
	c := testCache(t, func(cfg *config.CacheConfig) {
		cfg.Disabled = true
	})

	require.NoError(t, c.Put("analysis", []byte("x"), PutOptions{}, "k"))
	_, ok := c.Get("analysis", "k")
	assert.False(t, ok)
}

func TestKeyDeterministic(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("b", "a"))
	assert.Len(t, Key("x"), 64)
}
