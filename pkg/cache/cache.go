// Package cache is a content-addressed, TTL-bounded store of prior LLM
// analysis results. It keeps an in-memory index over file-per-entry disk
// payloads and invalidates entries whose file dependencies changed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

const (
	indexFile  = "cache_index.json"
	hashesFile = "file_hashes.json"

	// Eviction reclaims down to this fraction of the size cap.
	evictTargetRatio = 0.8
)

// Key derives the content-addressed cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is the index record for one cached payload. The payload itself
// lives on disk and is loaded on demand.
type Entry struct {
	Key              string            `json:"key"`
	Type             string            `json:"type"`
	CreatedAt        time.Time         `json:"created_at"`
	LastAccessed     time.Time         `json:"last_accessed"`
	ExpiresAt        time.Time         `json:"expires_at"`
	FileDependencies []string          `json:"file_dependencies,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Size             int64             `json:"size"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is the two-tier store. All methods are safe for concurrent use.
type Cache struct {
	cfg *config.CacheConfig
	dir string
	log *slog.Logger

	mu        sync.Mutex
	index     map[string]*Entry
	fileHash  map[string]string
	size      int64
	hits      int64
	misses    int64
	evictions int64

	watcher *watcher
}

// New opens (or creates) the cache directory and loads the index.
// Corrupt index or hash files are discarded, not fatal.
func New(cfg *config.CacheConfig) (*Cache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &Cache{
		cfg:      cfg,
		dir:      cfg.Dir,
		log:      slog.With("component", "cache"),
		index:    make(map[string]*Entry),
		fileHash: make(map[string]string),
	}
	c.loadIndex()
	c.loadFileHashes()

	if cfg.WatchFiles {
		w, err := newWatcher(c)
		if err != nil {
			c.log.Warn("File watcher unavailable", "error", err)
		} else {
			c.watcher = w
		}
	}

	c.log.Info("Cache opened",
		"dir", c.dir,
		"entries", len(c.index),
		"size", humanize.Bytes(uint64(c.size)))
	return c, nil
}

// Get returns the payload for (type, identifier parts) when the entry is
// unexpired and every dependency file's hash still matches.
func (c *Cache) Get(typ string, identifier ...string) ([]byte, bool) {
	key := Key(identifier...)

	c.mu.Lock()
	entry, ok := c.index[key]
	if !ok || entry.Type != typ {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.misses++
		c.removeLocked(key)
		c.mu.Unlock()
		return nil, false
	}
	deps := append([]string(nil), entry.FileDependencies...)
	wantHashes := make(map[string]string, len(deps))
	for _, dep := range deps {
		wantHashes[dep] = c.fileHash[dep]
	}
	c.mu.Unlock()

	// Dependency validation reads file contents; do it outside the lock.
	for _, dep := range deps {
		current, err := hashFile(dep)
		if err != nil || current != wantHashes[dep] {
			c.mu.Lock()
			c.misses++
			c.removeLocked(key)
			c.mu.Unlock()
			return nil, false
		}
	}

	payload, err := os.ReadFile(c.payloadPath(key))
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.removeLocked(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	if e, ok := c.index[key]; ok {
		e.LastAccessed = time.Now()
	}
	c.hits++
	c.mu.Unlock()
	c.saveIndex()
	return payload, true
}

// PutOptions modify one Put.
type PutOptions struct {
	FileDeps []string
	TTL      time.Duration
	Metadata map[string]string
}

// Put writes the payload to memory and disk. Dependency hashes are
// captured at write time. Write failures fail open: the error is returned
// for logging, and no entry is recorded.
func (c *Cache) Put(typ string, payload []byte, opts PutOptions, identifier ...string) error {
	if c.cfg.Disabled {
		return nil
	}
	key := Key(identifier...)

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	depHashes := make(map[string]string, len(opts.FileDeps))
	for _, dep := range opts.FileDeps {
		h, err := hashFile(dep)
		if err != nil {
			c.log.Warn("Skipping unhashable dependency", "path", dep, "error", err)
			continue
		}
		depHashes[dep] = h
	}

	path := c.payloadPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("writing cache payload: %w", err)
	}

	now := time.Now()
	deps := make([]string, 0, len(depHashes))
	for dep := range depHashes {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.size -= old.Size
	}
	c.index[key] = &Entry{
		Key:              key,
		Type:             typ,
		CreatedAt:        now,
		LastAccessed:     now,
		ExpiresAt:        now.Add(ttl),
		FileDependencies: deps,
		Metadata:         opts.Metadata,
		Size:             int64(len(payload)),
	}
	c.size += int64(len(payload))
	for dep, h := range depHashes {
		c.fileHash[dep] = h
	}
	c.evictLocked()
	c.mu.Unlock()

	c.saveIndex()
	c.saveFileHashes()

	if c.watcher != nil {
		for dep := range depHashes {
			c.watcher.watch(dep)
		}
	}
	return nil
}

// Invalidate removes entries by type and/or key parts. Empty type matches
// all types; no identifier parts match all entries of the type.
func (c *Cache) Invalidate(typ string, identifier ...string) int {
	c.mu.Lock()
	removed := 0
	if len(identifier) > 0 {
		key := Key(identifier...)
		if e, ok := c.index[key]; ok && (typ == "" || e.Type == typ) {
			c.removeLocked(key)
			removed++
		}
	} else {
		for key, e := range c.index {
			if typ == "" || e.Type == typ {
				c.removeLocked(key)
				removed++
			}
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.saveIndex()
	}
	return removed
}

// InvalidateByFileChanges removes every entry depending on any of the
// changed paths.
func (c *Cache) InvalidateByFileChanges(changed []string) int {
	set := make(map[string]struct{}, len(changed))
	for _, p := range changed {
		set[p] = struct{}{}
	}

	c.mu.Lock()
	removed := 0
	for key, e := range c.index {
		for _, dep := range e.FileDependencies {
			if _, ok := set[dep]; ok {
				c.removeLocked(key)
				removed++
				break
			}
		}
	}
	for _, p := range changed {
		delete(c.fileHash, p)
	}
	c.mu.Unlock()

	if removed > 0 {
		c.log.Info("Invalidated cache entries for changed files",
			"changed", len(changed),
			"removed", removed)
		c.saveIndex()
		c.saveFileHashes()
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.index),
		SizeBytes: c.size,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close stops the file watcher and flushes the index.
func (c *Cache) Close() error {
	if c.watcher != nil {
		c.watcher.close()
	}
	c.saveIndex()
	c.saveFileHashes()
	return nil
}

// evictLocked enforces the size cap by dropping least-recently-accessed
// entries until the footprint is back at 80% of the cap.
func (c *Cache) evictLocked() {
	if c.cfg.MaxSizeByte <= 0 || c.size <= c.cfg.MaxSizeByte {
		return
	}
	target := int64(float64(c.cfg.MaxSizeByte) * evictTargetRatio)

	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	for _, e := range entries {
		if c.size <= target {
			break
		}
		c.removeLocked(e.Key)
		c.evictions++
	}
	c.log.Info("Cache evicted to size target",
		"size", humanize.Bytes(uint64(c.size)),
		"cap", humanize.Bytes(uint64(c.cfg.MaxSizeByte)))
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.index[key]
	if !ok {
		return
	}
	c.size -= e.Size
	delete(c.index, key)
	_ = os.Remove(c.payloadPath(key))
}

func (c *Cache) payloadPath(key string) string {
	return filepath.Join(c.dir, key[:2], key+".bin")
}

func (c *Cache) loadIndex() {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("Cache index unreadable, starting empty", "error", err)
		}
		return
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("Cache index corrupt, starting empty", "error", err)
		return
	}
	for _, e := range entries {
		c.index[e.Key] = e
		c.size += e.Size
	}
}

func (c *Cache) saveIndex() {
	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, indexFile), data, 0o644); err != nil {
		c.log.Warn("Cache index write failed", "error", err)
	}
}

func (c *Cache) loadFileHashes() {
	data, err := os.ReadFile(filepath.Join(c.dir, hashesFile))
	if err != nil {
		return
	}
	hashes := make(map[string]string)
	if err := json.Unmarshal(data, &hashes); err != nil {
		c.log.Warn("File hash store corrupt, starting empty", "error", err)
		return
	}
	c.fileHash = hashes
}

func (c *Cache) saveFileHashes() {
	c.mu.Lock()
	hashes := make(map[string]string, len(c.fileHash))
	for k, v := range c.fileHash {
		hashes[k] = v
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, hashesFile), data, 0o644); err != nil {
		c.log.Warn("File hash store write failed", "error", err)
	}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
