package crossfile

import (
	"container/list"
	"os"
	"sync"
)

// fileCache is a per-session LRU read-through cache of related-file
// contents.
type fileCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type fileEntry struct {
	path    string
	content string
}

func newFileCache(capacity int) *fileCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &fileCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// read returns the file's content, loading and caching it on first use.
func (c *fileCache) read(path string) (string, error) {
	c.mu.Lock()
	if el, ok := c.items[path]; ok {
		c.order.MoveToFront(el)
		content := el.Value.(*fileEntry).content
		c.mu.Unlock()
		return content, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)

	c.mu.Lock()
	if _, ok := c.items[path]; !ok {
		c.items[path] = c.order.PushFront(&fileEntry{path: path, content: content})
		for c.order.Len() > c.cap {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*fileEntry).path)
		}
	}
	c.mu.Unlock()
	return content, nil
}
