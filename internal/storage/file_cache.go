// internal/storage/file_cache.go
package storage

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// fileCache 按完整路径缓存已读取的文件内容
type fileCache struct {
	entries *lru.Cache[string, []byte]
}

func newFileCache(size int) (*fileCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &fileCache{entries: c}, nil
}

func (c *fileCache) get(path string) ([]byte, bool) {
	data, ok := c.entries.Get(path)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (c *fileCache) put(path string, data []byte) {
	c.entries.Add(path, append([]byte(nil), data...))
}

func (c *fileCache) invalidate(path string) {
	c.entries.Remove(path)
}

// invalidatePrefix 清除目录下所有缓存项
func (c *fileCache) invalidatePrefix(prefix string) {
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

func (c *fileCache) purge() {
	c.entries.Purge()
}

func (c *fileCache) len() int {
	return c.entries.Len()
}
