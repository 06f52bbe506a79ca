// Package filecache maps absolute source paths to their content hash
// (hex SHA-256), persisted as JSON via atomic write, and answers the
// recompilation decision the build processor consults per translation
// unit. An in-memory otter cache fronts the persisted map with each
// path's recorded hash; the file itself is hashed afresh on every
// has_changed/needs_recompilation check.
package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/maypok86/otter"

	"github.com/cuemby/fbuildd/pkg/atomicfile"
)

const chunkSize = 8 * 1024

// Statistics reports cache hit/miss counters for observability.
type Statistics struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Cache is a thread-safe absolute-path -> content-hash map.
type Cache struct {
	path string

	mu      sync.RWMutex
	hashes  map[string]string
	hits    int64
	misses  int64

	memo otter.Cache[string, string]
}

// Load reads a persisted cache from path if present, starting empty
// otherwise.
func Load(path string) (*Cache, error) {
	memo, err := otter.MustBuilder[string, string](4096).Build()
	if err != nil {
		return nil, err
	}

	c := &Cache{path: path, hashes: make(map[string]string), memo: memo}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := atomicfile.ReadJSON(path, &c.hashes); err != nil && len(data) > 0 {
		return nil, err
	}
	return c, nil
}

// HasChanged reports whether path is missing from the cache or its
// current content hash differs from the recorded one.
func (c *Cache) HasChanged(path string) (bool, error) {
	current, err := hashFile(path)
	if err != nil {
		return false, err
	}

	if cached, ok := c.memo.Get(path); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return cached != current, nil
	}

	c.mu.RLock()
	recorded, ok := c.hashes[path]
	c.mu.RUnlock()

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	if ok {
		c.memo.Set(path, recorded)
	}
	return !ok || recorded != current, nil
}

// Update records path's current content hash.
func (c *Cache) Update(path string) error {
	current, err := hashFile(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hashes[path] = current
	c.mu.Unlock()
	c.memo.Set(path, current)
	return c.persist()
}

// UpdateBatch records the current content hash for every path.
func (c *Cache) UpdateBatch(paths []string) error {
	for _, p := range paths {
		current, err := hashFile(p)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.hashes[p] = current
		c.mu.Unlock()
		c.memo.Set(p, current)
	}
	return c.persist()
}

// NeedsRecompilation reports whether source must be rebuilt to produce
// object: true if object is missing, source's hash changed since the
// cache was last updated, or object is older than source.
func (c *Cache) NeedsRecompilation(source, object string) (bool, error) {
	objInfo, err := os.Stat(object)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}

	changed, err := c.HasChanged(source)
	if err != nil {
		return false, err
	}
	if changed {
		return true, nil
	}

	srcInfo, err := os.Stat(source)
	if err != nil {
		return false, err
	}
	return objInfo.ModTime().Before(srcInfo.ModTime()), nil
}

// Invalidate drops path's recorded hash.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.hashes, path)
	c.mu.Unlock()
	c.memo.Delete(path)
}

// Clear removes every recorded hash.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.hashes = make(map[string]string)
	c.mu.Unlock()
	c.memo.Clear()
	return c.persist()
}

// GetStatistics reports current cache hit/miss counters.
func (c *Cache) GetStatistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Statistics{Entries: len(c.hashes), Hits: c.hits, Misses: c.misses}
}

func (c *Cache) persist() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return atomicfile.WriteJSON(c.path, c.hashes, 0o644)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
