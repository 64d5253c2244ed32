// Package cache keeps downloaded media on disk under a byte budget.
//
// Files live at {dir}/{mediaID}.{ext}. Every Put refreshes the entry's
// recency and then evicts least-recently-used entries, deleting their files,
// until the total registered size fits the budget. Pinned entries are in use
// by a playback session and are never evicted; if only pinned entries remain
// over budget, the excess is reclaimed on the next Unpin or Put.
package cache

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/logger"
)

// Entry is a single cached file.
type Entry struct {
	ID   string
	Path string
	Size int64
}

type Cache struct {
	mu     sync.Mutex
	fs     afero.Fs
	dir    string
	budget int64
	size   int64
	index  *simplelru.LRU[string, Entry]
	pins   map[string]int
	log    zerolog.Logger
}

// New creates the cache directory if needed and returns an empty cache.
// Call Load to index files left over from a previous run.
func New(fs afero.Fs, dir string, budget int64) (*Cache, error) {
	if budget < 0 {
		return nil, fmt.Errorf("cache budget must be >= 0, got %d", budget)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}

	// Capacity is bounded by bytes, not by count.
	index, err := simplelru.NewLRU[string, Entry](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}

	return &Cache{
		fs:     fs,
		dir:    dir,
		budget: budget,
		index:  index,
		pins:   make(map[string]int),
		log:    logger.Component("cache"),
	}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Budget returns the configured byte budget.
func (c *Cache) Budget() int64 { return c.budget }

// Path returns where a media file with the given id and extension is stored.
func (c *Cache) Path(id, ext string) string {
	return filepath.Join(c.dir, id+"."+strings.TrimPrefix(ext, "."))
}

// Contains reports whether path lies inside the cache directory.
func (c *Cache) Contains(path string) bool {
	rel, err := filepath.Rel(c.dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Put registers (or refreshes) an entry and evicts until the budget holds.
func (c *Cache) Put(id, path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.index.Peek(id); ok {
		c.size -= old.Size
	}
	c.index.Add(id, Entry{ID: id, Path: path, Size: size})
	c.size += size
	c.log.Debug().Str("id", id).Int64("size", size).Int64("total", c.size).Msg("Cache put")

	c.evictLocked(c.budget)
}

// Get returns the entry for id and marks it as recently used.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Get(id)
}

// Acquire looks up id and pins it in one step, so the entry cannot be
// evicted between the lookup and its use. The caller owns the pin and must
// Unpin it.
func (c *Cache) Acquire(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(id)
	if ok {
		c.pins[id]++
	}
	return e, ok
}

// Size returns the total registered bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Entries returns all entries, least recently used first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Values()
}

// Pin marks id as in use. Pins are counted; the id does not need to be
// registered yet, so a session can pin before Put.
func (c *Cache) Pin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[id]++
}

// Unpin releases one pin and reclaims space that was held by pinned entries.
func (c *Cache) Unpin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.pins[id]; n <= 1 {
		delete(c.pins, id)
	} else {
		c.pins[id] = n - 1
	}
	c.evictLocked(c.budget)
}

// Pinned reports whether id is currently pinned.
func (c *Cache) Pinned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pins[id] > 0
}

// Prune evicts unpinned entries until the total fits budget and returns how
// many entries were removed.
func (c *Cache) Prune(budget int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(budget)
}

// Load indexes media files already present in the cache directory, oldest
// modification first, then evicts to the budget.
func (c *Cache) Load() (int, error) {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache dir: %w", err)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].ModTime().Before(infos[j].ModTime())
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		ext := filepath.Ext(name)
		// partial downloads and extension-less files are not media
		if ext == "" || ext == ".part" || ext == ".ytdl" || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if old, ok := c.index.Peek(id); ok {
			c.size -= old.Size
		}
		c.index.Add(id, Entry{ID: id, Path: filepath.Join(c.dir, name), Size: info.Size()})
		c.size += info.Size()
		loaded++
	}

	c.evictLocked(c.budget)
	c.log.Info().Int("files", loaded).Int64("bytes", c.size).Msg("Cache loaded")
	return loaded, nil
}

// evictLocked removes least-recently-used unpinned entries until size <= budget.
// File delete failures are logged and do not stop the loop.
func (c *Cache) evictLocked(budget int64) int {
	removed := 0
	for c.size > budget {
		victim, ok := c.oldestUnpinnedLocked()
		if !ok {
			c.log.Debug().Int64("total", c.size).Int64("budget", budget).Msg("Only pinned entries left, eviction deferred")
			break
		}

		c.index.Remove(victim.ID)
		c.size -= victim.Size
		removed++

		if err := c.fs.Remove(victim.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", victim.Path).Msg("Failed to delete evicted file")
			continue
		}
		c.log.Info().Str("id", victim.ID).Str("path", victim.Path).Int64("total", c.size).Msg("Evicted")
	}
	return removed
}

func (c *Cache) oldestUnpinnedLocked() (Entry, bool) {
	for _, id := range c.index.Keys() {
		if c.pins[id] > 0 {
			continue
		}
		if e, ok := c.index.Peek(id); ok {
			return e, true
		}
	}
	return Entry{}, false
}
