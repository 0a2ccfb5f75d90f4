/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package packagejson

import (
	"sync"

	"bennypowers.dev/hotserve/fs"
)

// Cache holds parsed package.json files by path until a watcher reports a
// change. It is safe for concurrent use; concurrent loads of one path share
// a single read.
type Cache struct {
	fs      fs.FileSystem
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	pkg  *PackageJSON
	err  error
}

// NewCache returns a cache reading through fsys.
func NewCache(fsys fs.FileSystem) *Cache {
	return &Cache{fs: fsys, entries: make(map[string]*cacheEntry)}
}

// Load returns the parsed package.json at path, reading it on first use.
// Failed reads are not cached.
func (c *Cache) Load(path string) (*PackageJSON, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	if !ok {
		entry = &cacheEntry{}
		c.entries[path] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.pkg, entry.err = ParseFile(c.fs, path)
	})
	if entry.err != nil {
		c.mu.Lock()
		if c.entries[path] == entry {
			delete(c.entries, path)
		}
		c.mu.Unlock()
	}
	return entry.pkg, entry.err
}

// Invalidate drops the cached entry for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
