package recon

import (
	"path/filepath"
	"strings"
	"sync"
)

// CollectionRegistry maps collection names to their source document
// directories. Collections created at runtime register themselves; a small
// set of well-known collections falls back to static directories under the
// configured documents root.
type CollectionRegistry struct {
	mu   sync.RWMutex
	root string
	dirs map[string]string
}

// NewCollectionRegistry creates a registry rooted at the documents directory.
func NewCollectionRegistry(root string) *CollectionRegistry {
	r := &CollectionRegistry{root: root, dirs: make(map[string]string)}
	// Well-known collections ingested from the shared root.
	r.dirs["default"] = root
	r.dirs["documentation"] = root
	return r
}

// Register binds a dynamically created collection to its source directory.
func (r *CollectionRegistry) Register(collection, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[strings.ToLower(collection)] = dir
}

// Unregister removes a collection's binding, e.g. after deletion.
func (r *CollectionRegistry) Unregister(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirs, strings.ToLower(collection))
}

// Resolve returns the source directory for a collection. Unknown collections
// map to a subdirectory of the root named after them.
func (r *CollectionRegistry) Resolve(collection string) string {
	key := strings.ToLower(collection)
	if key == "" {
		key = "default"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dir, ok := r.dirs[key]; ok {
		return dir
	}
	return filepath.Join(r.root, key)
}
