// Package catalog keeps the named collections served by the API.
package catalog

import (
	"slices"
	"sync"

	"trackhub/internal/trajectory"
)

type Catalog struct {
	mu          sync.RWMutex
	collections map[string]*trajectory.TracksCollection
}

func New() *Catalog {
	return &Catalog{collections: map[string]*trajectory.TracksCollection{}}
}

func (c *Catalog) Put(name string, tc *trajectory.TracksCollection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections[name] = tc
}

func (c *Catalog) Get(name string) (*trajectory.TracksCollection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.collections[name]
	return tc, ok
}

// Names returns the collection names in lexical order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.collections))
	for n := range c.collections {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Merge folds every subject of add into collection name, replacing subjects
// that already exist and appending new ones. A missing collection is created
// from add. The swap happens under the write lock so concurrent merges do
// not lose updates.
func (c *Catalog) Merge(name string, add *trajectory.TracksCollection) (*trajectory.TracksCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.collections[name]
	if !ok {
		c.collections[name] = add
		return add, nil
	}
	for subject, ts := range add.All() {
		next, err := cur.With(subject, ts)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	c.collections[name] = cur
	return cur, nil
}
