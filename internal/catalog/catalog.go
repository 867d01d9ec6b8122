// Package catalog resolves content slugs to byte locations. Catalog data is
// owned elsewhere; this package only reads it.
package catalog

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("catalog item not found")

// Item is one purchasable download.
type Item struct {
	Slug    string `yaml:"slug" json:"slug"`
	Title   string `yaml:"title" json:"title"`
	Locator string `yaml:"locator" json:"-"`
}

type Catalog interface {
	Lookup(ctx context.Context, slug string) (Item, error)
}

var slugRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidSlug reports whether s is safe to use as a path or URL component.
func ValidSlug(s string) bool { return slugRE.MatchString(s) }

// Memory is a map-backed Catalog.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewMemory(items ...Item) *Memory {
	m := &Memory{items: make(map[string]Item, len(items))}
	for _, it := range items {
		m.items[it.Slug] = it
	}
	return m
}

func (m *Memory) Lookup(_ context.Context, slug string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[slug]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (m *Memory) Put(it Item) {
	m.mu.Lock()
	m.items[it.Slug] = it
	m.mu.Unlock()
}

func (m *Memory) All() []Item {
	m.mu.RLock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
