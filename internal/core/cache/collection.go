// Package cache holds the scope-filtered, ordered, deduplicated in-memory
// collections that back document and reminder views.
package cache

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// Entry is a record that can live in a Collection.
type Entry interface {
	RecordID() string
	RecordOwner() string
	RecordCategory() string
	RecordCreatedAt() time.Time
	SearchFields() []string
}

type Outcome string

const (
	Inserted Outcome = "inserted"
	Updated  Outcome = "updated"
	Removed  Outcome = "removed"
	Ignored  Outcome = "ignored"
)

// Collection contains exactly the entries matching its scope, each id at most
// once, ordered by creation time descending. Among equal creation times a
// newer arrival comes first.
//
// Reads are safe from any goroutine. Mutations are expected to come from a
// single writer.
type Collection[T Entry] struct {
	scope domain.Scope

	mu    sync.RWMutex
	items []T
	index map[string]int
}

func New[T Entry](scope domain.Scope) *Collection[T] {
	return &Collection[T]{
		scope: scope,
		index: make(map[string]int),
	}
}

func (c *Collection[T]) Scope() domain.Scope { return c.scope }

// Matches reports whether item belongs to the collection's scope.
func (c *Collection[T]) Matches(item T) bool {
	return c.scope.Matches(item.RecordOwner(), item.RecordCategory())
}

// Upsert inserts item or replaces the cached entry with the same id in place.
// Items outside the scope are ignored.
func (c *Collection[T]) Upsert(item T) Outcome {
	id := item.RecordID()
	if id == "" || !c.Matches(item) {
		return Ignored
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if pos, ok := c.index[id]; ok {
		c.items[pos] = item
		return Updated
	}

	created := item.RecordCreatedAt()
	pos := len(c.items)
	for i, existing := range c.items {
		if !existing.RecordCreatedAt().After(created) {
			pos = i
			break
		}
	}
	c.items = slices.Insert(c.items, pos, item)
	c.reindex(pos)
	return Inserted
}

// Remove drops the entry with id. Absent ids are not an error.
func (c *Collection[T]) Remove(id string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[id]
	if !ok {
		return Ignored
	}
	c.items = slices.Delete(c.items, pos, pos+1)
	delete(c.index, id)
	c.reindex(pos)
	return Removed
}

// Replace swaps the whole content for items, as returned by a full fetch.
// Out-of-scope items are skipped, a repeated id keeps its first position with
// the last version's fields, and fetch order is kept among equal creation
// times.
func (c *Collection[T]) Replace(items []T) {
	next := make([]T, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := item.RecordID()
		if id == "" || !c.Matches(item) {
			continue
		}
		if pos, ok := index[id]; ok {
			next[pos] = item
			continue
		}
		index[id] = len(next)
		next = append(next, item)
	}
	slices.SortStableFunc(next, func(a, b T) int {
		return b.RecordCreatedAt().Compare(a.RecordCreatedAt())
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = next
	c.index = make(map[string]int, len(next))
	c.reindex(0)
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[pos], true
}

func (c *Collection[T]) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns a copy of the entries in cache order.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Collection[T]) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, len(c.items))
	for i, item := range c.items {
		ids[i] = item.RecordID()
	}
	return ids
}

// DateKey extracts the sort date of an entry; ok=false means the date is missing.
type DateKey[T Entry] func(T) (time.Time, bool)

// ViewOptions filters and orders a read-only view. A nil SortBy keeps the
// cache order. Entries missing the sort date always come last.
type ViewOptions[T Entry] struct {
	Query      string
	SortBy     DateKey[T]
	Descending bool
	Limit      int
}

func (c *Collection[T]) View(opts ViewOptions[T]) []T {
	return Filter(c.Snapshot(), opts)
}

// Filter applies ViewOptions to entries that are already in cache order.
func Filter[T Entry](entries []T, opts ViewOptions[T]) []T {
	query := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]T, 0, len(entries))
	for _, item := range entries {
		if query == "" || matchesQuery(item, query) {
			out = append(out, item)
		}
	}

	if opts.SortBy != nil {
		slices.SortStableFunc(out, func(a, b T) int {
			ta, okA := opts.SortBy(a)
			tb, okB := opts.SortBy(b)
			switch {
			case !okA && !okB:
				return 0
			case !okA:
				return 1
			case !okB:
				return -1
			}
			if opts.Descending {
				return tb.Compare(ta)
			}
			return ta.Compare(tb)
		})
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func matchesQuery[T Entry](item T, query string) bool {
	for _, field := range item.SearchFields() {
		if field != "" && strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func (c *Collection[T]) reindex(from int) {
	for i := from; i < len(c.items); i++ {
		c.index[c.items[i].RecordID()] = i
	}
}
