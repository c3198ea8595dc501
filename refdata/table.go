// Package refdata holds the read-only reference snapshot (instruments,
// trading groups, trading profiles and latest bid/ask quotes) replicated
// into this process from an external feed.
package refdata

import (
	"sort"
	"sync"
	"time"
)

// Entity is anything stored in a replicated table.
type Entity interface {
	PartitionKey() string
	RowKey() string
}

// Table is a concurrency-safe partition/row keyed copy of one replicated
// table. Readers get values, never pointers into the table.
type Table[T Entity] struct {
	mu          sync.RWMutex
	rows        map[string]map[string]T
	initialized bool
	updated     time.Time
}

func NewTable[T Entity]() *Table[T] {
	return &Table[T]{rows: make(map[string]map[string]T)}
}

func (t *Table[T]) Get(partition, row string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[partition][row]
	return v, ok
}

// Snapshot returns every row, ordered by partition then row key.
func (t *Table[T]) Snapshot() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]T, 0, t.lenLocked())
	for _, part := range t.rows {
		for _, v := range part {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartitionKey() != out[j].PartitionKey() {
			return out[i].PartitionKey() < out[j].PartitionKey()
		}
		return out[i].RowKey() < out[j].RowKey()
	})
	return out
}

func (t *Table[T]) Upsert(items ...T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range items {
		t.putLocked(it)
	}
	t.updated = time.Now()
}

// Replace swaps the whole table content, as on a feed (re)connect.
func (t *Table[T]) Replace(items []T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[string]map[string]T)
	for _, it := range items {
		t.putLocked(it)
	}
	t.initialized = true
	t.updated = time.Now()
}

func (t *Table[T]) Delete(partition, row string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	part, ok := t.rows[partition]
	if !ok {
		return
	}
	delete(part, row)
	if len(part) == 0 {
		delete(t.rows, partition)
	}
	t.updated = time.Now()
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked()
}

// Initialized reports whether a full table image has been received.
func (t *Table[T]) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized
}

func (t *Table[T]) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

func (t *Table[T]) putLocked(it T) {
	part, ok := t.rows[it.PartitionKey()]
	if !ok {
		part = make(map[string]T)
		t.rows[it.PartitionKey()] = part
	}
	part[it.RowKey()] = it
}

func (t *Table[T]) lenLocked() int {
	n := 0
	for _, part := range t.rows {
		n += len(part)
	}
	return n
}
