package engine

import "github.com/google/btree"

// treeDegree controls the branching factor of the underlying B-tree. 32
// keeps node fan-out high enough that in-order traversal and point lookups
// stay cache-friendly for the table sizes a translator's data plane sees.
const treeDegree = 32

// OrderedIndex is the generic ordered-tree index required by §4.1: a
// balanced ordered map supporting find, insert-unique, erase, and
// in-order traversal starting at or after a key.
//
// Rather than replicate an intrusive red-black tree with per-entry hook
// fields, entries are stored directly as items of a github.com/google/btree
// BTreeG ordered by a caller-supplied Less function. This gives each entry
// a lookup handle (its own key) instead of a raw intrusive pointer, which
// is the non-intrusive expression of the same contract called for in
// spec's design notes on back-pointer handling.
type OrderedIndex[T any] struct {
	tree *btree.BTreeG[T]
	less func(a, b T) bool
}

// NewOrderedIndex creates an empty index ordered by less.
func NewOrderedIndex[T any](less func(a, b T) bool) *OrderedIndex[T] {
	return &OrderedIndex[T]{
		tree: btree.NewG(treeDegree, less),
		less: less,
	}
}

// Find returns the entry matching probe's key, if any.
func (idx *OrderedIndex[T]) Find(probe T) (T, bool) {
	return idx.tree.Get(probe)
}

// InsertUnique inserts item unless an entry with the same key already
// exists. ok is true on successful insertion; when false, existing holds
// the colliding entry and item was not linked.
func (idx *OrderedIndex[T]) InsertUnique(item T) (existing T, ok bool) {
	if found, present := idx.tree.Get(item); present {
		return found, false
	}
	idx.tree.ReplaceOrInsert(item)
	var zero T
	return zero, true
}

// Erase removes item's key from the index. ok is false if the key was not
// present (the entry's hook was already detached).
func (idx *OrderedIndex[T]) Erase(item T) (ok bool) {
	_, ok = idx.tree.Delete(item)
	return ok
}

// Len returns the number of entries currently indexed.
func (idx *OrderedIndex[T]) Len() int {
	return idx.tree.Len()
}

// First returns the smallest-keyed entry, if the index is non-empty.
func (idx *OrderedIndex[T]) First() (T, bool) {
	return idx.tree.Min()
}

// NextStrictlyAfter returns the smallest-keyed entry strictly greater than
// key. Used for "start iteration at key's successor" and for the
// sample-next-before-calling-back discipline required during safe
// iteration (§4.2, §4.3, §9).
func (idx *OrderedIndex[T]) NextStrictlyAfter(key T) (T, bool) {
	var result T
	found := false
	idx.tree.AscendGreaterOrEqual(key, func(item T) bool {
		if idx.less(key, item) {
			result = item
			found = true
			return false
		}
		return true
	})
	return result, found
}

// FirstGE returns the smallest-keyed entry greater than or equal to key.
func (idx *OrderedIndex[T]) FirstGE(key T) (T, bool) {
	var result T
	found := false
	idx.tree.AscendGreaterOrEqual(key, func(item T) bool {
		result = item
		found = true
		return false
	})
	return result, found
}

// Clear removes every entry, invoking dispose on each in ascending order.
func (idx *OrderedIndex[T]) Clear(dispose func(T)) {
	if dispose != nil {
		idx.tree.Ascend(func(item T) bool {
			dispose(item)
			return true
		})
	}
	idx.tree.Clear(false)
}
