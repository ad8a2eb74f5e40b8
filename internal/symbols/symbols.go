// Package symbols implements the process-wide known-symbols set (§3): every
// distinct symbol ever seen on an accepted order, monotonically
// non-decreasing over the process lifetime (invariant I5).
//
// Backed by github.com/tidwall/btree (donated by the "fenrir" exchange
// go.mod, see DESIGN.md) rather than a bare map, so listsymbols always
// iterates in a deterministic sorted order — the live home this repo gives
// to the teacher's red-black-tree-for-ordering idea
// (internal/orderbook/rbtree.go), since actual order-book price-level
// matching is this spec's Non-goal.
package symbols

import (
	"sync"

	"github.com/tidwall/btree"
)

// Set is a concurrency-safe, append-only set of 8-byte symbol strings.
type Set struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[string]
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		tree: btree.NewBTreeG[string](func(a, b string) bool { return a < b }),
	}
}

// Add records symbol as seen. It is a no-op if symbol was already known.
// Returns true if this call actually grew the set (newly seen symbol).
func (s *Set) Add(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced := s.tree.Set(symbol)
	return !replaced
}

// Contains reports whether symbol has been seen.
func (s *Set) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tree.Get(symbol)
	return ok
}

// Len returns the number of distinct symbols seen so far.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Each calls fn for every known symbol in ascending order, for listsymbols
// (§4.7, §6).
func (s *Set) Each(fn func(symbol string)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tree.Scan(func(symbol string) bool {
		fn(symbol)
		return true
	})
}
