// Package ipset holds the administratively-configured set of IPv4
// prefixes (the admin server's host4_addr pool). The engine's
// range-bounded table operations (BibTable.DeleteInRange,
// SessionTable.DeleteByPrefix4) do not consult it; the admin server checks
// a revoke request against it before calling them.
package ipset

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
)

// Set is a concurrency-safe collection of IPv4 prefixes, backed by a
// github.com/gaissmai/bart compressed trie for O(log n) containment
// lookups regardless of set size — the structure the teacher's pack
// supplies for CIDR matching, used here in place of a hand-rolled linear
// prefix scan.
type Set struct {
	mu    sync.RWMutex
	table *bart.Table[struct{}]
}

// New creates an empty prefix set.
func New() *Set {
	return &Set{table: new(bart.Table[struct{}])}
}

// Add inserts prefix into the set. Re-adding an existing prefix is a
// no-op.
func (s *Set) Add(prefix netip.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Insert(prefix, struct{}{})
}

// Remove deletes prefix from the set, if present.
func (s *Set) Remove(prefix netip.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Delete(prefix)
}

// Contains reports whether addr falls within any prefix in the set.
func (s *Set) Contains(addr netip.Addr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Contains(addr)
}

// Prefixes returns every prefix currently in the set, for administrative
// listing.
func (s *Set) Prefixes() []netip.Prefix {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]netip.Prefix, 0, s.table.Size())
	for prefix := range s.table.All() {
		out = append(out, prefix)
	}
	return out
}

// ParsePrefixes parses a list of CIDR strings into a new Set, returning
// the first parse error encountered.
func ParsePrefixes(cidrs []string) (*Set, error) {
	s := New()
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parse prefix %q: %w", c, err)
		}
		s.Add(p)
	}
	return s, nil
}
