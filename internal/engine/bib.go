package engine

import (
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
)

// BibEntry is a single Binding Information Base mapping: an inside IPv6
// transport address bound to an outside IPv4 transport address, unique
// within its table along both axes (B2).
//
// Fields other than refcount, table, and IsStatic are fixed at creation
// and must not be mutated once the entry is indexed (§5, Shared resources).
type BibEntry struct {
	IPv6     TAddr
	IPv4     TAddr
	Proto    L4Proto
	Host4Addr any // opaque; the core neither dereferences nor frees this

	// IsStatic is mutated only under the owning table's lock (flush,
	// delete_in_range, and administrative add/remove).
	IsStatic bool

	refcount atomic.Int32
	table    atomic.Pointer[BibTable]
}

// NewBibEntry constructs an entry with refcount 1: the creator's own
// transient hold. A successful BibTable.Add transfers that hold into the
// table's "indexed" share rather than adding a second reference; the
// static administrative pin, if any, is added separately at that point.
func NewBibEntry(ipv6, ipv4 TAddr, proto L4Proto, isStatic bool, host4Addr any) *BibEntry {
	e := &BibEntry{
		IPv6:      ipv6,
		IPv4:      ipv4,
		Proto:     proto,
		IsStatic:  isStatic,
		Host4Addr: host4Addr,
	}
	e.refcount.Store(1)
	return e
}

// Refcount returns the current reference count (B4).
func (e *BibEntry) Refcount() int32 { return e.refcount.Load() }

// Table returns the table currently indexing this entry, or nil.
func (e *BibEntry) Table() *BibTable { return e.table.Load() }

// hold increments the refcount for a new transient or permanent reference
// (lookup hit, session pin, administrative pin).
func (e *BibEntry) hold() { e.refcount.Add(1) }

// Put is the ordinary drop path (§4.2): if the refcount reaches zero and
// the entry is indexed, it removes itself from its table before the
// caller lets go of it. Must NOT be called while already holding the
// entry's table lock; use PutLocked for that.
func (e *BibEntry) Put() {
	for {
		tbl := e.table.Load()
		if tbl == nil {
			e.refcount.Add(-1)
			return
		}
		tbl.mu.Lock()
		if e.table.Load() != tbl {
			// Raced with a concurrent removal; re-read under the new
			// owner (possibly nil) and retry.
			tbl.mu.Unlock()
			continue
		}
		if e.refcount.Add(-1) == 0 {
			tbl.removeLocked(e)
		}
		tbl.mu.Unlock()
		return
	}
}

// PutLocked is the locked drop path (§4.2): used by callers that already
// hold the owning table's lock (iteration helpers, flush). Calling this
// without holding that lock is a bug; calling Put while holding it
// deadlocks.
func (e *BibEntry) PutLocked(tbl *BibTable) {
	if e.refcount.Add(-1) == 0 {
		tbl.removeLocked(e)
	}
}

// dropStaticPinLocked clears the administrative pin if set, dropping the
// refcount it represents. Idempotent: a second call on an already dynamic
// entry is a no-op, which is what makes BibTable.Flush idempotent.
func (e *BibEntry) dropStaticPinLocked(tbl *BibTable) {
	if !e.IsStatic {
		return
	}
	e.IsStatic = false
	e.PutLocked(tbl)
}

// BibTable is a two-co-indexed-tree table of BIB entries for one L4
// protocol (§4.2).
type BibTable struct {
	mu    sync.Mutex
	tree6 *OrderedIndex[*BibEntry]
	tree4 *OrderedIndex[*BibEntry]
	count atomic.Uint64

	proto      L4Proto
	logChanges bool
	logger     *slog.Logger
	observer   Observer
}

// NewBibTable creates an empty table for the given protocol. A nil
// observer is replaced with NoopObserver.
func NewBibTable(proto L4Proto, logChanges bool, logger *slog.Logger, observer Observer) *BibTable {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &BibTable{
		tree6: NewOrderedIndex(func(a, b *BibEntry) bool { return a.IPv6.Compare(b.IPv6) < 0 }),
		tree4: NewOrderedIndex(func(a, b *BibEntry) bool { return a.IPv4.Compare(b.IPv4) < 0 }),
		proto: proto,
		logChanges: logChanges,
		logger: logger,
		observer: observer,
	}
}

// Lookup6 finds the entry keyed by addr6, incrementing its refcount
// before returning.
func (t *BibTable) Lookup6(addr6 TAddr) (*BibEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	probe := &BibEntry{IPv6: addr6}
	e, ok := t.tree6.Find(probe)
	if !ok {
		return nil, ErrNotFound
	}
	e.hold()
	return e, nil
}

// Lookup4 finds the entry keyed by addr4, incrementing its refcount
// before returning.
func (t *BibTable) Lookup4(addr4 TAddr) (*BibEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	probe := &BibEntry{IPv4: addr4}
	e, ok := t.tree4.Find(probe)
	if !ok {
		return nil, ErrNotFound
	}
	e.hold()
	return e, nil
}

// Contains4 reports whether addr4 is bound, without touching the refcount.
func (t *BibTable) Contains4(addr4 TAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.tree4.Find(&BibEntry{IPv4: addr4})
	return ok
}

// Add performs the two-phase insert of §4.2: insert into tree6, then
// tree4, rolling the tree6 insert back on a tree4 collision. Only after
// both succeed is entry.table assigned, preserving the ordering §9 calls
// out (a half-inserted entry must never carry a table back-reference).
//
// On ErrAlreadyExists, if collisionOut is non-nil, *collisionOut is set to
// the colliding entry with its refcount bumped for the caller's hold.
func (t *BibTable) Add(entry *BibEntry, collisionOut **BibEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := entry.doInsertUnique(t.tree6); !ok {
		if collisionOut != nil {
			existing.hold()
			*collisionOut = existing
		}
		return ErrAlreadyExists
	}

	if existing, ok := entry.doInsertUnique(t.tree4); !ok {
		t.tree6.Erase(entry)
		if collisionOut != nil {
			existing.hold()
			*collisionOut = existing
		}
		return ErrAlreadyExists
	}

	if entry.IsStatic {
		entry.hold()
	}
	entry.table.Store(t)
	t.count.Add(1)
	t.observer.BibAdded(t.proto)

	if t.logChanges {
		t.logger.Info("Mapped",
			slog.String("ipv6", formatTAddr(entry.IPv6)),
			slog.String("ipv4", formatTAddr(entry.IPv4)),
			slog.String("proto", t.proto.String()),
		)
	}

	return nil
}

// doInsertUnique is a tiny adapter so BibTable.Add reads the same way
// against either tree without repeating the existing/ok dance.
func (e *BibEntry) doInsertUnique(idx *OrderedIndex[*BibEntry]) (*BibEntry, bool) {
	return idx.InsertUnique(e)
}

// Remove erases entry from both trees and decrements the table's count.
// The caller remains responsible for dropping its own reference on entry
// (§4.2: "Caller remains responsible for dropping the table's reference").
func (t *BibTable) Remove(entry *BibEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(entry)
}

// removeLocked is the shared tail of Remove, Put, and PutLocked. Callers
// must hold t.mu.
func (t *BibTable) removeLocked(entry *BibEntry) {
	okV6 := t.tree6.Erase(entry)
	okV4 := t.tree4.Erase(entry)
	if !okV6 || !okV4 {
		// Internal inconsistency: a debug assertion in the source would
		// fire here. Logged and ignored, never surfaced to the caller.
		t.logger.Error("bib entry missing a tree hook during removal",
			slog.Bool("in_tree6", okV6), slog.Bool("in_tree4", okV4))
	}

	entry.table.Store(nil)
	t.count.Add(^uint64(0)) // count--
	t.observer.BibRemoved(t.proto)

	if t.logChanges {
		t.logger.Info("Forgot",
			slog.String("ipv6", formatTAddr(entry.IPv6)),
			slog.String("ipv4", formatTAddr(entry.IPv4)),
			slog.String("proto", t.proto.String()),
		)
	}
}

// Count returns the number of entries currently indexed. Lock-free.
func (t *BibTable) Count() uint64 { return t.count.Load() }

// Foreach walks tree4 in order, starting strictly after offset if given,
// else from the beginning. fn is called with the table lock held; it may
// remove the current entry (e.g. via PutLocked) since the successor is
// sampled before each call. Iteration stops early if fn returns false.
func (t *BibTable) Foreach(fn func(e *BibEntry) bool, offset *TAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cur *BibEntry
	var ok bool
	if offset != nil {
		cur, ok = t.tree4.NextStrictlyAfter(&BibEntry{IPv4: *offset})
	} else {
		cur, ok = t.tree4.First()
	}

	for ok {
		next, hasNext := t.tree4.NextStrictlyAfter(cur)
		if !fn(cur) {
			return
		}
		cur, ok = next, hasNext
	}
}

// Flush drops the administrative pin on every static entry, leaving
// dynamic entries to expire through their sessions. Calling Flush twice
// in a row is a no-op the second time.
func (t *BibTable) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.tree4.First()
	for ok {
		next, hasNext := t.tree4.NextStrictlyAfter(cur)
		cur.dropStaticPinLocked(t)
		cur, ok = next, hasNext
	}
}

// DeleteInRange drops the administrative pin on every static entry whose
// IPv4 address falls in prefix and whose port falls in portRange. Used
// when an external host4_addr pool shrinks or is withdrawn.
func (t *BibTable) DeleteInRange(prefix netip.Prefix, portRange PortRange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := &BibEntry{IPv4: TAddr{L3: prefix.Masked().Addr(), Port: portRange.Min}}
	cur, ok := t.tree4.FirstGE(start)

	for ok {
		next, hasNext := t.tree4.NextStrictlyAfter(cur)

		if !Prefix4Contains(prefix, cur.IPv4.L3) {
			break
		}
		if portRange.Contains(cur.IPv4.Port) {
			cur.dropStaticPinLocked(t)
		}

		cur, ok = next, hasNext
	}
}

func formatTAddr(a TAddr) string {
	if !a.L3.IsValid() {
		return "<invalid>"
	}
	return netip.AddrPortFrom(a.L3, a.Port).String()
}
