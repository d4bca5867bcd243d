package engine

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// ExpiryClass names which of a session table's two expiry lists currently
// owns a session.
type ExpiryClass int

const (
	ExpiryNone ExpiryClass = iota
	ExpiryEstablished
	ExpiryTransitory
)

func (c ExpiryClass) String() string {
	switch c {
	case ExpiryEstablished:
		return "established"
	case ExpiryTransitory:
		return "transitory"
	default:
		return "none"
	}
}

// SessionEntry is per-connection 4-tuple state pinned to a BIB entry
// (§3). Fields other than State, UpdateTime, the expiry class, and the
// list hook must not be mutated once the entry is indexed.
type SessionEntry struct {
	Local6, Remote6 TAddr
	Local4, Remote4 TAddr
	Proto           L4Proto

	// State is an opaque TCP-state token owned by the translator; the
	// core only stores and forwards it to the classifier on expiry.
	State byte

	// UpdateTime is the monotonic timestamp of the last refresh. Mutated
	// only under the owning table's lock.
	UpdateTime time.Time

	// expirerClass and listElem are mutated only under the owning
	// table's lock.
	expirerClass ExpiryClass
	listElem     *list.Element

	// BIB is the owning reference to the binding this session pins.
	BIB *BibEntry

	refcount     atomic.Int32
	bibReleased  atomic.Bool
}

// NewSessionEntry constructs a detached session entry with refcount 1:
// the creator's transient hold. bib's refcount must already reflect this
// session's future pin before Add is called (i.e. the caller should have
// obtained bib via a BibTable lookup/add and not dropped that hold).
func NewSessionEntry(local6, remote6, local4, remote4 TAddr, proto L4Proto, bib *BibEntry) *SessionEntry {
	s := &SessionEntry{
		Local6: local6, Remote6: remote6,
		Local4: local4, Remote4: remote4,
		Proto: proto,
		BIB:   bib,
	}
	s.refcount.Store(1)
	return s
}

// ExpiryClass reports which expiry list currently owns the session, or
// ExpiryNone if detached (S1).
func (s *SessionEntry) ExpiryClass() ExpiryClass { return s.expirerClass }

// Refcount returns the current reference count.
func (s *SessionEntry) Refcount() int32 { return s.refcount.Load() }

func (s *SessionEntry) hold() { s.refcount.Add(1) }

// Put is the ordinary drop path: decrements the refcount, and when it
// reaches zero releases the pin this session held on its BIB entry. It
// does not itself excise the session from any table — by the time a
// session's refcount can reach zero it has already been excised by an
// expiry decision or an administrative bulk-delete (§9 open question:
// remove() never drops this hold; bulk-delete callers do, after
// unlocking).
func (s *SessionEntry) Put() {
	if s.refcount.Add(-1) == 0 {
		s.releaseBIB()
	}
}

// PutLocked is identical to Put but documents that the caller already
// holds some lock of its own choosing (never the owning BibTable's lock,
// since BIB.Put acquires it). Provided for symmetry with BibEntry's dual
// drop paths; the engine's own call sites only ever need Put, since every
// session refcount drop in this package happens after the session table
// lock has been released.
func (s *SessionEntry) PutLocked() { s.Put() }

func (s *SessionEntry) releaseBIB() {
	if s.bibReleased.CompareAndSwap(false, true) {
		s.BIB.Put()
	}
}

// SessionTable is a two-co-indexed-tree table of session entries for one
// L4 protocol, backed by two expiry classes (§4.3).
type SessionTable struct {
	mu    sync.Mutex
	tree6 *OrderedIndex[*SessionEntry]
	tree4 *OrderedIndex[*SessionEntry]
	count atomic.Uint64

	// allowIndex counts, per (local4, remote4 L3), how many sessions
	// share that pair regardless of remote port. It backs Allow's
	// endpoint-independent-filtering query in O(1) without requiring a
	// second ordered tree with a non-unique key.
	allowIndex map[allowKey]int

	established *Expirer
	transitory  *Expirer

	proto      L4Proto
	logChanges bool
	logger     *slog.Logger
	pktqueue   PacketQueue
	observer   Observer
}

type allowKey struct {
	Local4   TAddr
	RemoteL3 netip.Addr
}

// SessionTableConfig bundles the collaborators a SessionTable needs at
// construction.
type SessionTableConfig struct {
	Proto               L4Proto
	LogChanges          bool
	Logger              *slog.Logger
	PacketQueue         PacketQueue
	Classifier          ExpiryClassifier
	Probes              ProbeSender
	EstablishedTimeout  TimeoutProvider
	TransitoryTimeout   TimeoutProvider
	Observer            Observer
}

// NewSessionTable creates an empty table wired to cfg's collaborators. A
// nil cfg.Observer is replaced with NoopObserver.
func NewSessionTable(cfg SessionTableConfig) *SessionTable {
	observer := cfg.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	t := &SessionTable{
		tree6:      NewOrderedIndex(func(a, b *SessionEntry) bool { return less6(a, b) }),
		tree4:      NewOrderedIndex(func(a, b *SessionEntry) bool { return less4(a, b) }),
		allowIndex: make(map[allowKey]int),
		proto:      cfg.Proto,
		logChanges: cfg.LogChanges,
		logger:     cfg.Logger,
		pktqueue:   cfg.PacketQueue,
		observer:   observer,
	}
	t.established = newExpirer(ExpiryEstablished, t, cfg.Classifier, cfg.Probes, cfg.EstablishedTimeout, cfg.Logger)
	t.transitory = newExpirer(ExpiryTransitory, t, cfg.Classifier, cfg.Probes, cfg.TransitoryTimeout, cfg.Logger)
	return t
}

func less6(a, b *SessionEntry) bool {
	if c := a.Local6.Compare(b.Local6); c != 0 {
		return c < 0
	}
	return a.Remote6.Compare(b.Remote6) < 0
}

func less4(a, b *SessionEntry) bool {
	if c := a.Local4.Compare(b.Local4); c != 0 {
		return c < 0
	}
	return a.Remote4.Compare(b.Remote4) < 0
}

// Lookup finds a session by its v6 or v4 4-tuple key, incrementing its
// refcount before returning (§4.3).
func (t *SessionTable) Lookup(tuple SessionLookupTuple) (*SessionEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tuple.IsV6 {
		probe := &SessionEntry{Local6: tuple.Dst, Remote6: tuple.Src}
		e, ok := t.tree6.Find(probe)
		if !ok {
			return nil, ErrNotFound
		}
		e.hold()
		return e, nil
	}

	probe := &SessionEntry{Local4: tuple.Dst, Remote4: tuple.Src}
	e, ok := t.tree4.Find(probe)
	if !ok {
		return nil, ErrNotFound
	}
	e.hold()
	return e, nil
}

// Allow reports whether any session exists with the given local4 and
// remote4's L3 address, ignoring remote4's port entirely (endpoint-
// independent filtering, §3/§8 seed scenario 6).
func (t *SessionTable) Allow(local4 TAddr, remote4L3 netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.allowIndex[allowKey{Local4: local4, RemoteL3: remote4L3}]
	return ok && n > 0
}

// Add inserts session into both trees and attaches it to the established
// or transitory expirer, per §4.3. The sequence matches spec's step
// ordering exactly: pktqueue discard first, two-phase tree insert with
// v6-only rollback on a v4 collision, attach to the chosen expirer, bump
// the database's own hold and the table count, then — outside the lock —
// commit the timer if it was not already pending.
func (t *SessionTable) Add(ctx context.Context, session *SessionEntry, established bool) error {
	tuple := Tuple4{Local: session.Local4, Remote: session.Remote4}
	if err := t.pktqueue.Remove(ctx, tuple); err != nil {
		return fmt.Errorf("session add: %w: %w", ErrPktQueueBusy, err)
	}

	t.mu.Lock()

	if _, ok := t.tree6.InsertUnique(session); !ok {
		t.mu.Unlock()
		return fmt.Errorf("session add: v6 tuple: %w", ErrAlreadyExists)
	}

	if _, ok := t.tree4.InsertUnique(session); !ok {
		t.tree6.Erase(session)
		t.mu.Unlock()
		return fmt.Errorf("session add: v4 tuple: %w", ErrAlreadyExists)
	}

	t.bumpAllowLocked(session, 1)

	target := t.transitory
	if established {
		target = t.established
	}

	now := time.Now()
	commitNeeded := t.setTimerLocked(session, now, target)

	session.hold() // database's own hold, distinct from the creator's transient hold
	t.count.Add(1)
	t.observer.SessionAdded(t.proto)

	if t.logChanges {
		t.logger.Info("Added session",
			slog.String("local4", formatTAddr(session.Local4)),
			slog.String("remote4", formatTAddr(session.Remote4)),
			slog.String("proto", t.proto.String()),
			slog.String("class", target.class.String()),
		)
	}

	t.mu.Unlock()

	target.commit(commitNeeded)
	return nil
}

// Refresh re-arms session's position via set_timer (§4.4) without touching
// either tree: the translator's state machine calls this on every packet
// that legitimately touches an already-indexed session, moving it to the
// tail of the chosen expiry class and preserving S2's non-decreasing
// update_time invariant. established selects established vs. transitory.
func (t *SessionTable) Refresh(session *SessionEntry, established bool) {
	t.mu.Lock()
	target := t.transitory
	if established {
		target = t.established
	}
	commitNeeded := t.setTimerLocked(session, time.Now(), target)
	t.mu.Unlock()

	target.commit(commitNeeded)
}

// setTimerLocked implements set_timer (§4.4): stamp update_time, unlink
// from whatever list the session is currently in, tail-append to target's
// list (preserving S2's non-decreasing invariant because now is
// monotonic), and point the session at its new expirer. Returns whether
// target's timer needs to be committed by the caller after unlocking —
// true iff it was not already pending.
func (t *SessionTable) setTimerLocked(s *SessionEntry, now time.Time, target *Expirer) bool {
	t.detachFromCurrentLocked(s)

	s.UpdateTime = now
	s.listElem = target.list.PushBack(s)
	s.expirerClass = target.class

	return target.pending.CompareAndSwap(false, true)
}

func (t *SessionTable) detachFromCurrentLocked(s *SessionEntry) {
	if s.listElem == nil {
		return
	}
	switch s.expirerClass {
	case ExpiryEstablished:
		t.established.list.Remove(s.listElem)
	case ExpiryTransitory:
		t.transitory.list.Remove(s.listElem)
	}
	s.listElem = nil
	s.expirerClass = ExpiryNone
}

func (t *SessionTable) bumpAllowLocked(s *SessionEntry, delta int) {
	key := allowKey{Local4: s.Local4, RemoteL3: s.Remote4.L3}
	n := t.allowIndex[key] + delta
	if n <= 0 {
		delete(t.allowIndex, key)
		return
	}
	t.allowIndex[key] = n
}

// exciseLocked removes s from both trees and its current expiry list,
// and decrements the table's count. It deliberately does not drop s's
// refcount: per §9's resolution of the open question, that is always the
// bulk-delete caller's job, performed after the lock is released.
func (t *SessionTable) exciseLocked(s *SessionEntry) {
	t.tree6.Erase(s)
	t.tree4.Erase(s)
	t.detachFromCurrentLocked(s)
	t.bumpAllowLocked(s, -1)
	t.count.Add(^uint64(0))
	t.observer.SessionRemoved(t.proto)

	if t.logChanges {
		t.logger.Info("Forgot session",
			slog.String("local4", formatTAddr(s.Local4)),
			slog.String("remote4", formatTAddr(s.Remote4)),
			slog.String("proto", t.proto.String()),
		)
	}
}

// Count returns the number of sessions currently indexed. Lock-free.
func (t *SessionTable) Count() uint64 { return t.count.Load() }

// Foreach walks tree4 in order, starting strictly after (offsetLocal,
// offsetRemote) if both are given, else from the beginning. fn may return
// false to stop iteration early.
func (t *SessionTable) Foreach(fn func(s *SessionEntry) bool, offsetLocal, offsetRemote *TAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cur *SessionEntry
	var ok bool
	if offsetLocal != nil && offsetRemote != nil {
		cur, ok = t.tree4.NextStrictlyAfter(&SessionEntry{Local4: *offsetLocal, Remote4: *offsetRemote})
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

// DeleteByBib excises every session whose Local4 equals bib.IPv4 (i.e.
// every session pinning this BIB binding), dropping each excised
// session's refcount after the lock is released (§4.3, §8 seed scenario
// 5). Returns the number of sessions removed.
func (t *SessionTable) DeleteByBib(bib *BibEntry) int {
	return t.deleteWhileLocal4(func(local4 TAddr) bool { return local4 == bib.IPv4 })
}

// DeleteByPrefix4 excises every session whose Local4 address falls within
// prefix, mirroring DeleteByBib but bounded by a CIDR range instead of an
// exact address.
func (t *SessionTable) DeleteByPrefix4(prefix netip.Prefix) int {
	return t.deleteWhileLocal4(func(local4 TAddr) bool { return Prefix4Contains(prefix, local4.L3) })
}

// deleteWhileLocal4 walks tree4 from its first entry whose Local4 matches
// match, excising every subsequent matching entry and stopping at the
// first one that doesn't — which is correct because tree4 orders by
// Local4 first, so matches are contiguous.
func (t *SessionTable) deleteWhileLocal4(match func(local4 TAddr) bool) int {
	t.mu.Lock()

	var excised []*SessionEntry
	cur, ok := t.tree4.First()
	for ok && !match(cur.Local4) {
		cur, ok = t.tree4.NextStrictlyAfter(cur)
	}

	for ok {
		next, hasNext := t.tree4.NextStrictlyAfter(cur)
		if !match(cur.Local4) {
			break
		}
		t.exciseLocked(cur)
		excised = append(excised, cur)
		cur, ok = next, hasNext
	}

	n := len(excised)
	t.mu.Unlock()

	for _, s := range excised {
		s.Put()
	}
	return n
}

// Flush excises every session, dropping refcounts after the lock is
// released. Returns the number of sessions removed.
func (t *SessionTable) Flush() int {
	t.mu.Lock()

	var excised []*SessionEntry
	cur, ok := t.tree4.First()
	for ok {
		next, hasNext := t.tree4.NextStrictlyAfter(cur)
		t.exciseLocked(cur)
		excised = append(excised, cur)
		cur, ok = next, hasNext
	}

	t.mu.Unlock()

	for _, s := range excised {
		s.Put()
	}
	return len(excised)
}

// UpdateTimers reschedules each expirer's timer for head.update_time +
// timeout() if its list is non-empty, or disarms it otherwise (§4.3).
// Called by the cleaner after processing one expiry pass, and available
// for administrative callers after a bulk configuration change.
func (t *SessionTable) UpdateTimers() {
	estAt, estArm := t.rearmTarget(t.established)
	transAt, transArm := t.rearmTarget(t.transitory)

	if estArm {
		t.established.arm(estAt)
	} else {
		t.established.disarm()
	}
	if transArm {
		t.transitory.arm(transAt)
	} else {
		t.transitory.disarm()
	}
}

func (t *SessionTable) rearmTarget(ex *Expirer) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	front := ex.list.Front()
	if front == nil {
		return time.Time{}, false
	}
	head := front.Value.(*SessionEntry) //nolint:forcetypeassert // list only ever holds *SessionEntry
	return head.UpdateTime.Add(ex.timeoutProvider.Timeout()), true
}
