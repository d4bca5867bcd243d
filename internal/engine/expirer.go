package engine

import (
	"container/list"
	"log/slog"
	"sync/atomic"
	"time"
)

// minTimerSleep is a small floor on how soon a re-armed timer may fire,
// preventing tight re-fire loops when a timeout is configured close to
// zero (§4.4).
const minTimerSleep = 10 * time.Millisecond

// Expirer owns one class's intrusive time-ordered list (ESTABLISHED or
// TRANSITORY) and the single timer that drives its cleaner pass (§4.4).
type Expirer struct {
	class ExpiryClass
	list  *list.List
	table *SessionTable

	classifier ExpiryClassifier
	probes     ProbeSender
	timeoutProvider TimeoutProvider
	logger     *slog.Logger

	timer   *time.Timer
	pending atomic.Bool
}

func newExpirer(class ExpiryClass, table *SessionTable, classifier ExpiryClassifier, probes ProbeSender, timeout TimeoutProvider, logger *slog.Logger) *Expirer {
	return &Expirer{
		class:           class,
		list:            list.New(),
		table:           table,
		classifier:      classifier,
		probes:          probes,
		timeoutProvider: timeout,
		logger:          logger,
	}
}

// commit is commit_timer (§4.4): called outside the table lock, arms the
// timer at now + timeout() (floored at minTimerSleep) iff shouldArm is
// true, which is the value setTimerLocked returned while the lock was
// still held.
func (ex *Expirer) commit(shouldArm bool) {
	if !shouldArm {
		return
	}
	ex.arm(time.Now().Add(ex.timeoutProvider.Timeout()))
}

// arm schedules (or reschedules) the timer to fire at at, clamped to at
// least minTimerSleep from now, and marks the expirer pending. Must be
// called without the table lock held.
func (ex *Expirer) arm(at time.Time) {
	d := time.Until(at)
	if d < minTimerSleep {
		d = minTimerSleep
	}

	ex.pending.Store(true)
	if ex.timer == nil {
		ex.timer = time.AfterFunc(d, ex.fire)
		return
	}
	ex.timer.Reset(d)
}

// disarm stops the timer without scheduling a new firing.
func (ex *Expirer) disarm() {
	if ex.timer != nil {
		ex.timer.Stop()
	}
	ex.pending.Store(false)
}

// Stop cancels the timer synchronously, for use during table teardown
// (§5, Cancellation & timeouts): after this returns, no concurrent firing
// can be in flight, so entries may be freed without further coordination.
func (ex *Expirer) Stop() {
	if ex.timer != nil {
		ex.timer.Stop()
	}
}

// fire is cleaner_timer (§4.4): the heart of the expiry path.
func (ex *Expirer) fire() {
	timeout := ex.timeoutProvider.Timeout()
	ex.pending.Store(false)

	t := ex.table
	t.mu.Lock()

	var dead, probe []*SessionEntry
	now := time.Now()

	for {
		front := ex.list.Front()
		if front == nil {
			break
		}
		s := front.Value.(*SessionEntry) //nolint:forcetypeassert // list only ever holds *SessionEntry

		// S2 guarantees update_time is non-decreasing head to tail, so
		// once one entry isn't expired yet, none after it can be either.
		if s.UpdateTime.Add(timeout).After(now) {
			break
		}

		switch ex.classifier.Classify(s) {
		case VerdictDie:
			t.exciseLocked(s)
			t.observer.Expired(t.proto, ex.class)
			dead = append(dead, s)
		case VerdictProbe:
			// The classifier decides; the engine performs the mechanical
			// list move it implies, keeping the intrusive list internal
			// to the package instead of exposing it to the classifier.
			t.setTimerLocked(s, now, t.transitory)
			t.observer.Probed(t.proto, ex.class)
			probe = append(probe, s)
		case VerdictKeep:
			// The classifier vetoed an expiry decided by time alone.
			// Stop this pass rather than spin on the same head; the
			// translator is expected to eventually refresh it via
			// set_timer (SessionTable.Refresh; Add rejects an already
			// indexed session) to move it out of the expiry path.
			front = nil
		}
		if front == nil {
			break
		}
	}

	t.mu.Unlock()

	// A probed session stays indexed under its new (transitory) expirer, so
	// unlike the dead list its database hold is not dropped here — only a
	// session that is actually excised gives up that hold.
	for _, s := range probe {
		ex.probes.SendProbe(s)
	}
	for _, s := range dead {
		s.Put()
	}

	t.UpdateTimers()
}
