package engine

import (
	"context"
	"time"
)

// PacketQueue models the pending-SYN queue (pktqueue), an external
// collaborator the core only ever calls into with "drop any queued packet
// for this session" before admitting a new session. The core never
// enqueues; that direction is entirely owned by the translator.
type PacketQueue interface {
	// Remove discards any packet queued for the session about to be
	// admitted. Synchronous; a non-nil error aborts SessionTable.Add with
	// ErrPktQueueBusy.
	Remove(ctx context.Context, t Tuple4) error
}

// NoopPacketQueue is a PacketQueue that never has anything queued. It is
// the natural stand-in when the pending-SYN queue is out of scope, and
// doubles as the default test double.
type NoopPacketQueue struct{}

// Remove always succeeds.
func (NoopPacketQueue) Remove(context.Context, Tuple4) error { return nil }

// Verdict is the classifier's decision about an expired session.
type Verdict int

const (
	// VerdictDie means the session is destroyed immediately.
	VerdictDie Verdict = iota
	// VerdictProbe means the session is given one more chance: it moves
	// to the transitory expirer and a probe packet is sent.
	VerdictProbe
	// VerdictKeep means the session is not actually expired yet and
	// should be left exactly where it is (used by classifiers that want
	// to veto an expiry decided purely by update_time).
	VerdictKeep
)

// ExpiryClassifier is the opaque TCP-state classifier supplied by the
// translator (on_expire in §4.4/§6). It decides, for an expired session,
// whether it dies or is moved to the transitory class pending a probe.
// It runs with the owning table's lock held and must not call back into
// any SessionTable operation other than the package-internal primitives
// the Expirer itself uses.
type ExpiryClassifier interface {
	Classify(s *SessionEntry) Verdict
}

// FuncClassifier adapts a plain function to ExpiryClassifier.
type FuncClassifier func(s *SessionEntry) Verdict

// Classify calls f.
func (f FuncClassifier) Classify(s *SessionEntry) Verdict { return f(s) }

// AlwaysDie is the trivial classifier: every expired session dies. Useful
// for UDP/ICMP sessions, which have no TCP state machine to consult.
var AlwaysDie ExpiryClassifier = FuncClassifier(func(*SessionEntry) Verdict { return VerdictDie })

// ProbeSender emits a probe packet for a session that survived expiry by
// moving to the transitory class. Called outside the table lock by the
// cleaner timer.
type ProbeSender interface {
	SendProbe(s *SessionEntry)
}

// NoopProbeSender drops probe requests. Suitable for protocols (UDP,
// ICMP) that never probe, and for tests.
type NoopProbeSender struct{}

// SendProbe does nothing.
func (NoopProbeSender) SendProbe(*SessionEntry) {}

// TimeoutProvider returns the current timeout for an expiry class. Pure;
// may read live configuration. Read fresh on every expiry pass so a
// configuration change takes effect on the next firing.
type TimeoutProvider interface {
	Timeout() time.Duration
}

// StaticTimeout is a TimeoutProvider backed by a value that can be updated
// concurrently (e.g. by a configuration reload), read via an atomic load.
type StaticTimeout struct {
	d atomicDuration
}

// NewStaticTimeout creates a StaticTimeout initialized to d.
func NewStaticTimeout(d time.Duration) *StaticTimeout {
	st := &StaticTimeout{}
	st.Set(d)
	return st
}

// Timeout returns the current timeout value.
func (s *StaticTimeout) Timeout() time.Duration { return s.d.Load() }

// Set updates the timeout value; safe for concurrent use with Timeout.
func (s *StaticTimeout) Set(d time.Duration) { s.d.Store(d) }
