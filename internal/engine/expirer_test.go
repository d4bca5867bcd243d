package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/nat64stated/internal/engine"
)

// addSession builds and adds a pinned dynamic session under local4/remote4,
// dropping the creator's transient hold once Add succeeds.
func addSession(t *testing.T, tables *engine.ProtoTables, local4, remote4 engine.TAddr) *engine.SessionEntry {
	t.Helper()
	bib, err := tables.Bib.Lookup4(local4)
	if err != nil {
		bib = engine.NewBibEntry(taddr(t, "2001:db8::1", local4.Port), local4, engine.ProtoTCP, false, nil)
		if err := tables.Bib.Add(bib, nil); err != nil {
			t.Fatalf("Add(bib) = %v", err)
		}
		bib, err = tables.Bib.Lookup4(local4)
		if err != nil {
			t.Fatalf("Lookup4(bib) = %v", err)
		}
	}
	session := engine.NewSessionEntry(
		taddr(t, "2001:db8::1", local4.Port), taddr(t, "2001:db8::2", remote4.Port),
		local4, remote4, engine.ProtoTCP, bib,
	)
	if err := tables.Sessions.Add(context.Background(), session, true); err != nil {
		t.Fatalf("Add(session) = %v", err)
	}
	session.Put()
	return session
}

// TestSessionExpiryOrdering is spec.md §8 seed scenario 3: refreshing a
// session moves it to the tail of its expiry list, so a later firing
// expires the entries that were never refreshed and spares the one that
// was, in list order.
func TestSessionExpiryOrdering(t *testing.T) {
	const timeout = 80 * time.Millisecond

	eng := engine.New(testLogger(), map[engine.L4Proto]engine.ProtoConfig{
		engine.ProtoTCP: {
			Classifier:         engine.AlwaysDie,
			PacketQueue:        engine.NoopPacketQueue{},
			Probes:             engine.NoopProbeSender{},
			EstablishedTimeout: engine.NewStaticTimeout(timeout),
			TransitoryTimeout:  engine.NewStaticTimeout(timeout),
		},
	})
	defer eng.Close()
	tables := eng.Tables(engine.ProtoTCP)

	a := addSession(t, tables, taddr(t, "192.0.2.1", 1), taddr(t, "198.51.100.1", 1))
	time.Sleep(10 * time.Millisecond)
	addSession(t, tables, taddr(t, "192.0.2.2", 1), taddr(t, "198.51.100.1", 1))
	time.Sleep(10 * time.Millisecond)
	addSession(t, tables, taddr(t, "192.0.2.3", 1), taddr(t, "198.51.100.1", 1))

	// Refresh A well before the others would expire, pushing it to the
	// tail of the established list (B, C, A).
	time.Sleep(30 * time.Millisecond)
	tables.Sessions.Refresh(a, true)

	// B and C's original deadlines pass first; A's refreshed deadline is
	// still well in the future, so it alone survives the pass.
	waitUntil(t, time.Second, func() bool { return tables.Sessions.Count() == 1 })

	remaining, err := tables.Sessions.Lookup(engine.SessionLookupTuple{IsV6: false, Dst: a.Local4, Src: a.Remote4})
	if err != nil {
		t.Fatalf("Lookup(A) after expiry pass = %v, want the refreshed session still present", err)
	}
	remaining.Put()
}

// TestSessionProbeThenDie is spec.md §8 seed scenario 4: an established
// session that the classifier moves to transitory gets one probe, and a
// second expiry of the transitory class with the same verdict kills it,
// releasing its BIB pin. If the BIB is dynamic and unpinned otherwise, the
// BIB itself is then freed.
func TestSessionProbeThenDie(t *testing.T) {
	const timeout = 40 * time.Millisecond

	var mu sync.Mutex
	firedOnce := false
	classifier := engine.FuncClassifier(func(s *engine.SessionEntry) engine.Verdict {
		mu.Lock()
		defer mu.Unlock()
		if !firedOnce {
			firedOnce = true
			return engine.VerdictProbe
		}
		return engine.VerdictDie
	})

	var probed sync.WaitGroup
	probed.Add(1)
	probes := probeFunc(func(*engine.SessionEntry) { probed.Done() })

	eng := engine.New(testLogger(), map[engine.L4Proto]engine.ProtoConfig{
		engine.ProtoTCP: {
			Classifier:         classifier,
			PacketQueue:        engine.NoopPacketQueue{},
			Probes:             probes,
			EstablishedTimeout: engine.NewStaticTimeout(timeout),
			TransitoryTimeout:  engine.NewStaticTimeout(timeout),
		},
	})
	defer eng.Close()
	tables := eng.Tables(engine.ProtoTCP)

	local4 := taddr(t, "192.0.2.5", 40000)
	bib := engine.NewBibEntry(taddr(t, "2001:db8::1", 1), local4, engine.ProtoTCP, false, nil)
	if err := tables.Bib.Add(bib, nil); err != nil {
		t.Fatalf("Add(bib) = %v", err)
	}
	held, err := tables.Bib.Lookup4(local4)
	if err != nil {
		t.Fatalf("Lookup4(bib) = %v", err)
	}
	session := engine.NewSessionEntry(taddr(t, "2001:db8::1", 1), taddr(t, "2001:db8::2", 1),
		local4, taddr(t, "198.51.100.1", 1), engine.ProtoTCP, held)
	if err := tables.Sessions.Add(context.Background(), session, true); err != nil {
		t.Fatalf("Add(session) = %v", err)
	}
	session.Put()

	waitForDone(t, 2*time.Second, &probed)

	// The probe verdict moves the session to transitory rather than
	// excising it: it must still be findable right after the probe fires.
	stillThere, err := tables.Sessions.Lookup(engine.SessionLookupTuple{
		IsV6: false, Dst: session.Local4, Src: session.Remote4,
	})
	if err != nil {
		t.Fatalf("Lookup() right after probe = %v, want the session still indexed", err)
	}
	stillThere.Put()

	waitUntil(t, 2*time.Second, func() bool { return tables.Sessions.Count() == 0 })

	bib.Put() // the table's own indexing hold
	if bib.Table() != nil {
		t.Error("dynamic bib with no remaining pins should have been freed")
	}
}

type probeFunc func(*engine.SessionEntry)

func (f probeFunc) SendProbe(s *engine.SessionEntry) { f(s) }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

func waitForDone(t *testing.T, timeout time.Duration, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for probe")
	}
}
