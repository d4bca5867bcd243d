package engine

import (
	"log/slog"
)

// ProtoTables bundles one protocol's BIB table and session table — the
// core's unit of lock granularity (§5: "one mutex per table", never two
// tables' locks held at once).
type ProtoTables struct {
	Bib      *BibTable
	Sessions *SessionTable
}

// Engine is the facade wiring one BibTable/SessionTable pair per L4Proto
// together behind a single value, per SPEC_FULL.md's engine facade
// module. It owns no translation logic; it only constructs and exposes
// the per-protocol table pairs and their aggregate counters.
type Engine struct {
	tables map[L4Proto]*ProtoTables
	logger *slog.Logger
}

// ProtoConfig configures one protocol's tables.
type ProtoConfig struct {
	LogChanges         bool
	Classifier         ExpiryClassifier
	PacketQueue        PacketQueue
	Probes             ProbeSender
	EstablishedTimeout TimeoutProvider
	TransitoryTimeout  TimeoutProvider

	// Observer receives counter events for this protocol's tables. Nil
	// falls back to NoopObserver.
	Observer Observer
}

// New constructs an Engine with one table pair per entry in protoCfgs.
func New(logger *slog.Logger, protoCfgs map[L4Proto]ProtoConfig) *Engine {
	e := &Engine{
		tables: make(map[L4Proto]*ProtoTables, len(protoCfgs)),
		logger: logger,
	}

	for proto, cfg := range protoCfgs {
		pktq := cfg.PacketQueue
		if pktq == nil {
			pktq = NoopPacketQueue{}
		}
		probes := cfg.Probes
		if probes == nil {
			probes = NoopProbeSender{}
		}
		classifier := cfg.Classifier
		if classifier == nil {
			classifier = AlwaysDie
		}
		observer := cfg.Observer
		if observer == nil {
			observer = NoopObserver{}
		}

		e.tables[proto] = &ProtoTables{
			Bib: NewBibTable(proto, cfg.LogChanges, logger, observer),
			Sessions: NewSessionTable(SessionTableConfig{
				Proto:              proto,
				LogChanges:         cfg.LogChanges,
				Logger:             logger,
				PacketQueue:        pktq,
				Classifier:         classifier,
				Probes:             probes,
				EstablishedTimeout: cfg.EstablishedTimeout,
				TransitoryTimeout:  cfg.TransitoryTimeout,
				Observer:           observer,
			}),
		}
	}

	return e
}

// Tables returns the BIB/session table pair for proto, or nil if that
// protocol was not configured.
func (e *Engine) Tables(proto L4Proto) *ProtoTables {
	return e.tables[proto]
}

// Protocols returns the set of protocols this engine was configured for.
func (e *Engine) Protocols() []L4Proto {
	out := make([]L4Proto, 0, len(e.tables))
	for p := range e.tables {
		out = append(out, p)
	}
	return out
}

// Close stops every expirer's timer synchronously, so no concurrent
// firing can be in flight once it returns (§5, Cancellation & timeouts).
func (e *Engine) Close() {
	for _, pt := range e.tables {
		pt.Sessions.established.Stop()
		pt.Sessions.transitory.Stop()
	}
}

// ProtoSnapshot is a point-in-time copy of one protocol's aggregate
// counters, safe to hand to callers without exposing live table pointers
// (the snapshot pattern the teacher used for session listings).
type ProtoSnapshot struct {
	Proto        L4Proto
	BibCount     uint64
	SessionCount uint64
}

// Snapshot returns a ProtoSnapshot for every configured protocol.
func (e *Engine) Snapshot() []ProtoSnapshot {
	out := make([]ProtoSnapshot, 0, len(e.tables))
	for proto, pt := range e.tables {
		out = append(out, ProtoSnapshot{
			Proto:        proto,
			BibCount:     pt.Bib.Count(),
			SessionCount: pt.Sessions.Count(),
		})
	}
	return out
}

// FlushAll flushes every protocol's BIB and session tables (administrative
// full reset of dynamic state's pins; dynamic BIB entries still drain via
// their sessions' own flush).
func (e *Engine) FlushAll() {
	for _, pt := range e.tables {
		pt.Sessions.Flush()
		pt.Bib.Flush()
	}
}
