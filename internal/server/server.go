// Package server implements the nat64stated administrative HTTP API: a
// thin JSON adapter over internal/engine.Engine, in place of the
// protobuf/ConnectRPC transport the teacher used (no .proto definitions
// were retrieved alongside it; see DESIGN.md).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/dantte-lp/nat64stated/internal/engine"
	"github.com/dantte-lp/nat64stated/internal/ipset"
)

// Server is a thin adapter between the admin HTTP API and the engine.
// Each handler delegates to an Engine method; the only domain state the
// server itself holds is the administratively-configured host4_addr pool
// (pool), which DeleteInRange/DeleteByPrefix4 operate against.
type Server struct {
	eng    *engine.Engine
	pool   *ipset.Set
	logger *slog.Logger
}

// New constructs a Server and returns its http.Handler, mirroring the
// teacher's server.New(mgr, logger, opts...) shape minus the ConnectRPC
// option plumbing.
func New(eng *engine.Engine, logger *slog.Logger) http.Handler {
	s := &Server{
		eng:    eng,
		pool:   ipset.New(),
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/bib/{proto}", s.listBib)
	mux.HandleFunc("GET /v1/bib/{proto}/by-v6/{addr}", s.lookupBibV6)
	mux.HandleFunc("GET /v1/bib/{proto}/by-v4/{addr}", s.lookupBibV4)
	mux.HandleFunc("DELETE /v1/bib/{proto}/{addr4}", s.deleteBib)
	mux.HandleFunc("POST /v1/bib/{proto}/flush", s.flushBib)
	mux.HandleFunc("GET /v1/session/{proto}", s.listSessions)
	mux.HandleFunc("POST /v1/session/{proto}/flush", s.flushSessions)
	mux.HandleFunc("GET /v1/stats", s.stats)
	mux.HandleFunc("GET /v1/pool", s.listPool)
	mux.HandleFunc("POST /v1/pool", s.addPoolPrefix)
	mux.HandleFunc("POST /v1/pool/revoke/{proto}", s.revokePoolPrefix)

	return mux
}

// -------------------------------------------------------------------------
// JSON view types
// -------------------------------------------------------------------------

// bibView is the wire representation of a BIB entry.
type bibView struct {
	IPv6     string `json:"ipv6"`
	IPv4     string `json:"ipv4"`
	Proto    string `json:"proto"`
	IsStatic bool   `json:"is_static"`
	Refcount int32  `json:"refcount"`
}

func bibEntryToView(e *engine.BibEntry) bibView {
	return bibView{
		IPv6:     formatTAddr(e.IPv6),
		IPv4:     formatTAddr(e.IPv4),
		Proto:    e.Proto.String(),
		IsStatic: e.IsStatic,
		Refcount: e.Refcount(),
	}
}

// sessionView is the wire representation of a session entry.
type sessionView struct {
	Local6     string    `json:"local6"`
	Remote6    string    `json:"remote6"`
	Local4     string    `json:"local4"`
	Remote4    string    `json:"remote4"`
	Proto      string    `json:"proto"`
	State      byte      `json:"state"`
	UpdateTime time.Time `json:"update_time"`
	Expiry     string    `json:"expiry_class"`
}

func sessionEntryToView(s *engine.SessionEntry) sessionView {
	return sessionView{
		Local6:     formatTAddr(s.Local6),
		Remote6:    formatTAddr(s.Remote6),
		Local4:     formatTAddr(s.Local4),
		Remote4:    formatTAddr(s.Remote4),
		Proto:      s.Proto.String(),
		State:      s.State,
		UpdateTime: s.UpdateTime,
		Expiry:     s.ExpiryClass().String(),
	}
}

func formatTAddr(a engine.TAddr) string {
	if !a.L3.IsValid() {
		return ""
	}
	return netip.AddrPortFrom(a.L3, a.Port).String()
}

// statsView is the wire representation of Engine.Snapshot.
type statsView struct {
	Proto        string `json:"proto"`
	BibCount     uint64 `json:"bib_count"`
	SessionCount uint64 `json:"session_count"`
}

// -------------------------------------------------------------------------
// Handlers — BIB
// -------------------------------------------------------------------------

func (s *Server) listBib(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}

	var offset *engine.TAddr
	if raw := r.URL.Query().Get("offset"); raw != "" {
		ap, err := netip.ParseAddrPort(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: offset %q", ErrInvalidAddr, raw))
			return
		}
		offset = &engine.TAddr{L3: ap.Addr(), Port: ap.Port()}
	}

	views := make([]bibView, 0)
	tables.Bib.Foreach(func(e *engine.BibEntry) bool {
		views = append(views, bibEntryToView(e))
		return true
	}, offset)

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) lookupBibV6(w http.ResponseWriter, r *http.Request) {
	s.lookupBib(w, r, true)
}

func (s *Server) lookupBibV4(w http.ResponseWriter, r *http.Request) {
	s.lookupBib(w, r, false)
}

func (s *Server) lookupBib(w http.ResponseWriter, r *http.Request, v6 bool) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}

	addr, ok := parseTAddr(w, r.PathValue("addr"))
	if !ok {
		return
	}

	var entry *engine.BibEntry
	var err error
	if v6 {
		entry, err = tables.Bib.Lookup6(addr)
	} else {
		entry, err = tables.Bib.Lookup4(addr)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	defer entry.Put()

	writeJSON(w, http.StatusOK, bibEntryToView(entry))
}

func (s *Server) deleteBib(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}

	addr4, ok := parseTAddr(w, r.PathValue("addr4"))
	if !ok {
		return
	}

	entry, err := tables.Bib.Lookup4(addr4)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	removed := tables.Sessions.DeleteByBib(entry)
	tables.Bib.Remove(entry)
	entry.Put() // the lookup's transient hold
	entry.Put() // the table's own hold, now that it has been removed

	s.logger.Info("Deleted BIB entry via admin API",
		slog.String("ipv4", formatTAddr(addr4)),
		slog.Int("sessions_removed", removed))

	writeJSON(w, http.StatusOK, map[string]int{"sessions_removed": removed})
}

func (s *Server) flushBib(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}
	tables.Bib.Flush()
	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// Handlers — Sessions
// -------------------------------------------------------------------------

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}

	views := make([]sessionView, 0)
	tables.Sessions.Foreach(func(e *engine.SessionEntry) bool {
		views = append(views, sessionEntryToView(e))
		return true
	}, nil, nil)

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) flushSessions(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}
	n := tables.Sessions.Flush()
	writeJSON(w, http.StatusOK, map[string]int{"sessions_removed": n})
}

// -------------------------------------------------------------------------
// Handlers — pool
// -------------------------------------------------------------------------

// poolPrefixRequest is the request body for POST /v1/pool.
type poolPrefixRequest struct {
	Prefix string `json:"prefix"`
}

func (s *Server) listPool(w http.ResponseWriter, _ *http.Request) {
	prefixes := s.pool.Prefixes()
	views := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		views = append(views, p.String())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) addPoolPrefix(w http.ResponseWriter, r *http.Request) {
	var req poolPrefixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: decode body: %w", engine.ErrInvalid, err))
		return
	}

	prefix, err := netip.ParsePrefix(req.Prefix)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: prefix %q: %w", engine.ErrInvalid, req.Prefix, err))
		return
	}

	s.pool.Add(prefix)
	s.logger.Info("Added pool prefix", slog.String("prefix", prefix.String()))
	w.WriteHeader(http.StatusNoContent)
}

// revokePoolRequest is the request body for POST /v1/pool/revoke/{proto}.
type revokePoolRequest struct {
	Prefix  string `json:"prefix"`
	PortMin uint16 `json:"port_min"`
	PortMax uint16 `json:"port_max"`
}

// revokePoolPrefix drops the static pin on every BIB entry whose outside
// address falls within req.Prefix and whose port lies in
// [req.PortMin, req.PortMax], and excises every session whose outside
// address falls within req.Prefix whatever its port, mirroring
// a host4_addr pool shrink (SPEC_FULL.md's supplemented
// BibTable.DeleteInRange / SessionTable.DeleteByPrefix4 surface). The
// prefix's base address must already be covered by a registered pool
// entry, as a guard against revoking address space nat64stated was never
// told it owned.
func (s *Server) revokePoolPrefix(w http.ResponseWriter, r *http.Request) {
	tables, ok := s.tablesFor(w, r)
	if !ok {
		return
	}

	var req revokePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: decode body: %w", engine.ErrInvalid, err))
		return
	}

	prefix, err := netip.ParsePrefix(req.Prefix)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: prefix %q: %w", engine.ErrInvalid, req.Prefix, err))
		return
	}

	if !s.pool.Contains(prefix.Masked().Addr()) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: prefix %s is not in the configured pool", engine.ErrInvalid, prefix))
		return
	}

	portRange := engine.PortRange{Min: req.PortMin, Max: req.PortMax}
	tables.Bib.DeleteInRange(prefix, portRange)
	removed := tables.Sessions.DeleteByPrefix4(prefix)
	s.pool.Remove(prefix)

	s.logger.Info("Revoked pool prefix",
		slog.String("prefix", prefix.String()),
		slog.Int("sessions_removed", removed))

	writeJSON(w, http.StatusOK, map[string]int{"sessions_removed": removed})
}

// -------------------------------------------------------------------------
// Handlers — stats
// -------------------------------------------------------------------------

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	snaps := s.eng.Snapshot()
	views := make([]statsView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, statsView{
			Proto:        snap.Proto.String(),
			BibCount:     snap.BibCount,
			SessionCount: snap.SessionCount,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// -------------------------------------------------------------------------
// Shared helpers
// -------------------------------------------------------------------------

func (s *Server) tablesFor(w http.ResponseWriter, r *http.Request) (*engine.ProtoTables, bool) {
	proto, ok := parseProto(r.PathValue("proto"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ErrInvalidProto, r.PathValue("proto")))
		return nil, false
	}

	tables := s.eng.Tables(proto)
	if tables == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: protocol %s not configured", engine.ErrNotFound, proto))
		return nil, false
	}

	return tables, true
}

func parseProto(raw string) (engine.L4Proto, bool) {
	switch raw {
	case "tcp":
		return engine.ProtoTCP, true
	case "udp":
		return engine.ProtoUDP, true
	case "icmp":
		return engine.ProtoICMP, true
	default:
		return 0, false
	}
}

func parseTAddr(w http.ResponseWriter, raw string) (engine.TAddr, bool) {
	ap, err := netip.ParseAddrPort(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ErrInvalidAddr, raw))
		return engine.TAddr{}, false
	}
	return engine.TAddr{L3: ap.Addr(), Port: ap.Port()}, true
}

// writeEngineError maps an internal/engine sentinel error to the
// appropriate HTTP status, matching the teacher's mapManagerError.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrPktQueueBusy):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("encode response", slog.Any("error", err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
