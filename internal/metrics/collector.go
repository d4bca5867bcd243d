// Package nat64metrics exposes Prometheus instrumentation for the
// nat64stated BIB/session engine.
package nat64metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/nat64stated/internal/engine"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "nat64stated"
	subsystem = "engine"
)

// Label names for engine metrics.
const (
	labelProto = "proto"
	labelClass = "class"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Engine Metrics
// -------------------------------------------------------------------------

// Collector holds all nat64stated Prometheus metrics.
//
//   - BibEntries/Sessions gauges track current table sizes per protocol.
//   - Added/Removed counters track BIB and session churn per protocol.
//   - Expirations counts cleaner-timer verdicts per expiry class.
//   - ProbesSent counts probe verdicts handed to the ProbeSender.
//
// pktqueue.Remove calls are not counted.
type Collector struct {
	// BibEntries tracks the current number of BIB entries, per protocol.
	BibEntries *prometheus.GaugeVec

	// Sessions tracks the current number of sessions, per protocol.
	Sessions *prometheus.GaugeVec

	// BibAdded counts successful BibTable.Add calls, per protocol.
	BibAdded *prometheus.CounterVec

	// BibRemoved counts BibTable entry removals, per protocol.
	BibRemoved *prometheus.CounterVec

	// SessionsAdded counts successful SessionTable.Add calls, per protocol.
	SessionsAdded *prometheus.CounterVec

	// SessionsRemoved counts session removals, per protocol.
	SessionsRemoved *prometheus.CounterVec

	// Expirations counts VerdictDie outcomes from the expiry classifier,
	// labeled by protocol and expiry class (established/transitory).
	Expirations *prometheus.CounterVec

	// ProbesSent counts VerdictProbe outcomes handed to the ProbeSender,
	// labeled by protocol and expiry class.
	ProbesSent *prometheus.CounterVec
}

// NewCollector creates a Collector with all engine metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.BibEntries,
		c.Sessions,
		c.BibAdded,
		c.BibRemoved,
		c.SessionsAdded,
		c.SessionsRemoved,
		c.Expirations,
		c.ProbesSent,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protoLabels := []string{labelProto}
	classLabels := []string{labelProto, labelClass}

	return &Collector{
		BibEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bib_entries",
			Help:      "Number of currently active BIB entries, by protocol.",
		}, protoLabels),

		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active sessions, by protocol.",
		}, protoLabels),

		BibAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bib_added_total",
			Help:      "Total BIB entries successfully added, by protocol.",
		}, protoLabels),

		BibRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bib_removed_total",
			Help:      "Total BIB entries removed, by protocol.",
		}, protoLabels),

		SessionsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_added_total",
			Help:      "Total sessions successfully added, by protocol.",
		}, protoLabels),

		SessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_removed_total",
			Help:      "Total sessions removed, by protocol.",
		}, protoLabels),

		Expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expirations_total",
			Help:      "Total sessions expired (VerdictDie) by the cleaner timer, by protocol and expiry class.",
		}, classLabels),

		ProbesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probes_sent_total",
			Help:      "Total probe verdicts (VerdictProbe) handed to the probe sender, by protocol and expiry class.",
		}, classLabels),
	}
}

// -------------------------------------------------------------------------
// Table Size Gauges
// -------------------------------------------------------------------------

// SetBibEntries sets the current BIB entry count gauge for proto.
func (c *Collector) SetBibEntries(proto string, count float64) {
	c.BibEntries.WithLabelValues(proto).Set(count)
}

// SetSessions sets the current session count gauge for proto.
func (c *Collector) SetSessions(proto string, count float64) {
	c.Sessions.WithLabelValues(proto).Set(count)
}

// -------------------------------------------------------------------------
// BIB Churn
// -------------------------------------------------------------------------

// IncBibAdded increments the BIB-added counter for proto.
func (c *Collector) IncBibAdded(proto string) {
	c.BibAdded.WithLabelValues(proto).Inc()
}

// IncBibRemoved increments the BIB-removed counter for proto.
func (c *Collector) IncBibRemoved(proto string) {
	c.BibRemoved.WithLabelValues(proto).Inc()
}

// -------------------------------------------------------------------------
// Session Churn
// -------------------------------------------------------------------------

// IncSessionsAdded increments the sessions-added counter for proto.
func (c *Collector) IncSessionsAdded(proto string) {
	c.SessionsAdded.WithLabelValues(proto).Inc()
}

// IncSessionsRemoved increments the sessions-removed counter for proto.
func (c *Collector) IncSessionsRemoved(proto string) {
	c.SessionsRemoved.WithLabelValues(proto).Inc()
}

// -------------------------------------------------------------------------
// Expiry
// -------------------------------------------------------------------------

// IncExpirations increments the expirations counter for proto and class.
func (c *Collector) IncExpirations(proto, class string) {
	c.Expirations.WithLabelValues(proto, class).Inc()
}

// IncProbesSent increments the probes-sent counter for proto and class.
func (c *Collector) IncProbesSent(proto, class string) {
	c.ProbesSent.WithLabelValues(proto, class).Inc()
}

// -------------------------------------------------------------------------
// engine.Observer
// -------------------------------------------------------------------------
//
// Collector implements engine.Observer directly so it can be handed to
// engine.ProtoConfig.Observer and driven by the tables' own mutation
// points, rather than by a periodic poll of Engine.Snapshot.

func (c *Collector) BibAdded(proto engine.L4Proto)   { c.IncBibAdded(proto.String()) }
func (c *Collector) BibRemoved(proto engine.L4Proto) { c.IncBibRemoved(proto.String()) }

func (c *Collector) SessionAdded(proto engine.L4Proto)   { c.IncSessionsAdded(proto.String()) }
func (c *Collector) SessionRemoved(proto engine.L4Proto) { c.IncSessionsRemoved(proto.String()) }

func (c *Collector) Expired(proto engine.L4Proto, class engine.ExpiryClass) {
	c.IncExpirations(proto.String(), class.String())
}

func (c *Collector) Probed(proto engine.L4Proto, class engine.ExpiryClass) {
	c.IncProbesSent(proto.String(), class.String())
}
