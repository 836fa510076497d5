// Package mastermetrics exposes Prometheus instrumentation for the master
// server: connection counts, session registrations, command traffic, and
// penalty enforcement.
package mastermetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "planetd"
	subsystem = "master"
)

// Label names for master server metrics.
const (
	labelCommand = "command"
	labelReason  = "reason"
	labelWorker  = "worker"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Master Server Metrics
// -------------------------------------------------------------------------

// Collector holds all master server Prometheus metrics.
//
//   - ConnectedClients/RegisteredSessions track live registry occupancy.
//   - CommandsReceived counts inbound commands by letter for traffic shape.
//   - Disconnects counts connection teardowns labeled by reason.
//   - PenaltyTrips counts rate-limit enforcement actions.
//   - WorkerLoad gauges per-worker connection counts for dispatch visibility.
//   - InviteRelays counts successful session-invite relays.
type Collector struct {
	// ConnectedClients tracks the number of currently connected clients.
	ConnectedClients prometheus.Gauge

	// RegisteredSessions tracks the number of currently registered sessions.
	RegisteredSessions prometheus.Gauge

	// CommandsReceived counts inbound commands, labeled by command letter
	// (e.g. "G", "R", "N", "m", "C", "M", "P", "S", "K", "X").
	CommandsReceived *prometheus.CounterVec

	// Disconnects counts connection teardowns, labeled by reason
	// (e.g. "client_quit", "penalty", "malformed", "max_clients",
	// "blacklisted", "max_per_ip").
	Disconnects *prometheus.CounterVec

	// PenaltyTrips counts the number of times a client crossed the penalty
	// threshold and an enforcement action was taken.
	PenaltyTrips prometheus.Counter

	// WorkerLoad gauges the number of connections assigned to each worker,
	// labeled by worker index.
	WorkerLoad *prometheus.GaugeVec

	// InviteRelays counts successful invite ("X" command) messages
	// forwarded between clients.
	InviteRelays prometheus.Counter
}

// NewCollector creates a Collector with all master server metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ConnectedClients,
		c.RegisteredSessions,
		c.CommandsReceived,
		c.Disconnects,
		c.PenaltyTrips,
		c.WorkerLoad,
		c.InviteRelays,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected_clients",
			Help:      "Number of currently connected clients.",
		}),

		RegisteredSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registered_sessions",
			Help:      "Number of currently registered sessions.",
		}),

		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_received_total",
			Help:      "Total commands received, labeled by command letter.",
		}, []string{labelCommand}),

		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "disconnects_total",
			Help:      "Total client disconnects, labeled by reason.",
		}, []string{labelReason}),

		PenaltyTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "penalty_trips_total",
			Help:      "Total times a client's penalty score crossed the enforcement threshold.",
		}),

		WorkerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_load",
			Help:      "Number of connections assigned to each worker, labeled by worker index.",
		}, []string{labelWorker}),

		InviteRelays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invite_relays_total",
			Help:      "Total session invite messages relayed between clients.",
		}),
	}
}

// -------------------------------------------------------------------------
// Registry Occupancy
// -------------------------------------------------------------------------

// IncConnectedClients increments the connected clients gauge.
func (c *Collector) IncConnectedClients() {
	c.ConnectedClients.Inc()
}

// DecConnectedClients decrements the connected clients gauge.
func (c *Collector) DecConnectedClients() {
	c.ConnectedClients.Dec()
}

// IncRegisteredSessions increments the registered sessions gauge.
func (c *Collector) IncRegisteredSessions() {
	c.RegisteredSessions.Inc()
}

// DecRegisteredSessions decrements the registered sessions gauge.
func (c *Collector) DecRegisteredSessions() {
	c.RegisteredSessions.Dec()
}

// -------------------------------------------------------------------------
// Command Traffic
// -------------------------------------------------------------------------

// IncCommandReceived increments the per-letter command counter.
func (c *Collector) IncCommandReceived(command string) {
	c.CommandsReceived.WithLabelValues(command).Inc()
}

// IncDisconnect increments the disconnect counter for the given reason.
func (c *Collector) IncDisconnect(reason string) {
	c.Disconnects.WithLabelValues(reason).Inc()
}

// -------------------------------------------------------------------------
// Penalty Enforcement
// -------------------------------------------------------------------------

// IncPenaltyTrip increments the penalty trip counter.
func (c *Collector) IncPenaltyTrip() {
	c.PenaltyTrips.Inc()
}

// -------------------------------------------------------------------------
// Dispatch
// -------------------------------------------------------------------------

// SetWorkerLoad sets the connection-count gauge for the given worker index.
func (c *Collector) SetWorkerLoad(worker string, load float64) {
	c.WorkerLoad.WithLabelValues(worker).Set(load)
}

// IncInviteRelay increments the invite relay counter.
func (c *Collector) IncInviteRelay() {
	c.InviteRelays.Inc()
}
