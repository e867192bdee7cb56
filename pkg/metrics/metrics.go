// Package metrics exports QNS decision-engine state as Prometheus metrics:
// the current qualified network per (slot, apn), active restriction counts
// by type, publish/decision counters, and policy reload counts.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qns-project/qns-core/pkg"
)

// Registry holds every metric this process exports. A single instance is
// shared by every (slot, apn) Evaluator in the process.
type Registry struct {
	registry *prometheus.Registry

	publishesTotal   *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec
	decisionErrors   *prometheus.CounterVec
	activeRestricts  *prometheus.GaugeVec
	qualifiedNetwork *prometheus.GaugeVec
	policyReloads    prometheus.Counter
	decisionDuration *prometheus.HistogramVec
}

// NewRegistry creates and registers every metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		publishesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnsd",
			Name:      "publishes_total",
			Help:      "Total QualifiedNetworksChanged publishes, by slot and APN.",
		}, []string{"slot", "apn"}),
		decisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnsd",
			Name:      "decisions_total",
			Help:      "Total Evaluator decisions, by slot, APN, and decision type.",
		}, []string{"slot", "apn", "decision_type"}),
		decisionErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnsd",
			Name:      "decision_errors_total",
			Help:      "Total failed Evaluator decisions, by slot and APN.",
		}, []string{"slot", "apn"}),
		activeRestricts: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qnsd",
			Name:      "active_restrictions",
			Help:      "Currently active restrictions, by slot, APN, transport, and restriction type.",
		}, []string{"slot", "apn", "transport", "restrict_type"}),
		qualifiedNetwork: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qnsd",
			Name:      "qualified_network",
			Help:      "1 if access_network is in the last-published qualified network list for (slot, apn), else 0.",
		}, []string{"slot", "apn", "access_network"}),
		policyReloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "qnsd",
			Name:      "policy_reloads_total",
			Help:      "Total carrier-config policy asset reloads.",
		}),
		decisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qnsd",
			Name:      "decision_duration_seconds",
			Help:      "Evaluator decision processing latency, by decision type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"decision_type"}),
	}

	return r
}

// Handler returns the HTTP handler to mount at the metrics listener.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordPublish increments the publish counter for (slot, apn) and updates
// the qualified-network gauge set to reflect the newly published list. Any
// access network previously marked qualified for (slot, apn) but absent
// from networks is reset to 0 rather than left stale.
func (r *Registry) RecordPublish(slot int, apn pkg.ApnKind, networks []pkg.AccessNetworkKind) {
	slotLabel := slotLabel(slot)
	apnLabel := apn.String()

	r.publishesTotal.WithLabelValues(slotLabel, apnLabel).Inc()

	qualified := make(map[pkg.AccessNetworkKind]bool, len(networks))
	for _, n := range networks {
		qualified[n] = true
	}
	for _, n := range []pkg.AccessNetworkKind{
		pkg.AccessNetworkGERAN, pkg.AccessNetworkUTRAN, pkg.AccessNetworkEUTRAN,
		pkg.AccessNetworkNGRAN, pkg.AccessNetworkIWLAN,
	} {
		value := 0.0
		if qualified[n] {
			value = 1.0
		}
		r.qualifiedNetwork.WithLabelValues(slotLabel, apnLabel, n.String()).Set(value)
	}
}

// RecordDecision increments the decision counter for (slot, apn,
// decisionType) and, if success is false, the error counter too.
func (r *Registry) RecordDecision(slot int, apn pkg.ApnKind, decisionType string, success bool) {
	slotLabel := slotLabel(slot)
	apnLabel := apn.String()

	r.decisionsTotal.WithLabelValues(slotLabel, apnLabel, decisionType).Inc()
	if !success {
		r.decisionErrors.WithLabelValues(slotLabel, apnLabel).Inc()
	}
}

// ObserveDecisionDuration records how long a decision of decisionType took.
func (r *Registry) ObserveDecisionDuration(decisionType string, seconds float64) {
	r.decisionDuration.WithLabelValues(decisionType).Observe(seconds)
}

// SetRestriction sets the active-restriction gauge for one (slot, apn,
// transport, restrict_type) tuple: 1 while restricted, 0 once released.
func (r *Registry) SetRestriction(slot int, apn pkg.ApnKind, transport pkg.TransportKind, restrictType pkg.RestrictType, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	r.activeRestricts.WithLabelValues(slotLabel(slot), apn.String(), transport.String(), restrictType.String()).Set(value)
}

// RecordPolicyReload increments the policy-reload counter.
func (r *Registry) RecordPolicyReload() {
	r.policyReloads.Inc()
}

func slotLabel(slot int) string {
	return strconv.Itoa(slot)
}
