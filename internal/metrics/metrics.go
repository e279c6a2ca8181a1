package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated registry served on /metrics by both binaries.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_http_requests_total", Help: "HTTP requests by route and status."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "freightdesk_http_request_duration_seconds", Help: "HTTP request duration.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// Orchestrations counts finished orchestrations; stage is "done" or the stage that aborted.
	Orchestrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_orchestrations_total", Help: "Trip orchestrations by outcome and stage."},
		[]string{"outcome", "stage"},
	)
	OrchestrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "freightdesk_orchestration_duration_seconds", Help: "End-to-end orchestration duration.", Buckets: prometheus.DefBuckets},
	)
	CompensationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_compensation_failures_total", Help: "Failed compensation steps."},
		[]string{"step"},
	)

	AvailabilityConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_availability_conflicts_total", Help: "Availability conflicts by resource kind and reason."},
		[]string{"kind", "reason"},
	)
	ClassifiedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_classified_items_total", Help: "Cargo line items by provenance and confidence."},
		[]string{"provenance", "confidence"},
	)

	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "freightdesk_audit_write_failures_total", Help: "Audit events that could not be stored."},
	)
	RelayPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_relay_events_total", Help: "Audit relay publish attempts by result."},
		[]string{"result"},
	)

	NotifierDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_notifier_deliveries_total", Help: "Advisory deliveries by result."},
		[]string{"result"},
	)
	WaybillStatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freightdesk_waybill_status_updates_total", Help: "Waybill status messages by result."},
		[]string{"result"},
	)
)

var regOnce sync.Once

// Register adds every collector to Registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			Orchestrations,
			OrchestrationDuration,
			CompensationFailures,
			AvailabilityConflicts,
			ClassifiedItems,
			AuditWriteFailures,
			RelayPublished,
			NotifierDeliveries,
			WaybillStatusUpdates,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
