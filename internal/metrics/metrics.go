// Package metrics declares the Prometheus instruments shared across the
// engine. All collectors register on the default registry through
// promauto and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VariantsCreated counts new variants by kind and origin (root or child).
	VariantsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_variants_created_total",
		Help: "Total variants created by entity kind and origin",
	}, []string{"kind", "origin"})

	// MutationsApplied counts applied mutations by kind and change type.
	MutationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_mutations_applied_total",
		Help: "Total applied mutations by entity kind and change type",
	}, []string{"kind", "change_type"})

	// MutationsNoop counts mutations suppressed because no tracked field changed.
	MutationsNoop = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_mutations_noop_total",
		Help: "Total mutations suppressed as no-ops by entity kind",
	}, []string{"kind"})

	// MutationConflicts counts mutations rejected by lock or version contention.
	MutationConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_mutation_conflicts_total",
		Help: "Total mutations rejected due to concurrent modification",
	}, []string{"kind"})

	// AuditRecordsWritten counts audit records by kind and change type.
	AuditRecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_audit_records_written_total",
		Help: "Total audit records written by entity kind and change type",
	}, []string{"kind", "change_type"})

	// Reverts counts applied reverts by kind.
	Reverts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_reverts_total",
		Help: "Total reverts applied by entity kind",
	}, []string{"kind"})

	// IngestRows counts processed ingestion rows by kind and outcome.
	IngestRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtdb_ingest_rows_total",
		Help: "Total ingestion rows processed by entity kind and outcome",
	}, []string{"kind", "result"})

	// HTTPRequestDuration tracks request latency by method, route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dtdb_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
