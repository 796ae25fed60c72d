// Package metrics defines the Prometheus collectors for the sync platform
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	ShipmentsReconciled     *prometheus.CounterVec
	CustomersCreated        prometheus.Counter
	SupplierFetchesTotal    *prometheus.CounterVec
	CarrierFetchesTotal     *prometheus.CounterVec
	TrackingUpdatesApplied  *prometheus.CounterVec
	CompensationsTotal      prometheus.Counter
	InconsistentStatesTotal prometheus.Counter
	SessionsTotal           *prometheus.CounterVec
	JobsInFlight            prometheus.Gauge
	RefresherClaimedTotal   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		ShipmentsReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipments_reconciled_total",
				Help: "Shipments reconciled by outcome (created, updated, failed).",
			},
			[]string{"outcome"},
		),
		CustomersCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "customers_created_total",
				Help: "Guest customer records created during reconciliation.",
			},
		),
		SupplierFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_fetches_total",
				Help: "Supplier catalog fetches by status (ok, error).",
			},
			[]string{"status"},
		),
		CarrierFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_fetches_total",
				Help: "Carrier tracking fetches by status (ok, error, rate_limited).",
			},
			[]string{"status"},
		),
		TrackingUpdatesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracking_updates_applied_total",
				Help: "Tracking updates applied to packages by status (ok, error).",
			},
			[]string{"status"},
		),
		CompensationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracking_compensations_total",
				Help: "Compensating writes after a failed event insert.",
			},
		),
		InconsistentStatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inconsistent_states_total",
				Help: "Failed compensations leaving a package in an inconsistent state.",
			},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_sessions_total",
				Help: "Bulk sync sessions by final status (completed, failed).",
			},
			[]string{"status"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_jobs_in_flight",
				Help: "Bulk sync jobs currently running.",
			},
		),
		RefresherClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "refresher_claimed_total",
				Help: "Packages claimed by the tracking refresher.",
			},
		),
	}

	prometheus.MustRegister(
		m.ShipmentsReconciled,
		m.CustomersCreated,
		m.SupplierFetchesTotal,
		m.CarrierFetchesTotal,
		m.TrackingUpdatesApplied,
		m.CompensationsTotal,
		m.InconsistentStatesTotal,
		m.SessionsTotal,
		m.JobsInFlight,
		m.RefresherClaimedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
