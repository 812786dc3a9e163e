package panel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starshop_panel_requests_total",
		Help: "Panel API calls by method and outcome classification.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starshop_panel_request_duration_seconds",
		Help:    "Panel API call duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
