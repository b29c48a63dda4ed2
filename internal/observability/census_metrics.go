package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	censusRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aligncensus_census_requests_total",
			Help: "Total number of requests sent to the census API by kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	censusRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aligncensus_census_request_duration_seconds",
			Help:    "Census API request latency by kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aligncensus_validation_failures_total",
			Help: "Total number of rejected census queries by reason.",
		},
		[]string{"reason"},
	)
	alignedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aligncensus_aligned_rows_total",
			Help: "Total number of rows produced by dataset alignment.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		censusRequestsTotal,
		censusRequestDurationSeconds,
		validationFailuresTotal,
		alignedRowsTotal,
	)
}

// ObserveCensusRequest records one upstream call. A zero status means the
// request never produced a response.
func ObserveCensusRequest(kind string, status int, elapsed time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	censusRequestsTotal.WithLabelValues(kind, label).Inc()
	censusRequestDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func IncrementValidationFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	validationFailuresTotal.WithLabelValues(reason).Inc()
}

func AddAlignedRows(rows int) {
	if rows > 0 {
		alignedRowsTotal.Add(float64(rows))
	}
}
