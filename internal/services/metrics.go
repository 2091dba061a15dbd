package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// negotiationsTotal counts finished negotiations by kind and outcome.
	negotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transmission_negotiations_total",
			Help: "Finished transmission negotiations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// stagedDeletes counts staged payloads removed, by the path that removed them.
	stagedDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transmission_staged_deletes_total",
			Help: "Staged transmissions deleted, by reason.",
		},
		[]string{"kind", "reason"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transmission_upload_size_bytes",
			Help:    "Size of accepted file uploads.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10), // 1KiB..256MiB
		},
	)
)

func init() {
	prometheus.MustRegister(negotiationsTotal, stagedDeletes, uploadBytes)
}
