package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "signature_coordinator"

var (
	requestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_created_total",
		Help:      "Signature requests created.",
	})

	signaturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "signatures_total",
		Help:      "Signatures received, by result.",
	}, []string{"result"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "submissions_total",
		Help:      "Forwarded transactions, by target and outcome.",
	}, []string{"target", "outcome"})

	submissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "submission_duration_seconds",
		Help:      "Time spent forwarding a signed transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"target"})

	requestsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_expired_total",
		Help:      "Signature requests that expired before they were sufficiently signed.",
	})
)

const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultLate      = "late"

	targetCallback = "callback"
	targetLedger   = "ledger"
)
