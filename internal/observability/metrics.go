// Package observability exposes the relay's Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activity_relay"

var (
	eventOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Activity events by terminal outcome and reason.",
	}, []string{"outcome", "reason"})
	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "token_refreshes_total",
		Help:      "Access token refresh attempts by result.",
	}, []string{"result"})
	authorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "authorizations_total",
		Help:      "Completed authorization callbacks by result.",
	}, []string{"result"})
	credentialUpsertGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "last_credential_upserted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent credential written to the store.",
	})
	outboundDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbound",
		Name:      "request_duration_seconds",
		Help:      "Latency of calls to the activity provider and messaging service.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	dispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "dispatch_failures_total",
		Help:      "Notifications the messaging service did not accept.",
	})
)

func init() {
	prometheus.MustRegister(eventOutcomes, tokenRefreshes, authorizations, credentialUpsertGauge, outboundDuration, dispatchFailures)
}

// RecordEventOutcome counts a processed event.
func RecordEventOutcome(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	eventOutcomes.WithLabelValues(outcome, reason).Inc()
}

// RecordTokenRefresh counts a refresh attempt.
func RecordTokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordAuthorization counts an authorization callback.
func RecordAuthorization(result string) {
	authorizations.WithLabelValues(result).Inc()
}

// RecordCredentialUpserted updates the credential write watermark gauge.
func RecordCredentialUpserted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	credentialUpsertGauge.Set(float64(ts.Unix()))
}

// ObserveOutbound records the latency of an outbound call.
func ObserveOutbound(operation string, d time.Duration) {
	outboundDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDispatchFailure counts a rejected or failed notification.
func RecordDispatchFailure() {
	dispatchFailures.Inc()
}
