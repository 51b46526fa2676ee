package healthsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "codec",
		Name:      "records_decoded_total",
		Help:      "Records successfully decoded from device payloads, by record kind.",
	}, []string{"kind"})
	decodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "codec",
		Name:      "decode_failures_total",
		Help:      "Decode degradations (skipped or aborted units), by record kind and reason.",
	}, []string{"kind", "reason"})
	staleRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "stale_records_total",
		Help:      "Decoded records dropped for predating the device's last-connected time.",
	}, []string{"kind"})
	mergeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "store",
		Name:      "sample_merge_total",
		Help:      "Priority-merge outcomes for inserted samples.",
	}, []string{"outcome"})
	blobPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "stats",
		Name:      "blob_pushes_total",
		Help:      "Stat blob writes to the device, by protocol status.",
	}, []string{"status"})
	syncRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "requests_total",
		Help:      "Sync requests sent to the device, by request type.",
	}, []string{"type"})
	lastPersistedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "store",
		Name:      "last_sample_timestamp_seconds",
		Help:      "Unix timestamp of the most recent sample persisted.",
	})
)

func init() {
	prometheus.MustRegister(
		recordsDecoded,
		decodeFailures,
		staleRecords,
		mergeOutcomes,
		blobPushes,
		syncRequests,
		lastPersistedGauge,
	)
}

func recordDecoded(kind string, n int) {
	if n > 0 {
		recordsDecoded.WithLabelValues(kind).Add(float64(n))
	}
}

func recordDecodeFailure(kind, reason string) {
	decodeFailures.WithLabelValues(kind, reason).Inc()
}

func recordStale(kind string, n int) {
	if n > 0 {
		staleRecords.WithLabelValues(kind).Add(float64(n))
	}
}

func recordMerge(stats MergeStats) {
	if stats.Inserted > 0 {
		mergeOutcomes.WithLabelValues("inserted").Add(float64(stats.Inserted))
	}
	if stats.Replaced > 0 {
		mergeOutcomes.WithLabelValues("replaced").Add(float64(stats.Replaced))
	}
	if stats.Skipped > 0 {
		mergeOutcomes.WithLabelValues("skipped").Add(float64(stats.Skipped))
	}
}

func recordBlobPush(status string) {
	blobPushes.WithLabelValues(status).Inc()
}

func recordSyncRequest(kind string) {
	syncRequests.WithLabelValues(kind).Inc()
}

func recordPersistWatermark(ts int64) {
	if ts > 0 {
		lastPersistedGauge.Set(float64(ts))
	}
}
