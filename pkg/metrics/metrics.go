package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppended tracks events written to the queue by variant
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserx_events_appended_total",
			Help: "Total number of index events appended to the stream",
		},
		[]string{"kind"},
	)

	// AppendErrors tracks failed XADD calls
	AppendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_append_errors_total",
			Help: "Total number of failed stream appends",
		},
	)

	// StreamErrors tracks firehose receive/decode errors
	StreamErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_firehose_errors_total",
			Help: "Total number of firehose stream errors",
		},
	)

	CurrentSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserx_current_slot",
			Help: "Latest slot observed on the firehose",
		},
	)

	// SlotGaps counts slot updates that skipped at least one slot
	SlotGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_slot_gaps_total",
			Help: "Total number of slot updates that skipped ahead of the previous slot",
		},
	)

	EntriesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_entries_read_total",
			Help: "Total number of stream entries delivered to the persist consumer",
		},
	)

	// EntriesDropped tracks entries left pending because their payload did not decode
	EntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_entries_dropped_total",
			Help: "Total number of stream entries skipped because the payload failed to decode",
		},
	)

	EntriesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_entries_acked_total",
			Help: "Total number of stream entries acknowledged",
		},
	)

	EntriesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserx_entries_reclaimed_total",
			Help: "Total number of idle pending entries claimed by the reaper",
		},
	)

	PendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserx_pending_entries",
			Help: "Delivered but unacknowledged entries in the consumer group",
		},
	)

	// RowsFlushed tracks rows upserted per table
	RowsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserx_rows_flushed_total",
			Help: "Total number of rows upserted into storage",
		},
		[]string{"table"},
	)

	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geyserx_flush_duration_seconds",
			Help:    "Batch flush latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	FlushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserx_flush_failures_total",
			Help: "Total number of failed batch flushes",
		},
		[]string{"table"},
	)
)
