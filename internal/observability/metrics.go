package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for NoteLedger.
type Metrics struct {
	// --- Commands ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	JournalSequence  prometheus.Gauge

	// --- Notes & yield ---
	NotesCreated    prometheus.Counter
	NotesFunded     prometheus.Counter
	YieldDeposits   prometheus.Counter
	ClaimsPaid      prometheus.Counter
	PayoutFailures  prometheus.Counter
	PayoutDuration  prometheus.Histogram
	InvariantAudits *prometheus.CounterVec

	// --- Ingestion ---
	IngestToApply     *prometheus.HistogramVec
	IngestParseErrors *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	ReplaySequenceGap     *prometheus.CounterVec

	// --- Persistence ---
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken      prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	SnapshotSizeBytes  prometheus.Gauge
	SnapshotLastSeq    prometheus.Gauge
	ReplayEntriesTotal prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Commands
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_commands_applied_total",
			Help: "Commands successfully applied",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_commands_rejected_total",
			Help: "Commands rejected (duplicate, validation, business rule, dependency)",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noteledger_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		JournalSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_journal_sequence",
			Help: "Last global journal sequence",
		}),

		// Notes & yield
		NotesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_notes_created_total",
			Help: "Notes created",
		}),

		NotesFunded: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_notes_funded_total",
			Help: "Notes that reached their goal",
		}),

		YieldDeposits: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_yield_deposits_total",
			Help: "Yield deposits absorbed",
		}),

		ClaimsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_claims_paid_total",
			Help: "Claims paid out",
		}),

		PayoutFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_payout_failures_total",
			Help: "Token transfers that failed during claim",
		}),

		PayoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "noteledger_payout_duration_seconds",
			Help:    "Claim duration including the token transfer",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		InvariantAudits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_invariant_audits_total",
			Help: "Full note audits run",
		}, []string{"result"}),

		// Ingestion
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noteledger_ingest_to_apply_seconds",
			Help:    "NATS receive to command applied",
			Buckets: ingestBuckets,
		}, []string{"command"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_ingest_parse_errors_total",
			Help: "Inbound messages that failed to parse",
		}, []string{"subject"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noteledger_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noteledger_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noteledger_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_publish_drops_total",
			Help: "Entries dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_persist_backpressure_total",
			Help: "Times a writer blocked on the persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/store)",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_dedup_tier2_errors_total",
			Help: "Store dedup lookups that failed",
		}),

		ReplaySequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_replay_sequence_gap_total",
			Help: "Per-note sequence gaps found during replay",
		}, []string{"note_id"}),

		// Persistence
		PersistEntriesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_persist_entries_written_total",
			Help: "Journal entries written to the store",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "noteledger_persist_batch_size",
			Help:    "Entries per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "noteledger_persist_batch_duration_seconds",
			Help:    "Store batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_persist_last_sequence",
			Help: "Highest persisted global sequence",
		}),

		// Snapshot & replay
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "noteledger_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "noteledger_replay_entries_total",
			Help: "Entries replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "noteledger_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// API
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "noteledger_api_requests_total",
			Help: "API requests",
		}, []string{"method", "code"}),

		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noteledger_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
