package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AnalysisMetrics instruments the ledger processing pipeline.
type AnalysisMetrics struct {
	// Counts of performed actions, partitioned by action kind and status.
	actions *prometheus.CounterVec

	// Latencies of performing a single action.
	actionLatencies *prometheus.HistogramVec

	// Counts of blocks applied to storage.
	blocks prometheus.Counter

	// Counts of chain-state snapshots written.
	snapshots prometheus.Counter

	// Counts of contract event decode attempts, partitioned by status.
	contractDecodes *prometheus.CounterVec

	// Counts of bulk-reconciled accounts, partitioned by outcome.
	reconciledAccounts *prometheus.CounterVec
}

// NewDefaultAnalysisMetrics creates Prometheus metric instrumentation for
// the named analyzer.
func NewDefaultAnalysisMetrics(analyzer string) AnalysisMetrics {
	constLabels := prometheus.Labels{"analyzer": analyzer}
	m := AnalysisMetrics{
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_actions",
				Help:        "How many actions were performed, partitioned by kind and status.",
				ConstLabels: constLabels,
			},
			[]string{"kind", "status"}, // Labels.
		),
		actionLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "ledger_action_latencies",
				Help:        "How long performing an action takes, partitioned by kind.",
				ConstLabels: constLabels,
			},
			[]string{"kind"}, // Labels.
		),
		blocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "ledger_blocks_processed",
				Help:        "How many blocks were applied to storage.",
				ConstLabels: constLabels,
			},
		),
		snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "ledger_chain_state_snapshots",
				Help:        "How many chain-state checkpoints were written.",
				ConstLabels: constLabels,
			},
		),
		contractDecodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_contract_event_decodes",
				Help:        "How many contract events were decoded, partitioned by status.",
				ConstLabels: constLabels,
			},
			[]string{"status"}, // Labels.
		),
		reconciledAccounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_reconciled_accounts",
				Help:        "How many accounts the bulk reconciler handled, partitioned by outcome (upserted, removed, skipped).",
				ConstLabels: constLabels,
			},
			[]string{"outcome"}, // Labels.
		),
	}
	m.actions = registerOnce(m.actions).(*prometheus.CounterVec)
	m.actionLatencies = registerOnce(m.actionLatencies).(*prometheus.HistogramVec)
	m.blocks = registerOnce(m.blocks).(prometheus.Counter)
	m.snapshots = registerOnce(m.snapshots).(prometheus.Counter)
	m.contractDecodes = registerOnce(m.contractDecodes).(*prometheus.CounterVec)
	m.reconciledAccounts = registerOnce(m.reconciledAccounts).(*prometheus.CounterVec)
	return m
}

// Actions returns the counter for performed actions of the given kind.
func (m *AnalysisMetrics) Actions(kind string, status string) prometheus.Counter {
	return m.actions.WithLabelValues(kind, status)
}

// ActionLatencies returns a new latency timer for an action of the given kind.
func (m *AnalysisMetrics) ActionLatencies(kind string) *prometheus.Timer {
	return prometheus.NewTimer(m.actionLatencies.WithLabelValues(kind))
}

func (m *AnalysisMetrics) Blocks() prometheus.Counter {
	return m.blocks
}

func (m *AnalysisMetrics) Snapshots() prometheus.Counter {
	return m.snapshots
}

// ContractDecodes returns the counter for contract event decodes with the
// given status ("success" or "failure").
func (m *AnalysisMetrics) ContractDecodes(status string) prometheus.Counter {
	return m.contractDecodes.WithLabelValues(status)
}

// ReconciledAccounts returns the counter for bulk-reconciled accounts.
func (m *AnalysisMetrics) ReconciledAccounts(outcome string) prometheus.Counter {
	return m.reconciledAccounts.WithLabelValues(outcome)
}
