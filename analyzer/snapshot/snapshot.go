// Package snapshot implements the chain-state checkpoint gate.
//
// Checkpoints are driven by on-chain block timestamps only. The watermark is
// the timestamp of the last written ChainState row; a new row is written
// once a block is more than one period past it.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// Snapshotter owns the watermark. It is not safe for concurrent use; the
// single processing worker is its only writer.
type Snapshotter struct {
	period    time.Duration
	watermark time.Time

	logger  *log.Logger
	metrics *metrics.AnalysisMetrics
}

// New returns a snapshotter with a zero watermark. Call Init before use.
func New(period time.Duration, logger *log.Logger, m *metrics.AnalysisMetrics) *Snapshotter {
	return &Snapshotter{
		period:  period,
		logger:  logger,
		metrics: m,
	}
}

// Init loads the watermark from the latest persisted ChainState. With no
// checkpoint in the store the watermark stays zero and is seeded from the
// first observed block.
func (s *Snapshotter) Init(ctx context.Context, store storage.LedgerStore) error {
	latest, err := store.LatestChainState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.watermark = time.Time{}
	case err != nil:
		return fmt.Errorf("loading latest chain state: %w", err)
	default:
		s.watermark = latest.Timestamp
	}
	s.logger.Info("initialized chain state watermark", "watermark", s.watermark, "period", s.period)
	return nil
}

// Reset re-reads the watermark, discarding any advance made by a batch that
// was rolled back.
func (s *Snapshotter) Reset(ctx context.Context, store storage.LedgerStore) error {
	return s.Init(ctx, store)
}

// Watermark returns the timestamp of the last checkpoint.
func (s *Snapshotter) Watermark() time.Time {
	return s.watermark
}

// Due reports whether a block at ts closes the current window.
func (s *Snapshotter) Due(ts time.Time) bool {
	if s.watermark.IsZero() {
		return false
	}
	return ts.Sub(s.watermark) > s.period
}

// Observe writes a ChainState stamped with the block's timestamp and height
// if the window has elapsed, and advances the watermark. It returns whether
// a checkpoint was written.
func (s *Snapshotter) Observe(ctx context.Context, store storage.LedgerStore, hdr *storage.BlockHeader) (bool, error) {
	if s.watermark.IsZero() {
		s.watermark = hdr.Timestamp
		return false, nil
	}
	if !s.Due(hdr.Timestamp) {
		return false, nil
	}

	counters, err := store.ChainStateCounters(ctx)
	if err != nil {
		return false, fmt.Errorf("aggregating chain state: %w", err)
	}
	cs := &storage.ChainState{
		Timestamp:          hdr.Timestamp,
		BlockNumber:        hdr.Height,
		ChainStateCounters: *counters,
	}
	if err := store.InsertChainState(ctx, cs); err != nil {
		return false, fmt.Errorf("inserting chain state at height %d: %w", hdr.Height, err)
	}
	s.watermark = hdr.Timestamp
	if s.metrics != nil {
		s.metrics.Snapshots().Inc()
	}
	s.logger.Info("wrote chain state",
		"height", hdr.Height,
		"timestamp", hdr.Timestamp,
		"token_holders", counters.TokenHolders,
		"identities", counters.IdentityCount,
	)
	return true, nil
}
