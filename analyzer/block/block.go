// Package block implements the generic block based analyzer.
//
// Block based analyzer fetches contiguous batches of blocks from a block
// source and hands them to a BlockProcessor, strictly in height order.
package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oasisprotocol/nexus-ledger/analyzer"
	"github.com/oasisprotocol/nexus-ledger/analyzer/util"
	"github.com/oasisprotocol/nexus-ledger/config"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// BlockProcessor is the interface that block-based processors should implement to use them with the
// block based analyzer.
type BlockProcessor interface {
	// PreWork performs tasks that need to be done before the main processing loop starts.
	PreWork(ctx context.Context) error
	// ProcessBatch applies the provided blocks, in order, as one atomic unit
	// and records the last height as processed.
	//
	// Errors wrapping analyzer.ErrHalt stop the analyzer; any other error is
	// retried with backoff.
	ProcessBatch(ctx context.Context, blocks []*storage.Block) error
}

var _ analyzer.Analyzer = (*blockBasedAnalyzer)(nil)

type blockBasedAnalyzer struct {
	blockRange   config.BlockBasedAnalyzerConfig
	batchSize    uint64
	batchTimeout time.Duration
	analyzerName string

	processor BlockProcessor

	source storage.BlockSource
	target storage.TargetStorage
	logger *log.Logger
}

// nextHeight returns the first height that has not been processed yet.
func (b *blockBasedAnalyzer) nextHeight(ctx context.Context) (uint64, error) {
	processed, ok, err := b.target.ProcessedHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying processed height: %w", err)
	}
	if !ok || processed < b.blockRange.From {
		return b.blockRange.From, nil
	}
	return processed + 1, nil
}

// fetchBatch fetches the next batch of blocks, clamped to the configured range.
func (b *blockBasedAnalyzer) fetchBatch(ctx context.Context, from uint64) ([]*storage.Block, error) {
	latest, err := b.source.LatestBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying latest block height on source: %w", err)
	}
	to := latest
	if b.blockRange.To != 0 && b.blockRange.To < to {
		to = b.blockRange.To
	}
	if from > to {
		return nil, analyzer.ErrNoNewBlocks
	}
	blocks, err := b.source.Blocks(ctx, from, to, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetching blocks [%d, %d]: %w", from, to, err)
	}
	if len(blocks) == 0 {
		return nil, analyzer.ErrNoNewBlocks
	}
	prev := from - 1
	for i, blk := range blocks {
		if blk.Header.Height < from || blk.Header.Height > to || (i > 0 && blk.Header.Height <= prev) {
			return nil, fmt.Errorf("block source returned height %d out of order for range [%d, %d]", blk.Header.Height, from, to)
		}
		prev = blk.Header.Height
	}
	return blocks, nil
}

// Start starts the block analyzer.
func (b *blockBasedAnalyzer) Start(ctx context.Context) {
	// Run prework.
	if err := b.processor.PreWork(ctx); err != nil {
		b.logger.Error("prework failed", "err", err)
		return
	}

	// Start processing blocks.
	backoff, err := util.NewBackoff(
		100*time.Millisecond,
		6*time.Second, // cap the timeout at the expected block time
	)
	if err != nil {
		b.logger.Error("error configuring indexer backoff policy",
			"err", err.Error(),
		)
		return
	}

	for {
		select {
		case <-time.After(backoff.Timeout()):
			// Process another batch of blocks.
		case <-ctx.Done():
			b.logger.Warn("shutting down block analyzer", "reason", ctx.Err())
			return
		}

		from, err := b.nextHeight(ctx)
		if err != nil {
			b.logger.Error("failed to determine next height", "err", err)
			backoff.Failure()
			continue
		}
		// Stop processing if end height is set and was reached.
		if b.blockRange.To != 0 && from > b.blockRange.To {
			break
		}

		batchCtx, batchCtxCancel := context.WithTimeout(ctx, b.batchTimeout)
		blocks, err := b.fetchBatch(batchCtx, from)
		if err != nil {
			batchCtxCancel()
			if errors.Is(err, analyzer.ErrNoNewBlocks) {
				b.logger.Debug("no blocks to process", "from", from)
			} else {
				b.logger.Error("failed to fetch blocks", "from", from, "err", err)
			}
			backoff.Failure() // No blocks processed, increase the backoff timeout a bit.
			continue
		}

		last := blocks[len(blocks)-1].Header.Height
		b.logger.Info("processing batch", "from", from, "to", last, "blocks", len(blocks))
		err = b.processor.ProcessBatch(batchCtx, blocks)
		batchCtxCancel()
		if errors.Is(err, analyzer.ErrHalt) {
			b.logger.Error("processing halted", "from", from, "to", last, "err", err)
			return
		}
		if err != nil {
			b.logger.Error("error processing batch", "from", from, "to", last, "err", err)
			backoff.Failure()
			continue
		}
		backoff.Success()
		b.logger.Info("processed batch", "from", from, "to", last)
	}

	b.logger.Info(
		"finished processing all blocks in the configured range",
		"from", b.blockRange.From, "to", b.blockRange.To,
	)
}

// Name returns the name of the analyzer.
func (b *blockBasedAnalyzer) Name() string {
	return b.analyzerName
}

// NewAnalyzer returns a new block based analyzer for the provided block processor.
func NewAnalyzer(
	blockRange config.BlockBasedAnalyzerConfig,
	batchSize uint64,
	batchTimeout time.Duration,
	name string,
	processor BlockProcessor,
	source storage.BlockSource,
	target storage.TargetStorage,
	logger *log.Logger,
) (analyzer.Analyzer, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	return &blockBasedAnalyzer{
		blockRange:   blockRange,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		analyzerName: name,
		processor:    processor,
		source:       source,
		target:       target,
		logger:       logger.With("analyzer", name),
	}, nil
}
