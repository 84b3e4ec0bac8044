// Package ledger implements the ledger analyzer: it turns blocks into
// actions, applies them and maintains the periodic chain-state checkpoints.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/analyzer"
	"github.com/oasisprotocol/nexus-ledger/analyzer/action"
	"github.com/oasisprotocol/nexus-ledger/analyzer/balances"
	"github.com/oasisprotocol/nexus-ledger/analyzer/block"
	"github.com/oasisprotocol/nexus-ledger/analyzer/contracts"
	"github.com/oasisprotocol/nexus-ledger/analyzer/snapshot"
	"github.com/oasisprotocol/nexus-ledger/config"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

const ledgerAnalyzerName = "ledger"

type processor struct {
	sweep  bool
	prefix uint16

	target storage.TargetStorage

	classifier  *Classifier
	handlers    map[itemKey]handler
	runner      *action.Runner
	fetcher     *balances.Fetcher
	reconciler  *balances.Reconciler
	snapshotter *snapshot.Snapshotter
	contracts   *contracts.Decoder

	// Accounts touched since the last reconciliation, in sweep mode.
	window *balances.Window

	logger  *log.Logger
	metrics metrics.AnalysisMetrics
}

var _ block.BlockProcessor = (*processor)(nil)

func newProcessor(
	cfg *config.LedgerConfig,
	prefix uint16,
	source storage.ChainStateSource,
	abis contracts.ABIDecoder,
	target storage.TargetStorage,
	logger *log.Logger,
) (*processor, error) {
	var mode config.BalanceSync
	if err := mode.Set(cfg.BalanceSync); err != nil {
		return nil, err
	}
	logger = logger.With("analyzer", ledgerAnalyzerName)
	p := &processor{
		sweep:   mode == config.BalanceSyncSweep,
		prefix:  prefix,
		target:  target,
		window:  balances.NewWindow(),
		logger:  logger,
		metrics: metrics.NewDefaultAnalysisMetrics(ledgerAnalyzerName),
	}
	p.classifier = NewClassifier()
	p.runner = action.NewRunner(logger)
	p.fetcher = balances.NewFetcher(source)
	p.reconciler = balances.NewReconciler(p.fetcher, prefix, logger, &p.metrics)
	p.snapshotter = snapshot.New(cfg.SnapshotPeriod, logger, &p.metrics)
	p.contracts = contracts.NewDecoder(source, abis, prefix, logger, &p.metrics)
	p.handlers = p.newHandlers()
	return p, nil
}

// NewAnalyzer returns a new ledger analyzer.
func NewAnalyzer(
	cfg *config.LedgerConfig,
	prefix uint16,
	blocks storage.BlockSource,
	source storage.ChainStateSource,
	abis contracts.ABIDecoder,
	target storage.TargetStorage,
	logger *log.Logger,
) (analyzer.Analyzer, error) {
	p, err := newProcessor(cfg, prefix, source, abis, target, logger)
	if err != nil {
		return nil, err
	}
	return block.NewAnalyzer(cfg.BlockBasedAnalyzerConfig, cfg.BatchSize, cfg.BatchTimeout, ledgerAnalyzerName, p, blocks, target, logger)
}

// PreWork loads the chain-state watermark.
func (p *processor) PreWork(ctx context.Context) error {
	return p.resetWatermark(ctx)
}

func (p *processor) resetWatermark(ctx context.Context) error {
	tx, err := p.target.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return p.snapshotter.Reset(ctx, tx)
}

// ProcessBatch applies blocks in one transaction. On failure nothing of the
// batch is kept, including the watermark advance.
func (p *processor) ProcessBatch(ctx context.Context, blocks []*storage.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := p.processBatch(ctx, blocks); err != nil {
		p.window.Clear()
		if rerr := p.resetWatermark(ctx); rerr != nil {
			p.logger.Error("failed to reset chain state watermark", "err", rerr)
		}
		var ae *action.ActionError
		if errors.As(err, &ae) {
			return fmt.Errorf("%w: %w", analyzer.ErrHalt, err)
		}
		return err
	}
	p.metrics.Blocks().Add(float64(len(blocks)))
	return nil
}

func (p *processor) processBatch(ctx context.Context, blocks []*storage.Block) error {
	tx, err := p.target.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	p.contracts.ResetBatch()

	for _, blk := range blocks {
		if err := p.processBlock(ctx, tx, blk); err != nil {
			return err
		}
	}

	// Flush the open window. No checkpoint is written for it, so
	// checkpoints stay at least one period apart.
	last := &blocks[len(blocks)-1].Header
	if err := p.flushWindow(ctx, tx, last); err != nil {
		return err
	}
	if err := tx.SetProcessedHeight(ctx, last.Height); err != nil {
		return fmt.Errorf("recording processed height %d: %w", last.Height, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch ending at %d: %w", last.Height, err)
	}
	return nil
}

func (p *processor) processBlock(ctx context.Context, tx storage.LedgerStore, blk *storage.Block) error {
	b := &blockState{hdr: &blk.Header, store: tx}
	var actions []action.Action
	for i := range blk.Items {
		acts, err := p.dispatch(ctx, b, &blk.Items[i])
		if err != nil {
			return err
		}
		actions = append(actions, acts...)
	}

	actx := &action.Context{
		Store:    tx,
		Balances: p.fetcher,
		Prefix:   p.prefix,
		Logger:   p.logger,
		Metrics:  &p.metrics,
	}
	if !p.sweep {
		actx.Snapshotter = p.snapshotter
	}
	if err := p.runner.Run(ctx, actx, actions); err != nil {
		return err
	}

	// Close the window: reconcile what it touched, then checkpoint.
	if p.sweep && p.snapshotter.Due(blk.Header.Timestamp) {
		if err := p.flushWindow(ctx, tx, &blk.Header); err != nil {
			return err
		}
	}
	if _, err := p.snapshotter.Observe(ctx, tx, &blk.Header); err != nil {
		return err
	}
	return nil
}

// dispatch derives the actions of one item. Malformed items are logged and
// skipped.
func (p *processor) dispatch(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	h, ok := p.handlers[keyOf(item)]
	if !ok {
		return nil, nil
	}
	var (
		acts []action.Action
		err  error
	)
	if (item.Kind == storage.ItemKindCall && item.Call == nil) || (item.Kind == storage.ItemKindEvent && item.Event == nil) {
		err = &decodeError{errors.New("item kind does not match its payload")}
	} else {
		acts, err = h(ctx, b, item)
	}
	var de *decodeError
	if errors.As(err, &de) {
		p.logger.Warn("failed to decode item",
			"height", b.hdr.Height,
			"name", item.Name(),
			"err", de.err,
		)
		return nil, nil
	}
	return acts, err
}

func (p *processor) flushWindow(ctx context.Context, tx storage.LedgerStore, hdr *storage.BlockHeader) error {
	if !p.sweep || p.window.Len() == 0 {
		return nil
	}
	if err := p.reconciler.Reconcile(ctx, tx, hdr, p.window.IDs()); err != nil {
		return fmt.Errorf("reconciling balances at height %d: %w", hdr.Height, err)
	}
	p.window.Clear()
	return nil
}
