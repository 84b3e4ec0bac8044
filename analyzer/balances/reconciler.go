package balances

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

const (
	outcomeUpserted = "upserted"
	outcomeRemoved  = "removed"
	outcomeSkipped  = "skipped"
)

// Reconciler is the bulk sweep. Unlike the per-event account refresh, it
// removes accounts whose balance has been drained to zero.
type Reconciler struct {
	fetcher *Fetcher
	prefix  uint16

	logger  *log.Logger
	metrics *metrics.AnalysisMetrics
}

func NewReconciler(fetcher *Fetcher, prefix uint16, logger *log.Logger, m *metrics.AnalysisMetrics) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
	}
}

// Reconcile fetches the balances of ids at hdr in one query and writes the
// result. If no balance source exists at hdr the whole batch is skipped.
func (r *Reconciler) Reconcile(ctx context.Context, store storage.LedgerStore, hdr *storage.BlockHeader, ids []common.AccountID) error {
	ids = common.UniqueAccountIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	bals, err := r.fetcher.Fetch(ctx, hdr, ids)
	if errors.Is(err, ErrSourceUnavailable) {
		r.logger.Warn("skipping balance reconciliation",
			"height", hdr.Height,
			"accounts", len(ids),
			"err", err,
		)
		r.count(outcomeSkipped, len(ids))
		return nil
	}
	if err != nil {
		return err
	}

	var upserted, removed, skipped int
	for i, id := range ids {
		addr, err := common.EncodeAddress(id, r.prefix)
		if err != nil {
			return fmt.Errorf("encoding account %s: %w", id, err)
		}
		bal := bals[i]
		if bal == nil {
			r.logger.Debug("no balance data for account", "height", hdr.Height, "account", addr)
			skipped++
			continue
		}
		total := bal.Total()
		if total.IsZero() {
			if err := store.RemoveAccount(ctx, addr); err != nil {
				return fmt.Errorf("removing drained account %s: %w", addr, err)
			}
			removed++
			continue
		}
		if err := store.UpsertAccount(ctx, storage.NewAccount(addr, bal, hdr.Height)); err != nil {
			return fmt.Errorf("upserting account %s: %w", addr, err)
		}
		upserted++
	}
	r.count(outcomeUpserted, upserted)
	r.count(outcomeRemoved, removed)
	r.count(outcomeSkipped, skipped)
	r.logger.Info("reconciled balances",
		"height", hdr.Height,
		"upserted", upserted,
		"removed", removed,
		"skipped", skipped,
	)
	return nil
}

func (r *Reconciler) count(outcome string, n int) {
	if r.metrics == nil || n == 0 {
		return
	}
	r.metrics.ReconciledAccounts(outcome).Add(float64(n))
}
