// Package balances reads account balances from runtime storage and
// reconciles them into the ledger.
package balances

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// ErrSourceUnavailable is returned when neither balance storage item exists
// at the queried block.
var ErrSourceUnavailable = errors.New("no balance source available")

// Fetcher queries System.Account, falling back to Balances.Account for
// runtimes that predate it.
type Fetcher struct {
	source storage.ChainStateSource
}

func NewFetcher(source storage.ChainStateSource) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch returns balances parallel to ids. A nil entry means the account has
// no balance data.
func (f *Fetcher) Fetch(ctx context.Context, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	bals, err := f.source.SystemAccounts(ctx, hdr, ids)
	if err != nil {
		return nil, fmt.Errorf("querying system accounts at height %d: %w", hdr.Height, err)
	}
	if bals == nil {
		bals, err = f.source.BalancesAccounts(ctx, hdr, ids)
		if err != nil {
			return nil, fmt.Errorf("querying balances accounts at height %d: %w", hdr.Height, err)
		}
	}
	if bals == nil {
		return nil, ErrSourceUnavailable
	}
	if len(bals) != len(ids) {
		return nil, fmt.Errorf("balance source returned %d entries for %d accounts", len(bals), len(ids))
	}
	return bals, nil
}

// FetchOne returns the balance of a single account, or nil if it has none.
func (f *Fetcher) FetchOne(ctx context.Context, hdr *storage.BlockHeader, id common.AccountID) (*storage.AccountBalance, error) {
	bals, err := f.Fetch(ctx, hdr, []common.AccountID{id})
	if err != nil {
		return nil, err
	}
	return bals[0], nil
}
