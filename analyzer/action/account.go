package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/analyzer/balances"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// EnsureAccount refreshes an account from runtime storage. It writes the
// account even when its balance is zero.
type EnsureAccount struct {
	once
	ID common.AccountID
}

func NewEnsureAccount(prov Provenance, id common.AccountID) *EnsureAccount {
	return &EnsureAccount{once: once{prov: prov}, ID: id}
}

func (a *EnsureAccount) Kind() string { return "ensure_account" }

func (a *EnsureAccount) String() string {
	return fmt.Sprintf("EnsureAccount(%s)", a.ID)
}

func (a *EnsureAccount) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	hdr := a.prov.Header()
	bal, err := actx.Balances.FetchOne(ctx, hdr, a.ID)
	switch {
	case errors.Is(err, balances.ErrSourceUnavailable) || (err == nil && bal == nil):
		actx.Logger.Warn("no balance data for account",
			"height", a.prov.BlockHeight,
			"account", addr,
		)
		return nil
	case err != nil:
		return err
	}
	if err := actx.Store.UpsertAccount(ctx, storage.NewAccount(addr, bal, a.prov.BlockHeight)); err != nil {
		return fmt.Errorf("upserting account %s: %w", addr, err)
	}

	if actx.Snapshotter != nil {
		if _, err := actx.Snapshotter.Observe(ctx, actx.Store, hdr); err != nil {
			return err
		}
	}
	return nil
}

// requireAccount loads the account with the given address, failing with
// storage.ErrNotFound if it is missing.
func requireAccount(ctx context.Context, actx *Context, addr string) (*storage.Account, error) {
	acct, err := actx.Store.GetAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr, err)
	}
	return acct, nil
}
