package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// Reward records a staking reward event. A missing account leaves the
// reward's account reference null. Validator and era are not known at this
// point and stay null.
type Reward struct {
	once
	EventID string
	Amount  common.BigInt
	Account common.AccountID
}

func NewReward(prov Provenance, eventID string, amount common.BigInt, account common.AccountID) *Reward {
	return &Reward{once: once{prov: prov}, EventID: eventID, Amount: amount, Account: account}
}

func (a *Reward) Kind() string { return "reward" }

func (a *Reward) String() string {
	return fmt.Sprintf("Reward(%s, %s, %s)", a.EventID, a.Amount, a.Account)
}

func (a *Reward) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.Account)
	if err != nil {
		return err
	}
	var accountID *string
	acct, err := actx.Store.GetAccount(ctx, addr)
	switch {
	case err == nil:
		accountID = &acct.ID
	case errors.Is(err, storage.ErrNotFound):
		actx.Logger.Debug("reward for unknown account", "height", a.prov.BlockHeight, "account", addr)
	default:
		return fmt.Errorf("account %s: %w", addr, err)
	}

	reward := &storage.StakingReward{
		ID:            a.EventID,
		BlockNumber:   a.prov.BlockHeight,
		Timestamp:     a.prov.Timestamp,
		ExtrinsicHash: a.prov.extrinsicHash(),
		AccountID:     accountID,
		Amount:        a.Amount.Clone(),
	}
	if err := actx.Store.UpsertStakingReward(ctx, reward); err != nil {
		return fmt.Errorf("upserting staking reward %s: %w", a.EventID, err)
	}
	return nil
}
