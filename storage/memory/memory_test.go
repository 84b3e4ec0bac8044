package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

func strPtr(s string) *string { return &s }

func balance(free, reserved int64) *storage.AccountBalance {
	return &storage.AccountBalance{Free: common.NewBigInt(free), Reserved: common.NewBigInt(reserved)}
}

func TestCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	c := NewClient(log.NewTestLogger("memory-test"))

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	_, err = c.Begin(ctx)
	require.Error(t, err, "only one transaction may be open")

	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("a", balance(1, 2), 1)))
	got, err := tx.GetAccount(ctx, "a")
	require.NoError(t, err, "reads observe earlier writes in the transaction")
	require.Equal(t, "3", got.Total.String())
	require.Empty(t, c.Accounts(), "uncommitted writes are invisible")
	require.NoError(t, tx.SetProcessedHeight(ctx, 1))
	require.NoError(t, tx.Commit(ctx))
	require.Len(t, c.Accounts(), 1)

	tx, err = c.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("b", balance(1, 0), 2)))
	require.NoError(t, tx.SetProcessedHeight(ctx, 2))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback is idempotent")
	require.Error(t, tx.Commit(ctx))

	require.Len(t, c.Accounts(), 1)
	height, ok, err := c.ProcessedHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), height)
}

func TestInsertConflicts(t *testing.T) {
	ctx := context.Background()
	c := NewClient(log.NewTestLogger("memory-test"))
	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.ErrorIs(t, tx.InsertIdentity(ctx, &storage.Identity{ID: "x", AccountID: strPtr("x")}), ErrForeignKey)

	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("x", balance(0, 0), 1)))
	identity := &storage.Identity{ID: "x", AccountID: strPtr("x"), Judgement: common.JudgementUnknown}
	require.NoError(t, tx.InsertIdentity(ctx, identity))
	require.ErrorIs(t, tx.InsertIdentity(ctx, identity), storage.ErrAlreadyExists)

	_, err = tx.GetIdentitySub(ctx, "x")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ts := time.Unix(100, 0)
	require.NoError(t, tx.InsertChainState(ctx, &storage.ChainState{Timestamp: ts}))
	require.ErrorIs(t, tx.InsertChainState(ctx, &storage.ChainState{Timestamp: ts}), storage.ErrAlreadyExists)
}

func TestRemoveAccountNullsReferences(t *testing.T) {
	ctx := context.Background()
	c := NewClient(log.NewTestLogger("memory-test"))
	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("main", balance(1, 0), 1)))
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("sub", balance(1, 0), 1)))
	require.NoError(t, tx.InsertIdentity(ctx, &storage.Identity{ID: "main", AccountID: strPtr("main")}))
	require.NoError(t, tx.InsertIdentitySub(ctx, &storage.IdentitySub{ID: "sub", SuperID: strPtr("main"), AccountID: strPtr("sub")}))
	require.NoError(t, tx.UpsertStakingReward(ctx, &storage.StakingReward{ID: "r", AccountID: strPtr("main"), Amount: common.NewBigInt(1)}))

	require.NoError(t, tx.RemoveAccount(ctx, "main"))
	require.NoError(t, tx.RemoveAccount(ctx, "main"), "removing a missing account is not an error")

	identity, err := tx.GetIdentity(ctx, "main")
	require.NoError(t, err, "the identity row survives")
	require.Nil(t, identity.AccountID)

	reward, err := tx.GetStakingReward(ctx, "r")
	require.NoError(t, err)
	require.Nil(t, reward.AccountID)

	sub, err := tx.GetIdentitySub(ctx, "sub")
	require.NoError(t, err)
	require.Equal(t, "sub", *sub.AccountID)
}

func TestChainStateCounters(t *testing.T) {
	ctx := context.Background()
	c := NewClient(log.NewTestLogger("memory-test"))
	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("a", balance(500, 0), 1)))
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("b", balance(20, 30), 1)))
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("c", balance(0, 0), 1)))
	require.NoError(t, tx.InsertIdentity(ctx, &storage.Identity{ID: "a", AccountID: strPtr("a")}))
	require.NoError(t, tx.InsertIdentity(ctx, &storage.Identity{ID: "b", AccountID: strPtr("b"), IsKilled: true}))

	counters, err := tx.ChainStateCounters(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), counters.TokenHolders)
	require.Equal(t, "520", counters.TotalFree.String())
	require.Equal(t, "30", counters.TotalReserved.String())
	require.Equal(t, "550", counters.TotalBalance.String())
	require.Equal(t, uint64(1), counters.IdentityCount)
}

func TestStoredValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	c := NewClient(log.NewTestLogger("memory-test"))
	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount("x", balance(0, 0), 1)))
	identity := &storage.Identity{
		ID:           "x",
		AccountID:    strPtr("x"),
		IdentityInfo: storage.IdentityInfo{Additional: []storage.IdentityField{{Name: strPtr("k")}}},
	}
	require.NoError(t, tx.InsertIdentity(ctx, identity))
	identity.Additional[0] = storage.IdentityField{Name: strPtr("mutated")}

	got, err := tx.GetIdentity(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "k", *got.Additional[0].Name)
}
