package balances

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
	"github.com/oasisprotocol/nexus-ledger/storage/memory"
)

const prefix = 42

var (
	alice = common.AccountID(bytes.Repeat([]byte{0xaa}, 32))
	bob   = common.AccountID(bytes.Repeat([]byte{0xbb}, 32))
	carol = common.AccountID(bytes.Repeat([]byte{0xcc}, 32))

	hdr = &storage.BlockHeader{Height: 7, Hash: "0x07"}
)

func balance(free, reserved int64) *storage.AccountBalance {
	return &storage.AccountBalance{Free: common.NewBigInt(free), Reserved: common.NewBigInt(reserved)}
}

func addr(id common.AccountID) string {
	return common.MustEncodeAddress(id, prefix)
}

func TestFetchFallback(t *testing.T) {
	ctx := context.Background()
	src := memory.NewSource()
	src.SetSystemAccount(alice, balance(1, 0))
	f := NewFetcher(src)

	bals, err := f.Fetch(ctx, hdr, []common.AccountID{alice, bob})
	require.NoError(t, err)
	require.Len(t, bals, 2)
	require.Equal(t, "1", bals[0].Free.String())
	require.Nil(t, bals[1])
	require.Zero(t, src.Queries["balances"], "system storage is preferred")

	src.SetStorageItems(false, true)
	src.SetBalancesAccount(bob, balance(2, 3))
	bal, err := f.FetchOne(ctx, hdr, bob)
	require.NoError(t, err)
	require.Equal(t, "5", bal.Total().String())

	src.SetStorageItems(false, false)
	_, err = f.Fetch(ctx, hdr, []common.AccountID{bob})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewClient(log.NewTestLogger("balances-test"))
	src := memory.NewSource()
	src.SetSystemAccount(alice, balance(400, 100))
	src.SetSystemAccount(bob, balance(0, 0))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount(addr(bob), balance(9, 0), 1)))
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount(addr(carol), balance(3, 0), 1)))

	r := NewReconciler(NewFetcher(src), prefix, log.NewTestLogger("balances-test"), nil)
	require.NoError(t, r.Reconcile(ctx, tx, hdr, []common.AccountID{alice, bob, carol, alice}))
	require.NoError(t, tx.Commit(ctx))

	accounts := store.Accounts()
	require.Len(t, accounts, 2)

	a := accounts[addr(alice)]
	require.Equal(t, "500", a.Total.String())
	require.Equal(t, a.Free.Plus(a.Reserved).String(), a.Total.String())
	require.Equal(t, uint64(7), a.UpdatedAt)

	_, ok := accounts[addr(bob)]
	require.False(t, ok, "drained accounts are removed")

	c := accounts[addr(carol)]
	require.Equal(t, uint64(1), c.UpdatedAt, "accounts without balance data are left alone")
}

func TestReconcileSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewClient(log.NewTestLogger("balances-test"))
	src := memory.NewSource()
	src.SetStorageItems(false, false)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertAccount(ctx, storage.NewAccount(addr(alice), balance(0, 0), 1)))

	r := NewReconciler(NewFetcher(src), prefix, log.NewTestLogger("balances-test"), nil)
	require.NoError(t, r.Reconcile(ctx, tx, hdr, []common.AccountID{alice}))
	require.NoError(t, tx.Commit(ctx))
	require.Len(t, store.Accounts(), 1, "the batch is skipped as a whole")
}

func TestWindow(t *testing.T) {
	w := NewWindow()
	w.Add(alice, bob)
	w.Add(alice, carol)
	require.Equal(t, []common.AccountID{alice, bob, carol}, w.IDs())
	require.Equal(t, 3, w.Len())
	w.Clear()
	require.Zero(t, w.Len())
	w.Add(bob)
	require.Equal(t, []common.AccountID{bob}, w.IDs())
}
