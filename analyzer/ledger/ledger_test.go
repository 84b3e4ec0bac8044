package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/analyzer"
	"github.com/oasisprotocol/nexus-ledger/analyzer/action"
	"github.com/oasisprotocol/nexus-ledger/analyzer/contracts"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/config"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
	"github.com/oasisprotocol/nexus-ledger/storage/memory"
)

const prefix = 42

var (
	alice    = common.AccountID(bytes.Repeat([]byte{0xaa}, 32))
	bob      = common.AccountID(bytes.Repeat([]byte{0xbb}, 32))
	carol    = common.AccountID(bytes.Repeat([]byte{0xcc}, 32))
	contract = common.AccountID(bytes.Repeat([]byte{0x11}, 32))

	genesis = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
)

func addr(id common.AccountID) string {
	return common.MustEncodeAddress(id, prefix)
}

func balance(free, reserved int64) *storage.AccountBalance {
	return &storage.AccountBalance{Free: common.NewBigInt(free), Reserved: common.NewBigInt(reserved)}
}

func signed(id common.AccountID) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"__kind": "system", "value": {"__kind": "Signed", "value": %q}}`, id.Hex()))
}

func raw(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"__kind": "Raw%d", "value": "0x%x"}`, len(s), s))
}

func event(name string, idx int, args string) storage.Item {
	return storage.Item{
		Kind: storage.ItemKindEvent,
		Event: &storage.Event{
			ID:           fmt.Sprintf("e-%d", idx),
			IndexInBlock: idx,
			Name:         name,
			Args:         json.RawMessage(args),
			Extrinsic:    &storage.Extrinsic{ID: "x-1", Hash: "0xfeed"},
		},
	}
}

func call(name string, origin json.RawMessage, args string, success bool) storage.Item {
	return storage.Item{
		Kind: storage.ItemKindCall,
		Call: &storage.Call{
			ID:        "c-1",
			Name:      name,
			Args:      json.RawMessage(args),
			Origin:    origin,
			Success:   success,
			Extrinsic: &storage.Extrinsic{ID: "x-1", Hash: "0xfeed"},
		},
	}
}

func newBlock(height uint64, offset time.Duration, items ...storage.Item) *storage.Block {
	return &storage.Block{
		Header: storage.BlockHeader{
			Height:    height,
			Hash:      fmt.Sprintf("0x%x", height),
			Timestamp: genesis.Add(offset),
		},
		Items: items,
	}
}

func transfer(idx int, from, to common.AccountID) storage.Item {
	return event("Balances.Transfer", idx, fmt.Sprintf(`{"from": %q, "to": %q, "amount": "100"}`, from.Hex(), to.Hex()))
}

type fixture struct {
	store  *memory.Client
	source *memory.Source
	p      *processor
}

func newFixture(t *testing.T, mode config.BalanceSync, period time.Duration) *fixture {
	logger := log.NewTestLogger("ledger-test")
	store := memory.NewClient(logger)
	source := memory.NewSource()
	p, err := newProcessor(&config.LedgerConfig{
		BatchSize:      100,
		SnapshotPeriod: period,
		BalanceSync:    string(mode),
	}, prefix, source, contracts.NewRegistry(), store, logger)
	require.NoError(t, err)
	require.NoError(t, p.PreWork(context.Background()))
	return &fixture{store: store, source: source, p: p}
}

func (f *fixture) dispatch(t *testing.T, item storage.Item) []action.Action {
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	acts, err := f.p.dispatch(ctx, &blockState{hdr: &newBlock(1, 0).Header, store: tx}, &item)
	require.NoError(t, err)
	return acts
}

func kinds(actions []action.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind())
	}
	return out
}

func TestEveryAllowListedNameHasOneHandler(t *testing.T) {
	f := newFixture(t, config.BalanceSyncEnsure, time.Hour)
	keys := map[itemKey]struct{}{}
	for _, n := range balanceEvents {
		keys[eventKey(n)] = struct{}{}
	}
	for _, n := range identityEvents {
		keys[eventKey(n)] = struct{}{}
	}
	for _, n := range contractEvents {
		keys[eventKey(n)] = struct{}{}
	}
	for _, n := range balanceCalls {
		keys[callKey(n)] = struct{}{}
	}
	for _, n := range identityCalls {
		keys[callKey(n)] = struct{}{}
	}
	require.Len(t, f.p.handlers, len(keys))
	for k := range keys {
		require.Contains(t, f.p.handlers, k, "handler for %s %s", k.kind, k.name)
		_, ok := f.p.classifier.concerns[k]
		require.True(t, ok, "concern for %s %s", k.kind, k.name)
	}
	for n := range eventSubjects {
		require.Contains(t, keys, eventKey(n))
	}
}

func TestClassifierSubjects(t *testing.T) {
	c := NewClassifier()
	subjects := func(item storage.Item) []common.AccountID {
		ids, err := c.subjects(&item)
		require.NoError(t, err, item.Name())
		return ids
	}

	item := transfer(0, alice, bob)
	require.Equal(t, []common.AccountID{alice, bob}, subjects(item))

	// Older runtimes use positional arguments.
	item = event("Balances.Transfer", 0, fmt.Sprintf(`[%q, %q, 100]`, alice.Hex(), alice.Hex()))
	require.Equal(t, []common.AccountID{alice}, subjects(item))

	item = event("Balances.Transfer", 0, `{"from": 1}`)
	_, err := c.subjects(&item)
	require.Error(t, err, "malformed payloads are reported")
	var de *decodeError
	require.ErrorAs(t, err, &de)

	item = event("System.ExtrinsicSuccess", 0, `{}`)
	require.Empty(t, subjects(item))

	item = call("Balances.transfer", signed(carol), `{}`, true)
	require.Equal(t, []common.AccountID{carol}, subjects(item))

	item = call("Balances.transfer", json.RawMessage(`{"__kind": "system", "value": {"__kind": "Root"}}`), `{}`, true)
	require.Empty(t, subjects(item))

	item = call("Balances.transfer", nil, `{}`, true)
	require.Empty(t, subjects(item))

	cc, ok := c.Concern(&item)
	require.True(t, ok)
	require.Equal(t, concernBalance, cc)
}

func TestTransferScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	f.source.SetSystemAccount(alice, balance(500, 0))
	f.source.SetSystemAccount(bob, balance(500, 0))

	acts := f.dispatch(t, transfer(0, alice, bob))
	require.Equal(t, []string{"ensure_account", "ensure_account"}, kinds(acts))
	require.Equal(t, alice, acts[0].(*action.EnsureAccount).ID)
	require.Equal(t, bob, acts[1].(*action.EnsureAccount).ID)

	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{newBlock(1, 0, transfer(0, alice, bob))}))
	accounts := f.store.Accounts()
	require.Len(t, accounts, 2)
	for _, id := range []common.AccountID{alice, bob} {
		require.Equal(t, "500", accounts[addr(id)].Total.String())
	}
	height, ok, err := f.store.ProcessedHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), height)
}

func TestSweepModeDefersBalances(t *testing.T) {
	f := newFixture(t, config.BalanceSyncSweep, 24*time.Hour)
	require.Empty(t, f.dispatch(t, transfer(0, alice, bob)))
	require.Equal(t, []common.AccountID{alice, bob}, f.p.window.IDs())
}

func TestFailedAndUnsignedCallsAreIgnored(t *testing.T) {
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	require.Empty(t, f.dispatch(t, call("Balances.transfer", signed(alice), `{}`, false)))
	require.Empty(t, f.dispatch(t, call("Identity.clear_identity", signed(alice), `{}`, false)))
	require.Empty(t, f.dispatch(t, call("Identity.clear_identity", nil, `{}`, true)))
	require.Equal(t, []string{"ensure_account", "ensure_identity", "clear_identity"},
		kinds(f.dispatch(t, call("Identity.clear_identity", signed(alice), `{}`, true))))
}

func TestIdentityHandlers(t *testing.T) {
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	for _, tc := range []struct {
		item  storage.Item
		kinds []string
	}{
		{event("Identity.IdentitySet", 0, fmt.Sprintf(`{"who": %q}`, alice.Hex())), []string{"ensure_account", "ensure_identity"}},
		{event("Identity.JudgementGiven", 0, fmt.Sprintf(`{"target": %q, "registrarIndex": 0}`, alice.Hex())), []string{"ensure_account", "ensure_identity"}},
		{event("Identity.JudgementRequested", 0, fmt.Sprintf(`[%q, 1]`, alice.Hex())), []string{"ensure_account", "ensure_identity", "give_judgement"}},
		{event("Identity.IdentityKilled", 0, fmt.Sprintf(`{"who": %q, "deposit": "1"}`, alice.Hex())), []string{"ensure_account", "ensure_identity", "clear_identity", "kill_identity"}},
		{event("Identity.SubIdentityAdded", 0, fmt.Sprintf(`{"sub": %q, "main": %q, "deposit": "1"}`, bob.Hex(), alice.Hex())), []string{"ensure_account", "ensure_identity", "ensure_account", "ensure_identity_sub", "add_identity_sub"}},
		{event("Identity.SubIdentityRevoked", 0, fmt.Sprintf(`{"sub": %q, "main": %q, "deposit": "1"}`, bob.Hex(), alice.Hex())), []string{"ensure_account", "ensure_identity_sub", "remove_identity_sub"}},
		{call("Identity.add_sub", signed(alice), fmt.Sprintf(`{"sub": {"__kind": "Id", "value": %q}, "data": %s}`, bob.Hex(), raw("bob")), true), []string{"ensure_account", "ensure_identity", "ensure_account", "ensure_identity_sub", "add_identity_sub", "rename_sub"}},
		{call("Identity.quit_sub", signed(bob), `{}`, true), []string{"ensure_account", "ensure_identity_sub", "remove_identity_sub"}},
		{call("Identity.kill_identity", signed(carol), fmt.Sprintf(`{"target": {"__kind": "Id", "value": %q}}`, alice.Hex()), true), []string{"ensure_account", "ensure_identity", "clear_identity", "kill_identity"}},
		{call("Identity.set_subs", signed(alice), fmt.Sprintf(`{"subs": [[%q, %s]]}`, bob.Hex(), raw("b")), true), []string{"ensure_account", "ensure_identity", "plan"}},
	} {
		require.Equal(t, tc.kinds, kinds(f.dispatch(t, tc.item)), tc.item.Name())
	}

	acts := f.dispatch(t, call("Identity.provide_judgement", signed(carol),
		fmt.Sprintf(`{"regIndex": 0, "target": {"__kind": "Id", "value": %q}, "judgement": {"__kind": "KnownGood"}}`, alice.Hex()), true))
	require.Len(t, acts, 3)
	j := acts[2].(*action.GiveJudgement)
	require.Equal(t, alice, j.ID, "the judgement applies to the target, not the registrar")
	require.Equal(t, common.JudgementKnownGood, j.Judgement)
}

func TestSetIdentityDecoding(t *testing.T) {
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	args := fmt.Sprintf(`{"info": {
		"display": %s,
		"email": %s,
		"web": {"__kind": "None"},
		"matrix": %s,
		"pgpFingerprint": "0x0102",
		"image": {"__kind": "BlakeTwo256", "value": "0xabcd"},
		"additional": [[%s, %s]]
	}}`, raw("Alice"), raw("alice@example.org"), raw("@alice:matrix.org"), raw("discord"), raw("alice#1"))

	acts := f.dispatch(t, call("Identity.set_identity", signed(alice), args, true))
	require.Equal(t, []string{"ensure_account", "ensure_identity", "set_identity"}, kinds(acts))
	info := acts[2].(*action.SetIdentity).Info
	require.Equal(t, "Alice", *info.Display)
	require.Equal(t, "alice@example.org", *info.Email)
	require.Nil(t, info.Web)
	require.Nil(t, info.Legal)
	require.Equal(t, "@alice:matrix.org", *info.Riot)
	require.Equal(t, "0x0102", *info.PGPFingerprint)
	require.Equal(t, "0xabcd", *info.Image)
	require.Len(t, info.Additional, 1)
	require.Equal(t, "discord", *info.Additional[0].Name)
	require.Equal(t, "alice#1", *info.Additional[0].Value)

	require.Empty(t, f.dispatch(t, call("Identity.set_identity", signed(alice), `{"info": 5}`, true)), "malformed payloads are skipped")
}

func TestStakingReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	f.source.SetSystemAccount(alice, balance(10, 0))

	blk := newBlock(3, 0, event("Staking.Rewarded", 2, fmt.Sprintf(`{"stash": %q, "amount": "42"}`, alice.Hex())))
	acts := f.dispatch(t, blk.Items[0])
	require.Equal(t, []string{"ensure_account", "reward"}, kinds(acts))

	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{blk}))
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	r, err := tx.GetStakingReward(ctx, "e-2")
	require.NoError(t, err)
	require.Equal(t, "42", r.Amount.String())
	require.Equal(t, addr(alice), *r.AccountID)
	require.Equal(t, uint64(3), r.BlockNumber)
}

func TestStakingRewardSweepMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncSweep, 24*time.Hour)
	f.source.SetSystemAccount(alice, balance(10, 0))

	blk := newBlock(3, 0, event("Staking.Rewarded", 2, fmt.Sprintf(`{"stash": %q, "amount": "42"}`, alice.Hex())))
	acts := f.dispatch(t, blk.Items[0])
	require.Equal(t, []string{"ensure_account", "reward"}, kinds(acts))
	require.Equal(t, []common.AccountID{alice}, f.p.window.IDs())
	f.p.window.Clear()

	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{blk}))
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.GetAccount(ctx, addr(alice))
	require.NoError(t, err)
	r, err := tx.GetStakingReward(ctx, "e-2")
	require.NoError(t, err)
	require.NotNil(t, r.AccountID)
	require.Equal(t, addr(alice), *r.AccountID)
}

func TestContractEmittedUnknownCodeHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	f.source.SetCodeHash(contract, "0xbeef")

	item := event(contracts.EventName, 5, fmt.Sprintf(`{"contract": %q, "data": "0x0102"}`, contract.Hex()))
	item.Event.Topics = append(item.Event.Topics, bytes.Repeat([]byte{1}, 32))
	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{newBlock(9, 0, item)}))

	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	row, err := tx.GetContractEvent(ctx, "9-5")
	require.NoError(t, err)
	require.Equal(t, addr(contract), row.ContractAddress)
	require.Equal(t, []byte{1, 2}, row.Data)
	_, err = tx.GetDecodedContractEvent(ctx, "9-5")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// flakySource fails contract lookups while err is set.
type flakySource struct {
	*memory.Source
	err error
}

func (s *flakySource) ContractCodeHash(ctx context.Context, hdr *storage.BlockHeader, contract common.AccountID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.Source.ContractCodeHash(ctx, hdr, contract)
}

func TestContractLookupFailureRetriesBatch(t *testing.T) {
	ctx := context.Background()
	logger := log.NewTestLogger("ledger-test")
	store := memory.NewClient(logger)
	unavailable := errors.New("HTTP 503")
	source := &flakySource{Source: memory.NewSource(), err: unavailable}
	source.SetSystemAccount(alice, balance(5, 0))
	source.SetCodeHash(contract, "0xbeef")
	p, err := newProcessor(&config.LedgerConfig{
		BatchSize:      100,
		SnapshotPeriod: 24 * time.Hour,
		BalanceSync:    string(config.BalanceSyncEnsure),
	}, prefix, source, contracts.NewRegistry(), store, logger)
	require.NoError(t, err)
	require.NoError(t, p.PreWork(ctx))

	item := event(contracts.EventName, 1, fmt.Sprintf(`{"contract": %q, "data": "0x0102"}`, contract.Hex()))
	item.Event.Topics = append(item.Event.Topics, bytes.Repeat([]byte{1}, 32))
	blocks := []*storage.Block{newBlock(9, 0, transfer(0, alice, alice), item)}

	err = p.ProcessBatch(ctx, blocks)
	require.ErrorIs(t, err, unavailable)
	require.NotErrorIs(t, err, analyzer.ErrHalt, "source outages are retried, not fatal")
	require.Empty(t, store.Accounts(), "the whole batch is rolled back")
	_, ok, err := store.ProcessedHeight(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	source.err = nil
	require.NoError(t, p.ProcessBatch(ctx, blocks))
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.GetContractEvent(ctx, "9-1")
	require.NoError(t, err)
	_, err = tx.GetAccount(ctx, addr(alice))
	require.NoError(t, err)
}

func TestActionFailureRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncEnsure, time.Hour)
	f.source.SetSystemAccount(alice, balance(5, 0))

	// Carol has no balance data, so her identity cannot be created.
	blocks := []*storage.Block{
		newBlock(1, 0, transfer(0, alice, alice)),
		newBlock(2, 2*time.Hour, event("Identity.IdentitySet", 0, fmt.Sprintf(`{"who": %q}`, carol.Hex()))),
	}
	err := f.p.ProcessBatch(ctx, blocks)
	require.ErrorIs(t, err, analyzer.ErrHalt)
	require.ErrorIs(t, err, storage.ErrNotFound)
	var ae *action.ActionError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, uint64(2), ae.Provenance.BlockHeight)

	require.Empty(t, f.store.Accounts(), "the whole batch is rolled back")
	require.Empty(t, f.store.ChainStates())
	_, ok, err := f.store.ProcessedHeight(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, f.p.snapshotter.Watermark().IsZero(), "the watermark is reloaded from the store")
}

func TestMalformedItemDoesNotStopBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncEnsure, 24*time.Hour)
	f.source.SetSystemAccount(bob, balance(1, 0))

	blk := newBlock(1, 0,
		event("Balances.Transfer", 0, `{"from": "garbage"}`),
		storage.Item{Kind: storage.ItemKindEvent, Event: nil},
		event("Balances.Deposit", 2, fmt.Sprintf(`{"who": %q, "amount": "1"}`, bob.Hex())),
	)
	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{blk}))
	require.Len(t, f.store.Accounts(), 1)
}

// dayOfBlocks returns blocks every ten minutes over 25 hours, each with a
// transfer from alice to bob.
func dayOfBlocks() []*storage.Block {
	var blocks []*storage.Block
	for i := uint64(0); i <= 150; i++ {
		blocks = append(blocks, newBlock(i+1, time.Duration(i)*10*time.Minute, transfer(0, alice, bob)))
	}
	return blocks
}

func runInBatches(t *testing.T, p *processor, blocks []*storage.Block, size int) {
	for len(blocks) > 0 {
		n := size
		if n > len(blocks) {
			n = len(blocks)
		}
		require.NoError(t, p.ProcessBatch(context.Background(), blocks[:n]))
		blocks = blocks[n:]
	}
}

func TestSnapshotsOverADay(t *testing.T) {
	for _, mode := range []config.BalanceSync{config.BalanceSyncEnsure, config.BalanceSyncSweep} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, mode, 12*time.Hour)
			f.source.SetSystemAccount(alice, balance(300, 0))
			f.source.SetSystemAccount(bob, balance(200, 50))

			runInBatches(t, f.p, dayOfBlocks(), 40)

			rows := f.store.ChainStates()
			require.Len(t, rows, 2)
			require.Equal(t, genesis.Add(12*time.Hour+10*time.Minute), rows[0].Timestamp)
			require.Equal(t, genesis.Add(24*time.Hour+20*time.Minute), rows[1].Timestamp)
			require.Equal(t, uint64(74), rows[0].BlockNumber)
			require.Greater(t, rows[1].Timestamp.Sub(rows[0].Timestamp), 12*time.Hour)
			for _, cs := range rows {
				require.Equal(t, uint64(2), cs.TokenHolders, "accounts are reconciled before the checkpoint")
				require.Equal(t, "550", cs.TotalBalance.String())
			}

			// The final window is flushed at the end of the run.
			accounts := f.store.Accounts()
			require.Equal(t, uint64(151), accounts[addr(alice)].UpdatedAt)
			require.Equal(t, uint64(151), accounts[addr(bob)].UpdatedAt)
		})
	}
}

func TestSweepRemovesDrainedAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BalanceSyncSweep, 12*time.Hour)
	f.source.SetSystemAccount(alice, balance(300, 0))
	f.source.SetSystemAccount(bob, balance(1, 0))
	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{newBlock(1, 0, transfer(0, alice, bob))}))
	require.Len(t, f.store.Accounts(), 2)

	f.source.SetSystemAccount(bob, balance(0, 0))
	require.NoError(t, f.p.ProcessBatch(ctx, []*storage.Block{newBlock(2, time.Minute, transfer(0, bob, alice))}))
	accounts := f.store.Accounts()
	require.Len(t, accounts, 1)
	require.Contains(t, accounts, addr(alice))
}
