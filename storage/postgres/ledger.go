package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oasisprotocol/nexus-ledger/analyzer/queries"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// ledgerTx implements storage.LedgerTx on top of a single pgx transaction.
// Statements run one at a time so that each read observes all earlier writes.
type ledgerTx struct {
	tx      pgx.Tx
	metrics metrics.StorageMetrics
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

// translateErr maps driver errors onto the storage sentinel errors.
func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, pgErr.Detail)
	}
	return err
}

func (t *ledgerTx) exec(ctx context.Context, op string, sql string, args ...interface{}) error {
	timer := t.metrics.DatabaseLatencies(moduleName, op)
	defer timer.ObserveDuration()

	_, err := t.tx.Exec(ctx, sql, args...)
	t.metrics.DatabaseOperations(moduleName, op, metrics.DBStatus(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateErr(err))
	}
	return nil
}

func (t *ledgerTx) queryRow(ctx context.Context, op string, sql string, args []interface{}, dest ...interface{}) error {
	timer := t.metrics.DatabaseLatencies(moduleName, op)
	defer timer.ObserveDuration()

	err := t.tx.QueryRow(ctx, sql, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		t.metrics.DatabaseOperations(moduleName, op, "not_found").Inc()
		return storage.ErrNotFound
	}
	t.metrics.DatabaseOperations(moduleName, op, metrics.DBStatus(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *ledgerTx) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	a := storage.Account{ID: id}
	if err := t.queryRow(ctx, "account_get", queries.AccountGet, []interface{}{id},
		&a.Free, &a.Reserved, &a.Total, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *ledgerTx) UpsertAccount(ctx context.Context, a *storage.Account) error {
	return t.exec(ctx, "account_upsert", queries.AccountUpsert,
		a.ID, a.Free, a.Reserved, a.Total, a.UpdatedAt,
	)
}

func (t *ledgerTx) RemoveAccount(ctx context.Context, id string) error {
	return t.exec(ctx, "account_delete", queries.AccountDelete, id)
}

func (t *ledgerTx) GetIdentity(ctx context.Context, id string) (*storage.Identity, error) {
	i := storage.Identity{ID: id}
	if err := t.queryRow(ctx, "identity_get", queries.IdentityGet, []interface{}{id},
		&i.AccountID,
		&i.Display,
		&i.Legal,
		&i.Web,
		&i.Riot,
		&i.Email,
		&i.PGPFingerprint,
		&i.Image,
		&i.Twitter,
		&i.Additional,
		&i.Judgement,
		&i.IsKilled,
	); err != nil {
		return nil, err
	}
	return &i, nil
}

func identityArgs(i *storage.Identity) []interface{} {
	var additional interface{}
	if i.Additional != nil {
		additional = i.Additional
	}
	return []interface{}{
		i.ID,
		i.AccountID,
		i.Display,
		i.Legal,
		i.Web,
		i.Riot,
		i.Email,
		i.PGPFingerprint,
		i.Image,
		i.Twitter,
		additional,
		string(i.Judgement),
		i.IsKilled,
	}
}

func (t *ledgerTx) InsertIdentity(ctx context.Context, i *storage.Identity) error {
	return t.exec(ctx, "identity_insert", queries.IdentityInsert, identityArgs(i)...)
}

func (t *ledgerTx) SaveIdentity(ctx context.Context, i *storage.Identity) error {
	return t.exec(ctx, "identity_upsert", queries.IdentityUpsert, identityArgs(i)...)
}

func (t *ledgerTx) GetIdentitySub(ctx context.Context, id string) (*storage.IdentitySub, error) {
	s := storage.IdentitySub{ID: id}
	if err := t.queryRow(ctx, "identity_sub_get", queries.IdentitySubGet, []interface{}{id},
		&s.Name, &s.SuperID, &s.AccountID,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *ledgerTx) InsertIdentitySub(ctx context.Context, s *storage.IdentitySub) error {
	return t.exec(ctx, "identity_sub_insert", queries.IdentitySubInsert,
		s.ID, s.Name, s.SuperID, s.AccountID,
	)
}

func (t *ledgerTx) SaveIdentitySub(ctx context.Context, s *storage.IdentitySub) error {
	return t.exec(ctx, "identity_sub_upsert", queries.IdentitySubUpsert,
		s.ID, s.Name, s.SuperID, s.AccountID,
	)
}

func (t *ledgerTx) ListIdentitySubs(ctx context.Context, superID string) ([]*storage.IdentitySub, error) {
	rows, err := t.tx.Query(ctx, queries.IdentitySubsBySuper, superID)
	if err != nil {
		t.metrics.DatabaseOperations(moduleName, "identity_subs_by_super", "failure").Inc()
		return nil, fmt.Errorf("identity_subs_by_super: %w", err)
	}
	defer rows.Close()

	subs := []*storage.IdentitySub{}
	for rows.Next() {
		var s storage.IdentitySub
		if err = rows.Scan(&s.ID, &s.Name, &s.SuperID, &s.AccountID); err != nil {
			return nil, fmt.Errorf("scan identity sub: %w", err)
		}
		subs = append(subs, &s)
	}
	t.metrics.DatabaseOperations(moduleName, "identity_subs_by_super", metrics.DBStatus(rows.Err())).Inc()
	return subs, rows.Err()
}

func (t *ledgerTx) LatestChainState(ctx context.Context) (*storage.ChainState, error) {
	var cs storage.ChainState
	if err := t.queryRow(ctx, "chain_state_latest", queries.ChainStateLatest, nil,
		&cs.Timestamp,
		&cs.BlockNumber,
		&cs.TokenHolders,
		&cs.TotalFree,
		&cs.TotalReserved,
		&cs.TotalBalance,
		&cs.IdentityCount,
	); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (t *ledgerTx) InsertChainState(ctx context.Context, cs *storage.ChainState) error {
	return t.exec(ctx, "chain_state_insert", queries.ChainStateInsert,
		cs.Timestamp,
		cs.BlockNumber,
		cs.TokenHolders,
		cs.TotalFree,
		cs.TotalReserved,
		cs.TotalBalance,
		cs.IdentityCount,
	)
}

func (t *ledgerTx) ChainStateCounters(ctx context.Context) (*storage.ChainStateCounters, error) {
	var c storage.ChainStateCounters
	if err := t.queryRow(ctx, "chain_state_counters", queries.ChainStateCounters, nil,
		&c.TokenHolders,
		&c.TotalFree,
		&c.TotalReserved,
		&c.TotalBalance,
		&c.IdentityCount,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *ledgerTx) GetContractEvent(ctx context.Context, id string) (*storage.ContractEvent, error) {
	e := storage.ContractEvent{ID: id}
	if err := t.queryRow(ctx, "contract_event_get", queries.ContractEventGet, []interface{}{id},
		&e.BlockNumber,
		&e.IndexInBlock,
		&e.ContractAddress,
		&e.Data,
		&e.CreatedAt,
		&e.ExtrinsicHash,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *ledgerTx) UpsertContractEvent(ctx context.Context, e *storage.ContractEvent) error {
	return t.exec(ctx, "contract_event_upsert", queries.ContractEventUpsert,
		e.ID,
		e.BlockNumber,
		e.IndexInBlock,
		e.ContractAddress,
		e.Data,
		e.CreatedAt,
		e.ExtrinsicHash,
	)
}

func (t *ledgerTx) GetDecodedContractEvent(ctx context.Context, id string) (*storage.DecodedContractEvent, error) {
	e := storage.DecodedContractEvent{ID: id}
	if err := t.queryRow(ctx, "decoded_contract_event_get", queries.DecodedContractEventGet, []interface{}{id},
		&e.Name, &e.Signature, &e.Args,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *ledgerTx) UpsertDecodedContractEvent(ctx context.Context, e *storage.DecodedContractEvent) error {
	return t.exec(ctx, "decoded_contract_event_upsert", queries.DecodedContractEventUpsert,
		e.ID, e.Name, e.Signature, e.Args,
	)
}

func (t *ledgerTx) GetStakingReward(ctx context.Context, id string) (*storage.StakingReward, error) {
	r := storage.StakingReward{ID: id}
	if err := t.queryRow(ctx, "staking_reward_get", queries.StakingRewardGet, []interface{}{id},
		&r.BlockNumber,
		&r.Timestamp,
		&r.ExtrinsicHash,
		&r.AccountID,
		&r.Amount,
		&r.Validator,
		&r.Era,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *ledgerTx) UpsertStakingReward(ctx context.Context, r *storage.StakingReward) error {
	return t.exec(ctx, "staking_reward_upsert", queries.StakingRewardUpsert,
		r.ID,
		r.BlockNumber,
		r.Timestamp,
		r.ExtrinsicHash,
		r.AccountID,
		r.Amount,
		r.Validator,
		r.Era,
	)
}

func (t *ledgerTx) SetProcessedHeight(ctx context.Context, height uint64) error {
	return t.exec(ctx, "set_processed_height", queries.SetProcessedHeight, height)
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *ledgerTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
