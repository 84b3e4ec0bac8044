// Package storage defines storage interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/oasisprotocol/nexus-ledger/common"
)

var (
	// ErrNotFound is returned when a required entity is missing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by inserts whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// BlockSource defines an interface for retrieving decoded blocks from the
// block-stream collaborator.
type BlockSource interface {
	// Blocks returns at most limit blocks with heights in [from, to], in
	// ascending height order. Items within a block are in emission order.
	Blocks(ctx context.Context, from uint64, to uint64, limit uint64) ([]*Block, error)

	// LatestBlockHeight returns the height of the newest block available.
	LatestBlockHeight(ctx context.Context) (uint64, error)

	// Name returns the name of the block source.
	Name() string
}

// ChainStateSource defines an interface for querying runtime storage at a
// given block.
//
// The account getters return a list parallel to ids, where a nil entry
// means the storage item holds no data for that id. A nil list means the
// runtime version at that block lacks the storage item altogether.
type ChainStateSource interface {
	// SystemAccounts queries System.Account.
	SystemAccounts(ctx context.Context, hdr *BlockHeader, ids []common.AccountID) ([]*AccountBalance, error)

	// BalancesAccounts queries Balances.Account, which older runtimes use.
	BalancesAccounts(ctx context.Context, hdr *BlockHeader, ids []common.AccountID) ([]*AccountBalance, error)

	// ContractCodeHash returns the hex-encoded code hash of a contract
	// instance. Returns ErrNotFound if the contract is unknown.
	ContractCodeHash(ctx context.Context, hdr *BlockHeader, contract common.AccountID) (string, error)
}

// LedgerStore is the entity store actions are applied against. Reads
// observe all earlier writes to the same store.
type LedgerStore interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	UpsertAccount(ctx context.Context, a *Account) error
	// RemoveAccount deletes an account. Weak references to it are nulled.
	// Removing a missing account is not an error.
	RemoveAccount(ctx context.Context, id string) error

	GetIdentity(ctx context.Context, id string) (*Identity, error)
	InsertIdentity(ctx context.Context, i *Identity) error
	SaveIdentity(ctx context.Context, i *Identity) error

	GetIdentitySub(ctx context.Context, id string) (*IdentitySub, error)
	InsertIdentitySub(ctx context.Context, s *IdentitySub) error
	SaveIdentitySub(ctx context.Context, s *IdentitySub) error
	// ListIdentitySubs returns the subs linked to the given super identity,
	// ordered by id.
	ListIdentitySubs(ctx context.Context, superID string) ([]*IdentitySub, error)

	// LatestChainState returns the most recent checkpoint by timestamp, or
	// ErrNotFound if none exists yet.
	LatestChainState(ctx context.Context) (*ChainState, error)
	InsertChainState(ctx context.Context, cs *ChainState) error
	// ChainStateCounters aggregates the current ledger contents.
	ChainStateCounters(ctx context.Context) (*ChainStateCounters, error)

	GetContractEvent(ctx context.Context, id string) (*ContractEvent, error)
	UpsertContractEvent(ctx context.Context, e *ContractEvent) error
	GetDecodedContractEvent(ctx context.Context, id string) (*DecodedContractEvent, error)
	UpsertDecodedContractEvent(ctx context.Context, e *DecodedContractEvent) error

	GetStakingReward(ctx context.Context, id string) (*StakingReward, error)
	UpsertStakingReward(ctx context.Context, r *StakingReward) error

	// SetProcessedHeight records that all blocks up to and including height
	// have been applied.
	SetProcessedHeight(ctx context.Context, height uint64) error
}

// LedgerTx is a LedgerStore whose writes become durable on Commit.
type LedgerTx interface {
	LedgerStore

	Commit(ctx context.Context) error
	// Rollback discards all writes. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// TargetStorage defines an interface for reading and writing
// processed block data.
type TargetStorage interface {
	// Begin starts a transaction. Only one transaction may be open at a time.
	Begin(ctx context.Context) (LedgerTx, error)

	// ProcessedHeight returns the height of the last committed block, and
	// false if no block has been processed yet.
	ProcessedHeight(ctx context.Context) (uint64, bool, error)

	// Wipe removes all contents of the storage.
	Wipe(ctx context.Context) error

	// Close releases the storage's resources.
	Close()

	// Name returns the name of the target storage.
	Name() string
}
