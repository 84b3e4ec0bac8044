package storage

import (
	"encoding/json"
	"time"

	"github.com/oasisprotocol/nexus-ledger/common"
)

// AccountBalance is the balance data of one account as read from runtime
// storage.
type AccountBalance struct {
	Free     common.BigInt `json:"free"`
	Reserved common.BigInt `json:"reserved"`
}

// Total returns free+reserved.
func (b *AccountBalance) Total() common.BigInt {
	return b.Free.Plus(b.Reserved)
}

// Account is keyed by its ss58 address.
type Account struct {
	ID        string
	Free      common.BigInt
	Reserved  common.BigInt
	Total     common.BigInt
	UpdatedAt uint64
}

// NewAccount builds a full account record. Total is always derived from the
// balance at construction.
func NewAccount(id string, bal *AccountBalance, height uint64) *Account {
	return &Account{
		ID:        id,
		Free:      bal.Free.Clone(),
		Reserved:  bal.Reserved.Clone(),
		Total:     bal.Total(),
		UpdatedAt: height,
	}
}

// IdentityField is one of an identity's additional (name, value) pairs.
type IdentityField struct {
	Name  *string `json:"name"`
	Value *string `json:"value"`
}

// IdentityInfo holds the display fields of an identity. They are always
// replaced together.
type IdentityInfo struct {
	Display        *string
	Legal          *string
	Web            *string
	Riot           *string
	Email          *string
	PGPFingerprint *string
	Image          *string
	Twitter        *string
	Additional     []IdentityField
}

// Identity is keyed by the address of the owning account.
type Identity struct {
	ID        string
	AccountID *string
	IdentityInfo
	Judgement common.Judgement
	IsKilled  bool
}

// IdentitySub is keyed by the sub-account address.
type IdentitySub struct {
	ID        string
	Name      *string
	SuperID   *string
	AccountID *string
}

// ChainStateCounters are the cumulative ledger counters at one instant.
type ChainStateCounters struct {
	TokenHolders  uint64
	TotalFree     common.BigInt
	TotalReserved common.BigInt
	TotalBalance  common.BigInt
	IdentityCount uint64
}

// ChainState is an append-only checkpoint.
type ChainState struct {
	Timestamp   time.Time
	BlockNumber uint64
	ChainStateCounters
}

// ContractEvent is keyed by EventKey of the emitting event.
type ContractEvent struct {
	ID              string
	BlockNumber     uint64
	IndexInBlock    int
	ContractAddress string
	Data            []byte
	CreatedAt       time.Time
	ExtrinsicHash   *string
}

// DecodedContractEvent shares its ID with the ContractEvent it enriches.
type DecodedContractEvent struct {
	ID        string
	Name      string
	Signature string
	Args      json.RawMessage
}

// StakingReward is keyed by event id. Validator and Era stay nil until a
// source for them exists.
type StakingReward struct {
	ID            string
	BlockNumber   uint64
	Timestamp     time.Time
	ExtrinsicHash *string
	AccountID     *string
	Amount        common.BigInt
	Validator     *string
	Era           *uint32
}
