package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

var (
	_ storage.BlockSource      = (*Source)(nil)
	_ storage.ChainStateSource = (*Source)(nil)
)

// Source serves a fixed set of blocks and runtime storage contents. Balances
// and code hashes are not versioned by block; the latest value set wins.
type Source struct {
	mu sync.Mutex

	blocks    []*storage.Block
	system    map[string]*storage.AccountBalance
	balances  map[string]*storage.AccountBalance
	noSystem  bool
	noBalance bool
	codes     map[string]string

	// Queries counts storage lookups per method, for tests.
	Queries map[string]int
}

// NewSource returns a source whose runtime exposes System.Account but not
// Balances.Account.
func NewSource() *Source {
	return &Source{
		system:    map[string]*storage.AccountBalance{},
		balances:  map[string]*storage.AccountBalance{},
		noBalance: true,
		codes:     map[string]string{},
		Queries:   map[string]int{},
	}
}

// AddBlocks appends blocks, keeping them ordered by height.
func (s *Source) AddBlocks(blocks ...*storage.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, blocks...)
	sort.SliceStable(s.blocks, func(i, j int) bool { return s.blocks[i].Header.Height < s.blocks[j].Header.Height })
}

// SetSystemAccount sets the System.Account entry for id.
func (s *Source) SetSystemAccount(id common.AccountID, bal *storage.AccountBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system[string(id)] = bal
}

// SetBalancesAccount sets the Balances.Account entry for id and makes the
// storage item available.
func (s *Source) SetBalancesAccount(id common.AccountID, bal *storage.AccountBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[string(id)] = bal
	s.noBalance = false
}

// SetStorageItems toggles which balance storage items the runtime has.
func (s *Source) SetStorageItems(system bool, balances bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSystem = !system
	s.noBalance = !balances
}

// SetCodeHash registers the code hash of a contract instance.
func (s *Source) SetCodeHash(contract common.AccountID, codeHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[string(contract)] = codeHash
}

func (s *Source) Blocks(ctx context.Context, from uint64, to uint64, limit uint64) ([]*storage.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Block
	for _, b := range s.blocks {
		if uint64(len(out)) >= limit {
			break
		}
		if b.Header.Height >= from && b.Header.Height <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Source) LatestBlockHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) == 0 {
		return 0, fmt.Errorf("%s: no blocks", moduleName)
	}
	return s.blocks[len(s.blocks)-1].Header.Height, nil
}

func (s *Source) Name() string {
	return moduleName
}

func (s *Source) SystemAccounts(ctx context.Context, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	return s.lookup("system", s.system, s.noSystem, ids), nil
}

func (s *Source) BalancesAccounts(ctx context.Context, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	return s.lookup("balances", s.balances, s.noBalance, ids), nil
}

func (s *Source) lookup(method string, m map[string]*storage.AccountBalance, missing bool, ids []common.AccountID) []*storage.AccountBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries[method]++
	if missing {
		return nil
	}
	out := make([]*storage.AccountBalance, len(ids))
	for i, id := range ids {
		if bal, ok := m[string(id)]; ok {
			b := *bal
			out[i] = &b
		}
	}
	return out
}

func (s *Source) ContractCodeHash(ctx context.Context, hdr *storage.BlockHeader, contract common.AccountID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries["contract"]++
	codeHash, ok := s.codes[string(contract)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return codeHash, nil
}
