// Package memory implements the target storage interface in process memory.
// It honors the same semantics as the postgres backend, including rollback
// and nulling of weak references, and is meant for tests and ephemeral runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

const moduleName = "inmemory"

// ErrForeignKey is returned when a write references a missing entity.
var ErrForeignKey = errors.New("foreign key violation")

type state struct {
	accounts        map[string]storage.Account
	identities      map[string]storage.Identity
	identitySubs    map[string]storage.IdentitySub
	chainStates     []storage.ChainState
	contractEvents  map[string]storage.ContractEvent
	decodedEvents   map[string]storage.DecodedContractEvent
	stakingRewards  map[string]storage.StakingReward
	processedHeight *uint64
}

func newState() *state {
	return &state{
		accounts:       map[string]storage.Account{},
		identities:     map[string]storage.Identity{},
		identitySubs:   map[string]storage.IdentitySub{},
		contractEvents: map[string]storage.ContractEvent{},
		decodedEvents:  map[string]storage.DecodedContractEvent{},
		stakingRewards: map[string]storage.StakingReward{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = cloneAccount(v)
	}
	for k, v := range s.identities {
		c.identities[k] = cloneIdentity(v)
	}
	for k, v := range s.identitySubs {
		c.identitySubs[k] = v
	}
	c.chainStates = append(c.chainStates, s.chainStates...)
	for k, v := range s.contractEvents {
		c.contractEvents[k] = cloneContractEvent(v)
	}
	for k, v := range s.decodedEvents {
		v.Args = append(v.Args[:0:0], v.Args...)
		c.decodedEvents[k] = v
	}
	for k, v := range s.stakingRewards {
		v.Amount = v.Amount.Clone()
		c.stakingRewards[k] = v
	}
	if s.processedHeight != nil {
		h := *s.processedHeight
		c.processedHeight = &h
	}
	return c
}

// Client is an in-memory TargetStorage.
type Client struct {
	mu     sync.Mutex
	state  *state
	open   bool
	logger *log.Logger
}

var _ storage.TargetStorage = (*Client)(nil)

// NewClient creates an empty in-memory store.
func NewClient(logger *log.Logger) *Client {
	return &Client{
		state:  newState(),
		logger: logger.WithModule(moduleName),
	}
}

// Begin implements the storage.TargetStorage interface for Client.
func (c *Client) Begin(ctx context.Context) (storage.LedgerTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil, fmt.Errorf("%s: a transaction is already open", moduleName)
	}
	c.open = true
	return &tx{client: c, state: c.state.clone()}, nil
}

// ProcessedHeight implements the storage.TargetStorage interface for Client.
func (c *Client) ProcessedHeight(ctx context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.processedHeight == nil {
		return 0, false, nil
	}
	return *c.state.processedHeight, true, nil
}

// Wipe implements the storage.TargetStorage interface for Client.
func (c *Client) Wipe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("wiping in-memory storage")
	c.state = newState()
	return nil
}

// Close implements the storage.TargetStorage interface for Client.
func (c *Client) Close() {}

// Name implements the storage.TargetStorage interface for Client.
func (c *Client) Name() string {
	return moduleName
}

// ChainStates returns all committed checkpoints in timestamp order.
func (c *Client) ChainStates() []storage.ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]storage.ChainState{}, c.state.chainStates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Accounts returns the committed accounts keyed by id.
func (c *Client) Accounts() map[string]storage.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]storage.Account, len(c.state.accounts))
	for k, v := range c.state.accounts {
		out[k] = cloneAccount(v)
	}
	return out
}

func (c *Client) finish(s *state) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s != nil {
		c.state = s
	}
	c.open = false
}
