package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/oasisprotocol/nexus-ledger/storage"
)

// tx works on a private copy of the client state, which replaces the
// committed state on Commit.
type tx struct {
	client *Client
	state  *state
	done   bool
}

var _ storage.LedgerTx = (*tx)(nil)

func (t *tx) check() error {
	if t.done {
		return fmt.Errorf("%s: transaction already closed", moduleName)
	}
	return nil
}

func (t *tx) accountRef(id *string) error {
	if id == nil {
		return nil
	}
	if _, ok := t.state.accounts[*id]; !ok {
		return fmt.Errorf("%w: account %s", ErrForeignKey, *id)
	}
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	a, ok := t.state.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	a = cloneAccount(a)
	return &a, nil
}

func (t *tx) UpsertAccount(ctx context.Context, a *storage.Account) error {
	if err := t.check(); err != nil {
		return err
	}
	sum := a.Free.Plus(a.Reserved)
	if a.Total.Cmp(&sum.Int) != 0 {
		return fmt.Errorf("account %s: total must equal free + reserved", a.ID)
	}
	t.state.accounts[a.ID] = cloneAccount(*a)
	return nil
}

func (t *tx) RemoveAccount(ctx context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.accounts[id]; !ok {
		return nil
	}
	delete(t.state.accounts, id)

	// ON DELETE SET NULL
	for k, v := range t.state.identities {
		if v.AccountID != nil && *v.AccountID == id {
			v.AccountID = nil
			t.state.identities[k] = v
		}
	}
	for k, v := range t.state.identitySubs {
		if v.AccountID != nil && *v.AccountID == id {
			v.AccountID = nil
			t.state.identitySubs[k] = v
		}
	}
	for k, v := range t.state.stakingRewards {
		if v.AccountID != nil && *v.AccountID == id {
			v.AccountID = nil
			t.state.stakingRewards[k] = v
		}
	}
	return nil
}

func (t *tx) GetIdentity(ctx context.Context, id string) (*storage.Identity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	i, ok := t.state.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	i = cloneIdentity(i)
	return &i, nil
}

func (t *tx) InsertIdentity(ctx context.Context, i *storage.Identity) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.identities[i.ID]; ok {
		return fmt.Errorf("%w: identity %s", storage.ErrAlreadyExists, i.ID)
	}
	return t.SaveIdentity(ctx, i)
}

func (t *tx) SaveIdentity(ctx context.Context, i *storage.Identity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.accountRef(i.AccountID); err != nil {
		return err
	}
	t.state.identities[i.ID] = cloneIdentity(*i)
	return nil
}

func (t *tx) GetIdentitySub(ctx context.Context, id string) (*storage.IdentitySub, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	s, ok := t.state.identitySubs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (t *tx) InsertIdentitySub(ctx context.Context, s *storage.IdentitySub) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.identitySubs[s.ID]; ok {
		return fmt.Errorf("%w: identity sub %s", storage.ErrAlreadyExists, s.ID)
	}
	return t.SaveIdentitySub(ctx, s)
}

func (t *tx) SaveIdentitySub(ctx context.Context, s *storage.IdentitySub) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.accountRef(s.AccountID); err != nil {
		return err
	}
	if s.SuperID != nil {
		if _, ok := t.state.identities[*s.SuperID]; !ok {
			return fmt.Errorf("%w: identity %s", ErrForeignKey, *s.SuperID)
		}
	}
	t.state.identitySubs[s.ID] = *s
	return nil
}

func (t *tx) ListIdentitySubs(ctx context.Context, superID string) ([]*storage.IdentitySub, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	subs := []*storage.IdentitySub{}
	for _, s := range t.state.identitySubs {
		if s.SuperID != nil && *s.SuperID == superID {
			s := s
			subs = append(subs, &s)
		}
	}
	sortSubs(subs)
	return subs, nil
}

func (t *tx) LatestChainState(ctx context.Context) (*storage.ChainState, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var latest *storage.ChainState
	for i := range t.state.chainStates {
		cs := t.state.chainStates[i]
		if latest == nil || cs.Timestamp.After(latest.Timestamp) {
			latest = &cs
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (t *tx) InsertChainState(ctx context.Context, cs *storage.ChainState) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.chainStates {
		if existing.Timestamp.Equal(cs.Timestamp) {
			return fmt.Errorf("%w: chain state at %s", storage.ErrAlreadyExists, cs.Timestamp)
		}
	}
	t.state.chainStates = append(t.state.chainStates, *cs)
	return nil
}

func (t *tx) ChainStateCounters(ctx context.Context) (*storage.ChainStateCounters, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c := storage.ChainStateCounters{}
	for _, a := range t.state.accounts {
		if !a.Total.IsZero() {
			c.TokenHolders++
		}
		c.TotalFree = c.TotalFree.Plus(a.Free)
		c.TotalReserved = c.TotalReserved.Plus(a.Reserved)
		c.TotalBalance = c.TotalBalance.Plus(a.Total)
	}
	for _, i := range t.state.identities {
		if !i.IsKilled {
			c.IdentityCount++
		}
	}
	return &c, nil
}

func (t *tx) GetContractEvent(ctx context.Context, id string) (*storage.ContractEvent, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e, ok := t.state.contractEvents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	e = cloneContractEvent(e)
	return &e, nil
}

func (t *tx) UpsertContractEvent(ctx context.Context, e *storage.ContractEvent) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.contractEvents[e.ID] = cloneContractEvent(*e)
	return nil
}

func (t *tx) GetDecodedContractEvent(ctx context.Context, id string) (*storage.DecodedContractEvent, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e, ok := t.state.decodedEvents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

func (t *tx) UpsertDecodedContractEvent(ctx context.Context, e *storage.DecodedContractEvent) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.contractEvents[e.ID]; !ok {
		return fmt.Errorf("%w: contract event %s", ErrForeignKey, e.ID)
	}
	d := *e
	d.Args = append(d.Args[:0:0], e.Args...)
	t.state.decodedEvents[e.ID] = d
	return nil
}

func (t *tx) GetStakingReward(ctx context.Context, id string) (*storage.StakingReward, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.state.stakingRewards[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	r.Amount = r.Amount.Clone()
	return &r, nil
}

func (t *tx) UpsertStakingReward(ctx context.Context, r *storage.StakingReward) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.accountRef(r.AccountID); err != nil {
		return err
	}
	stored := *r
	stored.Amount = r.Amount.Clone()
	if existing, ok := t.state.stakingRewards[r.ID]; ok {
		// Resolved validator/era survive re-processing.
		stored.Validator, stored.Era = existing.Validator, existing.Era
	}
	t.state.stakingRewards[r.ID] = stored
	return nil
}

func (t *tx) SetProcessedHeight(ctx context.Context, height uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.processedHeight = &height
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	t.client.finish(t.state)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.client.finish(nil)
	return nil
}

func cloneAccount(a storage.Account) storage.Account {
	a.Free = a.Free.Clone()
	a.Reserved = a.Reserved.Clone()
	a.Total = a.Total.Clone()
	return a
}

func cloneIdentity(i storage.Identity) storage.Identity {
	if i.Additional != nil {
		i.Additional = append([]storage.IdentityField{}, i.Additional...)
	}
	return i
}

func cloneContractEvent(e storage.ContractEvent) storage.ContractEvent {
	e.Data = append([]byte{}, e.Data...)
	return e
}

func sortSubs(subs []*storage.IdentitySub) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
}
