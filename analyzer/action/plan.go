package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/oasisprotocol/nexus-ledger/common"
)

// Planner computes a list of actions from the store contents at the time
// it runs.
type Planner interface {
	Plan(ctx context.Context, actx *Context) ([]Action, error)
	String() string
}

// Plan is a two-phase action. Its planner runs only once every earlier
// action in the list has been applied; the planned actions are then
// performed in order.
type Plan struct {
	once
	Planner Planner

	// Actions the planner expanded into; empty until performed.
	planned []Action
}

func NewPlan(prov Provenance, p Planner) *Plan {
	return &Plan{once: once{prov: prov}, Planner: p}
}

func (a *Plan) Kind() string { return "plan" }

func (a *Plan) String() string {
	return fmt.Sprintf("Plan(%s)", a.Planner)
}

func (a *Plan) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	planned, err := a.Planner.Plan(ctx, actx)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	a.planned = planned
	for _, sub := range planned {
		if err := Perform(ctx, actx, sub); err != nil {
			return err
		}
	}
	return nil
}

// SubEntry is one entry of a sub identity list.
type SubEntry struct {
	ID   common.AccountID
	Name *string
}

// SetSubsPlan replaces the sub identities of Origin's identity with Subs.
// Subs that are no longer listed are unlinked; every listed sub is
// created if needed, linked and renamed.
type SetSubsPlan struct {
	Prov   Provenance
	Origin common.AccountID
	Subs   []SubEntry
}

func (p *SetSubsPlan) String() string {
	ids := make([]string, 0, len(p.Subs))
	for _, s := range p.Subs {
		ids = append(ids, s.ID.String())
	}
	return fmt.Sprintf("SetSubs(%s, [%s])", p.Origin, strings.Join(ids, ", "))
}

func (p *SetSubsPlan) Plan(ctx context.Context, actx *Context) ([]Action, error) {
	originAddr, err := actx.Address(p.Origin)
	if err != nil {
		return nil, err
	}
	current, err := actx.Store.ListIdentitySubs(ctx, originAddr)
	if err != nil {
		return nil, fmt.Errorf("listing subs of %s: %w", originAddr, err)
	}

	keep := make(map[string]struct{}, len(p.Subs))
	for _, s := range p.Subs {
		addr, err := actx.Address(s.ID)
		if err != nil {
			return nil, err
		}
		keep[addr] = struct{}{}
	}

	var actions []Action
	for _, sub := range current {
		if _, ok := keep[sub.ID]; ok {
			continue
		}
		raw, _, err := common.DecodeAddress(sub.ID)
		if err != nil {
			return nil, fmt.Errorf("decoding sub address %s: %w", sub.ID, err)
		}
		actions = append(actions, NewRemoveIdentitySub(p.Prov, raw))
	}
	for _, s := range p.Subs {
		actions = append(actions,
			NewEnsureAccount(p.Prov, s.ID),
			NewEnsureIdentitySub(p.Prov, s.ID),
			NewAddIdentitySub(p.Prov, p.Origin, s.ID),
			NewRenameSub(p.Prov, s.ID, s.Name),
		)
	}
	return actions, nil
}
