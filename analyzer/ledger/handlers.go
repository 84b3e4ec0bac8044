package ledger

import (
	"context"
	"encoding/json"

	"github.com/oasisprotocol/nexus-ledger/analyzer/action"
	"github.com/oasisprotocol/nexus-ledger/analyzer/contracts"
	"github.com/oasisprotocol/nexus-ledger/analyzer/payload"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// blockState is what handlers see of the block being processed.
type blockState struct {
	hdr   *storage.BlockHeader
	store storage.LedgerStore
}

func (b *blockState) provenance(item *storage.Item) action.Provenance {
	var ext *storage.Extrinsic
	switch {
	case item.Call != nil:
		ext = item.Call.Extrinsic
	case item.Event != nil:
		ext = item.Event.Extrinsic
	}
	return action.NewProvenance(b.hdr, ext)
}

// handler derives the actions of one item. Payload problems are returned
// as *decodeError.
type handler func(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error)

func (p *processor) newHandlers() map[itemKey]handler {
	h := map[itemKey]handler{}
	for _, n := range balanceEvents {
		h[eventKey(n)] = p.balanceEvent
	}
	h[eventKey("Staking.Rewarded")] = p.stakingReward
	h[eventKey("Staking.Reward")] = p.stakingReward
	for _, n := range balanceCalls {
		h[callKey(n)] = p.balanceCall
	}

	h[eventKey("Identity.IdentitySet")] = p.identityTouched
	h[eventKey("Identity.JudgementGiven")] = p.identityTouched
	h[eventKey("Identity.JudgementRequested")] = p.judgementEvent(common.JudgementRequested)
	h[eventKey("Identity.JudgementUnrequested")] = p.judgementEvent(common.JudgementUnknown)
	h[eventKey("Identity.IdentityCleared")] = p.identityCleared
	h[eventKey("Identity.IdentityKilled")] = p.identityKilled
	h[eventKey("Identity.SubIdentityAdded")] = p.subAdded
	h[eventKey("Identity.SubIdentityRemoved")] = p.subRemoved
	h[eventKey("Identity.SubIdentityRevoked")] = p.subRemoved

	h[callKey("Identity.set_identity")] = p.signed(p.setIdentity)
	h[callKey("Identity.provide_judgement")] = p.signed(p.provideJudgement)
	h[callKey("Identity.set_subs")] = p.signed(p.setSubs)
	h[callKey("Identity.add_sub")] = p.signed(p.addSub)
	h[callKey("Identity.rename_sub")] = p.signed(p.renameSub)
	h[callKey("Identity.remove_sub")] = p.signed(p.removeSub)
	h[callKey("Identity.quit_sub")] = p.signed(p.quitSub)
	h[callKey("Identity.clear_identity")] = p.signed(p.clearIdentity)
	h[callKey("Identity.kill_identity")] = p.signed(p.killIdentity)

	h[eventKey(contracts.EventName)] = p.contractEmitted
	return h
}

// touch refreshes the given accounts. In sweep mode they are deferred to
// the window instead.
func (p *processor) touch(prov action.Provenance, ids []common.AccountID) []action.Action {
	ids = common.UniqueAccountIDs(ids)
	if p.sweep {
		p.window.Add(ids...)
		return nil
	}
	actions := make([]action.Action, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, action.NewEnsureAccount(prov, id))
	}
	return actions
}

func (p *processor) balanceEvent(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	ids, err := p.classifier.subjects(item)
	if err != nil {
		return nil, err
	}
	return p.touch(b.provenance(item), ids), nil
}

func (p *processor) stakingReward(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	var (
		stash  common.AccountID
		amount common.BigInt
	)
	if err := decodeArgs(item.Event.Args, payload.Arg("stash", &stash), payload.Arg("amount", &amount)); err != nil {
		return nil, err
	}
	// The reward links to the stash's account, so it has to exist by the
	// time the reward is written even when balances are swept later.
	prov := b.provenance(item)
	if p.sweep {
		p.window.Add(stash)
	}
	return []action.Action{
		action.NewEnsureAccount(prov, stash),
		action.NewReward(prov, item.Event.ID, amount, stash),
	}, nil
}

func (p *processor) balanceCall(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	if !item.Call.Success {
		return nil, nil
	}
	ids, err := p.classifier.subjects(item)
	if err != nil {
		return nil, err
	}
	return p.touch(b.provenance(item), ids), nil
}

// ensureIdentity returns the actions making sure id has an account and an
// identity.
func ensureIdentity(prov action.Provenance, id common.AccountID) []action.Action {
	return []action.Action{
		action.NewEnsureAccount(prov, id),
		action.NewEnsureIdentity(prov, id),
	}
}

func ensureSub(prov action.Provenance, id common.AccountID) []action.Action {
	return []action.Action{
		action.NewEnsureAccount(prov, id),
		action.NewEnsureIdentitySub(prov, id),
	}
}

func decodeAccount(args json.RawMessage, name string) (common.AccountID, error) {
	var id common.AccountID
	if err := decodeArgs(args, payload.Arg(name, &id)); err != nil {
		return nil, err
	}
	return id, nil
}

func (p *processor) identityTouched(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	ids, err := p.classifier.subjects(item)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return ensureIdentity(b.provenance(item), ids[0]), nil
}

func (p *processor) judgementEvent(j common.Judgement) handler {
	return func(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
		who, err := decodeAccount(item.Event.Args, "who")
		if err != nil {
			return nil, err
		}
		prov := b.provenance(item)
		return append(ensureIdentity(prov, who), action.NewGiveJudgement(prov, who, j)), nil
	}
}

func (p *processor) identityCleared(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	who, err := decodeAccount(item.Event.Args, "who")
	if err != nil {
		return nil, err
	}
	prov := b.provenance(item)
	return append(ensureIdentity(prov, who), action.NewClearIdentity(prov, who)), nil
}

func (p *processor) identityKilled(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	who, err := decodeAccount(item.Event.Args, "who")
	if err != nil {
		return nil, err
	}
	return killActions(b.provenance(item), who), nil
}

func killActions(prov action.Provenance, who common.AccountID) []action.Action {
	return append(ensureIdentity(prov, who),
		action.NewClearIdentity(prov, who),
		action.NewKillIdentity(prov, who),
	)
}

func (p *processor) subAdded(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	var sub, main common.AccountID
	if err := decodeArgs(item.Event.Args, payload.Arg("sub", &sub), payload.Arg("main", &main)); err != nil {
		return nil, err
	}
	prov := b.provenance(item)
	actions := ensureIdentity(prov, main)
	actions = append(actions, ensureSub(prov, sub)...)
	return append(actions, action.NewAddIdentitySub(prov, main, sub)), nil
}

func (p *processor) subRemoved(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	sub, err := decodeAccount(item.Event.Args, "sub")
	if err != nil {
		return nil, err
	}
	prov := b.provenance(item)
	return append(ensureSub(prov, sub), action.NewRemoveIdentitySub(prov, sub)), nil
}

// signedHandler handles a successful call with a signed origin.
type signedHandler func(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error)

// signed adapts a signedHandler. Failed calls and calls without a signed
// origin yield no actions.
func (p *processor) signed(fn signedHandler) handler {
	return func(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
		if !item.Call.Success {
			return nil, nil
		}
		origin, err := signedOrigin(item.Call.Origin)
		if err != nil || origin == nil {
			return nil, err
		}
		return fn(b.provenance(item), origin, item.Call.Args)
	}
}

func (p *processor) setIdentity(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	var arg identityInfoArg
	if err := decodeArgs(args, payload.Arg("info", &arg)); err != nil {
		return nil, err
	}
	info, err := arg.toInfo()
	if err != nil {
		return nil, &decodeError{err}
	}
	return append(ensureIdentity(prov, origin), action.NewSetIdentity(prov, origin, info)), nil
}

func (p *processor) provideJudgement(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	var (
		regIndex  uint32
		target    common.AccountID
		judgement common.Judgement
	)
	if err := decodeArgs(args,
		payload.Arg("regIndex", &regIndex),
		payload.Arg("target", &target),
		payload.Arg("judgement", &judgement),
	); err != nil {
		return nil, err
	}
	return append(ensureIdentity(prov, target), action.NewGiveJudgement(prov, target, judgement)), nil
}

func (p *processor) setSubs(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	var raw []json.RawMessage
	if err := decodeArgs(args, payload.Arg("subs", &raw)); err != nil {
		return nil, err
	}
	subs, err := decodeSubs(raw)
	if err != nil {
		return nil, &decodeError{err}
	}
	return append(ensureIdentity(prov, origin), action.NewPlan(prov, &action.SetSubsPlan{
		Prov:   prov,
		Origin: origin,
		Subs:   subs,
	})), nil
}

func (p *processor) addSub(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	var (
		sub  common.AccountID
		name identityData
	)
	if err := decodeArgs(args, payload.Arg("sub", &sub), payload.OptArg("data", &name)); err != nil {
		return nil, err
	}
	actions := ensureIdentity(prov, origin)
	actions = append(actions, ensureSub(prov, sub)...)
	return append(actions,
		action.NewAddIdentitySub(prov, origin, sub),
		action.NewRenameSub(prov, sub, name.Value),
	), nil
}

func (p *processor) renameSub(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	var (
		sub  common.AccountID
		name identityData
	)
	if err := decodeArgs(args, payload.Arg("sub", &sub), payload.OptArg("data", &name)); err != nil {
		return nil, err
	}
	return append(ensureSub(prov, sub), action.NewRenameSub(prov, sub, name.Value)), nil
}

func (p *processor) removeSub(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	sub, err := decodeAccount(args, "sub")
	if err != nil {
		return nil, err
	}
	return append(ensureSub(prov, sub), action.NewRemoveIdentitySub(prov, sub)), nil
}

func (p *processor) quitSub(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	return append(ensureSub(prov, origin), action.NewRemoveIdentitySub(prov, origin)), nil
}

func (p *processor) clearIdentity(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	return append(ensureIdentity(prov, origin), action.NewClearIdentity(prov, origin)), nil
}

func (p *processor) killIdentity(prov action.Provenance, origin common.AccountID, args json.RawMessage) ([]action.Action, error) {
	target, err := decodeAccount(args, "target")
	if err != nil {
		return nil, err
	}
	return killActions(prov, target), nil
}

func (p *processor) contractEmitted(ctx context.Context, b *blockState, item *storage.Item) ([]action.Action, error) {
	return nil, p.contracts.Process(ctx, b.store, b.hdr, item.Event)
}
