package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// requireIdentity loads the identity of addr together with its account.
func requireIdentity(ctx context.Context, actx *Context, addr string) (*storage.Identity, error) {
	ident, err := actx.Store.GetIdentity(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", addr, err)
	}
	if _, err := requireAccount(ctx, actx, addr); err != nil {
		return nil, err
	}
	return ident, nil
}

func requireSub(ctx context.Context, actx *Context, addr string) (*storage.IdentitySub, error) {
	sub, err := actx.Store.GetIdentitySub(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("identity sub %s: %w", addr, err)
	}
	return sub, nil
}

func saveIdentity(ctx context.Context, actx *Context, ident *storage.Identity) error {
	if err := actx.Store.SaveIdentity(ctx, ident); err != nil {
		return fmt.Errorf("saving identity %s: %w", ident.ID, err)
	}
	return nil
}

func saveSub(ctx context.Context, actx *Context, sub *storage.IdentitySub) error {
	if err := actx.Store.SaveIdentitySub(ctx, sub); err != nil {
		return fmt.Errorf("saving identity sub %s: %w", sub.ID, err)
	}
	return nil
}

// EnsureIdentity creates an empty identity for an existing account. It is
// a no-op if the identity already exists.
type EnsureIdentity struct {
	once
	ID common.AccountID
}

func NewEnsureIdentity(prov Provenance, id common.AccountID) *EnsureIdentity {
	return &EnsureIdentity{once: once{prov: prov}, ID: id}
}

func (a *EnsureIdentity) Kind() string { return "ensure_identity" }

func (a *EnsureIdentity) String() string {
	return fmt.Sprintf("EnsureIdentity(%s)", a.ID)
}

func (a *EnsureIdentity) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	_, err = actx.Store.GetIdentity(ctx, addr)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("identity %s: %w", addr, err)
	}
	acct, err := requireAccount(ctx, actx, addr)
	if err != nil {
		return err
	}
	ident := &storage.Identity{
		ID:        addr,
		AccountID: &acct.ID,
		Judgement: common.JudgementUnknown,
	}
	if err := actx.Store.InsertIdentity(ctx, ident); err != nil {
		return fmt.Errorf("inserting identity %s: %w", addr, err)
	}
	return nil
}

// SetIdentity replaces all display fields of an identity.
type SetIdentity struct {
	once
	ID   common.AccountID
	Info storage.IdentityInfo
}

func NewSetIdentity(prov Provenance, id common.AccountID, info storage.IdentityInfo) *SetIdentity {
	return &SetIdentity{once: once{prov: prov}, ID: id, Info: info}
}

func (a *SetIdentity) Kind() string { return "set_identity" }

func (a *SetIdentity) String() string {
	return fmt.Sprintf("SetIdentity(%s)", a.ID)
}

func (a *SetIdentity) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	ident, err := requireIdentity(ctx, actx, addr)
	if err != nil {
		return err
	}
	ident.IdentityInfo = a.Info
	return saveIdentity(ctx, actx, ident)
}

// GiveJudgement sets the judgement of an identity.
type GiveJudgement struct {
	once
	ID        common.AccountID
	Judgement common.Judgement
}

func NewGiveJudgement(prov Provenance, id common.AccountID, j common.Judgement) *GiveJudgement {
	return &GiveJudgement{once: once{prov: prov}, ID: id, Judgement: j}
}

func (a *GiveJudgement) Kind() string { return "give_judgement" }

func (a *GiveJudgement) String() string {
	return fmt.Sprintf("GiveJudgement(%s, %s)", a.ID, a.Judgement)
}

func (a *GiveJudgement) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	ident, err := requireIdentity(ctx, actx, addr)
	if err != nil {
		return err
	}
	ident.Judgement = a.Judgement
	return saveIdentity(ctx, actx, ident)
}

// ClearIdentity nulls the display fields of an identity. Judgement and the
// killed flag are kept.
type ClearIdentity struct {
	once
	ID common.AccountID
}

func NewClearIdentity(prov Provenance, id common.AccountID) *ClearIdentity {
	return &ClearIdentity{once: once{prov: prov}, ID: id}
}

func (a *ClearIdentity) Kind() string { return "clear_identity" }

func (a *ClearIdentity) String() string {
	return fmt.Sprintf("ClearIdentity(%s)", a.ID)
}

func (a *ClearIdentity) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	ident, err := requireIdentity(ctx, actx, addr)
	if err != nil {
		return err
	}
	ident.IdentityInfo = storage.IdentityInfo{}
	return saveIdentity(ctx, actx, ident)
}

// KillIdentity flags an identity as killed. The identity is looked up when
// the action is performed, so it may be created earlier in the same batch.
// The row is never deleted.
type KillIdentity struct {
	once
	ID common.AccountID
}

func NewKillIdentity(prov Provenance, id common.AccountID) *KillIdentity {
	return &KillIdentity{once: once{prov: prov}, ID: id}
}

func (a *KillIdentity) Kind() string { return "kill_identity" }

func (a *KillIdentity) String() string {
	return fmt.Sprintf("KillIdentity(%s)", a.ID)
}

func (a *KillIdentity) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	ident, err := actx.Store.GetIdentity(ctx, addr)
	if err != nil {
		return fmt.Errorf("identity %s: %w", addr, err)
	}
	ident.IsKilled = true
	return saveIdentity(ctx, actx, ident)
}

// EnsureIdentitySub creates an unlinked sub identity for an existing
// account. It is a no-op if the sub already exists.
type EnsureIdentitySub struct {
	once
	ID common.AccountID
}

func NewEnsureIdentitySub(prov Provenance, id common.AccountID) *EnsureIdentitySub {
	return &EnsureIdentitySub{once: once{prov: prov}, ID: id}
}

func (a *EnsureIdentitySub) Kind() string { return "ensure_identity_sub" }

func (a *EnsureIdentitySub) String() string {
	return fmt.Sprintf("EnsureIdentitySub(%s)", a.ID)
}

func (a *EnsureIdentitySub) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.ID)
	if err != nil {
		return err
	}
	_, err = actx.Store.GetIdentitySub(ctx, addr)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("identity sub %s: %w", addr, err)
	}
	acct, err := requireAccount(ctx, actx, addr)
	if err != nil {
		return err
	}
	sub := &storage.IdentitySub{
		ID:        addr,
		AccountID: &acct.ID,
	}
	if err := actx.Store.InsertIdentitySub(ctx, sub); err != nil {
		return fmt.Errorf("inserting identity sub %s: %w", addr, err)
	}
	return nil
}

// AddIdentitySub links a sub identity to the identity of Origin.
type AddIdentitySub struct {
	once
	Origin common.AccountID
	Sub    common.AccountID
}

func NewAddIdentitySub(prov Provenance, origin common.AccountID, sub common.AccountID) *AddIdentitySub {
	return &AddIdentitySub{once: once{prov: prov}, Origin: origin, Sub: sub}
}

func (a *AddIdentitySub) Kind() string { return "add_identity_sub" }

func (a *AddIdentitySub) String() string {
	return fmt.Sprintf("AddIdentitySub(%s, %s)", a.Origin, a.Sub)
}

func (a *AddIdentitySub) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	originAddr, err := actx.Address(a.Origin)
	if err != nil {
		return err
	}
	subAddr, err := actx.Address(a.Sub)
	if err != nil {
		return err
	}
	ident, err := requireIdentity(ctx, actx, originAddr)
	if err != nil {
		return err
	}
	subAcct, err := requireAccount(ctx, actx, subAddr)
	if err != nil {
		return err
	}
	sub, err := requireSub(ctx, actx, subAddr)
	if err != nil {
		return err
	}
	sub.SuperID = &ident.ID
	sub.AccountID = &subAcct.ID
	return saveSub(ctx, actx, sub)
}

// RenameSub sets the display name of a sub identity. A nil name clears it.
type RenameSub struct {
	once
	Sub  common.AccountID
	Name *string
}

func NewRenameSub(prov Provenance, sub common.AccountID, name *string) *RenameSub {
	return &RenameSub{once: once{prov: prov}, Sub: sub, Name: name}
}

func (a *RenameSub) Kind() string { return "rename_sub" }

func (a *RenameSub) String() string {
	name := "<nil>"
	if a.Name != nil {
		name = *a.Name
	}
	return fmt.Sprintf("RenameSub(%s, %q)", a.Sub, name)
}

func (a *RenameSub) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.Sub)
	if err != nil {
		return err
	}
	sub, err := requireSub(ctx, actx, addr)
	if err != nil {
		return err
	}
	sub.Name = a.Name
	return saveSub(ctx, actx, sub)
}

// RemoveIdentitySub unlinks a sub identity from its super identity and
// clears its name. The sub is looked up when the action is performed and
// the row is kept.
type RemoveIdentitySub struct {
	once
	Sub common.AccountID
}

func NewRemoveIdentitySub(prov Provenance, sub common.AccountID) *RemoveIdentitySub {
	return &RemoveIdentitySub{once: once{prov: prov}, Sub: sub}
}

func (a *RemoveIdentitySub) Kind() string { return "remove_identity_sub" }

func (a *RemoveIdentitySub) String() string {
	return fmt.Sprintf("RemoveIdentitySub(%s)", a.Sub)
}

func (a *RemoveIdentitySub) Perform(ctx context.Context, actx *Context) error {
	a.claim(a)
	addr, err := actx.Address(a.Sub)
	if err != nil {
		return err
	}
	sub, err := requireSub(ctx, actx, addr)
	if err != nil {
		return err
	}
	sub.Name = nil
	sub.SuperID = nil
	return saveSub(ctx, actx, sub)
}
