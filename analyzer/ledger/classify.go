package ledger

import (
	"encoding/json"
	"errors"

	"github.com/oasisprotocol/nexus-ledger/analyzer/contracts"
	"github.com/oasisprotocol/nexus-ledger/analyzer/payload"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// concern is the part of the ledger an item affects.
type concern int

const (
	concernBalance concern = iota
	concernIdentity
	concernContracts
)

func (c concern) String() string {
	switch c {
	case concernBalance:
		return "balance"
	case concernIdentity:
		return "identity"
	case concernContracts:
		return "contracts"
	default:
		return "unknown"
	}
}

type itemKey struct {
	kind storage.ItemKind
	name string
}

func eventKey(name string) itemKey { return itemKey{storage.ItemKindEvent, name} }
func callKey(name string) itemKey  { return itemKey{storage.ItemKindCall, name} }

var (
	balanceEvents = []string{
		"Balances.Endowed",
		"Balances.DustLost",
		"Balances.Transfer",
		"Balances.BalanceSet",
		"Balances.Reserved",
		"Balances.Unreserved",
		"Balances.ReserveRepatriated",
		"Balances.Deposit",
		"Balances.Withdraw",
		"Balances.Slashed",
		"Staking.Rewarded",
		"Staking.Reward",
		"Staking.Slashed",
		"Staking.Slash",
	}
	balanceCalls = []string{
		"Balances.transfer",
		"Balances.transfer_keep_alive",
		"Balances.transfer_all",
		"Balances.transfer_allow_death",
		"Balances.force_transfer",
	}
	identityEvents = []string{
		"Identity.IdentitySet",
		"Identity.IdentityCleared",
		"Identity.IdentityKilled",
		"Identity.JudgementRequested",
		"Identity.JudgementUnrequested",
		"Identity.JudgementGiven",
		"Identity.SubIdentityAdded",
		"Identity.SubIdentityRemoved",
		"Identity.SubIdentityRevoked",
	}
	identityCalls = []string{
		"Identity.set_identity",
		"Identity.provide_judgement",
		"Identity.set_subs",
		"Identity.add_sub",
		"Identity.rename_sub",
		"Identity.remove_sub",
		"Identity.quit_sub",
		"Identity.clear_identity",
		"Identity.kill_identity",
	}
	contractEvents = []string{
		contracts.EventName,
	}
)

// subjectFn extracts the accounts an event touches.
type subjectFn func(args json.RawMessage) ([]common.AccountID, error)

// accountsOf returns a subjectFn reading the named account fields.
func accountsOf(names ...string) subjectFn {
	return func(args json.RawMessage) ([]common.AccountID, error) {
		ids := make([]common.AccountID, len(names))
		fields := make([]payload.Field, 0, len(names))
		for i, name := range names {
			fields = append(fields, payload.Arg(name, &ids[i]))
		}
		if err := decodeArgs(args, fields...); err != nil {
			return nil, err
		}
		return ids, nil
	}
}

// Positional forms of older runtimes list the accounts first, in the same
// order as the named fields below.
var eventSubjects = map[string]subjectFn{
	"Balances.Endowed":            accountsOf("account"),
	"Balances.DustLost":           accountsOf("account"),
	"Balances.Transfer":           accountsOf("from", "to"),
	"Balances.BalanceSet":         accountsOf("who"),
	"Balances.Reserved":           accountsOf("who"),
	"Balances.Unreserved":         accountsOf("who"),
	"Balances.ReserveRepatriated": accountsOf("from", "to"),
	"Balances.Deposit":            accountsOf("who"),
	"Balances.Withdraw":           accountsOf("who"),
	"Balances.Slashed":            accountsOf("who"),
	"Staking.Rewarded":            accountsOf("stash"),
	"Staking.Reward":              accountsOf("stash"),
	"Staking.Slashed":             accountsOf("staker"),
	"Staking.Slash":               accountsOf("staker"),

	"Identity.IdentitySet":          accountsOf("who"),
	"Identity.IdentityCleared":      accountsOf("who"),
	"Identity.IdentityKilled":       accountsOf("who"),
	"Identity.JudgementRequested":   accountsOf("who"),
	"Identity.JudgementUnrequested": accountsOf("who"),
	"Identity.JudgementGiven":       accountsOf("target"),
	"Identity.SubIdentityAdded":     accountsOf("sub", "main"),
	"Identity.SubIdentityRemoved":   accountsOf("sub", "main"),
	"Identity.SubIdentityRevoked":   accountsOf("sub", "main"),
}

// Classifier maps block items to the concern and accounts they affect.
type Classifier struct {
	concerns map[itemKey]concern
}

func NewClassifier() *Classifier {
	c := &Classifier{concerns: map[itemKey]concern{}}
	for _, n := range balanceEvents {
		c.concerns[eventKey(n)] = concernBalance
	}
	for _, n := range balanceCalls {
		c.concerns[callKey(n)] = concernBalance
	}
	for _, n := range identityEvents {
		c.concerns[eventKey(n)] = concernIdentity
	}
	for _, n := range identityCalls {
		c.concerns[callKey(n)] = concernIdentity
	}
	for _, n := range contractEvents {
		c.concerns[eventKey(n)] = concernContracts
	}
	return c
}

func keyOf(item *storage.Item) itemKey {
	return itemKey{item.Kind, item.Name()}
}

// Concern returns the concern of an allow-listed item.
func (c *Classifier) Concern(item *storage.Item) (concern, bool) {
	cc, ok := c.concerns[keyOf(item)]
	return cc, ok
}

// subjects returns the accounts an item touches. Unrecognized items yield
// none.
func (c *Classifier) subjects(item *storage.Item) ([]common.AccountID, error) {
	if _, ok := c.Concern(item); !ok {
		return nil, nil
	}
	switch {
	case item.Kind == storage.ItemKindCall && item.Call != nil:
		origin, err := signedOrigin(item.Call.Origin)
		if err != nil || origin == nil {
			return nil, err
		}
		return []common.AccountID{origin}, nil
	case item.Kind == storage.ItemKindEvent && item.Event != nil:
		fn, ok := eventSubjects[item.Event.Name]
		if !ok {
			return nil, nil
		}
		ids, err := fn(item.Event.Args)
		if err != nil {
			return nil, err
		}
		return common.UniqueAccountIDs(ids), nil
	default:
		return nil, errors.New("item kind does not match its payload")
	}
}
