// Package action implements the typed ledger mutations derived from block
// items, and the runner that applies them in order.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oasisprotocol/nexus-ledger/analyzer/balances"
	"github.com/oasisprotocol/nexus-ledger/analyzer/snapshot"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// ErrReused is the panic value (wrapped) when an action is performed a
// second time.
var ErrReused = errors.New("action performed twice")

// Action is a single mutation of ledger state. An action may be performed
// at most once.
type Action interface {
	// Perform applies the action to actx.Store.
	Perform(ctx context.Context, actx *Context) error

	// Provenance returns the block and extrinsic the action was derived from.
	Provenance() Provenance

	// Kind returns the variant name, e.g. "ensure_account".
	Kind() string

	String() string
}

// Provenance identifies where an action came from.
type Provenance struct {
	BlockHeight   uint64
	BlockHash     string
	Timestamp     time.Time
	ExtrinsicID   string
	ExtrinsicHash string
}

// NewProvenance captures the provenance of an item in the given block.
// ext may be nil for items outside any extrinsic.
func NewProvenance(hdr *storage.BlockHeader, ext *storage.Extrinsic) Provenance {
	p := Provenance{
		BlockHeight: hdr.Height,
		BlockHash:   hdr.Hash,
		Timestamp:   hdr.Timestamp,
	}
	if ext != nil {
		p.ExtrinsicID = ext.ID
		p.ExtrinsicHash = ext.Hash
	}
	return p
}

// Header returns a block header carrying the provenance's block identity,
// suitable for runtime storage queries.
func (p Provenance) Header() *storage.BlockHeader {
	return &storage.BlockHeader{
		Height:    p.BlockHeight,
		Hash:      p.BlockHash,
		Timestamp: p.Timestamp,
	}
}

func (p Provenance) extrinsicHash() *string {
	if p.ExtrinsicHash == "" {
		return nil
	}
	h := p.ExtrinsicHash
	return &h
}

func (p Provenance) String() string {
	s := fmt.Sprintf("block %d (%s)", p.BlockHeight, p.BlockHash)
	if p.ExtrinsicID != "" {
		s += fmt.Sprintf(" extrinsic %s (%s)", p.ExtrinsicID, p.ExtrinsicHash)
	}
	return s
}

// Context is the state threaded through action execution. It is owned by
// the single processing worker.
type Context struct {
	// Store is the open batch transaction.
	Store storage.LedgerStore

	// Balances reads account balances from runtime storage.
	Balances *balances.Fetcher

	// Snapshotter, if set, is consulted after every account refresh.
	Snapshotter *snapshot.Snapshotter

	// Prefix is the network's ss58 prefix.
	Prefix uint16

	Logger  *log.Logger
	Metrics *metrics.AnalysisMetrics
}

// Address encodes a raw account id with the context's prefix.
func (c *Context) Address(id common.AccountID) (string, error) {
	return common.EncodeAddress(id, c.Prefix)
}

// ActionError is a failed action together with its provenance.
type ActionError struct {
	Action     Action
	Provenance Provenance
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Action, e.Provenance, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// once guards an action against being performed twice.
type once struct {
	prov Provenance
	done bool
}

func (o *once) Provenance() Provenance {
	return o.prov
}

func (o *once) claim(a Action) {
	if o.done {
		panic(fmt.Errorf("%w: %s at %s", ErrReused, a, o.prov))
	}
	o.done = true
}
