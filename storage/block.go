package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockHeader is the header of a block as delivered by the block source.
type BlockHeader struct {
	Height      uint64    `json:"height"`
	Hash        string    `json:"hash"`
	ParentHash  string    `json:"parent_hash"`
	Timestamp   time.Time `json:"timestamp"`
	SpecVersion uint32    `json:"spec_version"`
}

// Block is a block header with its items in emission order.
type Block struct {
	Header BlockHeader `json:"header"`
	Items  []Item      `json:"items"`
}

// ItemKind distinguishes calls from events.
type ItemKind string

const (
	ItemKindCall  ItemKind = "call"
	ItemKindEvent ItemKind = "event"
)

// Item is one call or event within a block. Exactly one of Call and Event
// is set, matching Kind.
type Item struct {
	Kind  ItemKind `json:"kind"`
	Call  *Call    `json:"call,omitempty"`
	Event *Event   `json:"event,omitempty"`
}

// Name returns the qualified name of the item, e.g. "Balances.Transfer".
func (i *Item) Name() string {
	switch {
	case i.Kind == ItemKindCall && i.Call != nil:
		return i.Call.Name
	case i.Kind == ItemKindEvent && i.Event != nil:
		return i.Event.Name
	default:
		return ""
	}
}

// Extrinsic identifies the transaction an item belongs to.
type Extrinsic struct {
	ID           string `json:"id"`
	Hash         string `json:"hash"`
	IndexInBlock int    `json:"index_in_block"`
}

// Call is a (possibly nested) call executed within a block.
type Call struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	// Origin is the raw dispatch origin, e.g.
	// `{"__kind": "system", "value": {"__kind": "Signed", "value": "0x.."}}`.
	Origin    json.RawMessage `json:"origin,omitempty"`
	Success   bool            `json:"success"`
	ParentID  string          `json:"parent_id,omitempty"`
	Extrinsic *Extrinsic      `json:"extrinsic,omitempty"`
}

// Event is an event emitted within a block.
type Event struct {
	ID           string          `json:"id"`
	IndexInBlock int             `json:"index_in_block"`
	Name         string          `json:"name"`
	Args         json.RawMessage `json:"args"`
	Topics       []hexutil.Bytes `json:"topics,omitempty"`
	Phase        string          `json:"phase"`
	Extrinsic    *Extrinsic      `json:"extrinsic,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
}

// EventKey returns the composite key of an event, `<height>-<index>`.
func EventKey(height uint64, indexInBlock int) string {
	return fmt.Sprintf("%d-%d", height, indexInBlock)
}
