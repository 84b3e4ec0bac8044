package common

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountID is a raw chain-native account identifier, typically a
// 32-byte public key. It marshals as 0x-prefixed hex.
type AccountID []byte

func (a AccountID) Hex() string {
	return hexutil.Encode(a)
}

func (a AccountID) String() string {
	return a.Hex()
}

func (a AccountID) Equal(other AccountID) bool {
	return bytes.Equal(a, other)
}

func (a AccountID) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON accepts a hex string. Some decoders wrap ids as
// `{"__kind": "Id", "value": "0x.."}` (MultiAddress); that form is accepted too.
func (a *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return fmt.Errorf("account id %q: %w", s, err)
		}
		*a = raw
		return nil
	}
	var multi struct {
		Kind  string          `json:"__kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("account id: %w", err)
	}
	if multi.Kind != "Id" && multi.Kind != "AccountId" {
		return fmt.Errorf("account id: unsupported address kind %q", multi.Kind)
	}
	return a.UnmarshalJSON(multi.Value)
}

// UniqueAccountIDs returns ids with duplicates removed, preserving first-seen order.
func UniqueAccountIDs(ids []AccountID) []AccountID {
	seen := make(map[string]struct{}, len(ids))
	out := make([]AccountID, 0, len(ids))
	for _, id := range ids {
		k := string(id)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, id)
	}
	return out
}
