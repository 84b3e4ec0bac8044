package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oasisprotocol/nexus-ledger/analyzer/action"
	"github.com/oasisprotocol/nexus-ledger/analyzer/payload"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// decodeError marks a malformed item payload. Such items are logged and
// skipped.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decoding payload: %v", e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func decodeArgs(raw json.RawMessage, fields ...payload.Field) error {
	if err := payload.Decode(raw, fields...); err != nil {
		return &decodeError{err}
	}
	return nil
}

// kindValue is the decoder's encoding of enum values.
type kindValue struct {
	Kind  string          `json:"__kind"`
	Value json.RawMessage `json:"value"`
}

// signedOrigin returns the account of a signed dispatch origin. Root,
// unsigned and missing origins yield nil.
func signedOrigin(raw json.RawMessage) (common.AccountID, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var outer kindValue
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, &decodeError{fmt.Errorf("origin: %w", err)}
	}
	if outer.Kind != "system" {
		return nil, nil
	}
	var inner kindValue
	if err := json.Unmarshal(outer.Value, &inner); err != nil {
		return nil, &decodeError{fmt.Errorf("system origin: %w", err)}
	}
	if inner.Kind != "Signed" {
		return nil, nil
	}
	var id common.AccountID
	if err := json.Unmarshal(inner.Value, &id); err != nil {
		return nil, &decodeError{fmt.Errorf("signed origin: %w", err)}
	}
	return id, nil
}

// identityData is an identity info field: `{"__kind": "Raw5", "value": "0x.."}`
// or `{"__kind": "None"}`. Raw values are kept as text when they are valid
// utf-8; hashes and other bytes are kept as hex.
type identityData struct {
	Value *string
}

func (d *identityData) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		d.Value = nil
		return nil
	}
	var kv kindValue
	if err := json.Unmarshal(data, &kv); err != nil {
		return fmt.Errorf("identity data: %w", err)
	}
	if kv.Kind == "None" || kv.Kind == "" {
		d.Value = nil
		return nil
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(kv.Value, &raw); err != nil {
		return fmt.Errorf("identity data %s: %w", kv.Kind, err)
	}
	var s string
	if strings.HasPrefix(kv.Kind, "Raw") && utf8.Valid(raw) {
		s = string(raw)
	} else {
		s = hexutil.Encode(raw)
	}
	d.Value = &s
	return nil
}

// identityInfoArg is the `info` argument of set_identity.
type identityInfoArg struct {
	Display        identityData      `json:"display"`
	Legal          identityData      `json:"legal"`
	Web            identityData      `json:"web"`
	Riot           identityData      `json:"riot"`
	Matrix         identityData      `json:"matrix"`
	Email          identityData      `json:"email"`
	PGPFingerprint *hexutil.Bytes    `json:"pgpFingerprint"`
	Image          identityData      `json:"image"`
	Twitter        identityData      `json:"twitter"`
	Additional     []json.RawMessage `json:"additional"`
}

func (a *identityInfoArg) toInfo() (storage.IdentityInfo, error) {
	info := storage.IdentityInfo{
		Display: a.Display.Value,
		Legal:   a.Legal.Value,
		Web:     a.Web.Value,
		Riot:    a.Riot.Value,
		Email:   a.Email.Value,
		Image:   a.Image.Value,
		Twitter: a.Twitter.Value,
	}
	if info.Riot == nil {
		// Newer runtimes renamed riot to matrix.
		info.Riot = a.Matrix.Value
	}
	if a.PGPFingerprint != nil {
		fp := hexutil.Encode(*a.PGPFingerprint)
		info.PGPFingerprint = &fp
	}
	for i, raw := range a.Additional {
		var pair []identityData
		if err := json.Unmarshal(raw, &pair); err != nil {
			return info, fmt.Errorf("additional field %d: %w", i, err)
		}
		if len(pair) != 2 {
			return info, fmt.Errorf("additional field %d has %d elements", i, len(pair))
		}
		info.Additional = append(info.Additional, storage.IdentityField{Name: pair[0].Value, Value: pair[1].Value})
	}
	return info, nil
}

// decodeSubs decodes the `subs` argument of set_subs, a list of
// [account, data] pairs.
func decodeSubs(raw []json.RawMessage) ([]action.SubEntry, error) {
	subs := make([]action.SubEntry, 0, len(raw))
	for i, entry := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil {
			return nil, fmt.Errorf("sub %d: %w", i, err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("sub %d has %d elements", i, len(pair))
		}
		var (
			id   common.AccountID
			name identityData
		)
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, fmt.Errorf("sub %d: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &name); err != nil {
			return nil, fmt.Errorf("sub %d: %w", i, err)
		}
		subs = append(subs, action.SubEntry{ID: id, Name: name.Value})
	}
	return subs, nil
}
