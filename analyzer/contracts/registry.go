// Package contracts stores contract-emitted events and decodes them with
// known contract ABIs.
package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrUnknownCodeHash is returned when no ABI is registered for a code hash.
	ErrUnknownCodeHash = errors.New("no abi for code hash")

	// ErrUnknownEvent is returned when the ABI has no event matching topic 0.
	ErrUnknownEvent = errors.New("no matching event in abi")
)

// DecodedEvent is an event decoded with its contract's ABI.
type DecodedEvent struct {
	Name      string
	Signature string
	// Args is a JSON list of {name, evm_type, value}.
	Args json.RawMessage
}

// ABIDecoder decodes the raw payload of a contract event.
type ABIDecoder interface {
	Decode(codeHash string, topics [][]byte, data []byte) (*DecodedEvent, error)
}

type abiEncodedArg struct {
	Name    string      `json:"name"`
	EvmType string      `json:"evm_type"`
	Value   interface{} `json:"value"`
}

var _ ABIDecoder = (*Registry)(nil)

// Registry maps code hashes to ABIs.
type Registry struct {
	abis map[string]*abi.ABI
}

func NewRegistry() *Registry {
	return &Registry{abis: map[string]*abi.ABI{}}
}

func normalizeCodeHash(codeHash string) string {
	return strings.ToLower(strings.TrimPrefix(codeHash, "0x"))
}

// Register adds an ABI for a code hash, replacing any earlier one.
func (r *Registry) Register(codeHash string, contractABI *abi.ABI) {
	r.abis[normalizeCodeHash(codeHash)] = contractABI
}

// Len returns the number of registered ABIs.
func (r *Registry) Len() int {
	return len(r.abis)
}

// UnmarshalABI parses either a compiler artifact (`{"abi": [...]}`) or a
// bare ABI list.
func UnmarshalABI(raw []byte) (*abi.ABI, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, err
		}
		if artifact.ABI == nil {
			return nil, fmt.Errorf("artifact has no abi")
		}
		raw = artifact.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// LoadRegistry loads every `<code_hash>.json` file in dir.
func LoadRegistry(dir string) (*Registry, error) {
	r := NewRegistry()
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading abi %s: %w", path, err)
		}
		parsed, err := UnmarshalABI(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing abi %s: %w", path, err)
		}
		r.Register(strings.TrimSuffix(filepath.Base(path), ".json"), parsed)
	}
	return r, nil
}

// Decode matches topics[0] against the events of the code hash's ABI and
// unpacks the indexed arguments from the remaining topics and the rest
// from data.
func (r *Registry) Decode(codeHash string, topics [][]byte, data []byte) (*DecodedEvent, error) {
	contractABI, ok := r.abis[normalizeCodeHash(codeHash)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodeHash, codeHash)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("event has no topics")
	}
	ev, err := contractABI.EventByID(ethCommon.BytesToHash(topics[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, hexutil.Encode(topics[0]))
	}

	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(topics)-1 != len(indexed) {
		return nil, fmt.Errorf("event %s expects %d indexed args, got %d topics", ev.Name, len(indexed), len(topics)-1)
	}
	hashes := make([]ethCommon.Hash, 0, len(indexed))
	for _, t := range topics[1:] {
		hashes = append(hashes, ethCommon.BytesToHash(t))
	}
	indexedVals := map[string]interface{}{}
	if err := abi.ParseTopicsIntoMap(indexedVals, indexed, hashes); err != nil {
		return nil, fmt.Errorf("parsing topics of %s: %w", ev.Name, err)
	}
	plainVals, err := ev.Inputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking data of %s: %w", ev.Name, err)
	}

	args := make([]*abiEncodedArg, 0, len(ev.Inputs))
	next := 0
	for _, in := range ev.Inputs {
		var v interface{}
		if in.Indexed {
			v = indexedVals[in.Name]
		} else {
			if next >= len(plainVals) {
				return nil, fmt.Errorf("number of args does not match abi specification")
			}
			v = plainVals[next]
			next++
		}
		args = append(args, &abiEncodedArg{
			Name:    in.Name,
			EvmType: in.Type.String(),
			Value:   jsonValue(v),
		})
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshalling args of %s: %w", ev.Name, err)
	}
	return &DecodedEvent{
		Name:      ev.Name,
		Signature: ev.Sig,
		Args:      rawArgs,
	}, nil
}

// jsonValue renders big integers as decimal strings and byte values as hex.
func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case ethCommon.Address, ethCommon.Hash:
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		for i := range b {
			b[i] = byte(rv.Index(i).Uint())
		}
		return hexutil.Encode(b)
	}
	return v
}
