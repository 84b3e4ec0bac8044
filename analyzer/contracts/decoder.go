package contracts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oasisprotocol/nexus-ledger/analyzer/payload"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

// EventName is the qualified name of contract-emitted events.
const EventName = "Contracts.ContractEmitted"

// Decoder persists contract-emitted events and their decoded form. Decode
// failures are logged and never fail the enclosing block; chain state
// lookups that fail for any reason other than an unknown contract do.
type Decoder struct {
	source storage.ChainStateSource
	abis   ABIDecoder
	prefix uint16

	// Code hashes resolved in the current batch, keyed by block hash and
	// raw contract id.
	codeHashes map[codeHashKey]string

	logger  *log.Logger
	metrics *metrics.AnalysisMetrics
}

func NewDecoder(source storage.ChainStateSource, abis ABIDecoder, prefix uint16, logger *log.Logger, m *metrics.AnalysisMetrics) *Decoder {
	return &Decoder{
		source:     source,
		abis:       abis,
		prefix:     prefix,
		codeHashes: map[codeHashKey]string{},
		logger:     logger,
		metrics:    m,
	}
}

// ResetBatch forgets the code hashes resolved so far.
func (d *Decoder) ResetBatch() {
	d.codeHashes = map[codeHashKey]string{}
}

type codeHashKey struct {
	block    string
	contract string
}

// Process handles one ContractEmitted event of hdr's block. Store write
// failures and chain state lookup failures are returned; payloads that
// cannot be decoded are not.
func (d *Decoder) Process(ctx context.Context, store storage.LedgerStore, hdr *storage.BlockHeader, ev *storage.Event) error {
	var (
		contract common.AccountID
		data     hexutil.Bytes
	)
	if err := payload.Decode(ev.Args, payload.Arg("contract", &contract), payload.Arg("data", &data)); err != nil {
		d.logger.Warn("malformed contract event",
			"height", hdr.Height,
			"name", ev.Name,
			"err", err,
		)
		d.count("malformed")
		return nil
	}
	contractAddr, err := common.EncodeAddress(contract, d.prefix)
	if err != nil {
		d.logger.Warn("malformed contract address",
			"height", hdr.Height,
			"contract", contract.Hex(),
			"err", err,
		)
		d.count("malformed")
		return nil
	}

	id := storage.EventKey(hdr.Height, ev.IndexInBlock)
	row := &storage.ContractEvent{
		ID:              id,
		BlockNumber:     hdr.Height,
		IndexInBlock:    ev.IndexInBlock,
		ContractAddress: contractAddr,
		Data:            data,
		CreatedAt:       hdr.Timestamp,
	}
	if ev.Extrinsic != nil && ev.Extrinsic.Hash != "" {
		h := ev.Extrinsic.Hash
		row.ExtrinsicHash = &h
	}
	if err := store.UpsertContractEvent(ctx, row); err != nil {
		return fmt.Errorf("upserting contract event %s: %w", id, err)
	}

	decoded, err := d.decode(ctx, hdr, contract, ev, data)
	var lookupErr *codeHashError
	if errors.As(err, &lookupErr) {
		return fmt.Errorf("contract event %s: %w", id, err)
	}
	if err != nil {
		d.logger.Warn("failed to decode contract event",
			"contract", contractAddr,
			"height", hdr.Height,
			"data", hexutil.Encode(data),
			"err", err,
		)
		d.count("failure")
		return nil
	}
	if err := store.UpsertDecodedContractEvent(ctx, &storage.DecodedContractEvent{
		ID:        id,
		Name:      decoded.Name,
		Signature: decoded.Signature,
		Args:      decoded.Args,
	}); err != nil {
		return fmt.Errorf("upserting decoded contract event %s: %w", id, err)
	}
	d.count("success")
	return nil
}

// codeHashError is a chain state lookup failure that says nothing about the
// contract itself, e.g. the source being unreachable.
type codeHashError struct {
	err error
}

func (e *codeHashError) Error() string { return "resolving code hash: " + e.err.Error() }

func (e *codeHashError) Unwrap() error { return e.err }

func (d *Decoder) decode(ctx context.Context, hdr *storage.BlockHeader, contract common.AccountID, ev *storage.Event, data []byte) (*DecodedEvent, error) {
	key := codeHashKey{block: hdr.Hash, contract: string(contract)}
	codeHash, ok := d.codeHashes[key]
	if !ok {
		var err error
		codeHash, err = d.source.ContractCodeHash(ctx, hdr, contract)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("resolving code hash: %w", err)
		case err != nil:
			return nil, &codeHashError{err}
		}
		d.codeHashes[key] = codeHash
	}
	topics := make([][]byte, 0, len(ev.Topics))
	for _, t := range ev.Topics {
		topics = append(topics, t)
	}
	return d.abis.Decode(codeHash, topics, data)
}

func (d *Decoder) count(status string) {
	if d.metrics != nil {
		d.metrics.ContractDecodes(status).Inc()
	}
}
