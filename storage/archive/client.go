// Package archive implements the block source and chain state source
// interfaces on top of a block archive HTTP gateway.
//
// Endpoints (all JSON):
//
//	GET  /blocks?from=<h>&to=<h>&limit=<n>   -> [Block]
//	GET  /blocks/latest                      -> {"height": <h>}
//	POST /state/system/account               -> {"supported": bool, "accounts": [AccountBalance|null]}
//	POST /state/balances/account             -> same as above
//	GET  /state/contracts/<addr>?block=<hash> -> {"code_hash": "0x.."}
//
// Storage queries are pinned to a block hash, so their responses are
// immutable and are cached in a KVStore.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/oasisprotocol/nexus-ledger/analyzer/httpmisc"
	"github.com/oasisprotocol/nexus-ledger/cache/kvstore"
	"github.com/oasisprotocol/nexus-ledger/common"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage"
)

const moduleName = "archive"

// Client is a client for the block archive gateway.
type Client struct {
	baseURL string
	client  *http.Client
	cache   kvstore.KVStore
	logger  *log.Logger
}

var (
	_ storage.BlockSource      = (*Client)(nil)
	_ storage.ChainStateSource = (*Client)(nil)
)

// NewClient creates a new archive client. If cache is nil, responses are not cached.
func NewClient(baseURL string, cache kvstore.KVStore, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("archive url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("archive url: unsupported scheme %q", u.Scheme)
	}
	if cache == nil {
		cache = kvstore.NoCache{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: httpmisc.ClientTimeout},
		cache:   cache,
		logger:  logger.WithModule(moduleName),
	}, nil
}

// Name implements the storage.BlockSource interface for Client.
func (c *Client) Name() string {
	return moduleName
}

// Close releases the response cache.
func (c *Client) Close() error {
	return c.cache.Close()
}

// response is the cacheable part of an HTTP response.
type response struct {
	Body     []byte
	NotFound bool
}

func (c *Client) readResponse(resp *http.Response, err error) (*response, error) {
	if err != nil {
		return nil, err
	}
	if err = httpmisc.ResponseOK(resp); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return &response{NotFound: true}, nil
		}
		return nil, err
	}
	defer common.CloseOrLog(resp.Body, c.logger)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &response{Body: body}, nil
}

func (c *Client) get(ctx context.Context, path string) (*response, error) {
	return c.readResponse(httpmisc.GetWithContextWithClient(ctx, c.client, c.baseURL+path))
}

func (c *Client) post(ctx context.Context, path string, req interface{}) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.readResponse(httpmisc.PostJSONWithContextWithClient(ctx, c.client, c.baseURL+path, body))
}

// Blocks implements the storage.BlockSource interface for Client.
func (c *Client) Blocks(ctx context.Context, from uint64, to uint64, limit uint64) ([]*storage.Block, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	q.Set("to", strconv.FormatUint(to, 10))
	q.Set("limit", strconv.FormatUint(limit, 10))
	resp, err := c.get(ctx, "/blocks?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("blocks [%d, %d]: %w", from, to, err)
	}
	if resp.NotFound {
		return []*storage.Block{}, nil
	}
	var blocks []*storage.Block
	if err := json.Unmarshal(resp.Body, &blocks); err != nil {
		return nil, fmt.Errorf("decoding blocks [%d, %d]: %w", from, to, err)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Header.Height <= blocks[i-1].Header.Height {
			return nil, fmt.Errorf("archive returned blocks out of order: %d after %d", blocks[i].Header.Height, blocks[i-1].Header.Height)
		}
	}
	return blocks, nil
}

// LatestBlockHeight implements the storage.BlockSource interface for Client.
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	resp, err := c.get(ctx, "/blocks/latest")
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	if resp.NotFound {
		return 0, fmt.Errorf("latest block: %w", storage.ErrNotFound)
	}
	var latest struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(resp.Body, &latest); err != nil {
		return 0, fmt.Errorf("decoding latest block: %w", err)
	}
	return latest.Height, nil
}

type accountsRequest struct {
	BlockHash string             `json:"block_hash"`
	IDs       []common.AccountID `json:"ids"`
}

type accountsResponse struct {
	Supported bool                      `json:"supported"`
	Accounts  []*storage.AccountBalance `json:"accounts"`
}

func (c *Client) accounts(ctx context.Context, method string, path string, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.Hex()
	}
	key, err := kvstore.GenerateCacheKey(method, hdr.Hash, hexIDs)
	if err != nil {
		return nil, err
	}
	resp, err := kvstore.GetFromCacheOrCall(c.cache, false, key, func() (*response, error) {
		return c.post(ctx, path, accountsRequest{BlockHash: hdr.Hash, IDs: ids})
	})
	if err != nil {
		return nil, fmt.Errorf("%s at %d: %w", method, hdr.Height, err)
	}
	if resp.NotFound {
		return nil, nil
	}
	var decoded accountsResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding %s at %d: %w", method, hdr.Height, err)
	}
	if !decoded.Supported {
		return nil, nil
	}
	if len(decoded.Accounts) != len(ids) {
		return nil, fmt.Errorf("%s at %d: got %d entries for %d ids", method, hdr.Height, len(decoded.Accounts), len(ids))
	}
	return decoded.Accounts, nil
}

// SystemAccounts implements the storage.ChainStateSource interface for Client.
func (c *Client) SystemAccounts(ctx context.Context, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	return c.accounts(ctx, "SystemAccounts", "/state/system/account", hdr, ids)
}

// BalancesAccounts implements the storage.ChainStateSource interface for Client.
func (c *Client) BalancesAccounts(ctx context.Context, hdr *storage.BlockHeader, ids []common.AccountID) ([]*storage.AccountBalance, error) {
	return c.accounts(ctx, "BalancesAccounts", "/state/balances/account", hdr, ids)
}

// ContractCodeHash implements the storage.ChainStateSource interface for Client.
func (c *Client) ContractCodeHash(ctx context.Context, hdr *storage.BlockHeader, contract common.AccountID) (string, error) {
	key, err := kvstore.GenerateCacheKey("ContractCodeHash", hdr.Hash, contract.Hex())
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("/state/contracts/%s?block=%s", contract.Hex(), url.QueryEscape(hdr.Hash))
	resp, err := kvstore.GetFromCacheOrCall(c.cache, false, key, func() (*response, error) {
		return c.get(ctx, path)
	})
	if err != nil {
		return "", fmt.Errorf("contract %s code hash: %w", contract.Hex(), err)
	}
	if resp.NotFound {
		return "", fmt.Errorf("contract %s: %w", contract.Hex(), storage.ErrNotFound)
	}
	var info struct {
		CodeHash string `json:"code_hash"`
	}
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return "", fmt.Errorf("decoding contract %s: %w", contract.Hex(), err)
	}
	if info.CodeHash == "" {
		return "", errors.New("archive returned an empty code hash")
	}
	return strings.ToLower(info.CodeHash), nil
}
