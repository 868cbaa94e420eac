package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	internalcommon "github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
	"golang.org/x/time/rate"
)

// Compile-time check to ensure Client implements pkgrpc.Provider interface.
var _ pkgrpc.Provider = (*Client)(nil)

const DefaultPerTryTimeout = 2500 * time.Millisecond

const (
	methodBlockNumber = "eth_blockNumber"
	methodChainID     = "eth_chainId"
	methodGetLogs     = "eth_getLogs"
	methodGetBlock    = "eth_getBlockByNumber"
	methodCall        = "eth_call"
)

// computeUnits is the budget weight of each method against the per-endpoint limiter.
var computeUnits = map[string]int{
	methodBlockNumber: 10,
	methodChainID:     0,
	methodGetLogs:     75,
	methodGetBlock:    16,
	methodCall:        26,
}

const maxComputeUnits = 75

// ClientOptions configures a single endpoint.
type ClientOptions struct {
	// Name labels the client in logs and metrics; empty selects RedactURL(endpoint).
	Name          string
	Retry         RetryConfig
	PerTryTimeout time.Duration
	Log           *logger.Logger
}

// Client is one physical JSON-RPC endpoint. It enforces the compute-unit budget,
// the per-try timeout and the rate-limit retry layer, but never fails over.
type Client struct {
	name          string
	rpc           *rpc.Client
	limiter       *rate.Limiter
	retry         RetryConfig
	perTryTimeout time.Duration
	log           *logger.Logger
	sleep         sleepFunc
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, opts ClientOptions) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", RedactURL(endpoint), err)
	}

	name := opts.Name
	if name == "" {
		name = RedactURL(endpoint)
	}
	return newClient(name, rpcClient, opts), nil
}

func newClient(name string, rpcClient *rpc.Client, opts ClientOptions) *Client {
	if opts.PerTryTimeout <= 0 {
		opts.PerTryTimeout = DefaultPerTryTimeout
	}
	if opts.Log == nil {
		opts.Log = logger.NewNopLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, maxComputeUnits)
	if opts.Retry.ComputeUnitsPerSecond > 0 {
		burst := max(opts.Retry.ComputeUnitsPerSecond, maxComputeUnits)
		limiter = rate.NewLimiter(rate.Limit(opts.Retry.ComputeUnitsPerSecond), burst)
	}

	return &Client{
		name:          name,
		rpc:           rpcClient,
		limiter:       limiter,
		retry:         opts.Retry,
		perTryTimeout: opts.PerTryTimeout,
		log:           opts.Log.WithFields("endpoint", name),
		sleep:         sleepCtx,
	}
}

// Name returns the redacted endpoint URL.
func (c *Client) Name() string {
	return c.name
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, methodBlockNumber); err != nil {
		return 0, err
	}
	return internalcommon.ParseQuantity(raw)
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, methodChainID); err != nil {
		return 0, err
	}
	return internalcommon.ParseQuantity(raw)
}

// GetLogs retrieves logs matching the given filter.
func (c *Client) GetLogs(ctx context.Context, filter pkgrpc.LogFilter) ([]pkgrpc.RawLog, error) {
	var logs []pkgrpc.RawLog
	if err := c.call(ctx, &logs, methodGetLogs, toFilterArg(filter)); err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockHeader retrieves the header for a specific block number. The response is
// parsed loosely because Tron-family nodes return non-standard block fields.
func (c *Client) BlockHeader(ctx context.Context, blockNum uint64) (pkgrpc.BlockHeader, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, methodGetBlock, toBlockNumArg(blockNum), false); err != nil {
		return pkgrpc.BlockHeader{}, err
	}
	return parseBlockHeader(blockNum, raw)
}

// Call executes eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	arg := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}

	var result hexutil.Bytes
	if err := c.call(ctx, &result, methodCall, arg, "latest"); err != nil {
		return nil, err
	}
	return result, nil
}

// call performs one logical request: budget wait, then per-try attempts under
// the rate-limit retry layer.
func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.limiter.WaitN(ctx, computeUnits[method]); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to wait for compute units on %s: %w", c.name, err)
	}

	start := time.Now()
	defer func() {
		RPCMethodDuration(method, time.Since(start))
	}()

	err := retryRateLimited(ctx, c.retry, c.name, method, c.sleep, func() error {
		RPCMethodInc(c.name, method)

		tryCtx, cancel := context.WithTimeout(ctx, c.perTryTimeout)
		defer cancel()

		err := c.rpc.CallContext(tryCtx, result, method, args...)
		if err != nil && ctx.Err() == nil && errors.Is(tryCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timeout after %s: %w", method, c.perTryTimeout, err)
		}
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		RPCMethodError(c.name, method, errorType(err))
		c.log.Debugw("rpc call failed", "method", method, "error", err)
		return fmt.Errorf("%s on %s: %w", method, c.name, err)
	}

	return nil
}

type rawBlock struct {
	Hash      *string         `json:"hash"`
	Number    json.RawMessage `json:"number"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func parseBlockHeader(blockNum uint64, raw json.RawMessage) (pkgrpc.BlockHeader, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return pkgrpc.BlockHeader{}, fmt.Errorf("%w: %d", ErrBlockNotFound, blockNum)
	}

	var block rawBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return pkgrpc.BlockHeader{}, fmt.Errorf("failed to decode block %d: %w", blockNum, err)
	}

	if block.Hash == nil {
		return pkgrpc.BlockHeader{}, fmt.Errorf("block %d response has no hash", blockNum)
	}
	hashStr := strings.TrimPrefix(strings.TrimPrefix(*block.Hash, "0x"), "0X")
	hashBytes, err := hexutil.Decode("0x" + hashStr)
	if err != nil || len(hashBytes) != common.HashLength {
		return pkgrpc.BlockHeader{}, fmt.Errorf("block %d response has invalid hash %q", blockNum, *block.Hash)
	}

	timestamp, err := internalcommon.ParseQuantity(block.Timestamp)
	if err != nil {
		return pkgrpc.BlockHeader{}, fmt.Errorf("block %d response has invalid timestamp: %w", blockNum, err)
	}

	number := blockNum
	if n, err := internalcommon.ParseQuantity(block.Number); err == nil {
		number = n
	}

	return pkgrpc.BlockHeader{
		Number:    number,
		Hash:      common.BytesToHash(hashBytes),
		Timestamp: timestamp,
	}, nil
}

// toFilterArg converts pkgrpc.LogFilter to the format expected by eth_getLogs.
func toFilterArg(q pkgrpc.LogFilter) any {
	arg := map[string]any{
		"fromBlock": toBlockNumArg(q.FromBlock),
		"toBlock":   toBlockNumArg(q.ToBlock),
	}

	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}

// RedactURL strips credentials, path and query from an endpoint URL so it can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "endpoint"
	}
	return u.Scheme + "://" + u.Host
}

// EndpointNames returns a log and metric label per URL. URLs that redact to the
// same name get their list position appended, as in "https://host#1".
func EndpointNames(urls []string) []string {
	counts := make(map[string]int, len(urls))
	names := make([]string, len(urls))
	for i, u := range urls {
		names[i] = RedactURL(u)
		counts[names[i]]++
	}
	for i, name := range names {
		if counts[name] > 1 {
			names[i] = fmt.Sprintf("%s#%d", name, i)
		}
	}
	return names
}
