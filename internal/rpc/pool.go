package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// Compile-time check to ensure Pool implements pkgrpc.Provider interface.
var _ pkgrpc.Provider = (*Pool)(nil)

// PoolConfig configures a provider pool.
type PoolConfig struct {
	URLs          []string
	Retry         RetryConfig
	PerTryTimeout time.Duration
}

// Pool is one logical JSON-RPC endpoint backed by several physical ones. Every
// call starts at the preferred endpoint and moves to the next on failure; the
// endpoint that succeeds becomes preferred.
type Pool struct {
	name      string
	providers []pkgrpc.Provider
	closers   []func()
	log       *logger.Logger

	mu        sync.Mutex
	preferred int
}

// NewPool dials and probes every URL with eth_blockNumber. Endpoints that fail the
// probe are dropped; the pool refuses to start when none survive.
func NewPool(ctx context.Context, name string, cfg PoolConfig, log *logger.Logger) (*Pool, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.PerTryTimeout <= 0 {
		cfg.PerTryTimeout = DefaultPerTryTimeout
	}

	var (
		providers []pkgrpc.Provider
		closers   []func()
	)
	names := EndpointNames(cfg.URLs)
	for i, u := range cfg.URLs {
		client, err := NewClient(ctx, u, ClientOptions{
			Name:          names[i],
			Retry:         cfg.Retry,
			PerTryTimeout: cfg.PerTryTimeout,
			Log:           log,
		})
		if err != nil {
			log.Warnw("dropping rpc endpoint", "endpoint", names[i], "error", err)
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, cfg.PerTryTimeout)
		head, err := client.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				client.Close()
				for _, c := range closers {
					c()
				}
				return nil, ctxErr
			}
			log.Warnw("dropping rpc endpoint", "endpoint", client.Name(), "error", err)
			client.Close()
			continue
		}

		log.Infow("rpc endpoint healthy", "endpoint", client.Name(), "head", head)
		providers = append(providers, client)
		closers = append(closers, client.Close)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: %s (%d configured)", ErrNoHealthyEndpoints, name, len(cfg.URLs))
	}

	p := NewPoolFromProviders(name, providers, log)
	p.closers = closers
	return p, nil
}

// NewPoolFromProviders builds a pool over already constructed providers.
func NewPoolFromProviders(name string, providers []pkgrpc.Provider, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pool{
		name:      name,
		providers: providers,
		log:       log,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Pinned returns one provider per healthy endpoint, without failover.
func (p *Pool) Pinned() []pkgrpc.Provider {
	out := make([]pkgrpc.Provider, len(p.providers))
	copy(out, p.providers)
	return out
}

// Preferred returns the index of the currently preferred endpoint.
func (p *Pool) Preferred() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preferred
}

// Close closes every endpoint the pool dialed.
func (p *Pool) Close() {
	for _, c := range p.closers {
		c()
	}
}

// BlockNumber returns the current head block number.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	return withFailover(ctx, p, methodBlockNumber, func(pr pkgrpc.Provider) (uint64, error) {
		return pr.BlockNumber(ctx)
	})
}

// ChainID returns the chain id reported by the node.
func (p *Pool) ChainID(ctx context.Context) (uint64, error) {
	return withFailover(ctx, p, methodChainID, func(pr pkgrpc.Provider) (uint64, error) {
		return pr.ChainID(ctx)
	})
}

// GetLogs retrieves logs matching the given filter.
func (p *Pool) GetLogs(ctx context.Context, filter pkgrpc.LogFilter) ([]pkgrpc.RawLog, error) {
	return withFailover(ctx, p, methodGetLogs, func(pr pkgrpc.Provider) ([]pkgrpc.RawLog, error) {
		return pr.GetLogs(ctx, filter)
	})
}

// BlockHeader retrieves the hash and timestamp of a block.
func (p *Pool) BlockHeader(ctx context.Context, blockNum uint64) (pkgrpc.BlockHeader, error) {
	return withFailover(ctx, p, methodGetBlock, func(pr pkgrpc.Provider) (pkgrpc.BlockHeader, error) {
		return pr.BlockHeader(ctx, blockNum)
	})
}

// Call executes a read-only contract call.
func (p *Pool) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return withFailover(ctx, p, methodCall, func(pr pkgrpc.Provider) ([]byte, error) {
		return pr.Call(ctx, to, data)
	})
}

func withFailover[T any](ctx context.Context, p *Pool, method string, fn func(pkgrpc.Provider) (T, error)) (T, error) {
	var zero T

	n := len(p.providers)
	if n == 0 {
		return zero, fmt.Errorf("%w: %s has no endpoints", ErrAllEndpointsFailed, p.name)
	}

	start := p.Preferred()
	var lastErr error

	for i := range n {
		idx := (start + i) % n
		provider := p.providers[idx]

		result, err := fn(provider)
		if err == nil {
			if idx != start {
				p.mu.Lock()
				p.preferred = idx
				p.mu.Unlock()
				p.log.Infow("preferred rpc endpoint changed", "pool", p.name, "endpoint", provider.Name())
			}
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}

		lastErr = err
		if i < n-1 {
			RPCFailoverInc(provider.Name(), method)
			p.log.Debugw("rpc endpoint failed, trying next", "pool", p.name, "endpoint", provider.Name(),
				"method", method, "error", err)
		}
	}

	return zero, fmt.Errorf("%w: %s %s: %w", ErrAllEndpointsFailed, p.name, method, lastErr)
}
