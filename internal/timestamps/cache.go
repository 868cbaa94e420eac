// Package timestamps keeps a bounded cache of block timestamps and refills it
// from log-attached values or header fetches.
package timestamps

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/chainlog"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultCapacity    = 2048
	DefaultConcurrency = 16

	// millisecondThreshold is the smallest raw value treated as milliseconds.
	millisecondThreshold = 20_000_000_000
)

// ErrHashMismatch is returned when a fetched header disagrees with the block hash
// carried by logs of the same block.
var ErrHashMismatch = errors.New("block hash mismatch between logs and header")

// HeaderSource fetches block headers.
type HeaderSource interface {
	BlockHeader(ctx context.Context, blockNum uint64) (pkgrpc.BlockHeader, error)
}

type entry struct {
	timestamp uint64
	hash      common.Hash
}

// Cache maps block number to unix seconds. It is safe for concurrent use; the
// header semaphore is shared by every Populate call on the same cache.
type Cache struct {
	entries *lru.Cache[uint64, entry]
	sem     *semaphore.Weighted
	log     *logger.Logger
}

// New creates a cache holding up to capacity blocks and running at most
// concurrency header fetches at once. Non-positive values select the defaults.
func New(capacity, concurrency int, log *logger.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	entries, err := lru.New[uint64, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp cache: %w", err)
	}

	return &Cache{
		entries: entries,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		log:     log,
	}, nil
}

// Normalize converts a raw block time to unix seconds. Values at or above 2e10
// are taken to be milliseconds.
func Normalize(raw uint64) uint64 {
	if raw >= millisecondThreshold {
		return raw / 1000
	}
	return raw
}

// Get returns the cached timestamp in seconds.
func (c *Cache) Get(blockNum uint64) (uint64, bool) {
	e, ok := c.entries.Get(blockNum)
	if !ok {
		return 0, false
	}
	return e.timestamp, true
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Resolved maps block number to unix seconds for the blocks of one Populate call.
type Resolved map[uint64]uint64

// Populate resolves the timestamp of every block touched by logs. It first
// ingests timestamps the node attached to the logs, then fetches headers for the
// remaining blocks in parallel. The returned map is owned by the caller and stays
// complete even if concurrent callers evict the same blocks from the cache.
func (c *Cache) Populate(ctx context.Context, source HeaderSource, logs ...[]chainlog.Log) (Resolved, error) {
	logHashes := make(map[uint64]common.Hash)
	resolved := make(Resolved)
	for _, set := range logs {
		for _, l := range set {
			logHashes[l.BlockNumber] = l.BlockHash
			if l.BlockTimestamp == nil {
				continue
			}
			ts := Normalize(*l.BlockTimestamp)
			resolved[l.BlockNumber] = ts
			if cached, ok := c.entries.Peek(l.BlockNumber); ok && cached.hash == l.BlockHash {
				continue
			}
			c.entries.Add(l.BlockNumber, entry{timestamp: ts, hash: l.BlockHash})
		}
	}

	var missing []uint64
	for _, blockNum := range chainlog.BlockNumbers(logs...) {
		if _, ok := resolved[blockNum]; ok {
			cacheHitsInc()
			continue
		}
		cached, ok := c.entries.Peek(blockNum)
		if ok && cached.hash == logHashes[blockNum] {
			resolved[blockNum] = cached.timestamp
			cacheHitsInc()
			continue
		}
		missing = append(missing, blockNum)
	}

	if len(missing) == 0 {
		return resolved, nil
	}
	cacheMissesAdd(len(missing))

	c.log.Debugw("fetching block headers", "count", len(missing), "first", missing[0], "last", missing[len(missing)-1])

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, blockNum := range missing {
		if err := c.sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer c.sem.Release(1)

			header, err := source.BlockHeader(gctx, blockNum)
			if err != nil {
				return fmt.Errorf("failed to fetch header %d: %w", blockNum, err)
			}
			if want := logHashes[blockNum]; header.Hash != want {
				return fmt.Errorf("%w: block %d logs=%s header=%s", ErrHashMismatch, blockNum, want.Hex(), header.Hash.Hex())
			}

			ts := Normalize(header.Timestamp)
			c.entries.Add(blockNum, entry{timestamp: ts, hash: header.Hash})

			mu.Lock()
			resolved[blockNum] = ts
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resolved, nil
}
