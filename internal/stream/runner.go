package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/reorg"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/timestamps"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// ErrRangeFailed is returned when a single-block range cannot be indexed by any provider.
var ErrRangeFailed = errors.New("range failed")

const (
	DefaultChunkBlocks      = 2000
	DefaultPollInterval     = time.Second
	DefaultProgressInterval = 5 * time.Second
)

// Store is the persistence surface a runner needs.
type Store interface {
	BatchWriter
	reorg.BlockHashStore
	ResumeFromBlock(ctx context.Context, stream types.Stream, deploymentBlock uint64) (uint64, error)
	InvalidateFromBlock(ctx context.Context, stream types.Stream, fromBlock uint64) (store.Invalidation, error)
}

// Providers are the RPC handles of one stream: a failover handle for normal
// traffic and pinned endpoints for independent confirmation and repair.
type Providers struct {
	Fallback pkgrpc.Provider
	Pinned   []pkgrpc.Provider
}

// Config is the resolved configuration of one stream.
type Config struct {
	Stream           types.Stream
	ChainID          uint64
	Contract         common.Address
	DeploymentBlock  uint64
	Confirmations    uint64
	PollInterval     time.Duration
	ProgressInterval time.Duration
	ChunkBlocks      uint64
	ReorgScanDepth   int
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner tails one stream until its context is cancelled or a fatal error occurs.
type Runner struct {
	cfg       Config
	store     Store
	providers Providers
	cache     *timestamps.Cache
	detector  *reorg.ReorgDetector
	processor *Processor
	policy    *chunkPolicy
	log       *logger.Logger
	sleep     sleepFunc

	nextBlock uint64
	head      uint64
	safeHead  uint64
	resumed   bool
}

// NewRunner wires a runner for cfg.Stream.
func NewRunner(cfg Config, st Store, providers Providers, cache *timestamps.Cache, log *logger.Logger) *Runner {
	if cfg.ChunkBlocks == 0 {
		cfg.ChunkBlocks = DefaultChunkBlocks
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	log = log.WithFields("stream", cfg.Stream)

	return &Runner{
		cfg:       cfg,
		store:     st,
		providers: providers,
		cache:     cache,
		detector:  reorg.NewReorgDetector(st, log),
		processor: NewProcessor(cfg.Stream, cfg.ChainID, cfg.Contract, st, cache, log),
		policy:    newChunkPolicy(cfg.ChunkBlocks),
		log:       log,
		sleep:     sleepCtx,
	}
}

// NextBlock returns the next block the runner will index.
func (r *Runner) NextBlock() uint64 {
	return r.nextBlock
}

// Run polls the chain every PollInterval. It returns nil once ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Infow("stream runner starting",
		"chain_id", r.cfg.ChainID, "deployment_block", r.cfg.DeploymentBlock,
		"confirmations", r.cfg.Confirmations, "chunk_blocks", r.cfg.ChunkBlocks,
		"pinned_providers", len(r.providers.Pinned))

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	progress := time.NewTicker(r.cfg.ProgressInterval)
	defer progress.Stop()

	for {
		if err := r.tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("stream %s: %w", r.cfg.Stream, err)
		}

		if !r.wait(ctx, poll.C, progress.C) {
			break
		}
	}

	r.log.Infow("stream runner stopped", "next_block", r.nextBlock)
	return nil
}

func (r *Runner) wait(ctx context.Context, poll, progress <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-progress:
			r.logProgress()
		case <-poll:
			return true
		}
	}
}

func (r *Runner) backlog() uint64 {
	if r.nextBlock > r.safeHead || r.head < r.cfg.Confirmations {
		return 0
	}
	return r.safeHead - r.nextBlock + 1
}

func (r *Runner) logProgress() {
	backlog := r.backlog()
	ProgressSet(r.cfg.Stream, r.head, r.nextBlock, backlog, r.policy.current)
	r.log.Infow("progress",
		"head", r.head, "safe_head", r.safeHead, "next_block", r.nextBlock,
		"backlog", backlog, "chunk_blocks", r.policy.current)
}

// tick runs one poll iteration: reorg check, then every window up to the safe head.
func (r *Runner) tick(ctx context.Context) error {
	if !r.resumed {
		next, err := r.store.ResumeFromBlock(ctx, r.cfg.Stream, r.cfg.DeploymentBlock)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		r.nextBlock = next
		r.resumed = true
		r.log.Infow("resuming", "next_block", next)
	}

	head, err := r.providers.Fallback.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warnw("failed to get head block, skipping tick", "error", err)
		return nil
	}
	r.head = head
	if head < r.cfg.Confirmations {
		return nil
	}
	r.safeHead = head - r.cfg.Confirmations

	if err := r.checkReorg(ctx); err != nil {
		return err
	}

	for r.nextBlock <= r.safeHead {
		if err := ctx.Err(); err != nil {
			return err
		}

		from := r.nextBlock
		to := min(r.safeHead, from+r.policy.current-1)

		m, err := r.processor.Process(ctx, r.providers.Fallback, from, to)
		if err == nil {
			r.committed(m)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.recover(ctx, from, to, err); err != nil {
			return err
		}
	}

	ProgressSet(r.cfg.Stream, r.head, r.nextBlock, r.backlog(), r.policy.current)
	return nil
}

func (r *Runner) checkReorg(ctx context.Context) error {
	pinned := make([]reorg.HeaderProvider, len(r.providers.Pinned))
	for i, p := range r.providers.Pinned {
		pinned[i] = p
	}

	found, err := r.detector.Detect(ctx, r.cfg.Stream, r.cfg.ReorgScanDepth, r.providers.Fallback, pinned)
	if err != nil {
		return fmt.Errorf("reorg detection failed: %w", err)
	}
	if found == nil {
		return nil
	}

	if _, err := r.store.InvalidateFromBlock(ctx, r.cfg.Stream, found.FromBlock); err != nil {
		return err
	}
	r.cache.Clear()

	if found.FromBlock < r.nextBlock {
		r.nextBlock = found.FromBlock
	}
	r.log.Warnw("rewound after reorg", "from_block", found.FromBlock, "next_block", r.nextBlock)
	return nil
}

func (r *Runner) committed(m RangeMetrics) {
	r.nextBlock = m.ToBlock + 1
	r.policy.succeeded()

	r.log.Debugw("range committed",
		"from_block", m.FromBlock, "to_block", m.ToBlock,
		"events", m.Events, "proofs", m.Proofs,
		"fetch", m.Fetch, "timestamps", m.Timestamps, "decode", m.Decode, "persist", m.Persist,
		"next_chunk_blocks", r.policy.current)
}

// recover applies the chunk policy to a failed window. A nil return means the
// loop should try again; an error is fatal for the stream.
func (r *Runner) recover(ctx context.Context, from, to uint64, rangeErr error) error {
	a := r.policy.decide(rangeErr, len(r.providers.Pinned) > 0)
	RangeFailedInc(r.cfg.Stream, a)

	switch a {
	case actionRetry:
		d := r.policy.nextBackoff()
		r.log.Warnw("transient range failure, retrying",
			"from_block", from, "to_block", to, "attempt", r.policy.attempts, "backoff", d, "error", rangeErr)
		return r.sleep(ctx, d)

	case actionShrink:
		before := r.policy.current
		r.policy.shrink(rangeErr)
		r.log.Warnw("range failed, shrinking window",
			"from_block", from, "to_block", to, "chunk_blocks", before, "next_chunk_blocks", r.policy.current,
			"error", rangeErr)
		return nil

	case actionRepair:
		return r.repair(ctx, from, rangeErr)

	default:
		return fmt.Errorf("%w: block %d: %w", ErrRangeFailed, from, rangeErr)
	}
}

// repair retries a single block against each pinned provider in turn.
func (r *Runner) repair(ctx context.Context, block uint64, rangeErr error) error {
	for _, p := range r.providers.Pinned {
		m, err := r.processor.Process(ctx, p, block, block)
		if err == nil {
			r.log.Infow("block repaired through pinned provider", "block", block, "provider", p.Name())
			r.committed(m)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warnw("pinned provider could not repair block", "block", block, "provider", p.Name(), "error", err)
	}

	return fmt.Errorf("%w: block %d: %w", ErrRangeFailed, block, rangeErr)
}
