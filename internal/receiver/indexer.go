package receiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/chainlog"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	internalcommon "github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/events"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/rpc"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/timestamps"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval        = 2 * time.Second
	DefaultDiscoveryInterval   = 30 * time.Second
	DefaultChunkBlocks         = 2000
	DefaultToBatchSize         = 50
	DefaultBackfillConcurrency = 2

	maxTransientRetries     = 3
	initialTransientBackoff = 250 * time.Millisecond
	maxTransientBackoff     = 2 * time.Second

	// catch-up windows per tick; the cursor is persisted between ticks
	maxTailWindowsPerTick = 64

	kindTail     = "tail"
	kindBackfill = "backfill"
)

// ErrWindowFailed is returned when a window still fails after transient retries.
var ErrWindowFailed = errors.New("receiver window failed")

// Store is the persistence surface of the receiver indexer.
type Store interface {
	SaltSource
	InsertTransfers(ctx context.Context, rows []store.ReceiverUsdtTransferRow) error
	ReceiverResumeFromBlock(ctx context.Context, chainID uint64, token common.Address, floor uint64) (uint64, error)
	SetReceiverCursor(ctx context.Context, chainID uint64, token common.Address, block uint64) error
	SaltsWithTransfers(ctx context.Context, chainID uint64, token common.Address) (map[common.Hash]struct{}, error)
}

// Config is the resolved receiver indexer configuration.
type Config struct {
	ChainID             uint64
	Controller          common.Address
	Tokens              []common.Address
	DeploymentBlock     uint64
	Confirmations       uint64
	PollInterval        time.Duration
	DiscoveryInterval   time.Duration
	ChunkBlocks         uint64
	ToBatchSize         int
	BackfillConcurrency int
	PreknownSalts       []common.Hash
	Create2Prefix       byte
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.ChunkBlocks == 0 {
		c.ChunkBlocks = DefaultChunkBlocks
	}
	if c.ToBatchSize <= 0 {
		c.ToBatchSize = DefaultToBatchSize
	}
	if c.BackfillConcurrency <= 0 {
		c.BackfillConcurrency = DefaultBackfillConcurrency
	}
	if c.Create2Prefix == 0 {
		c.Create2Prefix = DefaultCreate2Prefix
	}
}

type tokenState struct {
	token   common.Address
	label   string
	next    uint64
	resumed bool
	// receivers whose history is indexed from the deployment block up to next
	covered map[common.Address]struct{}
}

type window struct {
	kind      string
	fromBlock uint64
	toBlock   uint64
	receivers Set
}

// Indexer scans token transfers to receiver addresses on the controller chain.
type Indexer struct {
	cfg       Config
	store     Store
	provider  pkgrpc.Provider
	discovery *Discovery
	cache     *timestamps.Cache
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	receivers Set
	tokens    []*tokenState
}

// NewIndexer wires an indexer that reads through provider.
func NewIndexer(cfg Config, st Store, provider pkgrpc.Provider, cache *timestamps.Cache, log *logger.Logger) *Indexer {
	cfg.applyDefaults()

	tokens := make([]*tokenState, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		tokens[i] = &tokenState{token: t, label: codec.TronAddressFromEVM(t).String()}
	}

	return &Indexer{
		cfg:   cfg,
		store: st,
		provider: provider,
		discovery: NewDiscovery(provider, st, cfg.Controller, cfg.Create2Prefix, cfg.PreknownSalts,
			log.WithComponent(internalcommon.ComponentReceiverDiscovery)),
		cache:  cache,
		log:    log,
		sleep:  sleepCtx,
		tokens: tokens,
	}
}

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

// Run alternates discovery and range ticks until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.log.Infow("receiver indexer starting",
		"chain_id", ix.cfg.ChainID, "controller", codec.TronAddressFromEVM(ix.cfg.Controller).String(),
		"tokens", len(ix.tokens), "preknown_salts", len(ix.cfg.PreknownSalts),
		"backfill_concurrency", ix.cfg.BackfillConcurrency)

	poll := time.NewTicker(ix.cfg.PollInterval)
	defer poll.Stop()
	discover := time.NewTicker(ix.cfg.DiscoveryInterval)
	defer discover.Stop()

	ix.discover(ctx)

	for {
		if err := ix.tick(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("receiver indexer: %w", err)
		}

		select {
		case <-ctx.Done():
			ix.log.Info("receiver indexer stopped")
			return nil
		case <-discover.C:
			ix.discover(ctx)
		case <-poll.C:
		}
	}
}

func (ix *Indexer) discover(ctx context.Context) {
	set, err := ix.discovery.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			ix.log.Warnw("receiver discovery failed, keeping previous set", "error", err, "receivers", len(ix.receivers))
		}
		return
	}
	ix.receivers = set
}

// tick scans every token once. Nothing is scanned before the first successful discovery.
func (ix *Indexer) tick(ctx context.Context) error {
	if ix.receivers == nil {
		return nil
	}

	head, err := ix.provider.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ix.log.Warnw("failed to get head block, skipping tick", "error", err)
		return nil
	}
	if head < ix.cfg.Confirmations {
		return nil
	}
	safeHead := head - ix.cfg.Confirmations

	for _, ts := range ix.tokens {
		if err := ix.tickToken(ctx, ts, ix.receivers, safeHead); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) resume(ctx context.Context, ts *tokenState, receivers Set) error {
	next, err := ix.store.ReceiverResumeFromBlock(ctx, ix.cfg.ChainID, ts.token, ix.cfg.DeploymentBlock)
	if err != nil {
		return err
	}
	withTransfers, err := ix.store.SaltsWithTransfers(ctx, ix.cfg.ChainID, ts.token)
	if err != nil {
		return err
	}

	ts.covered = make(map[common.Address]struct{})
	for addr, salt := range receivers {
		if _, ok := withTransfers[salt]; ok {
			ts.covered[addr] = struct{}{}
		}
	}
	ts.next = next
	ts.resumed = true

	ix.log.Infow("receiver token resuming", "token", ts.label, "next_block", next, "covered_receivers", len(ts.covered))
	return nil
}

func (ix *Indexer) plan(ts *tokenState, receivers Set, safeHead uint64) (tail []window, backfill []window, pending Set) {
	for addr := range ts.covered {
		if _, ok := receivers[addr]; !ok {
			delete(ts.covered, addr)
		}
	}

	pending = receivers.Without(ts.covered)
	if len(pending) > 0 && ts.next > ix.cfg.DeploymentBlock {
		for from := ix.cfg.DeploymentBlock; from < ts.next; from += ix.cfg.ChunkBlocks {
			backfill = append(backfill, window{
				kind:      kindBackfill,
				fromBlock: from,
				toBlock:   min(from+ix.cfg.ChunkBlocks-1, ts.next-1),
				receivers: pending,
			})
		}
	}

	for from := ts.next; from <= safeHead && len(tail) < maxTailWindowsPerTick; from += ix.cfg.ChunkBlocks {
		tail = append(tail, window{
			kind:      kindTail,
			fromBlock: from,
			toBlock:   min(from+ix.cfg.ChunkBlocks-1, safeHead),
			receivers: receivers,
		})
	}
	return tail, backfill, pending
}

func (ix *Indexer) tickToken(ctx context.Context, ts *tokenState, receivers Set, safeHead uint64) error {
	if !ts.resumed {
		if err := ix.resume(ctx, ts, receivers); err != nil {
			return fmt.Errorf("failed to resume token %s: %w", ts.label, err)
		}
	}

	tail, backfill, pending := ix.plan(ts, receivers, safeHead)
	if len(tail) == 0 && len(backfill) == 0 {
		return nil
	}
	if len(backfill) > 0 {
		ix.log.Infow("backfilling new receivers",
			"token", ts.label, "receivers", len(pending), "from_block", ix.cfg.DeploymentBlock,
			"to_block", ts.next-1, "windows", len(backfill))
	}

	tailDone := make([]bool, len(tail))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.BackfillConcurrency)

	for i, w := range tail {
		g.Go(func() error {
			if err := ix.runWindow(gctx, ts, w); err != nil {
				return err
			}
			tailDone[i] = true
			return nil
		})
	}
	for _, w := range backfill {
		g.Go(func() error {
			return ix.runWindow(gctx, ts, w)
		})
	}
	windowErr := g.Wait()

	// the cursor moves over the longest prefix of finished tail windows
	prefix := 0
	for prefix < len(tailDone) && tailDone[prefix] {
		prefix++
	}
	if prefix > 0 {
		through := tail[prefix-1].toBlock
		if err := ix.store.SetReceiverCursor(ctx, ix.cfg.ChainID, ts.token, through); err != nil {
			return fmt.Errorf("failed to advance receiver cursor of %s: %w", ts.label, err)
		}
		ts.next = through + 1
		ReceiverNextBlockSet(ts.label, ts.next)
	}

	if windowErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return windowErr
	}

	for addr := range pending {
		ts.covered[addr] = struct{}{}
	}

	ix.log.Debugw("receiver tick done", "token", ts.label, "next_block", ts.next,
		"tail_windows", len(tail), "backfill_windows", len(backfill))
	return nil
}

// runWindow indexes one window, retrying transient failures with backoff.
func (ix *Indexer) runWindow(ctx context.Context, ts *tokenState, w window) error {
	backoff := initialTransientBackoff

	for attempt := 0; ; attempt++ {
		n, err := ix.processWindow(ctx, ts.token, w)
		if err == nil {
			TransfersIndexedAdd(ts.label, w.kind, n)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !rpc.IsTransientError(err) || attempt >= maxTransientRetries {
			WindowFailedInc(ts.label, w.kind)
			return fmt.Errorf("%w: %s %s [%d, %d]: %w", ErrWindowFailed, ts.label, w.kind, w.fromBlock, w.toBlock, err)
		}

		ix.log.Warnw("transient receiver window failure, retrying",
			"token", ts.label, "kind", w.kind, "from_block", w.fromBlock, "to_block", w.toBlock,
			"attempt", attempt+1, "backoff", backoff, "error", err)
		if err := ix.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, maxTransientBackoff)
	}
}

func (ix *Indexer) processWindow(ctx context.Context, token common.Address, w window) (int, error) {
	var raw []pkgrpc.RawLog
	for _, group := range batches(w.receivers.Addresses(), ix.cfg.ToBatchSize) {
		to := make([]common.Hash, len(group))
		for i, addr := range group {
			to[i] = events.AddressTopic(addr)
		}

		logs, err := ix.provider.GetLogs(ctx, pkgrpc.LogFilter{
			Addresses: []common.Address{token},
			FromBlock: w.fromBlock,
			ToBlock:   w.toBlock,
			Topics:    [][]common.Hash{{events.Transfer.Topic0()}, nil, to},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to fetch transfer logs: %w", err)
		}
		raw = append(raw, logs...)
	}

	logs, err := chainlog.Validate(raw)
	if err != nil {
		return 0, err
	}
	times, err := ix.cache.Populate(ctx, ix.provider, logs)
	if err != nil {
		return 0, fmt.Errorf("failed to populate block timestamps: %w", err)
	}

	rows := make([]store.ReceiverUsdtTransferRow, 0, len(logs))
	for _, l := range logs {
		tr, err := events.ParseTransfer(l)
		if err != nil {
			return 0, fmt.Errorf("log %s:%d: %w", l.TxHash.Hex(), l.LogIndex, err)
		}
		salt, ok := w.receivers[tr.To]
		if !ok {
			continue
		}
		ts, ok := times[l.BlockNumber]
		if !ok {
			return 0, fmt.Errorf("no timestamp resolved for block %d", l.BlockNumber)
		}

		rows = append(rows, store.ReceiverUsdtTransferRow{
			ChainID:        ix.cfg.ChainID,
			Token:          token,
			ReceiverSalt:   salt,
			Sender:         tr.From,
			Recipient:      tr.To,
			Amount:         tr.Value,
			BlockNumber:    l.BlockNumber,
			BlockTimestamp: ts,
			BlockHash:      l.BlockHash,
			TxHash:         l.TxHash,
			LogIndex:       l.LogIndex,
		})
	}

	if err := ix.store.InsertTransfers(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
