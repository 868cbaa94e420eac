package reorg

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// BlockHashStore exposes the stored canonical blocks of a stream.
type BlockHashStore interface {
	LatestCanonicalBlockHash(ctx context.Context, stream types.Stream) (*store.BlockHash, error)
	RecentCanonicalBlockHashes(ctx context.Context, stream types.Stream, limit int) ([]store.BlockHash, error)
}

// HeaderProvider is the part of an RPC provider the detector probes.
type HeaderProvider interface {
	Name() string
	BlockHeader(ctx context.Context, blockNum uint64) (pkgrpc.BlockHeader, error)
}

// Reorg describes a confirmed divergence between storage and the chain.
type Reorg struct {
	// FromBlock is the earliest stored block whose hash no longer matches.
	FromBlock   uint64
	StoredHash  common.Hash
	CurrentHash common.Hash
	// Depth counts stored blocks at or above FromBlock within the scan window.
	Depth int
}

// ReorgDetector compares stored canonical block hashes against the chain.
type ReorgDetector struct {
	store BlockHashStore
	log   *logger.Logger
}

// NewReorgDetector creates a new ReorgDetector reading from st.
func NewReorgDetector(st BlockHashStore, log *logger.Logger) *ReorgDetector {
	return &ReorgDetector{store: st, log: log}
}

// prober fetches block hashes through one provider, remembering answers for the
// duration of one detection run.
type prober struct {
	provider HeaderProvider
	seen     map[uint64]common.Hash
}

func (p *prober) hash(ctx context.Context, blockNum uint64) (common.Hash, error) {
	if h, ok := p.seen[blockNum]; ok {
		return h, nil
	}
	header, err := p.provider.BlockHeader(ctx, blockNum)
	if err != nil {
		return common.Hash{}, err
	}
	p.seen[blockNum] = header.Hash
	return header.Hash, nil
}

// Detect returns the first divergent block of stream, or nil when storage agrees
// with the chain or the evidence is inconclusive. Only storage failures and
// cancellation are returned as errors.
func (r *ReorgDetector) Detect(
	ctx context.Context,
	stream types.Stream,
	scanDepth int,
	fallback HeaderProvider,
	pinned []HeaderProvider,
) (*Reorg, error) {
	latest, err := r.store.LatestCanonicalBlockHash(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest canonical block: %w", err)
	}
	if latest == nil {
		return nil, nil
	}

	probe := &prober{provider: fallback, seen: make(map[uint64]common.Hash)}

	current, err := probe.hash(ctx, latest.BlockNumber)
	if err != nil {
		return nil, r.inconclusive(ctx, stream, reasonHeadUnavailable, latest.BlockNumber, err)
	}
	if current == latest.BlockHash {
		return nil, nil
	}

	r.log.Warnw("stored head diverges from fallback provider",
		"stream", stream, "block", latest.BlockNumber,
		"stored_hash", latest.BlockHash.Hex(), "current_hash", current.Hex(),
		"provider", fallback.Name())

	if !r.confirm(ctx, stream, *latest, pinned) {
		return nil, ctx.Err()
	}

	recent, err := r.store.RecentCanonicalBlockHashes(ctx, stream, scanDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent canonical blocks: %w", err)
	}
	blocks := ascending(recent, *latest)

	// leftmost index whose stored hash differs; everything below it still matches
	lo, hi := 0, len(blocks)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		h, err := probe.hash(ctx, blocks[mid].BlockNumber)
		if err != nil {
			return nil, r.inconclusive(ctx, stream, reasonProbeFailed, blocks[mid].BlockNumber, err)
		}
		if h != blocks[mid].BlockHash {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	if lo == len(blocks) {
		// every probe matched although the head did not: the head itself diverged
		r.log.Warnw("binary search ended at the right edge, treating newest block as divergent",
			"stream", stream, "block", latest.BlockNumber)
		lo = len(blocks) - 1
	}
	if lo == 0 && len(blocks) >= scanDepth {
		r.log.Warnw("reorg reaches below the scan window",
			"stream", stream, "scan_depth", scanDepth, "oldest_scanned_block", blocks[0].BlockNumber)
	}

	found := blocks[lo]
	reorg := &Reorg{
		FromBlock:   found.BlockNumber,
		StoredHash:  found.BlockHash,
		CurrentHash: probe.seen[found.BlockNumber],
		Depth:       len(blocks) - lo,
	}

	ReorgDetectedLog(stream, uint64(reorg.Depth), reorg.FromBlock)
	r.log.Warnw("reorg detected",
		"stream", stream, "from_block", reorg.FromBlock, "depth", reorg.Depth,
		"stored_hash", reorg.StoredHash.Hex(), "current_hash", reorg.CurrentHash.Hex(),
		"probes", len(probe.seen))

	return reorg, nil
}

// confirm asks the pinned providers for the stored head. With two or more pinned
// providers at least two must disagree with storage, with one it must disagree;
// any pinned provider still reporting the stored hash vetoes the reorg.
func (r *ReorgDetector) confirm(ctx context.Context, stream types.Stream, latest store.BlockHash, pinned []HeaderProvider) bool {
	if len(pinned) == 0 {
		return true
	}

	need := min(2, len(pinned))
	disagreements := 0

	for _, p := range pinned {
		header, err := p.BlockHeader(ctx, latest.BlockNumber)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			r.log.Debugw("pinned provider could not confirm",
				"stream", stream, "provider", p.Name(), "block", latest.BlockNumber, "error", err)
			continue
		}
		if header.Hash == latest.BlockHash {
			_ = r.inconclusive(ctx, stream, reasonPinnedAgrees, latest.BlockNumber,
				fmt.Errorf("pinned provider %s reports the stored hash", p.Name()))
			return false
		}
		disagreements++
	}

	if disagreements < need {
		_ = r.inconclusive(ctx, stream, reasonNotConfirmed, latest.BlockNumber,
			fmt.Errorf("%d of %d required pinned confirmations", disagreements, need))
		return false
	}
	return true
}

func (r *ReorgDetector) inconclusive(ctx context.Context, stream types.Stream, reason string, blockNum uint64, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ReorgInconclusiveInc(stream, reason)
	r.log.Infow("reorg check inconclusive",
		"stream", stream, "reason", reason, "block", blockNum, "error", err)
	return nil
}

// ascending returns the scan window sorted by block number with latest included.
func ascending(recent []store.BlockHash, latest store.BlockHash) []store.BlockHash {
	byNumber := make(map[uint64]store.BlockHash, len(recent)+1)
	for _, b := range recent {
		byNumber[b.BlockNumber] = b
	}
	byNumber[latest.BlockNumber] = latest

	out := make([]store.BlockHash, 0, len(byNumber))
	for _, b := range byNumber {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out
}
