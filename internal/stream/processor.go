package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/chainlog"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/events"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/timestamps"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// BatchWriter persists the rows of one processed range.
type BatchWriter interface {
	InsertBatch(ctx context.Context, batch store.Batch) error
}

// RangeMetrics summarises one committed range.
type RangeMetrics struct {
	FromBlock uint64
	ToBlock   uint64
	Events    int
	Proofs    int

	Fetch      time.Duration
	Timestamps time.Duration
	Decode     time.Duration
	Persist    time.Duration
}

// Processor fetches, validates, decodes and persists one block range of a stream.
type Processor struct {
	stream   types.Stream
	chainID  uint64
	contract common.Address
	writer   BatchWriter
	cache    *timestamps.Cache
	log      *logger.Logger
}

// NewProcessor creates a processor for the contract of stream on chainID.
func NewProcessor(
	stream types.Stream,
	chainID uint64,
	contract common.Address,
	writer BatchWriter,
	cache *timestamps.Cache,
	log *logger.Logger,
) *Processor {
	return &Processor{
		stream:   stream,
		chainID:  chainID,
		contract: contract,
		writer:   writer,
		cache:    cache,
		log:      log,
	}
}

// Process indexes [fromBlock, toBlock] through provider. On cancellation it
// returns the context error and writes nothing.
func (p *Processor) Process(ctx context.Context, provider pkgrpc.Provider, fromBlock, toBlock uint64) (RangeMetrics, error) {
	m := RangeMetrics{FromBlock: fromBlock, ToBlock: toBlock}

	start := time.Now()
	primary, err := p.fetch(ctx, provider, fromBlock, toBlock, events.EventAppended.Topic0())
	if err != nil {
		return m, fmt.Errorf("failed to fetch %s logs: %w", events.EventAppended.Name, err)
	}
	var secondary []chainlog.Log
	if p.stream == types.StreamController {
		secondary, err = p.fetch(ctx, provider, fromBlock, toBlock, events.IsEventChainTipCalled.Topic0())
		if err != nil {
			return m, fmt.Errorf("failed to fetch %s logs: %w", events.IsEventChainTipCalled.Name, err)
		}
	}
	m.Fetch = time.Since(start)

	start = time.Now()
	times, err := p.cache.Populate(ctx, provider, primary, secondary)
	if err != nil {
		return m, fmt.Errorf("failed to populate block timestamps: %w", err)
	}
	m.Timestamps = time.Since(start)

	start = time.Now()
	batch := store.Batch{Stream: p.stream, ToBlock: toBlock}
	for _, l := range primary {
		row, err := p.eventRow(l, times)
		if err != nil {
			return m, err
		}
		batch.Events = append(batch.Events, row)
	}
	for _, l := range secondary {
		row, err := p.proofRow(l, times)
		if err != nil {
			return m, err
		}
		batch.Proofs = append(batch.Proofs, row)
	}
	m.Decode = time.Since(start)

	if err := ctx.Err(); err != nil {
		return m, err
	}

	start = time.Now()
	if err := p.writer.InsertBatch(ctx, batch); err != nil {
		return m, err
	}
	m.Persist = time.Since(start)

	m.Events = len(batch.Events)
	m.Proofs = len(batch.Proofs)
	RangeCommittedLog(p.stream, m)

	return m, nil
}

func (p *Processor) fetch(ctx context.Context, provider pkgrpc.Provider, fromBlock, toBlock uint64, topic0 common.Hash) ([]chainlog.Log, error) {
	raw, err := provider.GetLogs(ctx, pkgrpc.LogFilter{
		Addresses: []common.Address{p.contract},
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Topics:    [][]common.Hash{{topic0}},
	})
	if err != nil {
		return nil, err
	}
	return chainlog.Validate(raw)
}

func timestamp(l chainlog.Log, times timestamps.Resolved) (uint64, error) {
	ts, ok := times[l.BlockNumber]
	if !ok {
		return 0, fmt.Errorf("no timestamp resolved for block %d", l.BlockNumber)
	}
	return ts, nil
}

func (p *Processor) eventRow(l chainlog.Log, times timestamps.Resolved) (store.EventAppendedRow, error) {
	ev, err := events.ParseEventAppended(l)
	if err != nil {
		return store.EventAppendedRow{}, fmt.Errorf("log %s:%d: %w", l.TxHash.Hex(), l.LogIndex, err)
	}

	decoded, err := events.Decode(p.stream, ev.EventSignature, ev.Data)
	if err != nil {
		return store.EventAppendedRow{}, fmt.Errorf("log %s:%d: %w", l.TxHash.Hex(), l.LogIndex, err)
	}

	ts, err := timestamp(l, times)
	if err != nil {
		return store.EventAppendedRow{}, err
	}

	return store.EventAppendedRow{
		Stream:              p.stream,
		ChainID:             p.chainID,
		TxHash:              l.TxHash,
		LogIndex:            l.LogIndex,
		BlockNumber:         l.BlockNumber,
		BlockTimestamp:      ts,
		BlockHash:           l.BlockHash,
		EventSeq:            ev.EventSeq,
		PrevTip:             ev.PrevTip,
		NewTip:              ev.NewTip,
		EventSignature:      ev.EventSignature,
		AbiEncodedEventData: ev.Data,
		EventType:           decoded.EventType,
		Args:                decoded.Args,
	}, nil
}

func (p *Processor) proofRow(l chainlog.Log, times timestamps.Resolved) (store.ControllerTipProofRow, error) {
	call, err := events.ParseTipCall(l)
	if err != nil {
		return store.ControllerTipProofRow{}, fmt.Errorf("log %s:%d: %w", l.TxHash.Hex(), l.LogIndex, err)
	}

	ts, err := timestamp(l, times)
	if err != nil {
		return store.ControllerTipProofRow{}, err
	}

	return store.ControllerTipProofRow{
		ChainID:        p.chainID,
		TxHash:         l.TxHash,
		LogIndex:       l.LogIndex,
		BlockNumber:    l.BlockNumber,
		BlockTimestamp: ts,
		BlockHash:      l.BlockHash,
		Caller:         call.Caller,
		ProvedTip:      call.Tip,
	}, nil
}
