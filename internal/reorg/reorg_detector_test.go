package reorg

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/rpc/mocks"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

type fakeStore struct {
	blocks []store.BlockHash // ascending
	err    error
}

func (f *fakeStore) LatestCanonicalBlockHash(context.Context, types.Stream) (*store.BlockHash, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.blocks) == 0 {
		return nil, nil
	}
	latest := f.blocks[len(f.blocks)-1]
	return &latest, nil
}

func (f *fakeStore) RecentCanonicalBlockHashes(_ context.Context, _ types.Stream, limit int) ([]store.BlockHash, error) {
	var out []store.BlockHash
	for i := len(f.blocks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.blocks[i])
	}
	return out, nil
}

func hashOf(n uint64, fork bool) common.Hash {
	h := common.BigToHash(new(big.Int).SetUint64(n))
	if fork {
		h[0] = 0xff
	}
	return h
}

func storedRange(from, to uint64) *fakeStore {
	st := &fakeStore{}
	for n := from; n <= to; n++ {
		st.blocks = append(st.blocks, store.BlockHash{BlockNumber: n, BlockHash: hashOf(n, false)})
	}
	return st
}

func newProvider(t *testing.T, name string) *mocks.Provider {
	p := mocks.NewProvider(t)
	p.On("Name").Return(name).Maybe()
	return p
}

func expectHeader(p *mocks.Provider, n uint64, fork bool) {
	p.On("BlockHeader", mock.Anything, n).
		Return(pkgrpc.BlockHeader{Number: n, Hash: hashOf(n, fork)}, nil).Once()
}

func newDetector(st BlockHashStore) *ReorgDetector {
	return NewReorgDetector(st, logger.NewNopLogger())
}

func TestDetect_NoStoredBlocks(t *testing.T) {
	fallback := newProvider(t, "fallback")

	reorg, err := newDetector(&fakeStore{}).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_HeadMatches(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, false)

	reorg, err := newDetector(storedRange(100, 102)).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_FallbackUnavailableIsInconclusive(t *testing.T) {
	fallback := newProvider(t, "fallback")
	fallback.On("BlockHeader", mock.Anything, uint64(102)).
		Return(pkgrpc.BlockHeader{}, errors.New("timeout")).Once()

	reorg, err := newDetector(storedRange(100, 102)).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	fallback := newProvider(t, "fallback")

	_, err := newDetector(&fakeStore{err: boom}).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.ErrorIs(t, err, boom)
}

func TestDetect_HeadReorgConfirmedByTwoPinned(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, true)
	expectHeader(fallback, 101, false)

	pinnedA := newProvider(t, "pinned-a")
	expectHeader(pinnedA, 102, true)
	pinnedB := newProvider(t, "pinned-b")
	expectHeader(pinnedB, 102, true)

	reorg, err := newDetector(storedRange(100, 102)).Detect(
		context.Background(), types.StreamController, 256, fallback, []HeaderProvider{pinnedA, pinnedB})
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(102), reorg.FromBlock)
	require.Equal(t, hashOf(102, false), reorg.StoredHash)
	require.Equal(t, hashOf(102, true), reorg.CurrentHash)
	require.Equal(t, 1, reorg.Depth)
}

func TestDetect_DeepReorgFindsLeftmost(t *testing.T) {
	fallback := newProvider(t, "fallback")
	// stored 100..115, chain forked from 108 onwards
	for n := uint64(100); n <= 115; n++ {
		fallback.On("BlockHeader", mock.Anything, n).
			Return(pkgrpc.BlockHeader{Number: n, Hash: hashOf(n, n >= 108)}, nil).Maybe()
	}

	reorg, err := newDetector(storedRange(100, 115)).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(108), reorg.FromBlock)
	require.Equal(t, 8, reorg.Depth)

	// head probe plus at most ceil(log2(16)) search probes
	require.LessOrEqual(t, len(fallback.Calls)-countName(fallback), 1+4)
}

func countName(p *mocks.Provider) int {
	n := 0
	for _, c := range p.Calls {
		if c.Method == "Name" {
			n++
		}
	}
	return n
}

func TestDetect_WholeWindowDiverged(t *testing.T) {
	fallback := newProvider(t, "fallback")
	for n := uint64(100); n <= 103; n++ {
		fallback.On("BlockHeader", mock.Anything, n).
			Return(pkgrpc.BlockHeader{Number: n, Hash: hashOf(n, true)}, nil).Maybe()
	}

	reorg, err := newDetector(storedRange(100, 103)).Detect(context.Background(), types.StreamHub, 4, fallback, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), reorg.FromBlock)
	require.Equal(t, 4, reorg.Depth)
}

func TestDetect_PinnedProviderVetoes(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, true)

	pinnedA := newProvider(t, "pinned-a")
	expectHeader(pinnedA, 102, true)
	pinnedB := newProvider(t, "pinned-b")
	expectHeader(pinnedB, 102, false)

	reorg, err := newDetector(storedRange(100, 102)).Detect(
		context.Background(), types.StreamHub, 128, fallback, []HeaderProvider{pinnedA, pinnedB})
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_NotEnoughPinnedConfirmations(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, true)

	pinnedA := newProvider(t, "pinned-a")
	expectHeader(pinnedA, 102, true)
	pinnedB := newProvider(t, "pinned-b")
	pinnedB.On("BlockHeader", mock.Anything, uint64(102)).
		Return(pkgrpc.BlockHeader{}, errors.New("connection reset")).Once()

	reorg, err := newDetector(storedRange(100, 102)).Detect(
		context.Background(), types.StreamHub, 128, fallback, []HeaderProvider{pinnedA, pinnedB})
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_SinglePinnedConfirms(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, true)
	expectHeader(fallback, 101, false)

	pinned := newProvider(t, "pinned")
	expectHeader(pinned, 102, true)

	reorg, err := newDetector(storedRange(100, 102)).Detect(
		context.Background(), types.StreamHub, 128, fallback, []HeaderProvider{pinned})
	require.NoError(t, err)
	require.Equal(t, uint64(102), reorg.FromBlock)
}

func TestDetect_ProbeFailureIsInconclusive(t *testing.T) {
	fallback := newProvider(t, "fallback")
	expectHeader(fallback, 102, true)
	fallback.On("BlockHeader", mock.Anything, uint64(101)).
		Return(pkgrpc.BlockHeader{}, errors.New("502 bad gateway")).Once()

	reorg, err := newDetector(storedRange(100, 102)).Detect(context.Background(), types.StreamHub, 128, fallback, nil)
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestDetect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fallback := newProvider(t, "fallback")
	fallback.On("BlockHeader", mock.Anything, uint64(102)).
		Return(pkgrpc.BlockHeader{}, context.Canceled).Once()

	_, err := newDetector(storedRange(100, 102)).Detect(ctx, types.StreamHub, 128, fallback, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAscending(t *testing.T) {
	latest := store.BlockHash{BlockNumber: 9, BlockHash: hashOf(9, false)}
	out := ascending([]store.BlockHash{{BlockNumber: 8}, {BlockNumber: 7}}, latest)
	require.Equal(t, []uint64{7, 8, 9}, []uint64{out[0].BlockNumber, out[1].BlockNumber, out[2].BlockNumber})
}
