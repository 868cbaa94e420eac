package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/events"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

var (
	hubContract  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	hubChainID   = uint64(8453)
	zeroTip      = common.Hash{}
	firstTip     = common.HexToHash("0xaa00000000000000000000000000000000000000000000000000000000000000")
	testBaseTime = uint64(1_700_000_000)
)

func blockHash(n uint64, fork bool) common.Hash {
	h := common.BigToHash(new(big.Int).SetUint64(n))
	if fork {
		h[0] = 0xf0
	}
	return h
}

type rowKey struct {
	chainID  uint64
	tx       common.Hash
	logIndex uint32
}

type storedEvent struct {
	row       store.EventAppendedRow
	canonical bool
}

// memStore mimics the PostgreSQL store for runner scenarios.
type memStore struct {
	mu            sync.Mutex
	events        map[rowKey]*storedEvent
	proofs        map[rowKey]store.ControllerTipProofRow
	cursor        map[types.Stream]int64
	invalidations []uint64
	batches       int
	writes        int
}

func newMemStore() *memStore {
	return &memStore{
		events: make(map[rowKey]*storedEvent),
		proofs: make(map[rowKey]store.ControllerTipProofRow),
		cursor: make(map[types.Stream]int64),
	}
}

func (m *memStore) put(row store.EventAppendedRow) {
	key := rowKey{row.ChainID, row.TxHash, row.LogIndex}
	existing, ok := m.events[key]
	if ok && existing.canonical && fmt.Sprint(existing.row) == fmt.Sprint(row) {
		return
	}
	m.events[key] = &storedEvent{row: row, canonical: true}
	m.writes++
}

func (m *memStore) InsertBatch(_ context.Context, batch store.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	for _, r := range batch.Events {
		m.put(r)
	}
	for _, r := range batch.Proofs {
		m.proofs[rowKey{r.ChainID, r.TxHash, r.LogIndex}] = r
	}
	if int64(batch.ToBlock) > m.cursor[batch.Stream] {
		m.cursor[batch.Stream] = int64(batch.ToBlock)
	}
	return nil
}

func (m *memStore) canonical(stream types.Stream) []store.EventAppendedRow {
	var out []store.EventAppendedRow
	for _, e := range m.events {
		if e.canonical && e.row.Stream == stream {
			out = append(out, e.row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	return out
}

func (m *memStore) ResumeFromBlock(_ context.Context, stream types.Stream, deploymentBlock uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := deploymentBlock
	if rows := m.canonical(stream); len(rows) > 0 && rows[0].BlockNumber+1 > next {
		next = rows[0].BlockNumber + 1
	}
	if c, ok := m.cursor[stream]; ok && c+1 > int64(next) {
		next = uint64(c + 1)
	}
	return next, nil
}

func (m *memStore) LatestCanonicalBlockHash(_ context.Context, stream types.Stream) (*store.BlockHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.canonical(stream)
	if len(rows) == 0 {
		return nil, nil
	}
	return &store.BlockHash{BlockNumber: rows[0].BlockNumber, BlockHash: rows[0].BlockHash}, nil
}

func (m *memStore) RecentCanonicalBlockHashes(_ context.Context, stream types.Stream, limit int) ([]store.BlockHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.BlockHash
	seen := make(map[uint64]bool)
	for _, r := range m.canonical(stream) {
		if seen[r.BlockNumber] || len(out) == limit {
			continue
		}
		seen[r.BlockNumber] = true
		out = append(out, store.BlockHash{BlockNumber: r.BlockNumber, BlockHash: r.BlockHash})
	}
	return out, nil
}

func (m *memStore) InvalidateFromBlock(_ context.Context, stream types.Stream, fromBlock uint64) (store.Invalidation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res store.Invalidation
	for _, e := range m.events {
		if e.row.Stream == stream && e.canonical && e.row.BlockNumber >= fromBlock {
			e.canonical = false
			res.Events++
		}
	}
	if c, ok := m.cursor[stream]; ok && c > int64(fromBlock)-1 {
		m.cursor[stream] = int64(fromBlock) - 1
	}
	m.invalidations = append(m.invalidations, fromBlock)
	return res, nil
}

// fakeChain is a scripted node.
type fakeChain struct {
	mu sync.Mutex

	name    string
	head    uint64
	forked  map[uint64]bool
	logs    []pkgrpc.RawLog
	logErrs []error
	hook    func(filter pkgrpc.LogFilter) error

	filters []pkgrpc.LogFilter
}

func newFakeChain(name string, head uint64) *fakeChain {
	return &fakeChain{name: name, head: head, forked: make(map[uint64]bool)}
}

func (c *fakeChain) Name() string { return c.name }

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c *fakeChain) ChainID(context.Context) (uint64, error) { return hubChainID, nil }

func (c *fakeChain) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (c *fakeChain) BlockHeader(ctx context.Context, n uint64) (pkgrpc.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return pkgrpc.BlockHeader{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return pkgrpc.BlockHeader{Number: n, Hash: blockHash(n, c.forked[n]), Timestamp: testBaseTime + n}, nil
}

func (c *fakeChain) GetLogs(ctx context.Context, filter pkgrpc.LogFilter) ([]pkgrpc.RawLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = append(c.filters, filter)
	if len(c.logErrs) > 0 {
		err := c.logErrs[0]
		c.logErrs = c.logErrs[1:]
		return nil, err
	}
	if c.hook != nil {
		if err := c.hook(filter); err != nil {
			return nil, err
		}
	}

	var out []pkgrpc.RawLog
	for _, l := range c.logs {
		n := rawNumber(l.BlockNumber)
		if n < filter.FromBlock || n > filter.ToBlock {
			continue
		}
		if len(filter.Topics) > 0 && len(filter.Topics[0]) > 0 && l.Topics[0] != filter.Topics[0][0] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *fakeChain) windows() [][2]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]uint64, len(c.filters))
	for i, f := range c.filters {
		out[i] = [2]uint64{f.FromBlock, f.ToBlock}
	}
	return out
}

func rawNumber(raw json.RawMessage) uint64 {
	var s string
	_ = json.Unmarshal(raw, &s)
	n, _ := new(big.Int).SetString(s[2:], 16)
	return n.Uint64()
}

func quantity(n uint64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`"0x%x"`, n))
}

// appendedLog builds an EventAppended log carrying a Paused(account) payload.
func appendedLog(t *testing.T, block uint64, logIndex uint32, seq uint64, prevTip, newTip common.Hash, fork bool) pkgrpc.RawLog {
	t.Helper()

	inner, ok := events.HubEvents.ByName("Paused")
	require.True(t, ok)
	payload, err := inner.Arguments().Pack(common.HexToAddress("0x01"))
	require.NoError(t, err)

	data, err := events.EventAppended.Arguments()[3:].Pack([32]byte(inner.Topic0()), payload)
	require.NoError(t, err)

	bh := blockHash(block, fork)
	tx := common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(logIndex)))

	return pkgrpc.RawLog{
		Address: hubContract,
		Topics: []common.Hash{
			events.EventAppended.Topic0(),
			common.BigToHash(new(big.Int).SetUint64(seq)),
			prevTip,
			newTip,
		},
		Data:        data,
		BlockNumber: quantity(block),
		BlockHash:   &bh,
		TxHash:      &tx,
		LogIndex:    quantity(uint64(logIndex)),
	}
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}
