package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// stubProvider is a scripted provider for failover tests that do not need HTTP.
type stubProvider struct {
	name  string
	head  uint64
	err   error
	calls int
	onRun func()
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) BlockNumber(context.Context) (uint64, error) {
	s.calls++
	if s.onRun != nil {
		s.onRun()
	}
	return s.head, s.err
}

func (s *stubProvider) ChainID(context.Context) (uint64, error) { return 0, s.err }

func (s *stubProvider) GetLogs(context.Context, pkgrpc.LogFilter) ([]pkgrpc.RawLog, error) {
	return nil, s.err
}

func (s *stubProvider) BlockHeader(context.Context, uint64) (pkgrpc.BlockHeader, error) {
	return pkgrpc.BlockHeader{}, s.err
}

func (s *stubProvider) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, s.err
}

func TestPool_StickySuccess(t *testing.T) {
	bad := &stubProvider{name: "bad", err: errors.New("502 bad gateway")}
	good := &stubProvider{name: "good", head: 42}

	pool := NewPoolFromProviders("hub", []pkgrpc.Provider{bad, good}, logger.NewNopLogger())
	require.Equal(t, 0, pool.Preferred())

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), head)
	require.Equal(t, 1, pool.Preferred())
	require.Equal(t, 1, bad.calls)

	// the next call starts at the preferred endpoint and never touches the bad one
	_, err = pool.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, bad.calls)
	require.Equal(t, 2, good.calls)
}

func TestPool_AllEndpointsFailed(t *testing.T) {
	first := &stubProvider{name: "a", err: errors.New("connection refused")}
	last := &stubProvider{name: "b", err: errors.New("response size exceeded")}

	pool := NewPoolFromProviders("controller", []pkgrpc.Provider{first, last}, nil)

	_, err := pool.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
	require.Contains(t, err.Error(), "response size exceeded")
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, last.calls)
	require.Equal(t, 0, pool.Preferred(), "failure must not move the preferred endpoint")
}

func TestPool_CancellationStopsFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &stubProvider{name: "a", err: context.Canceled, onRun: cancel}
	second := &stubProvider{name: "b", head: 1}

	pool := NewPoolFromProviders("hub", []pkgrpc.Provider{first, second}, nil)

	_, err := pool.BlockNumber(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, second.calls)
}

func TestPool_PinnedIsCopy(t *testing.T) {
	a := &stubProvider{name: "a"}
	pool := NewPoolFromProviders("hub", []pkgrpc.Provider{a}, nil)

	pinned := pool.Pinned()
	require.Len(t, pinned, 1)
	pinned[0] = nil
	require.NotNil(t, pool.Pinned()[0])
}

func TestNewPool_DropsUnhealthyEndpoints(t *testing.T) {
	healthy := newFakeRPCServer(t, headHandler("0x64"))
	unhealthy := newFakeRPCServer(t, func(string, []json.RawMessage) rpcReply {
		return rpcReply{status: http.StatusInternalServerError}
	})

	pool, err := NewPool(context.Background(), "hub", PoolConfig{
		URLs: []string{unhealthy.URL, healthy.URL},
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.Len(t, pool.Pinned(), 1)

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), head)
}

func TestNewPool_NoHealthyEndpoints(t *testing.T) {
	unhealthy := newFakeRPCServer(t, func(string, []json.RawMessage) rpcReply {
		return rpcReply{status: http.StatusServiceUnavailable}
	})

	_, err := NewPool(context.Background(), "hub", PoolConfig{
		URLs: []string{unhealthy.URL, "ftp://unsupported.example"},
	}, nil)
	require.ErrorIs(t, err, ErrNoHealthyEndpoints)
}

func TestPool_FailoverOverHTTP(t *testing.T) {
	down := newFakeRPCServer(t, func(method string, _ []json.RawMessage) rpcReply {
		if method == methodBlockNumber {
			return rpcReply{result: "0x1"}
		}
		return rpcReply{status: http.StatusBadGateway}
	})
	up := newFakeRPCServer(t, func(method string, _ []json.RawMessage) rpcReply {
		if method == methodBlockNumber {
			return rpcReply{result: "0x1"}
		}
		return rpcReply{result: "0x2a"}
	})

	pool, err := NewPool(context.Background(), "hub", PoolConfig{URLs: []string{down.URL, up.URL}}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	chainID, err := pool.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), chainID)
	require.Equal(t, 1, pool.Preferred())
	require.Equal(t, 1, down.callCount(methodChainID))
	require.Equal(t, 1, up.callCount(methodChainID))
}

func TestPool_SameHostEndpointsGetDistinctNames(t *testing.T) {
	server := newFakeRPCServer(t, func(method string, _ []json.RawMessage) rpcReply {
		return rpcReply{result: "0x64"}
	})

	pool, err := NewPool(context.Background(), "controller", PoolConfig{
		URLs: []string{server.URL + "/?key=a", server.URL + "/?key=b"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	pinned := pool.Pinned()
	require.Len(t, pinned, 2)
	require.Equal(t, server.URL+"#0", pinned[0].Name())
	require.Equal(t, server.URL+"#1", pinned[1].Name())
}
