package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// TestClientImplementsInterface verifies that Client implements the Provider interface.
func TestClientImplementsInterface(t *testing.T) {
	var _ pkgrpc.Provider = (*Client)(nil)
}

func TestToBlockNumArg(t *testing.T) {
	tests := []struct {
		name     string
		blockNum uint64
		want     string
	}{
		{name: "block 0", blockNum: 0, want: "0x0"},
		{name: "block 1", blockNum: 1, want: "0x1"},
		{name: "block 100", blockNum: 100, want: "0x64"},
		{name: "large block number", blockNum: 18000000, want: "0x112a880"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, toBlockNumArg(tt.blockNum))
		})
	}
}

func TestToFilterArg(t *testing.T) {
	addr1 := common.HexToAddress("0x1234567890123456789012345678901234567890")
	addr2 := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	topic1 := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	topic2 := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	tests := []struct {
		name  string
		query pkgrpc.LogFilter
		check func(t *testing.T, m map[string]any)
	}{
		{
			name: "single address and block range",
			query: pkgrpc.LogFilter{
				FromBlock: 100,
				ToBlock:   200,
				Addresses: []common.Address{addr1},
				Topics:    [][]common.Hash{{topic1}},
			},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				require.Equal(t, "0x64", m["fromBlock"])
				require.Equal(t, "0xc8", m["toBlock"])
				require.Equal(t, addr1, m["address"])
				require.Equal(t, [][]common.Hash{{topic1}}, m["topics"])
			},
		},
		{
			name: "multiple addresses and topic2 disjunction",
			query: pkgrpc.LogFilter{
				FromBlock: 1,
				ToBlock:   10,
				Addresses: []common.Address{addr1, addr2},
				Topics:    [][]common.Hash{{topic1}, nil, {topic1, topic2}},
			},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				require.Equal(t, []common.Address{addr1, addr2}, m["address"])
				require.Equal(t, [][]common.Hash{{topic1}, nil, {topic1, topic2}}, m["topics"])
			},
		},
		{
			name:  "no addresses or topics",
			query: pkgrpc.LogFilter{FromBlock: 50, ToBlock: 100},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				require.NotContains(t, m, "address")
				require.NotContains(t, m, "topics")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := toFilterArg(tt.query).(map[string]any)
			require.True(t, ok, "result should be a map[string]any")
			tt.check(t, m)
		})
	}
}

func TestToFilterArg_TopicWildcardEncodesNull(t *testing.T) {
	topic := common.HexToHash("0x01")
	b, err := json.Marshal(toFilterArg(pkgrpc.LogFilter{Topics: [][]common.Hash{{topic}, nil, {topic}}}))
	require.NoError(t, err)
	require.Contains(t, string(b), `,null,`)
}

func TestParseBlockHeader(t *testing.T) {
	hash := "0x00000000000000000000000000000000000000000000000000000000000000ab"

	tests := []struct {
		name    string
		raw     string
		want    pkgrpc.BlockHeader
		wantErr error
	}{
		{
			name: "ethereum block",
			raw:  `{"number":"0x64","hash":"` + hash + `","timestamp":"0x5f5e100","transactions":[]}`,
			want: pkgrpc.BlockHeader{Number: 100, Hash: common.HexToHash(hash), Timestamp: 100000000},
		},
		{
			name: "tron block with millisecond timestamp and extra fields",
			raw:  `{"number":"0x64","hash":"` + hash[2:] + `","timestamp":1700000000000,"witness":"T..."}`,
			want: pkgrpc.BlockHeader{Number: 100, Hash: common.HexToHash(hash), Timestamp: 1700000000000},
		},
		{name: "null block", raw: `null`, wantErr: ErrBlockNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBlockHeader(100, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := parseBlockHeader(1, json.RawMessage(`{"timestamp":"0x1"}`))
	require.Error(t, err)
}

func TestClient_GetLogs(t *testing.T) {
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) rpcReply {
		require.Equal(t, methodGetLogs, method)
		return rpcReply{result: []map[string]any{{
			"address":         "0x1234567890123456789012345678901234567890",
			"topics":          []string{"0x0000000000000000000000000000000000000000000000000000000000000001"},
			"data":            "0x",
			"blockNumber":     "0x69",
			"blockHash":       "0x00000000000000000000000000000000000000000000000000000000000000aa",
			"transactionHash": "0x00000000000000000000000000000000000000000000000000000000000000bb",
			"logIndex":        "0x2",
			"block_timestamp": 1700000000000,
		}}}
	})

	client := newTestClient(t, server.URL, ClientOptions{})
	logs, err := client.GetLogs(context.Background(), pkgrpc.LogFilter{FromBlock: 100, ToBlock: 110})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.JSONEq(t, `"0x69"`, string(logs[0].BlockNumber))
	require.JSONEq(t, `1700000000000`, string(logs[0].BlockTimestamp))
	require.NotNil(t, logs[0].TxHash)
}

func TestClient_RateLimitRetry(t *testing.T) {
	var attempts atomic.Int32
	server := newFakeRPCServer(t, func(method string, _ []json.RawMessage) rpcReply {
		if attempts.Add(1) <= 2 {
			return rpcReply{status: http.StatusTooManyRequests}
		}
		return rpcReply{result: "0x10"}
	})

	client := newTestClient(t, server.URL, ClientOptions{Retry: DefaultRetryConfig()})
	rec := &sleepRecorder{}
	client.sleep = rec.sleep

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(16), head)
	require.Len(t, rec.calls, 2)
}

func TestClient_PerTryTimeout(t *testing.T) {
	server := newFakeRPCServer(t, func(string, []json.RawMessage) rpcReply {
		return rpcReply{result: "0x1", delay: time.Second}
	})

	client := newTestClient(t, server.URL, ClientOptions{PerTryTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	require.True(t, IsTransientError(err), "timeout should classify as transient: %v", err)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestClient_Call(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) rpcReply {
		require.Equal(t, methodCall, method)
		require.Len(t, params, 2)
		require.Contains(t, strings.ToLower(string(params[0])), "0x00000000000000000000000000000000000000c0")
		return rpcReply{result: "0xdeadbeef"}
	})

	client := newTestClient(t, server.URL, ClientOptions{})
	out, err := client.Call(context.Background(), to, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, out)
}

func TestRedactURL(t *testing.T) {
	require.Equal(t, "https://api.trongrid.io", RedactURL("https://user:pw@api.trongrid.io/jsonrpc?key=secret"))
	require.Equal(t, "endpoint", RedactURL("not a url"))
}

func TestEndpointNames(t *testing.T) {
	names := EndpointNames([]string{
		"https://api.trongrid.io/jsonrpc?key=a",
		"https://rpc.example.org",
		"https://api.trongrid.io/jsonrpc?key=b",
	})
	require.Equal(t, []string{
		"https://api.trongrid.io#0",
		"https://rpc.example.org",
		"https://api.trongrid.io#2",
	}, names)
}
