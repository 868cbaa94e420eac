package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcReply is what a fake handler answers with. A non-zero status short-circuits
// the JSON-RPC envelope and writes a bare HTTP error.
type rpcReply struct {
	result any
	err    *rpcError
	status int
	delay  time.Duration
}

type rpcHandler func(method string, params []json.RawMessage) rpcReply

type fakeRPCServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func newFakeRPCServer(t *testing.T, handler rpcHandler) *fakeRPCServer {
	t.Helper()

	f := &fakeRPCServer{calls: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.calls[req.Method]++
		f.mu.Unlock()

		reply := handler(req.Method, req.Params)
		if reply.delay > 0 {
			select {
			case <-time.After(reply.delay):
			case <-r.Context().Done():
				return
			}
		}
		if reply.status != 0 {
			w.WriteHeader(reply.status)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if reply.err != nil {
			resp["error"] = reply.err
		} else {
			resp["result"] = reply.result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.Close)

	return f
}

func (f *fakeRPCServer) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func newTestClient(t *testing.T, url string, opts ClientOptions) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), url, opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func headHandler(head string) rpcHandler {
	return func(method string, _ []json.RawMessage) rpcReply {
		if method == methodBlockNumber {
			return rpcReply{result: head}
		}
		return rpcReply{err: &rpcError{Code: -32601, Message: "method not found"}}
	}
}
