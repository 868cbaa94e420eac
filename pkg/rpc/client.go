package rpc

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Provider defines the JSON-RPC surface the indexer needs from a chain node.
// Both a single endpoint and the failover pool satisfy it, so callers can
// substitute a pinned endpoint wherever the fallback handle is used.
type Provider interface {
	// Name identifies the endpoint in logs and metrics. It never contains credentials.
	Name() string

	// BlockNumber returns the current head block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (uint64, error)

	// GetLogs retrieves logs matching the given filter.
	GetLogs(ctx context.Context, filter LogFilter) ([]RawLog, error)

	// BlockHeader retrieves the hash and timestamp of a block.
	BlockHeader(ctx context.Context, blockNum uint64) (BlockHeader, error)

	// Call executes a read-only contract call against the latest block.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// LogFilter is an eth_getLogs query over an inclusive block range.
// A nil entry in Topics matches any value at that position.
type LogFilter struct {
	Addresses []common.Address
	FromBlock uint64
	ToBlock   uint64
	Topics    [][]common.Hash
}

// BlockHeader holds the only block fields the indexer reads. Timestamp is the
// raw node value and may be in milliseconds on Tron-family chains.
type BlockHeader struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
}

// RawLog is a log record exactly as a node returned it. Position fields are
// optional because some nodes omit them, and quantities are kept raw because
// Tron-family nodes mix hex strings, decimal strings and JSON numbers.
type RawLog struct {
	Address        common.Address  `json:"address"`
	Topics         []common.Hash   `json:"topics"`
	Data           hexutil.Bytes   `json:"data"`
	BlockNumber    json.RawMessage `json:"blockNumber"`
	BlockHash      *common.Hash    `json:"blockHash"`
	TxHash         *common.Hash    `json:"transactionHash"`
	LogIndex       json.RawMessage `json:"logIndex"`
	BlockTimestamp json.RawMessage `json:"-"`
	Removed        bool            `json:"removed"`
}

type rawLogJSON struct {
	Address           common.Address  `json:"address"`
	Topics            []common.Hash   `json:"topics"`
	Data              hexutil.Bytes   `json:"data"`
	BlockNumber       json.RawMessage `json:"blockNumber"`
	BlockHash         *common.Hash    `json:"blockHash"`
	TxHash            *common.Hash    `json:"transactionHash"`
	LogIndex          json.RawMessage `json:"logIndex"`
	BlockTimestamp    json.RawMessage `json:"blockTimestamp"`
	BlockTimestampAlt json.RawMessage `json:"block_timestamp,omitempty"`
	Removed           bool            `json:"removed"`
}

// UnmarshalJSON accepts both blockTimestamp and block_timestamp spellings.
func (l *RawLog) UnmarshalJSON(input []byte) error {
	var dec rawLogJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}

	*l = RawLog{
		Address:        dec.Address,
		Topics:         dec.Topics,
		Data:           dec.Data,
		BlockNumber:    dec.BlockNumber,
		BlockHash:      dec.BlockHash,
		TxHash:         dec.TxHash,
		LogIndex:       dec.LogIndex,
		BlockTimestamp: dec.BlockTimestamp,
		Removed:        dec.Removed,
	}
	if isNullRaw(l.BlockTimestamp) {
		l.BlockTimestamp = dec.BlockTimestampAlt
	}
	if isNullRaw(l.BlockTimestamp) {
		l.BlockTimestamp = nil
	}
	return nil
}

// MarshalJSON renders the log with the blockTimestamp spelling.
func (l RawLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawLogJSON{
		Address:        l.Address,
		Topics:         l.Topics,
		Data:           l.Data,
		BlockNumber:    nullIfEmpty(l.BlockNumber),
		BlockHash:      l.BlockHash,
		TxHash:         l.TxHash,
		LogIndex:       nullIfEmpty(l.LogIndex),
		BlockTimestamp: nullIfEmpty(l.BlockTimestamp),
		Removed:        l.Removed,
	})
}

func isNullRaw(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
