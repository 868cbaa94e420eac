// Package chainlog turns raw node log records into validated, ordered logs.
package chainlog

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	pkgrpc "github.com/ultrasoundlabs/untron-v3-indexer/pkg/rpc"
)

// Log is a structurally valid log with every position field present.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint32
	// BlockTimestamp is the raw node-supplied block time, when the node attaches one.
	BlockTimestamp *uint64
}

// Topic returns topic i, or the zero hash when the log has fewer topics.
func (l Log) Topic(i int) common.Hash {
	if i < len(l.Topics) {
		return l.Topics[i]
	}
	return common.Hash{}
}

// MissingFieldError is returned for a log the node returned without a required field.
type MissingFieldError struct {
	Index int
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("log %d is missing %s", e.Index, e.Field)
}

// Validate checks every raw log carries its block number, block hash, transaction
// hash and log index, then returns them sorted by (block number, log index).
func Validate(raw []pkgrpc.RawLog) ([]Log, error) {
	out := make([]Log, 0, len(raw))

	for i, r := range raw {
		blockNumber, err := internalcommon.ParseQuantity(r.BlockNumber)
		if err != nil {
			return nil, fieldError(i, "blockNumber", err)
		}
		if r.BlockHash == nil {
			return nil, &MissingFieldError{Index: i, Field: "blockHash"}
		}
		if r.TxHash == nil {
			return nil, &MissingFieldError{Index: i, Field: "transactionHash"}
		}
		logIndex, err := internalcommon.ParseQuantity(r.LogIndex)
		if err != nil {
			return nil, fieldError(i, "logIndex", err)
		}
		if logIndex > math.MaxUint32 {
			return nil, fmt.Errorf("log %d has logIndex %d beyond 32 bits", i, logIndex)
		}

		l := Log{
			Address:     r.Address,
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: blockNumber,
			BlockHash:   *r.BlockHash,
			TxHash:      *r.TxHash,
			LogIndex:    uint32(logIndex),
		}
		if ts, err := internalcommon.ParseQuantity(r.BlockTimestamp); err == nil {
			l.BlockTimestamp = &ts
		}

		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})

	return out, nil
}

// BlockNumbers returns the distinct block numbers touched by logs, ascending.
func BlockNumbers(logs ...[]Log) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, set := range logs {
		for _, l := range set {
			if _, ok := seen[l.BlockNumber]; ok {
				continue
			}
			seen[l.BlockNumber] = struct{}{}
			out = append(out, l.BlockNumber)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func fieldError(index int, field string, err error) error {
	if errors.Is(err, internalcommon.ErrNullQuantity) {
		return &MissingFieldError{Index: index, Field: field}
	}
	return fmt.Errorf("log %d has invalid %s: %w", index, field, err)
}
