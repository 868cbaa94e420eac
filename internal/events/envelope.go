package events

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/chainlog"
)

var ErrUnexpectedTopic = errors.New("unexpected log topic0")

// Appended is the decoded envelope of an EventAppended log.
type Appended struct {
	EventSeq       uint64
	PrevTip        common.Hash
	NewTip         common.Hash
	EventSignature common.Hash
	Data           []byte
}

// TipCall is a decoded IsEventChainTipCalled log.
type TipCall struct {
	Caller common.Address
	Tip    common.Hash
}

// TransferLog is a decoded ERC-20 Transfer log.
type TransferLog struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

var (
	appendedData = EventAppended.args[3:]
	transferData = Transfer.args[2:]
)

// ParseEventAppended decodes an EventAppended log with eventSeq, prevTip and newTip indexed.
func ParseEventAppended(l chainlog.Log) (Appended, error) {
	if l.Topic(0) != EventAppended.topic0 {
		return Appended{}, fmt.Errorf("%w: %s", ErrUnexpectedTopic, l.Topic(0).Hex())
	}
	if len(l.Topics) != 4 {
		return Appended{}, &DecodeError{EventType: EventAppended.Name, Err: fmt.Errorf("got %d topics, want 4", len(l.Topics))}
	}

	seq := l.Topics[1].Big()
	if !seq.IsUint64() {
		return Appended{}, &DecodeError{EventType: EventAppended.Name, Err: fmt.Errorf("eventSeq %s overflows uint64", seq)}
	}

	values, err := appendedData.UnpackValues(l.Data)
	if err != nil {
		return Appended{}, &DecodeError{EventType: EventAppended.Name, Err: err}
	}
	sig, ok := values[0].([32]byte)
	if !ok {
		return Appended{}, &DecodeError{EventType: EventAppended.Name, Err: fmt.Errorf("unexpected eventSignature %T", values[0])}
	}
	data, ok := values[1].([]byte)
	if !ok {
		return Appended{}, &DecodeError{EventType: EventAppended.Name, Err: fmt.Errorf("unexpected payload %T", values[1])}
	}

	return Appended{
		EventSeq:       seq.Uint64(),
		PrevTip:        l.Topics[2],
		NewTip:         l.Topics[3],
		EventSignature: common.Hash(sig),
		Data:           data,
	}, nil
}

// ParseTipCall decodes an IsEventChainTipCalled log with both arguments indexed.
func ParseTipCall(l chainlog.Log) (TipCall, error) {
	if l.Topic(0) != IsEventChainTipCalled.topic0 {
		return TipCall{}, fmt.Errorf("%w: %s", ErrUnexpectedTopic, l.Topic(0).Hex())
	}
	if len(l.Topics) != 3 {
		return TipCall{}, &DecodeError{EventType: IsEventChainTipCalled.Name, Err: fmt.Errorf("got %d topics, want 3", len(l.Topics))}
	}

	return TipCall{
		Caller: common.BytesToAddress(l.Topics[1].Bytes()),
		Tip:    l.Topics[2],
	}, nil
}

// ParseTransfer decodes an ERC-20 Transfer log with from and to indexed.
func ParseTransfer(l chainlog.Log) (TransferLog, error) {
	if l.Topic(0) != Transfer.topic0 {
		return TransferLog{}, fmt.Errorf("%w: %s", ErrUnexpectedTopic, l.Topic(0).Hex())
	}
	if len(l.Topics) != 3 {
		return TransferLog{}, &DecodeError{EventType: Transfer.Name, Err: fmt.Errorf("got %d topics, want 3", len(l.Topics))}
	}

	values, err := transferData.UnpackValues(l.Data)
	if err != nil {
		return TransferLog{}, &DecodeError{EventType: Transfer.Name, Err: err}
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return TransferLog{}, &DecodeError{EventType: Transfer.Name, Err: fmt.Errorf("unexpected value %T", values[0])}
	}

	return TransferLog{
		From:  common.BytesToAddress(l.Topics[1].Bytes()),
		To:    common.BytesToAddress(l.Topics[2].Bytes()),
		Value: value,
	}, nil
}

// AddressTopic left-pads an address to a 32-byte topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
