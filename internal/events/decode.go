package events

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

// EventTypeUnknown tags payloads whose signature is not in the stream's table.
const EventTypeUnknown = "Unknown"

var emptyArgs = json.RawMessage(`{}`)

// Decoded is the semantic form of one event.
type Decoded struct {
	EventType string
	Args      json.RawMessage
}

// DecodeError is returned when a known event's payload does not match its schema.
type DecodeError struct {
	Stream    types.Stream
	EventType string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s event %s: %v", e.Stream, e.EventType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TableFor returns the event table of a stream.
func TableFor(stream types.Stream) *Table {
	if stream == types.StreamController {
		return ControllerEvents
	}
	return HubEvents
}

// Decode interprets an opaque payload. Unknown signatures are not an error: they
// yield EventTypeUnknown with empty args so the raw form is still persisted.
func Decode(stream types.Stream, signature common.Hash, data []byte) (Decoded, error) {
	schema, ok := TableFor(stream).Lookup(signature)
	if !ok {
		return Decoded{EventType: EventTypeUnknown, Args: emptyArgs}, nil
	}

	values, err := Unpack(schema, data)
	if err != nil {
		return Decoded{}, &DecodeError{Stream: stream, EventType: schema.Name, Err: err}
	}

	args := make(map[string]any, len(values))
	for i, arg := range schema.args {
		v, err := render(stream, arg.Type, values[i])
		if err != nil {
			return Decoded{}, &DecodeError{Stream: stream, EventType: schema.Name, Err: err}
		}
		args[arg.Name] = v
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return Decoded{}, &DecodeError{Stream: stream, EventType: schema.Name, Err: err}
	}

	return Decoded{EventType: schema.Name, Args: raw}, nil
}

// Unpack ABI-decodes data against the schema's full argument list.
func Unpack(schema *Schema, data []byte) ([]any, error) {
	if len(schema.args) == 0 {
		return nil, nil
	}

	values, err := schema.args.UnpackValues(data)
	if err != nil {
		return nil, err
	}
	if len(values) != len(schema.args) {
		return nil, fmt.Errorf("decoded %d values, want %d", len(values), len(schema.args))
	}
	return values, nil
}

// render converts an unpacked ABI value to its JSON form: integers up to 64 bits
// as numbers, wider ones as decimal strings, bytes as 0x hex, and addresses in
// the stream's canonical form.
func render(stream types.Stream, t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		if bi, ok := v.(*big.Int); ok {
			return bi.String(), nil
		}
		return v, nil

	case abi.BoolTy, abi.StringTy:
		return v, nil

	case abi.AddressTy:
		addr, ok := v.(common.Address)
		if !ok {
			return nil, fmt.Errorf("unexpected address value %T", v)
		}
		return RenderAddress(stream, addr), nil

	case abi.BytesTy:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("unexpected bytes value %T", v)
		}
		return codec.BytesHex(b), nil

	case abi.FixedBytesTy:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("unexpected fixed bytes value %T", v)
		}
		b := make([]byte, rv.Len())
		for i := range b {
			b[i] = byte(rv.Index(i).Uint())
		}
		return codec.BytesHex(b), nil

	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(v)
		out := make([]any, rv.Len())
		for i := range out {
			elem, err := render(stream, *t.Elem, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported abi type %s", t.String())
	}
}

// RenderAddress renders an address as lowercase hex on the hub and base58check on the controller.
func RenderAddress(stream types.Stream, addr common.Address) string {
	if stream.UsesTronAddresses() {
		return codec.TronAddressFromEVM(addr).String()
	}
	return codec.AddressHex(addr)
}
