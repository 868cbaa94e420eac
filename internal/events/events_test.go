package events

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/chainlog"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

func TestTables(t *testing.T) {
	require.Equal(t, 30, HubEvents.Len())
	require.Equal(t, 11, ControllerEvents.Len())

	require.Equal(t,
		common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
		Transfer.Topic0())
	require.Equal(t, "EventAppended(uint256,bytes32,bytes32,bytes32,bytes)", EventAppended.Signature())

	hubUsdt, ok := HubEvents.ByName("UsdtSet")
	require.True(t, ok)
	ctrlUsdt, ok := ControllerEvents.ByName("UsdtSet")
	require.True(t, ok)
	require.Equal(t, hubUsdt.Topic0(), ctrlUsdt.Topic0(), "same signature on both streams")
}

func TestDecode_HubLeaseCreated(t *testing.T) {
	schema, ok := HubEvents.ByName("LeaseCreated")
	require.True(t, ok)

	salt := [32]byte{0xaa}
	realtor := common.HexToAddress("0x00000000000000000000000000000000000000AB")
	lessee := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	data, err := schema.Arguments().Pack(
		big.NewInt(7), salt, huge, realtor, lessee,
		uint64(1_700_000_000), uint64(1_700_086_400), uint32(2500), uint64(1_000_000),
	)
	require.NoError(t, err)

	decoded, err := Decode(types.StreamHub, schema.Topic0(), data)
	require.NoError(t, err)
	require.Equal(t, "LeaseCreated", decoded.EventType)

	var args map[string]any
	require.NoError(t, json.Unmarshal(decoded.Args, &args))
	require.Equal(t, "7", args["leaseId"])
	require.Equal(t, "123456789012345678901234567890", args["leaseNumber"])
	require.Equal(t, codec.Hash32Hex(common.Hash(salt)), args["receiverSalt"])
	require.Equal(t, "0x00000000000000000000000000000000000000ab", args["realtor"])
	require.InDelta(t, 1_700_000_000, args["startTime"], 0)
	require.InDelta(t, 2500, args["leaseFeePpm"], 0)
}

func TestDecode_ControllerRendersTronAddresses(t *testing.T) {
	schema, ok := ControllerEvents.ByName("ReceiverDeployed")
	require.True(t, ok)

	receiver, err := codec.ParseTronAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.NoError(t, err)

	data, err := schema.Arguments().Pack(receiver.EVM(), [32]byte{0x01})
	require.NoError(t, err)

	decoded, err := Decode(types.StreamController, schema.Topic0(), data)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"receiver":"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t","salt":"0x0100000000000000000000000000000000000000000000000000000000000000"}`,
		string(decoded.Args))
}

func TestDecode_SignedAndBool(t *testing.T) {
	schema, _ := HubEvents.ByName("ProtocolPnlUpdated")
	data, err := schema.Arguments().Pack(big.NewInt(-5), big.NewInt(10), uint8(2))
	require.NoError(t, err)

	decoded, err := Decode(types.StreamHub, schema.Topic0(), data)
	require.NoError(t, err)
	require.JSONEq(t, `{"pnl":"-5","delta":"10","reason":2}`, string(decoded.Args))

	schema, _ = HubEvents.ByName("RealtorSet")
	data, err = schema.Arguments().Pack(common.Address{}, true)
	require.NoError(t, err)

	decoded, err = Decode(types.StreamHub, schema.Topic0(), data)
	require.NoError(t, err)
	require.JSONEq(t, `{"realtor":"0x0000000000000000000000000000000000000000","allowed":true}`, string(decoded.Args))
}

func TestDecode_Unknown(t *testing.T) {
	decoded, err := Decode(types.StreamHub, common.HexToHash("0x1234"), []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, EventTypeUnknown, decoded.EventType)
	require.JSONEq(t, `{}`, string(decoded.Args))

	// a controller-only event is unknown on the hub
	schema, _ := ControllerEvents.ByName("ReceiverDeployed")
	decoded, err = Decode(types.StreamHub, schema.Topic0(), nil)
	require.NoError(t, err)
	require.Equal(t, EventTypeUnknown, decoded.EventType)
}

func TestDecode_Truncated(t *testing.T) {
	schema, _ := HubEvents.ByName("LpDeposited")

	_, err := Decode(types.StreamHub, schema.Topic0(), make([]byte, 31))
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, "LpDeposited", decErr.EventType)
}

func TestParseEventAppended(t *testing.T) {
	inner, _ := HubEvents.ByName("Paused")
	payload, err := inner.Arguments().Pack(common.HexToAddress("0x01"))
	require.NoError(t, err)

	data, err := appendedData.Pack([32]byte(inner.Topic0()), payload)
	require.NoError(t, err)

	prev := common.Hash{}
	next := common.HexToHash("0xaa")
	l := chainlog.Log{
		Topics: []common.Hash{EventAppended.Topic0(), common.BigToHash(big.NewInt(1)), prev, next},
		Data:   data,
	}

	ev, err := ParseEventAppended(l)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ev.EventSeq)
	require.Equal(t, prev, ev.PrevTip)
	require.Equal(t, next, ev.NewTip)
	require.Equal(t, inner.Topic0(), ev.EventSignature)
	require.Equal(t, payload, ev.Data)

	l.Topics = l.Topics[:3]
	_, err = ParseEventAppended(l)
	require.Error(t, err)

	l.Topics = []common.Hash{Transfer.Topic0()}
	_, err = ParseEventAppended(l)
	require.ErrorIs(t, err, ErrUnexpectedTopic)
}

func TestParseTipCall(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tip := common.HexToHash("0xbeef")

	call, err := ParseTipCall(chainlog.Log{
		Topics: []common.Hash{IsEventChainTipCalled.Topic0(), AddressTopic(caller), tip},
	})
	require.NoError(t, err)
	require.Equal(t, caller, call.Caller)
	require.Equal(t, tip, call.Tip)
}

func TestParseTransfer(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000f01")
	to := common.HexToAddress("0x0000000000000000000000000000000000000f02")
	data, err := transferData.Pack(big.NewInt(1_000_000))
	require.NoError(t, err)

	tr, err := ParseTransfer(chainlog.Log{
		Topics: []common.Hash{Transfer.Topic0(), AddressTopic(from), AddressTopic(to)},
		Data:   data,
	})
	require.NoError(t, err)
	require.Equal(t, from, tr.From)
	require.Equal(t, to, tr.To)
	require.Equal(t, "1000000", tr.Value.String())

	_, err = ParseTransfer(chainlog.Log{
		Topics: []common.Hash{Transfer.Topic0(), AddressTopic(from), AddressTopic(to)},
		Data:   data[:10],
	})
	require.Error(t, err)
}
