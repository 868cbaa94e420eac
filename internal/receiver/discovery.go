package receiver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/events"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
)

var bytesResult = abi.Arguments{{Type: mustType("bytes")}}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Caller executes read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// SaltSource lists receiver salts already referenced in storage.
type SaltSource interface {
	DistinctReceiverSalts(ctx context.Context) ([]common.Hash, error)
}

// Discovery derives the receiver set from the controller's receiver creation
// code and every known salt.
type Discovery struct {
	caller     Caller
	salts      SaltSource
	controller common.Address
	prefix     byte
	preknown   []common.Hash
	log        *logger.Logger

	initCodeHash common.Hash
}

// NewDiscovery creates a discovery for the receivers deployed by controller.
func NewDiscovery(
	caller Caller,
	salts SaltSource,
	controller common.Address,
	prefix byte,
	preknown []common.Hash,
	log *logger.Logger,
) *Discovery {
	return &Discovery{
		caller:     caller,
		salts:      salts,
		controller: controller,
		prefix:     prefix,
		preknown:   preknown,
		log:        log,
	}
}

// InitCodeHash returns the last observed receiver init code hash.
func (d *Discovery) InitCodeHash() common.Hash {
	return d.initCodeHash
}

func (d *Discovery) refreshInitCodeHash(ctx context.Context) error {
	out, err := d.caller.Call(ctx, d.controller, events.ReceiverBytes.Topic0().Bytes()[:4])
	if err != nil {
		return fmt.Errorf("failed to call receiverBytes: %w", err)
	}

	values, err := bytesResult.UnpackValues(out)
	if err != nil {
		return fmt.Errorf("failed to decode receiverBytes result: %w", err)
	}
	code, ok := values[0].([]byte)
	if !ok || len(code) == 0 {
		return fmt.Errorf("receiverBytes returned no creation code")
	}

	hash := crypto.Keccak256Hash(code)
	if hash != d.initCodeHash {
		if d.initCodeHash != (common.Hash{}) {
			d.log.Warnw("receiver init code hash changed", "previous", d.initCodeHash.Hex(), "current", hash.Hex())
		} else {
			d.log.Infow("receiver init code hash loaded", "hash", hash.Hex(), "code_size", len(code))
		}
		d.initCodeHash = hash
	}
	return nil
}

// Refresh recomputes the receiver set.
func (d *Discovery) Refresh(ctx context.Context) (Set, error) {
	if err := d.refreshInitCodeHash(ctx); err != nil {
		return nil, err
	}

	stored, err := d.salts.DistinctReceiverSalts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver salts: %w", err)
	}

	set := make(Set, len(stored)+len(d.preknown))
	for _, salts := range [][]common.Hash{d.preknown, stored} {
		for _, salt := range salts {
			set[DeriveAddress(d.prefix, d.controller, salt, d.initCodeHash)] = salt
		}
	}

	ReceiversSet(len(set))
	d.log.Debugw("receiver set refreshed", "receivers", len(set), "stored_salts", len(stored), "preknown_salts", len(d.preknown))
	return set, nil
}
