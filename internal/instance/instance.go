// Package instance binds a database to one deployment of each stream and
// refuses to start against a database initialised for another.
package instance

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/migrations"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/store"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

const (
	HubIndexName        = "untron-v3-hub"
	ControllerIndexName = "untron-v3-controller"

	// Declaration is hashed with the index name into the genesis tip of every stream.
	Declaration = "Untron V3 event chain: every state change of this contract is appended to a hash chain rooted here."
)

var (
	ErrSchemaMissing = errors.New("database schema is missing, run the migrate binary first")
	ErrSchemaTooOld  = errors.New("database schema is older than this binary requires, run the migrate binary")
)

// MismatchError reports a stored instance field that differs from configuration.
type MismatchError struct {
	Stream     types.Stream
	Field      string
	Stored     string
	Configured string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("stream %s was initialised with %s %s but is configured with %s",
		e.Stream, e.Field, e.Stored, e.Configured)
}

// Store is the persistence surface the configurator needs.
type Store interface {
	GetStreamInstance(ctx context.Context, stream types.Stream) (*store.StreamInstance, error)
	InitStreamInstance(ctx context.Context, inst store.StreamInstance, deploymentBlock uint64) error
	SchemaVersion(ctx context.Context) (int, error)
}

// Expected is the stream identity derived from configuration.
type Expected struct {
	Stream          types.Stream
	IndexName       string
	ChainID         uint64
	Contract        common.Address
	DeploymentBlock uint64
}

// ResolvedStream is a stream identity verified against the database.
type ResolvedStream struct {
	Stream                   types.Stream
	ChainID                  uint64
	ContractAddressCanonical string
	GenesisTip               common.Hash
}

// DefaultIndexName returns the fixed index name of a stream.
func DefaultIndexName(stream types.Stream) string {
	if stream == types.StreamController {
		return ControllerIndexName
	}
	return HubIndexName
}

// GenesisTip computes SHA-256(indexName || "\n" || Declaration).
func GenesisTip(indexName string) common.Hash {
	return sha256.Sum256([]byte(indexName + "\n" + Declaration))
}

// CanonicalContract renders a contract address the way stream_instance stores it.
func CanonicalContract(stream types.Stream, addr common.Address) string {
	if stream == types.StreamController {
		return codec.TronAddressFromEVM(addr).String()
	}
	return codec.AddressHex(addr)
}

// Configurator verifies or initialises stream instances.
type Configurator struct {
	store     Store
	log       *logger.Logger
	minSchema int
}

// New creates a configurator requiring migrations.MinSchemaVersion.
func New(st Store, log *logger.Logger) *Configurator {
	return &Configurator{store: st, log: log, minSchema: migrations.MinSchemaVersion}
}

// CheckSchema fails unless the applied schema is at least the required version.
func (c *Configurator) CheckSchema(ctx context.Context) error {
	version, err := c.store.SchemaVersion(ctx)
	if err != nil {
		if db.IsUndefinedTable(err) {
			return ErrSchemaMissing
		}
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < c.minSchema {
		return fmt.Errorf("%w: have %d, need %d", ErrSchemaTooOld, version, c.minSchema)
	}
	return nil
}

// Ensure initialises the stream instance on first start and verifies it afterwards.
func (c *Configurator) Ensure(ctx context.Context, exp Expected) (ResolvedStream, error) {
	if exp.IndexName == "" {
		exp.IndexName = DefaultIndexName(exp.Stream)
	}

	resolved := ResolvedStream{
		Stream:                   exp.Stream,
		ChainID:                  exp.ChainID,
		ContractAddressCanonical: CanonicalContract(exp.Stream, exp.Contract),
		GenesisTip:               GenesisTip(exp.IndexName),
	}

	stored, err := c.store.GetStreamInstance(ctx, exp.Stream)
	if err != nil {
		if db.IsUndefinedTable(err) {
			return ResolvedStream{}, ErrSchemaMissing
		}
		return ResolvedStream{}, err
	}

	if stored == nil {
		err := c.store.InitStreamInstance(ctx, store.StreamInstance{
			Stream:          exp.Stream,
			ChainID:         exp.ChainID,
			ContractAddress: resolved.ContractAddressCanonical,
			GenesisTip:      resolved.GenesisTip,
		}, exp.DeploymentBlock)
		if err != nil {
			return ResolvedStream{}, err
		}
		return resolved, nil
	}

	if stored.ChainID != resolved.ChainID {
		return ResolvedStream{}, &MismatchError{
			Stream: exp.Stream, Field: "chain id",
			Stored: fmt.Sprint(stored.ChainID), Configured: fmt.Sprint(resolved.ChainID),
		}
	}
	if storedContract := canonicalStored(exp.Stream, stored.ContractAddress); storedContract != resolved.ContractAddressCanonical {
		return ResolvedStream{}, &MismatchError{
			Stream: exp.Stream, Field: "contract",
			Stored: stored.ContractAddress, Configured: resolved.ContractAddressCanonical,
		}
	}
	if stored.GenesisTip != resolved.GenesisTip {
		return ResolvedStream{}, &MismatchError{
			Stream: exp.Stream, Field: "genesis tip",
			Stored: codec.Hash32Hex(stored.GenesisTip), Configured: codec.Hash32Hex(resolved.GenesisTip),
		}
	}

	c.log.Infow("stream instance verified",
		"stream", exp.Stream, "chain_id", resolved.ChainID, "contract", resolved.ContractAddressCanonical,
		"initialised_at", stored.CreatedAt)
	return resolved, nil
}

// canonicalStored re-renders a stored address so rows written in either
// hex or base58check compare equal.
func canonicalStored(stream types.Stream, s string) string {
	addr, err := codec.ParseTronAddress(s)
	if err != nil {
		return s
	}
	return CanonicalContract(stream, addr.EVM())
}
