package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/russross/meddler"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

// GetStreamInstance returns the instance row of a stream, or nil when absent.
// A missing schema surfaces as an error matching db.IsUndefinedTable.
func (s *Store) GetStreamInstance(ctx context.Context, stream types.Stream) (*StreamInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, chain_id, contract_address, genesis_tip, created_at
		FROM chain.stream_instance WHERE stream = $1`, string(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to query stream instance %s: %w", stream, err)
	}

	var inst StreamInstance
	if err := meddler.ScanRow(rows, &inst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan stream instance %s: %w", stream, err)
	}
	return &inst, nil
}

// InitStreamInstance writes the instance row and seeds the stream cursor just
// below deploymentBlock, in one transaction.
func (s *Store) InitStreamInstance(ctx context.Context, inst StreamInstance, deploymentBlock uint64) error {
	err := db.WithTx(ctx, s.db, s.log, "init_instance", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chain.stream_instance (stream, chain_id, contract_address, genesis_tip)
			VALUES ($1, $2, $3, $4)`,
			string(inst.Stream), int64(inst.ChainID), inst.ContractAddress, codec.Hash32Hex(inst.GenesisTip),
		); err != nil {
			return fmt.Errorf("failed to insert stream instance: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chain.stream_cursor (stream, applied_through_block)
			VALUES ($1, $2)`,
			string(inst.Stream), int64(deploymentBlock)-1,
		); err != nil {
			return fmt.Errorf("failed to seed stream cursor: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to initialise stream instance %s: %w", inst.Stream, err)
	}

	s.log.Infow("stream instance initialised",
		"stream", inst.Stream, "chain_id", inst.ChainID, "contract", inst.ContractAddress)
	return nil
}

// SchemaVersion reports the highest applied migration number.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return db.SchemaVersion(ctx, s.db)
}
