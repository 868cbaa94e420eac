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

var eventAppendedUpsert = upsert{
	table: "chain.event_appended",
	columns: []string{
		"stream", "chain_id", "tx_hash", "log_index", "block_number", "block_timestamp",
		"block_hash", "canonical", "event_seq", "prev_tip", "new_tip", "event_signature",
		"abi_encoded_event_data", "event_type", "args",
	},
	key:      []string{"chain_id", "tx_hash", "log_index"},
	literals: map[string]string{"canonical": "TRUE"},
	casts:    map[string]string{"args": "jsonb"},
}

var tipProofUpsert = upsert{
	table: "chain.controller_tip_proofs",
	columns: []string{
		"chain_id", "tx_hash", "log_index", "block_number", "block_timestamp",
		"block_hash", "canonical", "caller", "proved_tip",
	},
	key:      []string{"chain_id", "tx_hash", "log_index"},
	literals: map[string]string{"canonical": "TRUE"},
}

func eventValues(r EventAppendedRow) []any {
	args := string(r.Args)
	if len(r.Args) == 0 {
		args = "{}"
	}
	return []any{
		string(r.Stream),
		int64(r.ChainID),
		codec.Hash32Hex(r.TxHash),
		int64(r.LogIndex),
		int64(r.BlockNumber),
		int64(r.BlockTimestamp),
		codec.Hash32Hex(r.BlockHash),
		int64(r.EventSeq),
		codec.Hash32Hex(r.PrevTip),
		codec.Hash32Hex(r.NewTip),
		codec.Hash32Hex(r.EventSignature),
		codec.BytesHex(r.AbiEncodedEventData),
		r.EventType,
		args,
	}
}

func proofValues(r ControllerTipProofRow) []any {
	return []any{
		int64(r.ChainID),
		codec.Hash32Hex(r.TxHash),
		int64(r.LogIndex),
		int64(r.BlockNumber),
		int64(r.BlockTimestamp),
		codec.Hash32Hex(r.BlockHash),
		codec.AddressHex(r.Caller),
		codec.Hash32Hex(r.ProvedTip),
	}
}

// ResumeFromBlock returns the first block a stream still has to index: one past
// the newest canonical event or the stream cursor, floored at deploymentBlock.
func (s *Store) ResumeFromBlock(ctx context.Context, stream types.Stream, deploymentBlock uint64) (uint64, error) {
	var next int64
	// The cursor term covers ranges that committed no rows; after an invalidation
	// it is rewound below fromBlock, so it never skips past re-fetched blocks.
	err := s.db.QueryRowContext(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(block_number) + 1 FROM chain.event_appended WHERE stream = $1 AND canonical), 0),
			COALESCE((SELECT applied_through_block + 1 FROM chain.stream_cursor WHERE stream = $1), 0)
		)`, string(stream)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to load resume block of %s: %w", stream, err)
	}

	if next < 0 || uint64(next) < deploymentBlock {
		return deploymentBlock, nil
	}
	return uint64(next), nil
}

// RecentCanonicalBlockHashes returns up to limit distinct canonical blocks of a
// stream, newest first.
func (s *Store) RecentCanonicalBlockHashes(ctx context.Context, stream types.Stream, limit int) ([]BlockHash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (block_number) block_number, block_hash
		FROM chain.event_appended
		WHERE stream = $1 AND canonical
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2`, string(stream), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent block hashes of %s: %w", stream, err)
	}

	var found []*BlockHash
	if err := meddler.ScanAll(rows, &found); err != nil {
		return nil, fmt.Errorf("failed to scan recent block hashes of %s: %w", stream, err)
	}

	out := make([]BlockHash, len(found))
	for i, b := range found {
		out[i] = *b
	}
	return out, nil
}

// LatestCanonicalBlockHash returns the newest canonical block of a stream, or nil.
func (s *Store) LatestCanonicalBlockHash(ctx context.Context, stream types.Stream) (*BlockHash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, block_hash
		FROM chain.event_appended
		WHERE stream = $1 AND canonical
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1`, string(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest block hash of %s: %w", stream, err)
	}

	var latest BlockHash
	if err := meddler.ScanRow(rows, &latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan latest block hash of %s: %w", stream, err)
	}
	return &latest, nil
}

// InvalidateFromBlock marks every canonical row of a stream at or above fromBlock
// as non-canonical and rewinds the stream cursor, in one transaction.
func (s *Store) InvalidateFromBlock(ctx context.Context, stream types.Stream, fromBlock uint64) (Invalidation, error) {
	var result Invalidation

	err := db.WithTx(ctx, s.db, s.log, "invalidate", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE chain.event_appended SET canonical = FALSE
			WHERE stream = $1 AND canonical AND block_number >= $2
			  AND chain_id = (SELECT chain_id FROM chain.stream_instance WHERE stream = $1)`,
			string(stream), int64(fromBlock))
		if err != nil {
			return fmt.Errorf("failed to invalidate events: %w", err)
		}
		if result.Events, err = res.RowsAffected(); err != nil {
			return err
		}

		if stream == types.StreamController {
			res, err = tx.ExecContext(ctx, `
				UPDATE chain.controller_tip_proofs SET canonical = FALSE
				WHERE canonical AND block_number >= $1
				  AND chain_id = (SELECT chain_id FROM chain.stream_instance WHERE stream = $2)`,
				int64(fromBlock), string(stream))
			if err != nil {
				return fmt.Errorf("failed to invalidate tip proofs: %w", err)
			}
			if result.Proofs, err = res.RowsAffected(); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE chain.stream_cursor
			SET applied_through_block = LEAST(applied_through_block, $2), updated_at = now()
			WHERE stream = $1`,
			string(stream), int64(fromBlock)-1)
		if err != nil {
			return fmt.Errorf("failed to rewind cursor: %w", err)
		}
		return nil
	})
	if err != nil {
		return Invalidation{}, fmt.Errorf("failed to invalidate %s from block %d: %w", stream, fromBlock, err)
	}

	RowsInvalidatedAdd(stream, result.Events, result.Proofs)
	s.log.Infow("invalidated rows",
		"stream", stream, "from_block", fromBlock, "events", result.Events, "proofs", result.Proofs)

	return result, nil
}

// InsertBatch upserts a range's event and proof rows and advances the stream
// cursor to batch.ToBlock, in one transaction.
func (s *Store) InsertBatch(ctx context.Context, batch Batch) error {
	err := db.WithTx(ctx, s.db, s.log, "insert_batch", func(tx *sql.Tx) error {
		if len(batch.Events) > 0 {
			rows := make([][]any, len(batch.Events))
			for i, r := range batch.Events {
				rows[i] = eventValues(r)
			}
			n, err := eventAppendedUpsert.exec(ctx, tx, rows)
			if err != nil {
				return err
			}
			RowsWrittenAdd(tableEvents, n)
		}

		if len(batch.Proofs) > 0 {
			rows := make([][]any, len(batch.Proofs))
			for i, r := range batch.Proofs {
				rows[i] = proofValues(r)
			}
			n, err := tipProofUpsert.exec(ctx, tx, rows)
			if err != nil {
				return err
			}
			RowsWrittenAdd(tableTipProofs, n)
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE chain.stream_cursor
			SET applied_through_block = $2, updated_at = now()
			WHERE stream = $1 AND applied_through_block < $2`,
			string(batch.Stream), int64(batch.ToBlock))
		if err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert %s batch through block %d: %w", batch.Stream, batch.ToBlock, err)
	}

	s.log.Debugw("batch committed",
		"stream", batch.Stream, "to_block", batch.ToBlock, "events", len(batch.Events), "proofs", len(batch.Proofs))
	return nil
}
