package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
)

var transferUpsert = upsert{
	table: "chain.receiver_usdt_transfers",
	columns: []string{
		"chain_id", "token", "receiver_salt", "sender", "recipient", "amount",
		"block_number", "block_timestamp", "block_hash", "tx_hash", "log_index",
	},
	key:   []string{"chain_id", "tx_hash", "log_index"},
	casts: map[string]string{"amount": "numeric"},
}

func transferValues(r ReceiverUsdtTransferRow) []any {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	return []any{
		int64(r.ChainID),
		codec.AddressHex(r.Token),
		codec.Hash32Hex(r.ReceiverSalt),
		codec.AddressHex(r.Sender),
		codec.AddressHex(r.Recipient),
		amount,
		int64(r.BlockNumber),
		int64(r.BlockTimestamp),
		codec.Hash32Hex(r.BlockHash),
		codec.Hash32Hex(r.TxHash),
		int64(r.LogIndex),
	}
}

// InsertTransfers upserts receiver transfer rows in one transaction.
func (s *Store) InsertTransfers(ctx context.Context, transfers []ReceiverUsdtTransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	rows := make([][]any, len(transfers))
	for i, r := range transfers {
		rows[i] = transferValues(r)
	}

	var n int64
	err := db.WithTx(ctx, s.db, s.log, "insert_transfers", func(tx *sql.Tx) error {
		var err error
		n, err = transferUpsert.exec(ctx, tx, rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d transfers: %w", len(transfers), err)
	}

	RowsWrittenAdd(tableTransfers, n)
	return nil
}

// ReceiverCursor loads the receiver cursor row of (chainID, token), or nil when
// none was written yet.
func (s *Store) ReceiverCursor(ctx context.Context, chainID uint64, token common.Address) (*ReceiverCursorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, token, applied_through_block FROM chain.receiver_usdt_cursor
		WHERE chain_id = $1 AND token = $2`,
		int64(chainID), codec.AddressHex(token))
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver cursor: %w", err)
	}

	var cur ReceiverCursorRow
	if err := meddler.ScanRow(rows, &cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan receiver cursor: %w", err)
	}
	return &cur, nil
}

// ReceiverResumeFromBlock returns one past the receiver cursor of (chainID, token),
// floored at floor.
func (s *Store) ReceiverResumeFromBlock(ctx context.Context, chainID uint64, token common.Address, floor uint64) (uint64, error) {
	cur, err := s.ReceiverCursor(ctx, chainID, token)
	if err != nil {
		return 0, err
	}
	if cur == nil || cur.AppliedThroughBlock < 0 || uint64(cur.AppliedThroughBlock)+1 < floor {
		return floor, nil
	}
	return uint64(cur.AppliedThroughBlock) + 1, nil
}

// SetReceiverCursor moves the receiver cursor of (chainID, token) forward to block.
func (s *Store) SetReceiverCursor(ctx context.Context, chainID uint64, token common.Address, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain.receiver_usdt_cursor (chain_id, token, applied_through_block)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id, token) DO UPDATE
		SET applied_through_block = EXCLUDED.applied_through_block, updated_at = now()
		WHERE chain.receiver_usdt_cursor.applied_through_block < EXCLUDED.applied_through_block`,
		int64(chainID), codec.AddressHex(token), int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance receiver cursor: %w", err)
	}
	return nil
}

// DistinctReceiverSalts returns every receiver salt referenced by canonical
// events or by stored transfers.
func (s *Store) DistinctReceiverSalts(ctx context.Context) ([]common.Hash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT salt FROM (
			SELECT args->>'receiverSalt' AS salt FROM chain.event_appended
			WHERE stream = 'hub' AND canonical AND event_type = 'LeaseCreated'
			UNION
			SELECT args->>'salt' FROM chain.event_appended
			WHERE stream = 'controller' AND canonical AND event_type = 'ReceiverDeployed'
			UNION
			SELECT args->>'receiverSalt' FROM chain.event_appended
			WHERE stream = 'controller' AND canonical AND event_type = 'PulledFromReceiver'
			UNION
			SELECT receiver_salt FROM chain.receiver_usdt_transfers
		) s
		WHERE salt IS NOT NULL
		ORDER BY salt`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receiver salts: %w", err)
	}

	return scanSalts(rows)
}

// SaltsWithTransfers returns the salts that already have transfers of token stored.
func (s *Store) SaltsWithTransfers(ctx context.Context, chainID uint64, token common.Address) (map[common.Hash]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT receiver_salt FROM chain.receiver_usdt_transfers
		WHERE chain_id = $1 AND token = $2`,
		int64(chainID), codec.AddressHex(token))
	if err != nil {
		return nil, fmt.Errorf("failed to query salts with transfers: %w", err)
	}

	salts, err := scanSalts(rows)
	if err != nil {
		return nil, err
	}

	set := make(map[common.Hash]struct{}, len(salts))
	for _, salt := range salts {
		set[salt] = struct{}{}
	}
	return set, nil
}

func scanSalts(rows *sql.Rows) ([]common.Hash, error) {
	defer rows.Close()

	var salts []common.Hash
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan salt: %w", err)
		}
		salt, err := codec.ParseHash32(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored salt %q: %w", raw, err)
		}
		salts = append(salts, salt)
	}
	return salts, rows.Err()
}
