package store

import (
	"database/sql"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

// MaxRowsPerStatement bounds the VALUES list of a single upsert statement.
const MaxRowsPerStatement = 500

// Store is the PostgreSQL persistence layer for every indexed stream.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New wraps an open database handle.
func New(database *sql.DB, log *logger.Logger) *Store {
	return &Store{db: database, log: log}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BlockHash is a stored (block number, block hash) pair.
type BlockHash struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
}

// EventAppendedRow is one EventAppended log with its decoded payload.
type EventAppendedRow struct {
	Stream              types.Stream
	ChainID             uint64
	TxHash              common.Hash
	LogIndex            uint32
	BlockNumber         uint64
	BlockTimestamp      uint64
	BlockHash           common.Hash
	EventSeq            uint64
	PrevTip             common.Hash
	NewTip              common.Hash
	EventSignature      common.Hash
	AbiEncodedEventData []byte
	EventType           string
	Args                json.RawMessage
}

// ControllerTipProofRow is one IsEventChainTipCalled log.
type ControllerTipProofRow struct {
	ChainID        uint64
	TxHash         common.Hash
	LogIndex       uint32
	BlockNumber    uint64
	BlockTimestamp uint64
	BlockHash      common.Hash
	Caller         common.Address
	ProvedTip      common.Hash
}

// ReceiverUsdtTransferRow is one token transfer credited to a receiver.
type ReceiverUsdtTransferRow struct {
	ChainID        uint64
	Token          common.Address
	ReceiverSalt   common.Hash
	Sender         common.Address
	Recipient      common.Address
	Amount         *big.Int
	BlockNumber    uint64
	BlockTimestamp uint64
	BlockHash      common.Hash
	TxHash         common.Hash
	LogIndex       uint32
}

// ReceiverCursorRow is the scan position of one token on one chain.
type ReceiverCursorRow struct {
	ChainID             uint64         `meddler:"chain_id"`
	Token               common.Address `meddler:"token,address"`
	AppliedThroughBlock int64          `meddler:"applied_through_block"`
}

// Batch is the output of one processed range of a stream.
type Batch struct {
	Stream types.Stream
	// ToBlock is the last block covered by the range; the stream cursor advances to it.
	ToBlock uint64
	Events  []EventAppendedRow
	Proofs  []ControllerTipProofRow
}

// Invalidation counts rows flipped to non-canonical.
type Invalidation struct {
	Events int64
	Proofs int64
}

// StreamInstance binds a stream to a chain, a contract and a genesis tip.
type StreamInstance struct {
	Stream          types.Stream `meddler:"stream"`
	ChainID         uint64       `meddler:"chain_id"`
	ContractAddress string       `meddler:"contract_address"`
	GenesisTip      common.Hash  `meddler:"genesis_tip,hash"`
	CreatedAt       time.Time    `meddler:"created_at"`
}
