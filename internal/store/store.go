// Package store persists deposits and connector-tree state to
// SQLite, grounded on the teacher's WAL-mode single-writer pattern in
// internal/storage/storage.go.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
)

const op = "store"

// Store is the bridge's persistence layer.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New opens (creating if necessary) the sqlite database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "bridged.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deposits (
		start_txid       TEXT PRIMARY KEY,
		start_vout       INTEGER NOT NULL,
		deposit_txid     TEXT,
		deposit_vout     INTEGER,
		return_key       TEXT NOT NULL,
		hash             TEXT NOT NULL,
		evm_addr         TEXT NOT NULL,
		move_txid        TEXT,
		created_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connector_nodes (
		root_txid TEXT NOT NULL,
		level     INTEGER NOT NULL,
		idx_      INTEGER NOT NULL,
		utxo_txid TEXT,
		utxo_vout INTEGER,
		hash      TEXT NOT NULL,
		revealed  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (root_txid, level, idx_)
	);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		evm_addr   TEXT NOT NULL,
		x_only_key TEXT NOT NULL,
		txid       TEXT NOT NULL,
		paid_at    INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "initialize schema: %w", err)
	}
	return nil
}

// PutDeposit upserts a deposit record.
func (s *Store) PutDeposit(d bridgetypes.DepositRecord, createdAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO deposits (start_txid, start_vout, deposit_txid, deposit_vout, return_key, hash, evm_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(start_txid) DO UPDATE SET
			deposit_txid=excluded.deposit_txid,
			deposit_vout=excluded.deposit_vout`,
		d.StartUTXO.Txid.String(), d.StartUTXO.Vout,
		d.DepositUTXO.Txid.String(), d.DepositUTXO.Vout,
		d.ReturnKey.String(), d.Hash.String(), d.EVMAddr.String(), createdAt,
	)
	if err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "put deposit: %w", err)
	}
	return nil
}

// MarkMoved records the move-tx txid for a deposit once broadcast.
func (s *Store) MarkMoved(startTxid string, moveTxid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE deposits SET move_txid = ? WHERE start_txid = ?`, moveTxid, startTxid)
	if err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "mark deposit moved: %w", err)
	}
	return nil
}

// PutConnectorNode records a connector-tree node's UTXO and the hash
// it was announced under.
func (s *Store) PutConnectorNode(rootTxid string, level, index uint32, utxo bridgetypes.OutPoint, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO connector_nodes (root_txid, level, idx_, utxo_txid, utxo_vout, hash, revealed)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(root_txid, level, idx_) DO UPDATE SET
			utxo_txid=excluded.utxo_txid, utxo_vout=excluded.utxo_vout`,
		rootTxid, level, index, utxo.Txid.String(), utxo.Vout, fmt.Sprintf("%x", hash),
	)
	if err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "put connector node: %w", err)
	}
	return nil
}

// MarkRevealed flags a connector node's preimage as revealed.
func (s *Store) MarkRevealed(rootTxid string, level, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE connector_nodes SET revealed = 1 WHERE root_txid = ? AND level = ? AND idx_ = ?`, rootTxid, level, index)
	if err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "mark connector node revealed: %w", err)
	}
	return nil
}

// PutWithdrawal records a completed withdrawal payout.
func (s *Store) PutWithdrawal(evmAddr, xOnlyKey, txid string, paidAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO withdrawals (evm_addr, x_only_key, txid, paid_at) VALUES (?, ?, ?, ?)`, evmAddr, xOnlyKey, txid, paidAt)
	if err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "put withdrawal: %w", err)
	}
	return nil
}

// CountWithdrawals reports how many withdrawals have been recorded.
func (s *Store) CountWithdrawals() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM withdrawals`).Scan(&count); err != nil {
		return 0, bridgerr.Wrap(bridgerr.RpcError, op, "count withdrawals: %w", err)
	}
	return count, nil
}
