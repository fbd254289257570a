// Package rpcclient defines the narrow Bitcoin RPC surface the
// bridge needs and a deterministic in-memory mock for tests.
// Grounded on the teacher's internal/backend JSON-RPC client, trimmed
// to the four calls the bridge actually issues.
package rpcclient

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
)

const op = "rpcclient"

// Client is the RPC surface the bridge depends on: reading a
// confirmed transaction, broadcasting one, paying an address from the
// node's own wallet, and (regtest-only) generating blocks.
type Client interface {
	GetRawTransaction(txid chainhash.Hash) (*wire.MsgTx, error)
	SendRawTransaction(tx *wire.MsgTx) error
	SendToAddress(address string, amount int64) (chainhash.Hash, error)
	GenerateToAddress(n int64, address string) ([]chainhash.Hash, error)
}

// Mock is an in-memory Client for tests: it keeps a small mempool
// keyed by each transaction's real txid. SendToAddress and
// GenerateToAddress return deterministic hashes numbered by call
// order rather than real ones, so tests can line up expectations.
type Mock struct {
	mu    sync.Mutex
	txs   map[chainhash.Hash]*wire.MsgTx
	sent  []*wire.MsgTx
	paid  []struct {
		Address string
		Amount  int64
	}
}

// NewMock constructs an empty mock client.
func NewMock() *Mock {
	return &Mock{txs: make(map[chainhash.Hash]*wire.MsgTx)}
}

// Seed registers a transaction as already confirmed, so
// GetRawTransaction can return it.
func (m *Mock) Seed(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.TxHash()] = tx
}

func (m *Mock) GetRawTransaction(txid chainhash.Hash) (*wire.MsgTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txid]
	if !ok {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "transaction %s not found", txid)
	}
	return tx, nil
}

func (m *Mock) SendRawTransaction(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.TxHash()] = tx
	m.sent = append(m.sent, tx)
	return nil
}

func (m *Mock) SendToAddress(address string, amount int64) (chainhash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, struct {
		Address string
		Amount  int64
	}{address, amount})
	var h chainhash.Hash
	h[0] = byte(len(m.paid))
	return h, nil
}

func (m *Mock) GenerateToAddress(n int64, address string) ([]chainhash.Hash, error) {
	hashes := make([]chainhash.Hash, n)
	for i := range hashes {
		hashes[i][0] = byte(i + 1)
	}
	return hashes, nil
}

// Sent returns every transaction handed to SendRawTransaction, in order.
func (m *Mock) Sent() []*wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*wire.MsgTx, len(m.sent))
	copy(out, m.sent)
	return out
}
