package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
)

func TestPutDepositAndMarkMoved(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	var hash [32]byte
	copy(hash[:], "start-txid-32-bytes-xxxxxxxxxxxx")
	startHash, err := chainhash.NewHash(hash[:])
	if err != nil {
		t.Fatalf("NewHash() error = %v", err)
	}

	record := bridgetypes.DepositRecord{
		StartUTXO: bridgetypes.OutPoint{Txid: *startHash, Vout: 0},
	}
	if err := s.PutDeposit(record, 1700000000); err != nil {
		t.Fatalf("PutDeposit() error = %v", err)
	}
	if err := s.MarkMoved(startHash.String(), "move-txid"); err != nil {
		t.Fatalf("MarkMoved() error = %v", err)
	}
}

func TestConnectorNodeLifecycle(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	var nodeHash [32]byte
	copy(nodeHash[:], "node-hash-32-bytes-xxxxxxxxxxxxx")
	if err := s.PutConnectorNode("root-txid", 0, 0, bridgetypes.OutPoint{}, nodeHash); err != nil {
		t.Fatalf("PutConnectorNode() error = %v", err)
	}
	if err := s.MarkRevealed("root-txid", 0, 0); err != nil {
		t.Fatalf("MarkRevealed() error = %v", err)
	}
}

func TestWithdrawalCount(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	count, err := s.CountWithdrawals()
	if err != nil {
		t.Fatalf("CountWithdrawals() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 withdrawals initially, got %d", count)
	}
	if err := s.PutWithdrawal("0xabc", "deadbeef", "txid1", 1700000000); err != nil {
		t.Fatalf("PutWithdrawal() error = %v", err)
	}
	count, err = s.CountWithdrawals()
	if err != nil {
		t.Fatalf("CountWithdrawals() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 withdrawal, got %d", count)
	}
}
