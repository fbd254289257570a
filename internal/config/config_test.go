package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ConnectorTreeDepth == 0 {
		t.Fatal("expected non-zero connector tree depth")
	}
	if cfg.ConnectorTreeOperatorTakesAfter != 200 {
		t.Errorf("expected operator takes-after 200, got %d", cfg.ConnectorTreeOperatorTakesAfter)
	}
	if cfg.MaxBlockHandleOps != 4 {
		t.Errorf("expected max block handle ops 4, got %d", cfg.MaxBlockHandleOps)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")

	want := Default()
	want.NumRounds = 7

	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.NumRounds != want.NumRounds {
		t.Errorf("NumRounds = %d, want %d", got.NumRounds, want.NumRounds)
	}
	if got.BridgeAmountSats != want.BridgeAmountSats {
		t.Errorf("BridgeAmountSats = %d, want %d", got.BridgeAmountSats, want.BridgeAmountSats)
	}
}

func TestNetworkChainParams(t *testing.T) {
	cases := []struct {
		network NetworkType
		netName string
	}{
		{Mainnet, "mainnet"},
		{Testnet, "testnet3"},
		{Regtest, "regtest"},
	}
	for _, c := range cases {
		params := c.network.ChainParams()
		if params == nil {
			t.Fatalf("%s: nil chain params", c.network)
		}
	}
}
