// Package config provides centralized configuration for the bridge.
// ALL tunable bridge parameters MUST be defined here. No hardcoded
// values should exist elsewhere in the codebase.
package config

import (
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"gopkg.in/yaml.v3"
)

// NetworkType selects the Bitcoin network the bridge operates on.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// ChainParams resolves a NetworkType to btcsuite chain parameters.
func (n NetworkType) ChainParams() *chaincfg.Params {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

// Constants holds every consensus-relevant tunable named in the
// bridge's external interfaces. Treat these as compile-time
// configuration: the defaults below match the values used by the
// published test vectors and should not be changed without also
// updating the vectors.
type Constants struct {
	// BridgeAmountSats is the fixed deposit amount the Verifier set
	// presigns against.
	BridgeAmountSats int64 `yaml:"bridge_amount_sats"`

	// DustValue is the dust threshold used for anyone-can-spend and
	// op-return outputs.
	DustValue int64 `yaml:"dust_value"`

	// MinRelayFee is the fee added per output when sizing transactions.
	MinRelayFee int64 `yaml:"min_relay_fee"`

	// ConnectorTreeDepth is the depth D of the connector tree.
	ConnectorTreeDepth uint32 `yaml:"connector_tree_depth"`

	// ConnectorTreeOperatorTakesAfter is the relative-timelock
	// sequence value gating the operator's claim-tx connector input.
	ConnectorTreeOperatorTakesAfter uint32 `yaml:"connector_tree_operator_takes_after"`

	// NumRounds is the number of periods the BridgeProver iterates.
	NumRounds int `yaml:"num_rounds"`

	// MerkleDepth is the depth D of the header/withdrawal incremental
	// Merkle trees.
	MerkleDepth uint32 `yaml:"merkle_depth"`

	// MaxBlockHandleOps is the look-back distance, in headers, at
	// which the prover snapshots the light-client block hash before
	// the end of a period. Named explicitly per the re-architecture
	// note resolving the MAX_BLOCK_HANDLE_OPS / literal-4 discrepancy
	// in the original source: every call site reads this field, none
	// hardcode a literal.
	MaxBlockHandleOps uint32 `yaml:"max_block_handle_ops"`

	Network    NetworkType `yaml:"network"`
	RPCAddress string      `yaml:"rpc_address"`
}

// Default returns the constants table used by the published test
// vectors: bridge amount 100,000,000 sats (1 BTC), dust 546 sats,
// relay fee 1,000 sats, connector tree depth 4, operator timelock of
// 200 blocks (matching §8's claim scenario), 1 round by default for
// a single-period deployment, Merkle depth 32, and a 4-header
// look-back for light-client snapshots.
func Default() Constants {
	return Constants{
		BridgeAmountSats:                100_000_000,
		DustValue:                       546,
		MinRelayFee:                     1_000,
		ConnectorTreeDepth:              4,
		ConnectorTreeOperatorTakesAfter: 200,
		NumRounds:                       1,
		MerkleDepth:                     32,
		MaxBlockHandleOps:               4,
		Network:                         Testnet,
		RPCAddress:                      "127.0.0.1:18443",
	}
}

// Load reads a YAML constants file, filling in Default() for any
// field the file omits by unmarshalling onto a Default()-initialized
// value.
func Load(path string) (Constants, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Constants{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Constants{}, err
	}
	return cfg, nil
}

// Save writes the constants table to a YAML file.
func Save(path string, cfg Constants) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
