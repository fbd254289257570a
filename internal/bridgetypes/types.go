// Package bridgetypes holds the data model shared across script,
// txfactory, actor, verifier, operator and prover: the plain value
// types named in the bridge's data model, with no package-specific
// behavior attached.
package bridgetypes

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"

	"github.com/btc-rollup-bridge/bridged/internal/script"
)

// Fingerprint is a 32-byte hash identifier, total on its bytes.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// OutPoint is an immutable (txid, vout) pair.
type OutPoint struct {
	Txid chainhash.Hash
	Vout uint32
}

// EVMAddress is a 20-byte address, opaque to the bridge core.
type EVMAddress [20]byte

// String returns the EIP-55 checksummed hex representation, matching
// how rollup explorers and wallets display the address.
func (a EVMAddress) String() string { return common.Address(a).Hex() }

// Preimage is 32 random bytes whose SHA-256 image is the Hash
// committed into hash-gated scripts. In the happy path a preimage is
// revealed at most once per connector-tree node.
type Preimage [32]byte

// Hash returns the SHA-256 image committed into scripts for this preimage.
func (p Preimage) Hash() script.Hash {
	return script.Hash(sha256.Sum256(p[:]))
}

// SchnorrSig is a 64-byte BIP-340 signature.
type SchnorrSig [64]byte

// EVMSig is a 65-byte recoverable ECDSA signature: r(32) || s(32) || v(1).
type EVMSig [65]byte

// DepositPresigns is the per-verifier triple issued for one deposit.
// A verifier issues presigns for a given start UTXO at most once.
type DepositPresigns struct {
	RollupSig EVMSig
	MoveSig   SchnorrSig
	ClaimSig  SchnorrSig
}

// DepositRecord is created when verifiers presign and consumed when
// the move-tx confirms.
type DepositRecord struct {
	StartUTXO  OutPoint
	DepositUTXO OutPoint
	ReturnKey  script.XOnlyKey
	Hash       script.Hash
	EVMAddr    EVMAddress
	Presigns   []DepositPresigns // indexed by verifier-set order
}
