// Package actor wraps a single bridge keypair (verifier, operator, or
// user) and signs the taproot and EVM payloads the protocol needs:
// script-path and key-path taproot spends, and the recoverable
// secp256k1 signature a deposit's rollup-side mint call is presigned
// with. Grounded on the teacher's taproot AddWitness/sighash helpers
// in internal/swap/tx.go and its EVMSign helper in internal/wallet/evm.go.
package actor

import (
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/sha3"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
)

const op = "actor"

// Actor holds a single secp256k1 keypair usable both as a Bitcoin
// taproot signer and, via the same curve, an EVM signer.
type Actor struct {
	priv *btcec.PrivateKey
	pub  script.XOnlyKey
}

// New wraps an existing private key.
func New(priv *btcec.PrivateKey) *Actor {
	return &Actor{priv: priv, pub: script.FromPublicKey(priv.PubKey())}
}

// Generate produces a fresh keypair.
func Generate() (*Actor, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "generate keypair: %w", err)
	}
	return New(priv), nil
}

// PublicKey returns the actor's x-only taproot key.
func (a *Actor) PublicKey() script.XOnlyKey { return a.pub }

// EVMAddress derives the actor's rollup-side address the way the
// teacher's wallet package does: keccak256 of the uncompressed public
// key (sans the 0x04 prefix), last 20 bytes.
func (a *Actor) EVMAddress() bridgetypes.EVMAddress {
	pubBytes := a.priv.PubKey().SerializeUncompressed()
	hash := keccak256(pubBytes[1:])
	var addr bridgetypes.EVMAddress
	copy(addr[:], hash[12:])
	return addr
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// SignTaprootScriptSpend produces a BIP-342 script-path signature
// over input i's tapscript sighash.
func (a *Actor) SignTaprootScriptSpend(tx *wire.MsgTx, fetcher *txfactory.PrevOutputFetcher, i int, leafScript []byte) (bridgetypes.SchnorrSig, error) {
	sighash, err := txfactory.TapscriptSighash(tx, fetcher, i, leafScript)
	if err != nil {
		return bridgetypes.SchnorrSig{}, err
	}
	return a.signSchnorr(sighash)
}

// SignTaprootKeypathSpend produces a BIP-341 key-path signature over
// input i's sighash.
func (a *Actor) SignTaprootKeypathSpend(tx *wire.MsgTx, fetcher *txfactory.PrevOutputFetcher, i int) (bridgetypes.SchnorrSig, error) {
	sighash, err := txfactory.KeypathSighash(tx, fetcher, i)
	if err != nil {
		return bridgetypes.SchnorrSig{}, err
	}
	return a.signSchnorr(sighash)
}

func (a *Actor) signSchnorr(sighash []byte) (bridgetypes.SchnorrSig, error) {
	sig, err := schnorr.Sign(a.priv, sighash)
	if err != nil {
		return bridgetypes.SchnorrSig{}, bridgerr.Wrap(bridgerr.WitnessAssemblyError, op, "schnorr sign: %w", err)
	}
	var out bridgetypes.SchnorrSig
	copy(out[:], sig.Serialize())
	return out, nil
}

// SignDeposit produces the recoverable ECDSA signature a verifier
// attaches to a deposit's rollup-side mint authorization: a
// keccak256 digest over (deposit txid || evm address || hash),
// signed over the secp256k1 curve.
//
// This keeps the recovery id in Ethereum's native {27, 28} range
// rather than remapping to {0, 1} the way the teacher's EVMSign does
// for raw transaction signing — the rollup's presign-verification
// precompile here expects the unshifted v, so no remap is applied.
func (a *Actor) SignDeposit(depositTxid [32]byte, evmAddr bridgetypes.EVMAddress, hash script.Hash) (bridgetypes.EVMSig, error) {
	digest := keccak256(append(append(append([]byte{}, depositTxid[:]...), evmAddr[:]...), hash[:]...))
	compact := btcecdsa.SignCompact(a.priv, digest, false)
	if len(compact) != 65 {
		return bridgetypes.EVMSig{}, bridgerr.Wrap(bridgerr.WitnessAssemblyError, op, "unexpected compact signature length %d", len(compact))
	}
	var out bridgetypes.EVMSig
	copy(out[:64], compact[1:65])
	out[64] = compact[0]
	return out, nil
}

// AssembleScriptSpendWitness builds the witness stack for a tapscript
// spend: the spend-specific stack items (e.g. a revealed preimage and
// the N-of-N signatures, supplied caller-ordered), followed by the
// leaf script and its control block.
func AssembleScriptSpendWitness(stackItems [][]byte, leafScript, controlBlock []byte) wire.TxWitness {
	witness := make(wire.TxWitness, 0, len(stackItems)+2)
	witness = append(witness, stackItems...)
	witness = append(witness, leafScript, controlBlock)
	return witness
}

// ReverseSignatures returns sigs in reverse order, matching the
// move-tx and claim-tx witness layout where the n-of-n script checks
// the top-of-stack signature first, against its first AddData'd key.
func ReverseSignatures(sigs []bridgetypes.SchnorrSig) [][]byte {
	out := make([][]byte, len(sigs))
	for i, s := range sigs {
		sig := s
		out[len(sigs)-1-i] = sigCopy(sig)
	}
	return out
}

func sigCopy(s bridgetypes.SchnorrSig) []byte {
	b := make([]byte, len(s))
	copy(b, s[:])
	return b
}
