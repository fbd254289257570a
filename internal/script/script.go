// Package script provides pure constructors for every tapscript used
// by the bridge: N-of-N (optionally hash-gated or user-augmented)
// multisig, relative and absolute timelocks, the preimage-commitment
// inscription envelope, and the two dust txout helpers. None of these
// functions touch the network or hold state; they map inputs to
// scripts the same way every time.
package script

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
)

// XOnlyKey is a 32-byte BIP-340 x-only public key.
type XOnlyKey [32]byte

// Bytes returns the key as a byte slice for script pushes.
func (k XOnlyKey) Bytes() []byte { return k[:] }

// String returns the key's hex encoding.
func (k XOnlyKey) String() string { return hex.EncodeToString(k[:]) }

// FromPublicKey truncates a compressed secp256k1 key to its x-only form.
func FromPublicKey(pk *btcec.PublicKey) XOnlyKey {
	var x XOnlyKey
	copy(x[:], pk.SerializeCompressed()[1:])
	return x
}

// Hash is a 32-byte SHA-256 digest committed into a hash-gated script.
type Hash [32]byte

// String returns the hash's hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

const op = "script"

// NOfN builds `<pk_1> OP_CHECKSIGVERIFY ... <pk_n> OP_CHECKSIGVERIFY OP_TRUE`.
// Order is exactly the verifier-set order supplied by the caller.
func NOfN(verifiers []XOnlyKey) (*txscript.ScriptBuilder, error) {
	b := txscript.NewScriptBuilder()
	for _, pk := range verifiers {
		b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIGVERIFY)
	}
	b.AddOp(txscript.OP_TRUE)
	return b, nil
}

// NOfNWithUser builds NOfN followed by `<user_pk> OP_CHECKSIGVERIFY OP_TRUE`.
func NOfNWithUser(verifiers []XOnlyKey, user XOnlyKey) (*txscript.ScriptBuilder, error) {
	b := txscript.NewScriptBuilder()
	for _, pk := range verifiers {
		b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIGVERIFY)
	}
	b.AddData(user.Bytes()).AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddOp(txscript.OP_TRUE)
	return b, nil
}

// NOfNWithHash prepends `OP_SHA256 <hash> OP_EQUALVERIFY` before the
// N-of-N signature checks, gating the script on preimage knowledge.
func NOfNWithHash(verifiers []XOnlyKey, hash Hash) (*txscript.ScriptBuilder, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_SHA256).AddData(hash[:]).AddOp(txscript.OP_EQUALVERIFY)
	for _, pk := range verifiers {
		b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIGVERIFY)
	}
	b.AddOp(txscript.OP_TRUE)
	return b, nil
}

// Timelock builds `<Δ> OP_CSV OP_DROP <pk> OP_CHECKSIG`: a relative
// timelock script. To spend, the caller must satisfy
// `script_Δ < tx.input.sequence < blocks_since_utxo_confirmation`.
func Timelock(pk XOnlyKey, delta int64) (*txscript.ScriptBuilder, error) {
	if delta < 0 || delta > 0xffff {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "timelock delta %d out of CSV range", delta)
	}
	b := txscript.NewScriptBuilder()
	b.AddInt64(delta).AddOp(txscript.OP_CHECKSEQUENCEVERIFY).AddOp(txscript.OP_DROP)
	b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIG)
	return b, nil
}

// AbsoluteTimelock builds `<h> OP_CLTV OP_DROP <pk> OP_CHECKSIG`.
func AbsoluteTimelock(pk XOnlyKey, height int64) (*txscript.ScriptBuilder, error) {
	if height < 0 {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "negative absolute timelock height %d", height)
	}
	b := txscript.NewScriptBuilder()
	b.AddInt64(height).AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).AddOp(txscript.OP_DROP)
	b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIG)
	return b, nil
}

// HashScript builds `OP_SHA256 <hash> OP_EQUAL`, the bare preimage-gate
// used inside composite scripts and as a standalone leaf.
func HashScript(hash Hash) (*txscript.ScriptBuilder, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_SHA256).AddData(hash[:]).AddOp(txscript.OP_EQUAL)
	return b, nil
}

// MaxInscriptionChunks bounds the number of 32-byte chunks pushed
// into a single inscription script so the resulting witness stays
// well under the standardness relay limit.
const MaxInscriptionChunks = 4000

// Inscription builds the witness-envelope commit/reveal script:
// `<pk> OP_CHECKSIG OP_FALSE OP_IF <chunk_1> ... <chunk_k> OP_ENDIF`.
// Each chunk must be pushed as a minimal 32-byte data push so a
// reveal-witness parser can rely on the fixed 33-byte-per-chunk
// (1-byte push opcode + 32 bytes) layout documented in the external
// interfaces.
func Inscription(pk XOnlyKey, chunks [][32]byte) (*txscript.ScriptBuilder, error) {
	if len(chunks) > MaxInscriptionChunks {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "inscription chunk count %d exceeds max %d", len(chunks), MaxInscriptionChunks)
	}
	b := txscript.NewScriptBuilder()
	b.AddData(pk.Bytes()).AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_FALSE).AddOp(txscript.OP_IF)
	for _, c := range chunks {
		b.AddData(c[:])
	}
	b.AddOp(txscript.OP_ENDIF)
	return b, nil
}

// AnyoneCanSpendTxOut returns a P2WSH `OP_TRUE` output sized at that
// script's dust threshold, used for the move-tx's anyone-can-spend
// CPFP anchor output.
func AnyoneCanSpendTxOut() (*wire.TxOut, error) {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_TRUE)
	raw, err := b.Script()
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build anyone-can-spend script: %w", err)
	}
	pkScript, err := txscript.PayToWitnessScriptHashScript(raw)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "p2wsh wrap: %w", err)
	}
	return &wire.TxOut{Value: dustValue(pkScript), PkScript: pkScript}, nil
}

// OpReturnTxOut returns an `OP_RETURN <evm_addr>` output for rollup
// indexing, sized at its dust threshold, which is 0 for an OP_RETURN
// script.
func OpReturnTxOut(evmAddr [20]byte) (*wire.TxOut, error) {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(evmAddr[:])
	pkScript, err := b.Script()
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build op_return script: %w", err)
	}
	return &wire.TxOut{Value: dustValue(pkScript), PkScript: pkScript}, nil
}

// dustRelayFeeRate is Bitcoin Core's default dust relay fee, in
// sat/kvB, mirrored from rust-bitcoin's ScriptBuf::dust_value.
const dustRelayFeeRate = 3000

// dustValue computes the minimum economically spendable output value
// for a given pkScript: the output's own serialized size plus the cost
// of an input spending it (witness-discounted for a witness program),
// scaled by the dust relay fee rate; an OP_RETURN script's value is 0.
// Matches the formula used by
// rust-bitcoin's `dust_value()`, which the original source calls
// directly when sizing anyone-can-spend and op-return outputs.
func dustValue(pkScript []byte) int64 {
	if len(pkScript) > 0 && pkScript[0] == txscript.OP_RETURN {
		return 0
	}
	// serialized txout: 8(amount) + compact-size script length + script.
	size := int64(8 + wire.VarIntSerializeSize(uint64(len(pkScript))) + len(pkScript))
	// spend cost: 32(prevout txid) + 4(vout) + 1(scriptSig length) + 4(sequence)
	// + 107 signature bytes, discounted to 107/4 for a witness program.
	if txscript.IsWitnessProgram(pkScript) {
		size += 32 + 4 + 1 + 107/4 + 4
	} else {
		size += 32 + 4 + 1 + 107 + 4
	}
	return (size * dustRelayFeeRate) / 1000
}
