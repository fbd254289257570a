// Package txfactory assembles every bridge transaction: the deposit
// address, move-tx, claim-tx, connector-root/child txs, and the
// inscription commit/reveal pair. It is stateless — every Build*
// method reads the verifier set and amounts held by Factory, takes the
// outpoints and values it spends as arguments, and returns a
// ready-to-sign *wire.MsgTx, mirroring the teacher's BuildFundingTx /
// BuildRefundTx / BuildHTLCClaimTx style.
package txfactory

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/script"
)

const op = "txfactory"

// Factory holds the configured verifier set and network parameters;
// it is otherwise stateless.
type Factory struct {
	Verifiers []script.XOnlyKey
	Params    *chaincfg.Params
	DustValue int64
	FeeValue  int64
}

// New constructs a Factory for the given verifier set.
func New(verifiers []script.XOnlyKey, params *chaincfg.Params, dust, fee int64) *Factory {
	return &Factory{Verifiers: verifiers, Params: params, DustValue: dust, FeeValue: fee}
}

// DepositTree builds the taproot script tree backing a deposit
// address: {n_of_n_with_hash(H), absolute_timelock(return_key, T_return)}.
func (f *Factory) DepositTree(hash script.Hash, returnKey script.XOnlyKey, returnHeight int64) (*script.Tree, error) {
	hashLeaf, err := script.NOfNWithHash(f.Verifiers, hash)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build hash-gated leaf: %w", err)
	}
	timeoutLeaf, err := script.AbsoluteTimelock(returnKey, returnHeight)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build return-timelock leaf: %w", err)
	}
	tree, err := script.BuildTree(hashLeaf, timeoutLeaf)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build deposit tree: %w", err)
	}
	return tree, nil
}

// DepositAddress returns the taproot address a user funds to start a deposit.
func (f *Factory) DepositAddress(hash script.Hash, returnKey script.XOnlyKey, returnHeight int64) (string, error) {
	tree, err := f.DepositTree(hash, returnKey, returnHeight)
	if err != nil {
		return "", err
	}
	addr, err := tree.Address(f.Params)
	if err != nil {
		return "", bridgerr.Wrap(bridgerr.ScriptBuildError, op, "encode deposit address: %w", err)
	}
	return addr, nil
}

// BuildMoveTx spends the deposit UTXO (script path: n_of_n_with_hash)
// into two outputs: the pooled n-of-n-without-hash output carrying
// BRIDGE_AMOUNT - DUST - FEE, and an anyone-can-spend dust output used
// as a CPFP anchor. Witness assembly (preimage + signatures + script
// + control block, in the documented reversed order) happens in
// internal/actor once signatures are available — this function
// builds the unsigned skeleton and returns the pooled output's taproot
// tree so the caller can presign against it.
func (f *Factory) BuildMoveTx(depositUTXO bridgetypes.OutPoint, bridgeAmount int64) (*wire.MsgTx, *script.Tree, error) {
	pooledLeaf, err := script.NOfN(f.Verifiers)
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build pooled n-of-n leaf: %w", err)
	}
	pooledTree, err := script.BuildTree(pooledLeaf)
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build pooled tree: %w", err)
	}
	pooledScript, err := pooledTree.PkScript()
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "pooled pkscript: %w", err)
	}
	anchorOut, err := script.AnyoneCanSpendTxOut()
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build anchor output: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: depositUTXO.Txid, Index: depositUTXO.Vout},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: bridgeAmount - f.DustValue - f.FeeValue, PkScript: pooledScript})
	tx.AddTxOut(anchorOut)

	return tx, pooledTree, nil
}

// BuildClaimTx spends two inputs — the pooled move-tx output and a
// connector leaf UTXO (sequence = takesAfter, gating the spend with a
// relative timelock) — to a single output paying the operator.
func (f *Factory) BuildClaimTx(moveUTXO, connectorUTXO bridgetypes.OutPoint, takesAfter uint32, bridgeAmount int64, payToScript []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: moveUTXO.Txid, Index: moveUTXO.Vout},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: connectorUTXO.Txid, Index: connectorUTXO.Vout},
		Sequence:         takesAfter,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    bridgeAmount + f.DustValue - 2*f.FeeValue,
		PkScript: payToScript,
	})
	return tx, nil
}

// ConnectorRootTree builds the taproot tree for the connector-tree
// root UTXO: {n_of_n_with_hash(rootHash), timelock(operator, 1)}.
func (f *Factory) ConnectorRootTree(rootHash script.Hash, operator script.XOnlyKey) (*script.Tree, error) {
	return f.connectorNodeTree(rootHash, operator)
}

func (f *Factory) connectorNodeTree(hash script.Hash, operator script.XOnlyKey) (*script.Tree, error) {
	hashLeaf, err := script.NOfNWithHash(f.Verifiers, hash)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "connector hash leaf: %w", err)
	}
	timeoutLeaf, err := script.Timelock(operator, 1)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "connector timelock leaf: %w", err)
	}
	return script.BuildTree(hashLeaf, timeoutLeaf)
}

// ConnectorValue computes value = (DUST + FEE) * 2^depth, the amount
// funding the connector-tree root UTXO.
func (f *Factory) ConnectorValue(depth uint32) int64 {
	return (f.DustValue + f.FeeValue) << depth
}

// BuildConnectorRootTx funds the connector-tree root from a parent
// UTXO (typically a change output the operator controls).
func (f *Factory) BuildConnectorRootTx(parent bridgetypes.OutPoint, rootHash script.Hash, operator script.XOnlyKey, depth uint32) (*wire.MsgTx, *script.Tree, error) {
	tree, err := f.ConnectorRootTree(rootHash, operator)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := tree.PkScript()
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "connector root pkscript: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parent.Txid, Index: parent.Vout}, Sequence: wire.MaxTxInSequenceNum})
	tx.AddTxOut(&wire.TxOut{Value: f.ConnectorValue(depth), PkScript: pkScript})
	return tx, tree, nil
}

// BuildConnectorChildTx spends a connector interior node by its
// timelock(operator,1) branch, splitting (parent - FEE) / 2 to each
// of two children with their own {n_of_n+hash, timelock} trees.
func (f *Factory) BuildConnectorChildTx(parent bridgetypes.OutPoint, parentValue int64, leftHash, rightHash script.Hash, operator script.XOnlyKey) (*wire.MsgTx, *script.Tree, *script.Tree, error) {
	leftTree, err := f.connectorNodeTree(leftHash, operator)
	if err != nil {
		return nil, nil, nil, err
	}
	rightTree, err := f.connectorNodeTree(rightHash, operator)
	if err != nil {
		return nil, nil, nil, err
	}
	leftScript, err := leftTree.PkScript()
	if err != nil {
		return nil, nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "left child pkscript: %w", err)
	}
	rightScript, err := rightTree.PkScript()
	if err != nil {
		return nil, nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "right child pkscript: %w", err)
	}

	childValue := (parentValue - f.FeeValue) / 2
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parent.Txid, Index: parent.Vout}, Sequence: 1})
	tx.AddTxOut(&wire.TxOut{Value: childValue, PkScript: leftScript})
	tx.AddTxOut(&wire.TxOut{Value: childValue, PkScript: rightScript})

	return tx, leftTree, rightTree, nil
}

// BuildInscriptionCommitTx funds a taproot output whose script path
// is the preimage-reveal inscription, sized at three times dust to
// cover the reveal tx's own fee.
func (f *Factory) BuildInscriptionCommitTx(parent bridgetypes.OutPoint, pk script.XOnlyKey, chunks [][32]byte) (*wire.MsgTx, *script.Tree, error) {
	leaf, err := script.Inscription(pk, chunks)
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build inscription leaf: %w", err)
	}
	tree, err := script.BuildTree(leaf)
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "build inscription tree: %w", err)
	}
	pkScript, err := tree.PkScript()
	if err != nil {
		return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "inscription pkscript: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parent.Txid, Index: parent.Vout}, Sequence: wire.MaxTxInSequenceNum})
	tx.AddTxOut(&wire.TxOut{Value: 3 * f.DustValue, PkScript: pkScript})
	return tx, tree, nil
}

// BuildInscriptionRevealTx spends the commit output via the
// inscription script path, exposing the 32-byte chunks in the
// witness envelope. Witness assembly is the caller's job (internal/actor)
// once a signature over this skeleton exists.
func (f *Factory) BuildInscriptionRevealTx(commit bridgetypes.OutPoint, payToScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: commit.Txid, Index: commit.Vout}, Sequence: wire.MaxTxInSequenceNum})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: payToScript})
	return tx
}

// PrevOutputFetcher adapts a flat list of (scriptPubKey, value) pairs
// to txscript's sighash-calculation interface, mirroring the
// teacher's taproot keypath/scriptpath sighash helpers in tx.go.
type PrevOutputFetcher struct {
	outs map[wire.OutPoint]*wire.TxOut
}

// NewPrevOutputFetcher builds a fetcher from the inputs' previous outputs.
func NewPrevOutputFetcher(prevOuts map[wire.OutPoint]*wire.TxOut) *PrevOutputFetcher {
	return &PrevOutputFetcher{outs: prevOuts}
}

// FetchPrevOutput implements txscript.PrevOutputFetcher.
func (p *PrevOutputFetcher) FetchPrevOutput(prevOut wire.OutPoint) *wire.TxOut {
	return p.outs[prevOut]
}

const sighashOp = "txfactory.sighash"

// TapscriptSighash computes the BIP-341 script-path sighash for
// input i, covering all prevouts with SIGHASH_DEFAULT and the tapleaf
// hash of the given script.
func TapscriptSighash(tx *wire.MsgTx, fetcher *PrevOutputFetcher, i int, leafScript []byte) ([]byte, error) {
	leaf := txscript.NewBaseTapLeaf(leafScript)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, tx, i, fetcher, leaf)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.WitnessAssemblyError, sighashOp, "calc tapscript sighash: %w", err)
	}
	return sighash, nil
}

// KeypathSighash computes the BIP-341 key-path sighash for input i.
func KeypathSighash(tx *wire.MsgTx, fetcher *PrevOutputFetcher, i int) ([]byte, error) {
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sighash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, i, fetcher)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.WitnessAssemblyError, sighashOp, "calc taproot keypath sighash: %w", err)
	}
	return sighash, nil
}
