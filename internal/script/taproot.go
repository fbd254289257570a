package script

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
)

// PlainKeyPkScript returns the P2TR scriptPubKey for a key-path-only
// taproot output on k, with no script tree, matching how a wallet
// pays itself. Grounded on the teacher's deriveP2TR in wallet/address.go.
func PlainKeyPkScript(k XOnlyKey) ([]byte, error) {
	pub, err := schnorr.ParsePubKey(k.Bytes())
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, treeOp, "parse x-only key: %w", err)
	}
	outputKey := txscript.ComputeTaprootKeyNoScript(pub)
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, treeOp, "p2tr script: %w", err)
	}
	return pkScript, nil
}

// nums is the standard BIP-341 NUMS (nothing-up-my-sleeve) internal
// key used for script-path-only taproot outputs: the SHA-256 of the
// generator point's encoding, with no known discrete log.
var nums = func() *btcec.PublicKey {
	x, _ := btcec.ParsePubKey(append([]byte{0x02},
		[]byte{
			0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a, 0x5e,
			0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
		}...))
	return x
}()

// Tree bundles one or more leaf scripts with the taproot tree needed
// to build an address, a control block, and a witness for any leaf.
type Tree struct {
	InternalKey *btcec.PublicKey
	Leaves      []*txscript.ScriptBuilder
	leafRaw     [][]byte
	tapTree     *txscript.IndexedTapScriptTree
	merkleRoot  [32]byte
	OutputKey   *btcec.PublicKey
}

const treeOp = "script.taproot"

// BuildTree assembles a taproot output from one or more leaf scripts
// under the fixed NUMS internal key, grounded on BuildTaprootScriptTree's
// AssembleTaprootScriptTree + ComputeTaprootOutputKey sequence.
func BuildTree(leaves ...*txscript.ScriptBuilder) (*Tree, error) {
	return buildTreeWithInternalKey(nums, leaves...)
}

// BuildTreeWithInternalKey is BuildTree for a caller-supplied internal
// key, used when the tree's key path should remain spendable (e.g. a
// federation aggregate key) rather than provably unspendable.
func BuildTreeWithInternalKey(internalKey *btcec.PublicKey, leaves ...*txscript.ScriptBuilder) (*Tree, error) {
	return buildTreeWithInternalKey(internalKey, leaves...)
}

func buildTreeWithInternalKey(internalKey *btcec.PublicKey, leaves ...*txscript.ScriptBuilder) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, treeOp, "no leaves supplied")
	}
	leafRaw := make([][]byte, 0, len(leaves))
	tapLeaves := make([]txscript.TapLeaf, 0, len(leaves))
	for _, l := range leaves {
		raw, err := l.Script()
		if err != nil {
			return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, treeOp, "serialize leaf: %w", err)
		}
		leafRaw = append(leafRaw, raw)
		tapLeaves = append(tapLeaves, txscript.NewBaseTapLeaf(raw))
	}
	tapTree := txscript.AssembleTaprootScriptTree(tapLeaves...)
	merkleRoot := tapTree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot[:])

	return &Tree{
		InternalKey: internalKey,
		Leaves:      leaves,
		leafRaw:     leafRaw,
		tapTree:     tapTree,
		merkleRoot:  merkleRoot,
		OutputKey:   outputKey,
	}, nil
}

// Address returns the bech32m P2TR address for the tree's output key.
func (t *Tree) Address(params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(t.OutputKey), params)
	if err != nil {
		return "", bridgerr.Wrap(bridgerr.ScriptBuildError, treeOp, "encode p2tr address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// ControlBlock returns the serialized control block proving leafIdx's
// script is committed under the tree's output key.
func (t *Tree) ControlBlock(leafIdx int) ([]byte, error) {
	if leafIdx < 0 || leafIdx >= len(t.tapTree.LeafMerkleProofs) {
		return nil, bridgerr.Wrap(bridgerr.WitnessAssemblyError, treeOp, "leaf index %d out of range", leafIdx)
	}
	proof := t.tapTree.LeafMerkleProofs[leafIdx]
	cb := proof.ToControlBlock(t.InternalKey)
	return cb.ToBytes()
}

// LeafScript returns the raw serialized script for leafIdx.
func (t *Tree) LeafScript(leafIdx int) []byte {
	return t.leafRaw[leafIdx]
}

// MerkleRoot returns the taproot script-tree merkle root.
func (t *Tree) MerkleRoot() [32]byte { return t.merkleRoot }

// PkScript returns the P2TR scriptPubKey for the tree's output key.
func (t *Tree) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(t.OutputKey)
}
