// Package prover implements the bridge's per-period light-client
// check: a streaming read of block headers and withdrawal proofs,
// accumulating proof-of-work and a withdrawal Merkle tree, that
// decides whether the bridge's operator-claimed chain tip out-works
// the rollup's own light client. Grounded on
// original_source/helpers/src/bridge.rs's bridge_proof<E> streaming
// algorithm, reimplemented against a Go Environment interface instead
// of a generic trait.
package prover

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/holiman/uint256"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/merkle"
	"github.com/btc-rollup-bridge/bridged/internal/script"
)

const op = "prover"

// Environment exposes the typed byte stream a proof run consumes.
// Implementations read from a zkVM guest input tape in production and
// from an in-memory buffer in tests.
type Environment interface {
	ReadU32() (uint32, error)
	ReadI32() (int32, error)
	Read32Bytes() ([32]byte, error)
}

// Header is a parsed Bitcoin block header.
type Header struct {
	Version    int32
	PrevBlock  [32]byte
	MerkleRoot [32]byte
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Serialize returns the 80-byte consensus encoding of the header,
// little-endian throughout, matching Bitcoin's wire format.
func (h Header) Serialize() []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Time)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// Hash returns the double-SHA-256 block hash in internal byte order
// (not reversed); callers reverse it before comparing it to a target
// as a big-endian number.
func (h Header) Hash() [32]byte {
	first := sha256.Sum256(h.Serialize())
	second := sha256.Sum256(first[:])
	return second
}

func readHeader(env Environment) (Header, error) {
	version, err := env.ReadI32()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read header version: %w", err)
	}
	prev, err := env.Read32Bytes()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read prev hash: %w", err)
	}
	merkleRoot, err := env.Read32Bytes()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read merkle root: %w", err)
	}
	timestamp, err := env.ReadU32()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read time: %w", err)
	}
	bits, err := env.ReadU32()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read bits: %w", err)
	}
	nonce, err := env.ReadU32()
	if err != nil {
		return Header{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read nonce: %w", err)
	}
	return Header{Version: version, PrevBlock: prev, MerkleRoot: merkleRoot, Time: timestamp, Bits: bits, Nonce: nonce}, nil
}

// Parameters replaces the original's global constants with explicit,
// per-run configuration, resolving the Open Question raised in the
// design notes about hardcoded periods and start height.
type Parameters struct {
	StartBlockHash      [32]byte
	PeriodClaimMTRoots  [][32]byte
	MaxBlockHandleOps   uint32
	MerkleDepth         uint32
}

// PeriodResult is everything one call to RunPeriod established.
type PeriodResult struct {
	CurrentTip      [32]byte
	TotalWork       *uint256.Int
	WithdrawalRoot  [32]byte
	WithdrawalCount uint32
	ChallengeWon    bool
}

// workForTarget returns the work a single block at this difficulty
// contributes: (~target / (target+1)) + 1, Bitcoin's GetBlockProof
// trick for computing 2^256 / (target+1) without a 257-bit numerator.
// Addition into total_work wraps on overflow, per §4.7's numerical rules.
func workForTarget(target *uint256.Int) *uint256.Int {
	denom := new(uint256.Int).AddUint64(target, 1)
	if denom.IsZero() {
		return new(uint256.Int).SetAllOne()
	}
	maxVal := new(uint256.Int).SetAllOne()
	notTarget := new(uint256.Int).Sub(maxVal, target)
	quotient := new(uint256.Int).Div(notTarget, denom)
	return quotient.AddUint64(quotient, 1)
}

// compactToTarget expands Bitcoin's compact "bits" encoding to a
// 256-bit target, following consensus exactly via btcd's blockchain
// package, and rejects targets the maximum cannot represent.
func compactToTarget(bits uint32) (*uint256.Int, error) {
	big := blockchain.CompactToBig(bits)
	if big.Sign() < 0 || big.BitLen() > 256 {
		return nil, bridgerr.Wrap(bridgerr.ConsensusError, op, "bits 0x%x expands to an out-of-range target", bits)
	}
	target, overflow := uint256.FromBig(big)
	if overflow {
		return nil, bridgerr.Wrap(bridgerr.ConsensusError, op, "bits 0x%x target overflows u256", bits)
	}
	return target, nil
}

// RunPeriod executes one period of the streaming proof algorithm
// against env, starting from the previous period's tip.
func RunPeriod(env Environment, params Parameters, periodIndex int, currentTip [32]byte) (PeriodResult, error) {
	n, err := env.ReadU32()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read header count: %w", err)
	}

	blockHashes, err := merkle.New(params.MerkleDepth)
	if err != nil {
		return PeriodResult{}, err
	}

	totalWork := new(uint256.Int)
	var lcBlockHash [32]byte
	snapshotAt := int(n) - int(params.MaxBlockHandleOps)

	tip := currentTip
	for i := 0; i < int(n); i++ {
		header, err := readHeader(env)
		if err != nil {
			return PeriodResult{}, err
		}
		if header.PrevBlock != tip {
			return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "header %d does not extend current tip", i)
		}
		if err := blockHashes.Add(header.PrevBlock); err != nil {
			return PeriodResult{}, err
		}

		hash := header.Hash()
		target, err := compactToTarget(header.Bits)
		if err != nil {
			return PeriodResult{}, err
		}
		hashInt := new(uint256.Int).SetBytes(reverseCopy(hash[:]))
		if hashInt.Cmp(target) > 0 {
			return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "header %d hash exceeds target", i)
		}
		totalWork.Add(totalWork, workForTarget(target))

		if i == snapshotAt {
			lcBlockHash = header.PrevBlock
		}
		tip = hash
	}

	w, err := env.ReadU32()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read withdrawal proof count: %w", err)
	}
	withdrawals, err := merkle.New(params.MerkleDepth)
	if err != nil {
		return PeriodResult{}, err
	}
	for i := uint32(0); i < w; i++ {
		outputAddr, err := env.Read32Bytes()
		if err != nil {
			return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read withdrawal output address: %w", err)
		}
		if err := withdrawals.Add(outputAddr); err != nil {
			return PeriodResult{}, err
		}
	}

	finish, err := env.ReadU32()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read finish flag: %w", err)
	}

	result := PeriodResult{
		CurrentTip:      tip,
		TotalWork:       totalWork,
		WithdrawalRoot:  withdrawals.Root,
		WithdrawalCount: withdrawals.Index(),
	}

	if finish != 1 {
		return result, nil
	}

	if periodIndex < len(params.PeriodClaimMTRoots) {
		// This function does not verify a light-client proof and does
		// not compare PeriodClaimMTRoots against a claim-proof leaf.
		// lcBlockHash is computed above but is not returned in
		// PeriodResult.
		_ = lcBlockHash
	}

	k, err := env.ReadU32()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read k-deep header count: %w", err)
	}
	for i := uint32(0); i < k; i++ {
		header, err := readHeader(env)
		if err != nil {
			return PeriodResult{}, err
		}
		target, err := compactToTarget(header.Bits)
		if err != nil {
			return PeriodResult{}, err
		}
		totalWork.Add(totalWork, workForTarget(target))
	}

	verifiersPowBytes, err := env.Read32Bytes()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read verifiers pow: %w", err)
	}
	verifiersLastFinalized, err := env.Read32Bytes()
	if err != nil {
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read verifiers last finalized: %w", err)
	}
	if _, err := env.ReadI32(); err != nil { // _height, unused by the decision rule
		return PeriodResult{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read verifiers height: %w", err)
	}

	verifiersPow := new(uint256.Int).SetBytes(reverseCopy(verifiersPowBytes[:]))
	result.TotalWork = totalWork
	result.ChallengeWon = totalWork.Cmp(verifiersPow) > 0 && result.CurrentTip != verifiersLastFinalized

	return result, nil
}

func reverseCopy(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// ReadMerkleTreeProof consumes the resolved stream layout for a
// Bitcoin Merkle inclusion path: a u32 sibling count, that many
// 32-byte siblings, and a u32 direction bitfield (bit i set means
// sibling i is the right-hand node). It folds them against leaf to
// recover the claimed root.
func ReadMerkleTreeProof(env Environment, leaf [32]byte) ([32]byte, error) {
	count, err := env.ReadU32()
	if err != nil {
		return [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read merkle proof count: %w", err)
	}
	siblings := make([][32]byte, count)
	for i := range siblings {
		s, err := env.Read32Bytes()
		if err != nil {
			return [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read merkle sibling %d: %w", i, err)
		}
		siblings[i] = s
	}
	directions, err := env.ReadU32()
	if err != nil {
		return [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read merkle direction bitfield: %w", err)
	}

	node := leaf
	for i, sib := range siblings {
		var combined []byte
		if directions&(1<<uint(i)) != 0 {
			combined = append(append([]byte{}, node[:]...), sib[:]...)
		} else {
			combined = append(append([]byte{}, sib[:]...), node[:]...)
		}
		first := sha256.Sum256(combined)
		node = sha256.Sum256(first[:])
	}
	return node, nil
}

// ReadPreimagesAndCalculateCommitTaproot consumes the resolved stream
// layout for reconstructing a connector leaf's commit taproot: a u32
// preimage count, that many 32-byte preimages, and the actor's 32-byte
// x-only public key. The preimages must be exactly the ones named by
// RevealIndices(depth, k), in that order. It rebuilds the inscription
// leaf those preimages populate via internal/script, returning its
// tapleaf hash, and folds their images through merkle.LeafDigest the
// same way a claim_tx's revealed leaf digest is computed on-chain.
func ReadPreimagesAndCalculateCommitTaproot(env Environment, depth uint32, k uint32) (commitTapHash [32]byte, claimLeafDigest [32]byte, err error) {
	count, err := env.ReadU32()
	if err != nil {
		return [32]byte{}, [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read preimage count: %w", err)
	}
	preimages := make([][32]byte, count)
	for i := range preimages {
		p, err := env.Read32Bytes()
		if err != nil {
			return [32]byte{}, [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read preimage %d: %w", i, err)
		}
		preimages[i] = p
	}
	actorPub, err := env.Read32Bytes()
	if err != nil {
		return [32]byte{}, [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "read actor pubkey: %w", err)
	}

	indices, err := merkle.RevealIndices(depth, k)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	if len(indices) != len(preimages) {
		return [32]byte{}, [32]byte{}, bridgerr.Wrap(bridgerr.ConsensusError, op, "preimage count %d does not match reveal-index count %d for depth=%d k=%d", len(preimages), len(indices), depth, k)
	}

	hashes := make([][][32]byte, depth+1)
	for lvl := range hashes {
		hashes[lvl] = make([][32]byte, uint32(1)<<uint32(lvl))
	}
	for i, li := range indices {
		hashes[li.Level][li.Index] = sha256.Sum256(preimages[i][:])
	}
	claimLeafDigest, err = merkle.LeafDigest(depth, k, hashes)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}

	leaf, err := script.Inscription(script.XOnlyKey(actorPub), preimages)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	tree, err := script.BuildTree(leaf)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return tree.MerkleRoot(), claimLeafDigest, nil
}
