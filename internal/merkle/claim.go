package merkle

import (
	"crypto/sha256"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
)

const claimOp = "merkle.claim"

// LevelIndex identifies a connector-tree node by (level, index).
type LevelIndex struct {
	Level uint32
	Index uint32
}

// RevealIndices returns the minimal covering set of connector-tree
// subtree roots that enables exactly k leaf reveals out of 2^depth.
// This is consensus-critical and must match the reference recursion
// exactly:
//
//	k == 0        -> [(0,0)]           (reveal the root => reveal all)
//	k == 2^depth  -> []                 (nothing left to reveal)
//	k odd         -> (depth,k), then recurse (depth-1, (k+1)/2)
//	k even        -> recurse (depth-1, k/2)
func RevealIndices(depth uint32, k uint32) ([]LevelIndex, error) {
	if k > uint32(1)<<depth {
		return nil, bridgerr.Wrap(bridgerr.TreeIndexOutOfRange, claimOp, "k=%d exceeds 2^depth=%d", k, uint32(1)<<depth)
	}
	return revealIndices(depth, k), nil
}

func revealIndices(depth uint32, k uint32) []LevelIndex {
	if k == 0 {
		return []LevelIndex{{0, 0}}
	}
	if k == uint32(1)<<depth {
		return nil
	}

	var out []LevelIndex
	if k%2 == 1 {
		out = append(out, LevelIndex{depth, k})
		out = append(out, revealIndices(depth-1, (k+1)/2)...)
	} else {
		out = append(out, revealIndices(depth-1, k/2)...)
	}
	return out
}

// LeafDigest is the SHA-256 over the concatenated hashes named by
// RevealIndices(depth, k), read out of the per-level connector hash
// table.
func LeafDigest(depth uint32, k uint32, hashes [][][32]byte) ([32]byte, error) {
	indices, err := RevealIndices(depth, k)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	for _, li := range indices {
		if int(li.Level) >= len(hashes) || int(li.Index) >= len(hashes[li.Level]) {
			return [32]byte{}, bridgerr.Wrap(bridgerr.TreeIndexOutOfRange, claimOp, "hash table missing (%d,%d)", li.Level, li.Index)
		}
		h.Write(hashes[li.Level][li.Index][:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ClaimRoot computes the complete binary Merkle root over
// LeafDigest(depth, k, hashes) for every k in [0, 2^depth).
func ClaimRoot(depth uint32, hashes [][][32]byte) ([32]byte, error) {
	width := uint32(1) << depth
	level := make([][32]byte, width)
	for k := uint32(0); k < width; k++ {
		digest, err := LeafDigest(depth, k, hashes)
		if err != nil {
			return [32]byte{}, err
		}
		level[k] = digest
	}
	for len(level) > 1 {
		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0], nil
}
