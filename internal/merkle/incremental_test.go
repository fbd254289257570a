package merkle

import (
	"crypto/sha256"
	"testing"
)

func leafAt(i byte) [32]byte {
	var l [32]byte
	h := sha256.Sum256([]byte{i})
	copy(l[:], h[:])
	return l
}

func TestIncrementalMerkleTreeMatchesReference(t *testing.T) {
	cases := []struct {
		name  string
		depth uint32
		n     int
	}{
		{"empty", 3, 0},
		{"single leaf", 3, 1},
		{"half full", 4, 8},
		{"full", 3, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := New(tc.depth)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			var leaves [][32]byte
			for i := 0; i < tc.n; i++ {
				l := leafAt(byte(i))
				leaves = append(leaves, l)
				if err := tree.Add(l); err != nil {
					t.Fatalf("Add() error = %v", err)
				}
			}
			want := ReferenceRoot(tc.depth, leaves)
			if tree.Root != want {
				t.Errorf("Root = %x, want %x", tree.Root, want)
			}
			if tree.Index() != uint32(tc.n) {
				t.Errorf("Index() = %d, want %d", tree.Index(), tc.n)
			}
		})
	}
}

func TestIncrementalMerkleTreeFull(t *testing.T) {
	tree, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := tree.Add(leafAt(byte(i))); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := tree.Add(leafAt(4)); err == nil {
		t.Fatal("expected TreeFull error on 5th add to depth-2 tree")
	}
}

func TestNewRejectsDepthOverMax(t *testing.T) {
	if _, err := New(MaxDepth + 1); err == nil {
		t.Fatal("expected error for depth exceeding MaxDepth")
	}
}
