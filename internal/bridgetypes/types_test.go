package bridgetypes

import "testing"

func TestPreimageHashIsDeterministic(t *testing.T) {
	var p Preimage
	copy(p[:], "deterministic-preimage-32-bytes")

	h1 := p.Hash()
	h2 := p.Hash()
	if h1 != h2 {
		t.Errorf("Hash() is not deterministic: %x != %x", h1, h2)
	}

	var other Preimage
	copy(other[:], "a-completely-different-preimage")
	if p.Hash() == other.Hash() {
		t.Error("distinct preimages hashed to the same value")
	}
}

func TestEVMAddressStringIsDeterministicHex(t *testing.T) {
	addr := EVMAddress{0x5a, 0xae, 0xb6, 0x05, 0x3f, 0x3e, 0x94, 0xc9, 0xb9, 0xa0,
		0x9f, 0x33, 0x66, 0x94, 0x35, 0xe7, 0xef, 0x1b, 0xea, 0xed}

	got := addr.String()
	if len(got) != 42 || got[:2] != "0x" {
		t.Errorf("String() = %q, want 0x-prefixed 42-char hex", got)
	}
	if got != addr.String() {
		t.Error("String() is not deterministic")
	}

	var zero EVMAddress
	if zero.String() != "0x0000000000000000000000000000000000000000" {
		t.Errorf("zero address String() = %q", zero.String())
	}
}

func TestFingerprintStringIsHex(t *testing.T) {
	var f Fingerprint
	f[0] = 0xde
	f[1] = 0xad
	if got, want := f.String()[:4], "dead"; got != want {
		t.Errorf("String()[:4] = %q, want %q", got, want)
	}
}
