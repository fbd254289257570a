package verifier

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btc-rollup-bridge/bridged/internal/actor"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
)

func testSetup(t *testing.T) (*Verifier, []script.XOnlyKey, *actor.Actor) {
	t.Helper()
	a, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	other, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	verifierSet := []script.XOnlyKey{a.PublicKey(), other.PublicKey()}
	factory := txfactory.New(verifierSet, &chaincfg.RegressionNetParams, 546, 1000)
	v := New(a, factory, &chaincfg.RegressionNetParams, 100_000_000, 200)
	return v, verifierSet, a
}

func TestPresignRejectsWrongAmount(t *testing.T) {
	v, verifierSet, _ := testSetup(t)
	returnKey, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	operator, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var hash script.Hash
	copy(hash[:], "deposit-hash-32-bytes-xxxxxxxxxx")

	req := DepositRequest{
		Amount:          1,
		Hash:            hash,
		ReturnKey:       returnKey.PublicKey(),
		VerifierSet:     verifierSet,
		OperatorAddress: operator.PublicKey(),
	}
	if _, err := v.Presign(req, bridgetypes.OutPoint{}, 800_000); err == nil {
		t.Fatal("expected rejection for amount mismatch")
	}
}

func TestPresignHappyPath(t *testing.T) {
	v, verifierSet, _ := testSetup(t)
	returnKey, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	operator, err := actor.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var hash script.Hash
	copy(hash[:], "deposit-hash-32-bytes-xxxxxxxxxx")

	req := DepositRequest{
		StartUTXO:       bridgetypes.OutPoint{Vout: 1},
		Amount:          100_000_000,
		Hash:            hash,
		ReturnKey:       returnKey.PublicKey(),
		VerifierSet:     verifierSet,
		OperatorAddress: operator.PublicKey(),
	}
	presigns, err := v.Presign(req, bridgetypes.OutPoint{Vout: 1}, 800_000)
	if err != nil {
		t.Fatalf("Presign() error = %v", err)
	}
	if presigns.MoveSig == (bridgetypes.SchnorrSig{}) {
		t.Error("expected non-zero move signature")
	}
	if presigns.ClaimSig == (bridgetypes.SchnorrSig{}) {
		t.Error("expected non-zero claim signature")
	}

	got, ok := v.PresignFor(req.StartUTXO)
	if !ok {
		t.Fatal("expected presigns to be recorded")
	}
	if got != presigns {
		t.Error("recorded presigns do not match returned presigns")
	}
}

func TestConnectorWatcherDetectsMismatch(t *testing.T) {
	w := NewConnectorWatcher()
	root := bridgetypes.OutPoint{Vout: 0}
	var rootHash [32]byte
	copy(rootHash[:], "root-hash-32-bytes-xxxxxxxxxxxxx")
	w.Announce(root, [][][32]byte{{rootHash}}, 0)

	var wrongPreimage bridgetypes.Preimage
	copy(wrongPreimage[:], "wrong-preimage-xxxxxxxxxxxxxxxxx")

	if err := w.ObserveReveal(root, wrongPreimage); err == nil {
		t.Fatal("expected protocol violation for mismatched preimage")
	}
}

func TestConnectorWatcherAcceptsMatchingReveal(t *testing.T) {
	w := NewConnectorWatcher()
	root := bridgetypes.OutPoint{Vout: 0}

	var preimage bridgetypes.Preimage
	copy(preimage[:], "correct-preimage-xxxxxxxxxxxxxxx")
	hash := preimage.Hash()

	w.Announce(root, [][][32]byte{{[32]byte(hash)}}, 0)
	if err := w.ObserveReveal(root, preimage); err != nil {
		t.Fatalf("ObserveReveal() error = %v", err)
	}
	if !w.Revealed(0, 0) {
		t.Error("expected position (0,0) to be marked revealed")
	}
}
