package actor

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
)

func TestEVMAddressIsDeterministic(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	addr1 := a.EVMAddress()
	addr2 := a.EVMAddress()
	if addr1 != addr2 {
		t.Error("expected EVMAddress to be deterministic for a fixed keypair")
	}
}

func TestSignDepositRecoveryIDIsEthereumRange(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var depositTxid [32]byte
	copy(depositTxid[:], "deposit-txid-32-bytes-xxxxxxxxxx")
	var hash script.Hash
	copy(hash[:], "preimage-hash-32-bytes-xxxxxxxxx")

	sig, err := a.SignDeposit(depositTxid, a.EVMAddress(), hash)
	if err != nil {
		t.Fatalf("SignDeposit() error = %v", err)
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("recovery id = %d, want 27 or 28", v)
	}
}

func TestSignTaprootScriptSpendVerifies(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	verifiers := []script.XOnlyKey{a.PublicKey()}
	f := txfactory.New(verifiers, &chaincfg.RegressionNetParams, 546, 1000)

	tx, tree, err := f.BuildMoveTx(bridgetypes.OutPoint{}, 100_000_000)
	if err != nil {
		t.Fatalf("BuildMoveTx() error = %v", err)
	}
	pkScript, err := tree.PkScript()
	if err != nil {
		t.Fatalf("PkScript() error = %v", err)
	}

	leaf, err := script.NOfN(verifiers)
	if err != nil {
		t.Fatalf("NOfN() error = %v", err)
	}
	rawLeaf, err := leaf.Script()
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	fetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: {Value: 100_000_000, PkScript: pkScript},
	})

	sig, err := a.SignTaprootScriptSpend(tx, fetcher, 0, rawLeaf)
	if err != nil {
		t.Fatalf("SignTaprootScriptSpend() error = %v", err)
	}
	sighash, err := txfactory.TapscriptSighash(tx, fetcher, 0, rawLeaf)
	if err != nil {
		t.Fatalf("TapscriptSighash() error = %v", err)
	}
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		t.Fatalf("ParseSignature() error = %v", err)
	}
	if !parsed.Verify(sighash, a.priv.PubKey()) {
		t.Error("expected signature to verify against the actor's own public key")
	}
}

func TestReverseSignaturesOrdering(t *testing.T) {
	var s1, s2, s3 bridgetypes.SchnorrSig
	s1[0], s2[0], s3[0] = 1, 2, 3
	reversed := ReverseSignatures([]bridgetypes.SchnorrSig{s1, s2, s3})
	if len(reversed) != 3 {
		t.Fatalf("expected 3 signatures, got %d", len(reversed))
	}
	if reversed[0][0] != 3 || reversed[1][0] != 2 || reversed[2][0] != 1 {
		t.Errorf("unexpected order: %v", reversed)
	}
}
