package txfactory

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/script"
)

func testVerifiers(t *testing.T, n int) []script.XOnlyKey {
	t.Helper()
	keys := make([]script.XOnlyKey, n)
	for i := range keys {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("NewPrivateKey() error = %v", err)
		}
		keys[i] = script.FromPublicKey(priv.PubKey())
	}
	return keys
}

func testOutPoint(t *testing.T) bridgetypes.OutPoint {
	t.Helper()
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	hash, err := chainhash.NewHash(raw[:])
	if err != nil {
		t.Fatalf("NewHash() error = %v", err)
	}
	return bridgetypes.OutPoint{Txid: *hash, Vout: 0}
}

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	return New(testVerifiers(t, 3), &chaincfg.RegressionNetParams, 546, 1000)
}

func TestDepositAddressIsTaproot(t *testing.T) {
	f := newTestFactory(t)
	returnKey := testVerifiers(t, 1)[0]
	var hash script.Hash
	copy(hash[:], "deposit-hash-32-bytes-xxxxxxxxxx")

	addr, err := f.DepositAddress(hash, returnKey, 800_000)
	if err != nil {
		t.Fatalf("DepositAddress() error = %v", err)
	}
	if len(addr) == 0 {
		t.Fatal("expected non-empty address")
	}
}

func TestBuildMoveTxConservesValue(t *testing.T) {
	f := newTestFactory(t)
	const bridgeAmount = 100_000_000

	tx, tree, err := f.BuildMoveTx(testOutPoint(t), bridgeAmount)
	if err != nil {
		t.Fatalf("BuildMoveTx() error = %v", err)
	}
	if len(tx.TxOut) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(tx.TxOut))
	}
	pooled, anchor := tx.TxOut[0], tx.TxOut[1]
	if got, want := pooled.Value, int64(bridgeAmount-f.DustValue-f.FeeValue); got != want {
		t.Errorf("pooled output value = %d, want %d", got, want)
	}
	if anchor.Value <= 0 {
		t.Errorf("anchor output value = %d, want > 0", anchor.Value)
	}
	if tree == nil {
		t.Fatal("expected pooled tree")
	}
}

func TestBuildClaimTxPaysBridgeAmountMinusFees(t *testing.T) {
	f := newTestFactory(t)
	const bridgeAmount = 100_000_000
	payTo := []byte{0x51}

	tx, err := f.BuildClaimTx(testOutPoint(t), testOutPoint(t), 200, bridgeAmount, payTo)
	if err != nil {
		t.Fatalf("BuildClaimTx() error = %v", err)
	}
	if len(tx.TxIn) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(tx.TxIn))
	}
	if got := tx.TxIn[1].Sequence; got != 200 {
		t.Errorf("connector input sequence = %d, want 200", got)
	}
	want := int64(bridgeAmount + f.DustValue - 2*f.FeeValue)
	if got := tx.TxOut[0].Value; got != want {
		t.Errorf("claim output value = %d, want %d", got, want)
	}
}

func TestConnectorValueDoublesPerDepth(t *testing.T) {
	f := newTestFactory(t)
	leaf := f.DustValue + f.FeeValue
	cases := []struct {
		depth uint32
		want  int64
	}{
		{0, leaf},
		{1, 2 * leaf},
		{4, 16 * leaf},
	}
	for _, tc := range cases {
		if got := f.ConnectorValue(tc.depth); got != tc.want {
			t.Errorf("ConnectorValue(%d) = %d, want %d", tc.depth, got, tc.want)
		}
	}
}

func TestBuildConnectorChildTxSplitsValueInHalf(t *testing.T) {
	f := newTestFactory(t)
	operator := testVerifiers(t, 1)[0]
	var leftHash, rightHash script.Hash
	copy(leftHash[:], "left-hash-32-bytes-xxxxxxxxxxxxx")
	copy(rightHash[:], "right-hash-32-bytes-xxxxxxxxxxxx")

	const parentValue = 24760
	tx, leftTree, rightTree, err := f.BuildConnectorChildTx(testOutPoint(t), parentValue, leftHash, rightHash, operator)
	if err != nil {
		t.Fatalf("BuildConnectorChildTx() error = %v", err)
	}
	if tx.TxIn[0].Sequence != 1 {
		t.Errorf("expected sequence 1 on connector interior spend, got %d", tx.TxIn[0].Sequence)
	}
	want := (int64(parentValue) - f.FeeValue) / 2
	if tx.TxOut[0].Value != want || tx.TxOut[1].Value != want {
		t.Errorf("child values = (%d, %d), want (%d, %d)", tx.TxOut[0].Value, tx.TxOut[1].Value, want, want)
	}
	if leftTree == nil || rightTree == nil {
		t.Fatal("expected both child trees")
	}
}

func TestBuildInscriptionCommitAndRevealRoundTrip(t *testing.T) {
	f := newTestFactory(t)
	pk := testVerifiers(t, 1)[0]
	var chunk [32]byte
	copy(chunk[:], "preimage-chunk-xxxxxxxxxxxxxxxxx")

	commitTx, tree, err := f.BuildInscriptionCommitTx(testOutPoint(t), pk, [][32]byte{chunk})
	if err != nil {
		t.Fatalf("BuildInscriptionCommitTx() error = %v", err)
	}
	if got, want := commitTx.TxOut[0].Value, 3*f.DustValue; got != want {
		t.Errorf("commit output value = %d, want %d", got, want)
	}

	cb, err := tree.ControlBlock(0)
	if err != nil {
		t.Fatalf("ControlBlock() error = %v", err)
	}
	if len(cb) == 0 {
		t.Fatal("expected non-empty control block")
	}

	revealTx := f.BuildInscriptionRevealTx(testOutPoint(t), []byte{0x51}, f.DustValue)
	if len(revealTx.TxOut) != 1 || revealTx.TxOut[0].Value != f.DustValue {
		t.Fatal("expected single dust-valued reveal output")
	}
}

func TestKeypathAndTapscriptSighashDiffer(t *testing.T) {
	f := newTestFactory(t)
	tx, tree, err := f.BuildMoveTx(testOutPoint(t), 100_000_000)
	if err != nil {
		t.Fatalf("BuildMoveTx() error = %v", err)
	}
	pkScript, err := tree.PkScript()
	if err != nil {
		t.Fatalf("PkScript() error = %v", err)
	}
	fetcher := NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: {Value: 100_000_000, PkScript: pkScript},
	})

	keypathHash, err := KeypathSighash(tx, fetcher, 0)
	if err != nil {
		t.Fatalf("KeypathSighash() error = %v", err)
	}
	scriptHash, err := TapscriptSighash(tx, fetcher, 0, tree.LeafScript(0))
	if err != nil {
		t.Fatalf("TapscriptSighash() error = %v", err)
	}
	if string(keypathHash) == string(scriptHash) {
		t.Error("expected keypath and tapscript sighashes to differ")
	}
}
