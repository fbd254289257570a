// Package verifier implements a federation member's presign policy
// and connector-tree watcher. A verifier never broadcasts; it signs
// deterministically-rebuilt transactions and remembers what it signed.
package verifier

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/btc-rollup-bridge/bridged/internal/actor"
	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/merkle"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
)

const op = "verifier"

// DepositRequest is what a verifier is asked to presign.
type DepositRequest struct {
	StartUTXO       bridgetypes.OutPoint
	Amount          int64
	Index           uint32
	Hash            script.Hash
	ReturnKey       script.XOnlyKey
	EVMAddr         bridgetypes.EVMAddress
	VerifierSet     []script.XOnlyKey
	OperatorAddress script.XOnlyKey
}

// Verifier holds one federation member's signing identity plus its
// view of deposits it has presigned and the connector tree it watches.
type Verifier struct {
	actor     *actor.Actor
	factory   *txfactory.Factory
	params    *chaincfg.Params
	bridge    int64
	takeAfter uint32

	mu       sync.Mutex
	presigns map[bridgetypes.OutPoint]bridgetypes.DepositPresigns

	watcher *ConnectorWatcher
}

// New constructs a Verifier for one federation member.
func New(a *actor.Actor, factory *txfactory.Factory, params *chaincfg.Params, bridgeAmount int64, takeAfter uint32) *Verifier {
	return &Verifier{
		actor:     a,
		factory:   factory,
		params:    params,
		bridge:    bridgeAmount,
		takeAfter: takeAfter,
		presigns:  make(map[bridgetypes.OutPoint]bridgetypes.DepositPresigns),
		watcher:   NewConnectorWatcher(),
	}
}

// Presign validates a deposit request and, if it checks out, produces
// the rollup-credit, move-tx, and claim-tx signatures for it.
func (v *Verifier) Presign(req DepositRequest, depositUTXO bridgetypes.OutPoint, returnHeight int64) (bridgetypes.DepositPresigns, error) {
	if req.Amount != v.bridge {
		return bridgetypes.DepositPresigns{}, bridgerr.Wrap(bridgerr.InvalidDeposit, op, "amount %d does not match bridge amount %d", req.Amount, v.bridge)
	}

	wantAddr, err := v.factory.DepositAddress(req.Hash, req.ReturnKey, returnHeight)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}

	moveTx, pooledTree, err := v.factory.BuildMoveTx(depositUTXO, req.Amount)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}

	depositTree, err := v.factory.DepositTree(req.Hash, req.ReturnKey, returnHeight)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	depositAddr, err := depositTree.Address(v.params)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	if depositAddr != wantAddr {
		return bridgetypes.DepositPresigns{}, bridgerr.Wrap(bridgerr.InvalidDeposit, op, "rebuilt deposit address %s does not match request", depositAddr)
	}

	hashLeaf, err := script.NOfNWithHash(req.VerifierSet, req.Hash)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	hashLeafRaw, err := hashLeaf.Script()
	if err != nil {
		return bridgetypes.DepositPresigns{}, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "serialize hash leaf: %w", err)
	}

	depositPkScript, err := depositTree.PkScript()
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	moveFetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		moveTx.TxIn[0].PreviousOutPoint: {Value: req.Amount, PkScript: depositPkScript},
	})
	moveSig, err := v.actor.SignTaprootScriptSpend(moveTx, moveFetcher, 0, hashLeafRaw)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}

	pooledScript, err := pooledTree.PkScript()
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	connectorTree, err := v.factory.ConnectorRootTree(req.Hash, req.OperatorAddress)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	connectorScript, err := connectorTree.PkScript()
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	claimPayTo, err := connectorTree.PkScript()
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	claimTx, err := v.factory.BuildClaimTx(
		bridgetypes.OutPoint{},
		bridgetypes.OutPoint{},
		v.takeAfter, req.Amount, claimPayTo,
	)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	pooledLeaf, err := script.NOfN(req.VerifierSet)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}
	pooledLeafRaw, err := pooledLeaf.Script()
	if err != nil {
		return bridgetypes.DepositPresigns{}, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "serialize pooled leaf: %w", err)
	}
	claimFetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		claimTx.TxIn[0].PreviousOutPoint: {Value: req.Amount - v.factory.DustValue - v.factory.FeeValue, PkScript: pooledScript},
		claimTx.TxIn[1].PreviousOutPoint: {Value: v.factory.ConnectorValue(0), PkScript: connectorScript},
	})
	claimSig, err := v.actor.SignTaprootScriptSpend(claimTx, claimFetcher, 0, pooledLeafRaw)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}

	rollupSig, err := v.actor.SignDeposit([32]byte(depositUTXO.Txid), req.EVMAddr, req.Hash)
	if err != nil {
		return bridgetypes.DepositPresigns{}, err
	}

	presigns := bridgetypes.DepositPresigns{RollupSig: rollupSig, MoveSig: moveSig, ClaimSig: claimSig}

	v.mu.Lock()
	v.presigns[req.StartUTXO] = presigns
	v.mu.Unlock()

	return presigns, nil
}

// PresignFor returns the recorded presigns for a start UTXO, if any.
func (v *Verifier) PresignFor(startUTXO bridgetypes.OutPoint) (bridgetypes.DepositPresigns, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.presigns[startUTXO]
	return p, ok
}

// Watcher returns the verifier's connector-tree watcher.
func (v *Verifier) Watcher() *ConnectorWatcher { return v.watcher }

// ConnectorWatcher tracks one announced connector tree: which UTXO
// backs which (level, index), and which preimages have been revealed
// by an on-chain spend.
type ConnectorWatcher struct {
	mu sync.Mutex

	depth  uint32
	hashes [][][32]byte

	position map[bridgetypes.OutPoint]merkle.LevelIndex
	revealed map[merkle.LevelIndex]bridgetypes.Preimage
}

// NewConnectorWatcher constructs an empty watcher; Announce attaches
// it to a specific connector tree.
func NewConnectorWatcher() *ConnectorWatcher {
	return &ConnectorWatcher{
		position: make(map[bridgetypes.OutPoint]merkle.LevelIndex),
		revealed: make(map[merkle.LevelIndex]bridgetypes.Preimage),
	}
}

// Announce registers a new connector tree's root UTXO, the announced
// per-level hash table, and its depth. Only the root's position (0,0)
// is recorded here; the tree is not enumerated, and every other UTXO's
// position is added through RegisterChild.
func (w *ConnectorWatcher) Announce(root bridgetypes.OutPoint, hashes [][][32]byte, depth uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.depth = depth
	w.hashes = hashes
	w.position = map[bridgetypes.OutPoint]merkle.LevelIndex{root: {Level: 0, Index: 0}}
	w.revealed = make(map[merkle.LevelIndex]bridgetypes.Preimage)
}

// RegisterChild records a UTXO created by spending a known interior
// node, assigning it its (level, index) in the tree.
func (w *ConnectorWatcher) RegisterChild(parent bridgetypes.OutPoint, child bridgetypes.OutPoint, isLeft bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos, ok := w.position[parent]
	if !ok {
		return bridgerr.Wrap(bridgerr.ProtocolViolation, op, "child registered for unknown parent utxo")
	}
	childIdx := 2 * pos.Index
	if !isLeft {
		childIdx++
	}
	w.position[child] = merkle.LevelIndex{Level: pos.Level + 1, Index: childIdx}
	return nil
}

// ObserveReveal records a preimage recovered from a spending tx's
// witness for a tracked UTXO, asserting it hashes to the announced
// value at that position. A mismatch is a protocol violation: the
// federation's connector tree commitment has been broken.
func (w *ConnectorWatcher) ObserveReveal(spent bridgetypes.OutPoint, preimage bridgetypes.Preimage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos, ok := w.position[spent]
	if !ok {
		return bridgerr.Wrap(bridgerr.ProtocolViolation, op, "reveal observed for untracked utxo")
	}
	if int(pos.Level) >= len(w.hashes) || int(pos.Index) >= len(w.hashes[pos.Level]) {
		return bridgerr.Wrap(bridgerr.TreeIndexOutOfRange, op, "position (%d,%d) outside announced tree", pos.Level, pos.Index)
	}
	want := w.hashes[pos.Level][pos.Index]
	got := preimage.Hash()
	if [32]byte(got) != want {
		return bridgerr.Wrap(bridgerr.ProtocolViolation, op, "preimage at (%d,%d) hashes to %x, want %x", pos.Level, pos.Index, got, want)
	}
	w.revealed[pos] = preimage
	return nil
}

// Revealed reports whether a (level, index) position's preimage has
// been observed.
func (w *ConnectorWatcher) Revealed(level, index uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.revealed[merkle.LevelIndex{Level: level, Index: index}]
	return ok
}
