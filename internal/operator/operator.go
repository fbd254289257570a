// Package operator orchestrates the bridge's single operator role:
// deposit lifecycle, connector-tree construction and reveal,
// claim broadcasting, withdrawals, and CPFP fee-bumping. Grounded on
// the teacher's coordinator state-machine shape in
// internal/swap/coordinator_evm.go, generalized from a two-party swap
// to a single operator driving an N-verifier federation.
package operator

import (
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/btc-rollup-bridge/bridged/internal/actor"
	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/internal/merkle"
	"github.com/btc-rollup-bridge/bridged/internal/rpcclient"
	"github.com/btc-rollup-bridge/bridged/internal/script"
	"github.com/btc-rollup-bridge/bridged/internal/txfactory"
	"github.com/btc-rollup-bridge/bridged/pkg/helpers"
	"github.com/btc-rollup-bridge/bridged/pkg/logging"
)

const op = "operator"

// PendingDeposit tracks one deposit between presign collection and
// move-tx broadcast.
type PendingDeposit struct {
	ID          string
	StartUTXO   bridgetypes.OutPoint
	DepositUTXO bridgetypes.OutPoint
	Hash        script.Hash
	ReturnKey   script.XOnlyKey
	EVMAddr     bridgetypes.EVMAddress
	Presigns    []bridgetypes.DepositPresigns // one per verifier, in verifier-set order
}

// Operator holds the federation-facing state machine.
type Operator struct {
	actor       *actor.Actor
	verifierSet []script.XOnlyKey
	factory     *txfactory.Factory
	params      *chaincfg.Params
	rpc         rpcclient.Client
	log         *logging.Logger

	takeAfter    uint32
	connectorDep uint32

	mu                 sync.Mutex
	pending            map[string]*PendingDeposit
	currentDepositH    script.Hash
	deposits           *merkle.IncrementalMerkleTree
	withdrawals        *merkle.IncrementalMerkleTree
	connectorPreimages [][]bridgetypes.Preimage
	connectorHashes    [][][32]byte
	connectorUTXOs     map[merkle.LevelIndex]bridgetypes.OutPoint
	connectorTrees     map[merkle.LevelIndex]*script.Tree
	claimsThisPeriod   uint32
}

// New constructs an Operator. logger may be nil, in which case the
// package default logger is used.
func New(a *actor.Actor, verifierSet []script.XOnlyKey, factory *txfactory.Factory, params *chaincfg.Params, rpc rpcclient.Client, takeAfter, connectorDepth, merkleDepth uint32, logger *logging.Logger) (*Operator, error) {
	deposits, err := merkle.New(merkleDepth)
	if err != nil {
		return nil, err
	}
	withdrawals, err := merkle.New(merkleDepth)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Operator{
		actor:          a,
		verifierSet:    verifierSet,
		factory:        factory,
		params:         params,
		rpc:            rpc,
		log:            logger,
		takeAfter:      takeAfter,
		connectorDep:   connectorDepth,
		pending:        make(map[string]*PendingDeposit),
		deposits:       deposits,
		withdrawals:    withdrawals,
		connectorUTXOs: make(map[merkle.LevelIndex]bridgetypes.OutPoint),
		connectorTrees: make(map[merkle.LevelIndex]*script.Tree),
	}, nil
}

// DepositAddressFor builds the deposit address a user funds, using
// the operator's current rotating preimage hash.
func (o *Operator) DepositAddressFor(returnKey script.XOnlyKey, returnHeight int64) (string, error) {
	o.mu.Lock()
	hash := o.currentDepositH
	o.mu.Unlock()
	return o.factory.DepositAddress(hash, returnKey, returnHeight)
}

// CollectPresigns records one verifier's presigns for a pending
// deposit, keyed by verifier index (the caller's verifier-set
// position). Per §4.6 failure semantics, a length mismatch across
// verifiers is fatal for the deposit: the caller must check
// AllPresignsComplete before proceeding to move-tx broadcast.
func (o *Operator) CollectPresigns(startUTXO bridgetypes.OutPoint, verifierIdx int, presigns bridgetypes.DepositPresigns) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := startUTXO.Txid.String()
	pd, ok := o.pending[key]
	if !ok {
		pd = &PendingDeposit{ID: uuid.NewString(), StartUTXO: startUTXO, Presigns: make([]bridgetypes.DepositPresigns, len(o.verifierSet))}
		o.pending[key] = pd
	}
	if verifierIdx < 0 || verifierIdx >= len(pd.Presigns) {
		return bridgerr.Wrap(bridgerr.PresignMalformed, op, "verifier index %d out of range", verifierIdx)
	}
	pd.Presigns[verifierIdx] = presigns
	return nil
}

// AllPresignsComplete reports whether every verifier in the set has a
// non-zero presign recorded for startUTXO.
func (o *Operator) AllPresignsComplete(startUTXO bridgetypes.OutPoint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	pd, ok := o.pending[startUTXO.Txid.String()]
	if !ok {
		return false
	}
	for _, p := range pd.Presigns {
		if p == (bridgetypes.DepositPresigns{}) {
			return false
		}
	}
	return len(pd.Presigns) == len(o.verifierSet)
}

// BroadcastMoveTx assembles the move-tx witness from collected
// presigns plus the operator's own signature and current preimage,
// broadcasts it, appends the deposit txid to DepositsMerkleTree, and
// rotates the deposit preimage.
func (o *Operator) BroadcastMoveTx(startUTXO bridgetypes.OutPoint, depositUTXO bridgetypes.OutPoint, hash script.Hash, returnKey script.XOnlyKey, returnHeight int64, preimage bridgetypes.Preimage, amount int64, nextHash script.Hash) (*wire.MsgTx, error) {
	if !o.AllPresignsComplete(startUTXO) {
		return nil, bridgerr.Wrap(bridgerr.PresignMissing, op, "presigns incomplete for start utxo %s", startUTXO.Txid)
	}

	moveTx, _, err := o.factory.BuildMoveTx(depositUTXO, amount)
	if err != nil {
		return nil, err
	}
	depositTree, err := o.factory.DepositTree(hash, returnKey, returnHeight)
	if err != nil {
		return nil, err
	}
	depositPkScript, err := depositTree.PkScript()
	if err != nil {
		return nil, err
	}
	hashLeaf, err := script.NOfNWithHash(o.verifierSet, hash)
	if err != nil {
		return nil, err
	}
	hashLeafRaw, err := hashLeaf.Script()
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "serialize hash leaf: %w", err)
	}

	fetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		moveTx.TxIn[0].PreviousOutPoint: {Value: amount, PkScript: depositPkScript},
	})
	operatorSig, err := o.actor.SignTaprootScriptSpend(moveTx, fetcher, 0, hashLeafRaw)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	pd, ok := o.pending[startUTXO.Txid.String()]
	o.mu.Unlock()
	if !ok {
		return nil, bridgerr.Wrap(bridgerr.PresignMissing, op, "no pending deposit recorded for start utxo %s", startUTXO.Txid)
	}

	sigs := make([]bridgetypes.SchnorrSig, 0, len(pd.Presigns)+1)
	for _, p := range pd.Presigns {
		sigs = append(sigs, p.MoveSig)
	}
	sigs = append(sigs, operatorSig)
	stack := [][]byte{preimage[:]}
	stack = append(stack, actor.ReverseSignatures(sigs)...)

	controlBlock, err := depositTree.ControlBlock(0)
	if err != nil {
		return nil, err
	}
	moveTx.TxIn[0].Witness = actor.AssembleScriptSpendWitness(stack, hashLeafRaw, controlBlock)

	if err := o.rpc.SendRawTransaction(moveTx); err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "broadcast move tx: %w", err)
	}

	o.mu.Lock()
	if err := o.deposits.Add([32]byte(moveTx.TxHash())); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.currentDepositH = nextHash
	delete(o.pending, startUTXO.Txid.String())
	o.mu.Unlock()

	o.log.Info("broadcast move tx", "txid", moveTx.TxHash(), "amount_btc", helpers.SatoshisToBTC(uint64(amount)))
	return moveTx, nil
}

// BuildConnectorTree generates a fresh preimage/hash pair for every
// node of a depth-D connector tree, funds the root from parent, and
// broadcasts it. parentPkScript/parentValue describe the UTXO the
// operator is spending via its own key-path signature — typically a
// plain P2TR output the operator paid itself (see
// script.PlainKeyPkScript).
func (o *Operator) BuildConnectorTree(parent bridgetypes.OutPoint, parentValue int64, parentPkScript []byte) (*wire.MsgTx, error) {
	preimages, hashes, err := o.generateConnectorPreimages()
	if err != nil {
		return nil, err
	}
	rootHash := script.Hash(hashes[0][0])

	o.mu.Lock()
	depth := o.connectorDep
	o.mu.Unlock()

	tx, tree, err := o.factory.BuildConnectorRootTx(parent, rootHash, o.actor.PublicKey(), depth)
	if err != nil {
		return nil, err
	}
	fetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: {Value: parentValue, PkScript: parentPkScript},
	})
	sig, err := o.actor.SignTaprootKeypathSpend(tx, fetcher, 0)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = wire.TxWitness{sig[:]}

	if err := o.rpc.SendRawTransaction(tx); err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "broadcast connector root tx: %w", err)
	}

	root := merkle.LevelIndex{Level: 0, Index: 0}
	o.mu.Lock()
	o.connectorPreimages = preimages
	o.connectorHashes = hashes
	o.connectorUTXOs = map[merkle.LevelIndex]bridgetypes.OutPoint{root: {Txid: tx.TxHash(), Vout: 0}}
	o.connectorTrees = map[merkle.LevelIndex]*script.Tree{root: tree}
	o.mu.Unlock()

	o.log.Info("broadcast connector root tx", "txid", tx.TxHash(), "depth", depth)
	return tx, nil
}

// generateConnectorPreimages draws a fresh random preimage for every
// (level, index) of the configured connector-tree depth, levels 0
// (the root) through connectorDep (the leaves) inclusive.
func (o *Operator) generateConnectorPreimages() ([][]bridgetypes.Preimage, [][][32]byte, error) {
	o.mu.Lock()
	depth := o.connectorDep
	o.mu.Unlock()

	preimages := make([][]bridgetypes.Preimage, depth+1)
	hashes := make([][][32]byte, depth+1)
	for lvl := uint32(0); lvl <= depth; lvl++ {
		width := uint32(1) << lvl
		preimages[lvl] = make([]bridgetypes.Preimage, width)
		hashes[lvl] = make([][32]byte, width)
		for idx := uint32(0); idx < width; idx++ {
			raw, err := helpers.GenerateSecureRandom(32)
			if err != nil {
				return nil, nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "generate connector preimage (%d,%d): %w", lvl, idx, err)
			}
			var p bridgetypes.Preimage
			copy(p[:], raw)
			preimages[lvl][idx] = p
			hashes[lvl][idx] = [32]byte(p.Hash())
		}
	}
	return preimages, hashes, nil
}

// OnPeriodEnd computes reveal_indices(D, k) for this period's claim
// count, spends down every connector-tree interior node on the path
// to a revealed position via its timelock(operator,1) branch
// (splitting parent value (P - FEE) / 2 to each child), then publishes
// every revealed position's preimage in a single commit/reveal
// inscription pair funded by inscriptionFunding.
func (o *Operator) OnPeriodEnd(claimsThisPeriod uint32, inscriptionFunding bridgetypes.OutPoint, inscriptionFundingValue int64, inscriptionFundingPkScript []byte) ([]merkle.LevelIndex, error) {
	o.mu.Lock()
	depth := o.connectorDep
	o.claimsThisPeriod = claimsThisPeriod
	o.mu.Unlock()

	indices, err := merkle.RevealIndices(depth, claimsThisPeriod)
	if err != nil {
		return nil, err
	}
	o.log.Info("period end reveal plan", "claims", claimsThisPeriod, "nodes", len(indices))
	if len(indices) == 0 {
		return indices, nil
	}

	if err := o.splitToRevealTargets(indices); err != nil {
		return nil, err
	}
	if err := o.revealPreimages(indices, inscriptionFunding, inscriptionFundingValue, inscriptionFundingPkScript); err != nil {
		return nil, err
	}
	return indices, nil
}

// splitToRevealTargets walks the connector-tree interior nodes
// leading to each target in breadth-first (level-ascending) order,
// since a child cannot be spent before its parent exists on-chain,
// splitting any ancestor that has not already been spent this period.
func (o *Operator) splitToRevealTargets(targets []merkle.LevelIndex) error {
	ordered := make([]merkle.LevelIndex, len(targets))
	copy(ordered, targets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	for _, target := range ordered {
		for lvl := uint32(0); lvl < target.Level; lvl++ {
			ancestorIdx := target.Index >> (target.Level - lvl)
			ancestor := merkle.LevelIndex{Level: lvl, Index: ancestorIdx}
			childLeft := merkle.LevelIndex{Level: lvl + 1, Index: 2 * ancestorIdx}

			o.mu.Lock()
			_, alreadySplit := o.connectorUTXOs[childLeft]
			o.mu.Unlock()
			if alreadySplit {
				continue
			}
			if err := o.splitConnectorNode(ancestor); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitConnectorNode spends node's connector UTXO via its
// timelock(operator,1) branch, producing two children funded at
// (parentValue - FEE) / 2 each.
func (o *Operator) splitConnectorNode(node merkle.LevelIndex) error {
	o.mu.Lock()
	parentUTXO, ok := o.connectorUTXOs[node]
	parentTree := o.connectorTrees[node]
	depth := o.connectorDep
	var leftHash, rightHash script.Hash
	if int(node.Level)+1 < len(o.connectorHashes) {
		leftHash = script.Hash(o.connectorHashes[node.Level+1][2*node.Index])
		rightHash = script.Hash(o.connectorHashes[node.Level+1][2*node.Index+1])
	}
	o.mu.Unlock()
	if !ok || parentTree == nil {
		return bridgerr.Wrap(bridgerr.ConsensusError, op, "connector node (%d,%d) has no recorded utxo", node.Level, node.Index)
	}

	parentValue := o.factory.ConnectorValue(depth - node.Level)
	tx, leftTree, rightTree, err := o.factory.BuildConnectorChildTx(parentUTXO, parentValue, leftHash, rightHash, o.actor.PublicKey())
	if err != nil {
		return err
	}

	timeoutLeaf, err := script.Timelock(o.actor.PublicKey(), 1)
	if err != nil {
		return err
	}
	timeoutLeafRaw, err := timeoutLeaf.Script()
	if err != nil {
		return bridgerr.Wrap(bridgerr.ScriptBuildError, op, "serialize connector timelock leaf: %w", err)
	}
	parentScript, err := parentTree.PkScript()
	if err != nil {
		return err
	}
	fetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: {Value: parentValue, PkScript: parentScript},
	})
	sig, err := o.actor.SignTaprootScriptSpend(tx, fetcher, 0, timeoutLeafRaw)
	if err != nil {
		return err
	}
	// leaf 0 is the n_of_n_with_hash branch, leaf 1 is the timelock
	// branch the operator spends here — see connectorNodeTree.
	controlBlock, err := parentTree.ControlBlock(1)
	if err != nil {
		return err
	}
	tx.TxIn[0].Witness = actor.AssembleScriptSpendWitness([][]byte{sig[:]}, timeoutLeafRaw, controlBlock)

	if err := o.rpc.SendRawTransaction(tx); err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "broadcast connector split tx: %w", err)
	}

	left := merkle.LevelIndex{Level: node.Level + 1, Index: 2 * node.Index}
	right := merkle.LevelIndex{Level: node.Level + 1, Index: 2*node.Index + 1}
	o.mu.Lock()
	o.connectorUTXOs[left] = bridgetypes.OutPoint{Txid: tx.TxHash(), Vout: 0}
	o.connectorUTXOs[right] = bridgetypes.OutPoint{Txid: tx.TxHash(), Vout: 1}
	o.connectorTrees[left] = leftTree
	o.connectorTrees[right] = rightTree
	o.mu.Unlock()

	o.log.Info("spent connector interior node", "level", node.Level, "index", node.Index, "txid", tx.TxHash())
	return nil
}

// revealPreimages publishes every target position's preimage in a
// single inscription commit/reveal pair, funded from funding.
func (o *Operator) revealPreimages(targets []merkle.LevelIndex, funding bridgetypes.OutPoint, fundingValue int64, fundingPkScript []byte) error {
	o.mu.Lock()
	chunks := make([][32]byte, len(targets))
	for i, t := range targets {
		chunks[i] = [32]byte(o.connectorPreimages[t.Level][t.Index])
	}
	o.mu.Unlock()

	commitTx, commitTree, err := o.factory.BuildInscriptionCommitTx(funding, o.actor.PublicKey(), chunks)
	if err != nil {
		return err
	}
	commitFetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		commitTx.TxIn[0].PreviousOutPoint: {Value: fundingValue, PkScript: fundingPkScript},
	})
	commitSig, err := o.actor.SignTaprootKeypathSpend(commitTx, commitFetcher, 0)
	if err != nil {
		return err
	}
	commitTx.TxIn[0].Witness = wire.TxWitness{commitSig[:]}
	if err := o.rpc.SendRawTransaction(commitTx); err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "broadcast inscription commit tx: %w", err)
	}

	inscriptionLeaf, err := script.Inscription(o.actor.PublicKey(), chunks)
	if err != nil {
		return err
	}
	inscriptionLeafRaw, err := inscriptionLeaf.Script()
	if err != nil {
		return bridgerr.Wrap(bridgerr.ScriptBuildError, op, "serialize inscription leaf: %w", err)
	}
	commitScript, err := commitTree.PkScript()
	if err != nil {
		return err
	}
	payTo, err := script.AnyoneCanSpendTxOut()
	if err != nil {
		return err
	}
	commitUTXO := bridgetypes.OutPoint{Txid: commitTx.TxHash(), Vout: 0}
	revealTx := o.factory.BuildInscriptionRevealTx(commitUTXO, payTo.PkScript, payTo.Value)
	revealFetcher := txfactory.NewPrevOutputFetcher(map[wire.OutPoint]*wire.TxOut{
		revealTx.TxIn[0].PreviousOutPoint: {Value: 3 * o.factory.DustValue, PkScript: commitScript},
	})
	revealSig, err := o.actor.SignTaprootScriptSpend(revealTx, revealFetcher, 0, inscriptionLeafRaw)
	if err != nil {
		return err
	}
	controlBlock, err := commitTree.ControlBlock(0)
	if err != nil {
		return err
	}
	revealTx.TxIn[0].Witness = actor.AssembleScriptSpendWitness([][]byte{revealSig[:]}, inscriptionLeafRaw, controlBlock)
	if err := o.rpc.SendRawTransaction(revealTx); err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "broadcast inscription reveal tx: %w", err)
	}

	o.log.Info("revealed connector preimages", "count", len(targets), "commit_txid", commitTx.TxHash(), "reveal_txid", revealTx.TxHash())
	return nil
}

// BuildCPFPChild produces an anchor-spending child that pays the fee
// for a parent move-tx via an additional key-path input, using the
// anyone-can-spend dust output the move-tx leaves for exactly this
// purpose.
func (o *Operator) BuildCPFPChild(parentTxid [32]byte, anchorVout uint32, feeInput bridgetypes.OutPoint, feeValue int64, payTo []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	txid, err := chainhash.NewHash(parentTxid[:])
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.ScriptBuildError, op, "cpfp parent txid: %w", err)
	}
	anchorWitness := wire.TxWitness{[]byte{txscript.OP_TRUE}}
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: *txid, Index: anchorVout}, Witness: anchorWitness})
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: feeInput.Txid, Index: feeInput.Vout}})
	tx.AddTxOut(&wire.TxOut{Value: feeValue, PkScript: payTo})
	return tx, nil
}

// OnChallengeReceived is invoked when a verifier's watcher reports a
// protocol violation on the connector tree (§4.5's invariant). It
// logs the violation at error level and takes no other action: no
// transaction is broadcast and nothing is retried.
func (o *Operator) OnChallengeReceived(violation error) {
	o.log.Error("challenge received", "err", violation)
}

// HandleWithdrawal pays a rollup withdraw event's P2TR address
// immediately and appends the address's x-only key to
// WithdrawalsMerkleTree.
func (o *Operator) HandleWithdrawal(addr bridgetypes.EVMAddress, xOnlyKey script.XOnlyKey, payTo []byte, value int64) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: payTo})
	if err := o.rpc.SendRawTransaction(tx); err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "broadcast withdrawal payout: %w", err)
	}
	o.mu.Lock()
	err := o.withdrawals.Add([32]byte(xOnlyKey))
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return tx, nil
}
