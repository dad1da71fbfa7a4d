// Package punkscript constructs the Taproot script trees that gate punk
// VTXO spends. Every punk output commits to the same three-leaf tree over
// an unspendable internal key, so the key path is provably unusable and
// every spend must reveal one of the transfer, buy or list scripts.
package punkscript

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// TransferLeafIndex is the position of the transfer leaf within the
	// assembled script tree.
	TransferLeafIndex = 0

	// BuyLeafIndex is the position of the buy leaf within the assembled
	// script tree.
	BuyLeafIndex = 1

	// ListLeafIndex is the position of the list leaf within the
	// assembled script tree.
	ListLeafIndex = 2
)

var (
	// NUMSBytes is the x-only NUMS point used as the internal key of
	// every punk output. Its discrete log is unknown, which forces all
	// spends through the script path.
	NUMSBytes, _ = hex.DecodeString(
		"50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9a" +
			"ce803ac0",
	)

	// NUMSPubKey is the parsed form of NUMSBytes.
	NUMSPubKey, _ = schnorr.ParsePubKey(NUMSBytes)
)

// ScriptTree bundles everything needed to construct or spend a punk
// output: the internal key, the assembled tapscript tree, its merkle root
// and the tweaked taproot output key.
type ScriptTree struct {
	// InternalKey is the unspendable NUMS internal key.
	InternalKey *btcec.PublicKey

	// TaprootKey is the tweaked taproot output key.
	TaprootKey *btcec.PublicKey

	// TapscriptTree is the assembled three-leaf script tree.
	TapscriptTree *txscript.IndexedTapScriptTree

	// TapscriptRoot is the merkle root of the script tree.
	TapscriptRoot []byte
}

// TransferLeafScript builds the transfer leaf:
//
//	<owner> OP_CHECKSIGVERIFY <server> OP_CHECKSIG
//
// Spending it requires both the owner's and the server's Schnorr
// signatures.
func TransferLeafScript(ownerKey, serverKey *btcec.PublicKey) ([]byte,
	error) {

	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(ownerKey)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddData(schnorr.SerializePubKey(serverKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// BuyLeafScript builds the buy leaf:
//
//	<server> OP_CHECKSIG
//
// Only the server signs here; buyer and seller coherence is enforced by
// the transaction template the server is willing to co-sign.
func BuyLeafScript(serverKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(serverKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ListLeafScript builds the list leaf, which carries the same signing
// requirements as the transfer leaf.
func ListLeafScript(ownerKey, serverKey *btcec.PublicKey) ([]byte, error) {
	return TransferLeafScript(ownerKey, serverKey)
}

// NewPunkScriptTree assembles the three-leaf punk script tree for the
// given owner and server keys, then derives the taproot output key over
// the NUMS internal key. The result is a pure function of the two keys.
func NewPunkScriptTree(ownerKey, serverKey *btcec.PublicKey) (*ScriptTree,
	error) {

	transferScript, err := TransferLeafScript(ownerKey, serverKey)
	if err != nil {
		return nil, fmt.Errorf("unable to build transfer leaf: %w",
			err)
	}
	buyScript, err := BuyLeafScript(serverKey)
	if err != nil {
		return nil, fmt.Errorf("unable to build buy leaf: %w", err)
	}
	listScript, err := ListLeafScript(ownerKey, serverKey)
	if err != nil {
		return nil, fmt.Errorf("unable to build list leaf: %w", err)
	}

	tapscriptTree := txscript.AssembleTaprootScriptTree(
		txscript.NewBaseTapLeaf(transferScript),
		txscript.NewBaseTapLeaf(buyScript),
		txscript.NewBaseTapLeaf(listScript),
	)
	tapScriptRoot := tapscriptTree.RootNode.TapHash()

	taprootKey := txscript.ComputeTaprootOutputKey(
		NUMSPubKey, tapScriptRoot[:],
	)

	return &ScriptTree{
		InternalKey:   NUMSPubKey,
		TaprootKey:    taprootKey,
		TapscriptTree: tapscriptTree,
		TapscriptRoot: tapScriptRoot[:],
	}, nil
}

// LeafScript returns the raw script of the leaf at the given index.
func (s *ScriptTree) LeafScript(leafIndex int) ([]byte, error) {
	leaves := s.TapscriptTree.LeafMerkleProofs
	if leafIndex < 0 || leafIndex >= len(leaves) {
		return nil, fmt.Errorf("punkscript: no leaf at index %d",
			leafIndex)
	}

	return leaves[leafIndex].TapLeaf.Script, nil
}

// ControlBlock returns the serialized control block that proves inclusion
// of the leaf at the given index in the tree.
func (s *ScriptTree) ControlBlock(leafIndex int) ([]byte, error) {
	leaves := s.TapscriptTree.LeafMerkleProofs
	if leafIndex < 0 || leafIndex >= len(leaves) {
		return nil, fmt.Errorf("punkscript: no leaf at index %d",
			leafIndex)
	}

	ctrlBlock := leaves[leafIndex].ToControlBlock(s.InternalKey)
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize control "+
			"block: %w", err)
	}

	return ctrlBlockBytes, nil
}

// LeafWitness assembles the witness stack for a script path spend of the
// leaf at the given index: the signatures in script order, then the leaf
// script, then the control block.
func (s *ScriptTree) LeafWitness(leafIndex int,
	sigs ...[]byte) (wire.TxWitness, error) {

	leafScript, err := s.LeafScript(leafIndex)
	if err != nil {
		return nil, err
	}
	ctrlBlockBytes, err := s.ControlBlock(leafIndex)
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, 0, len(sigs)+2)
	witness = append(witness, sigs...)
	witness = append(witness, leafScript, ctrlBlockBytes)

	return witness, nil
}
