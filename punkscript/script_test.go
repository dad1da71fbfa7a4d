package punkscript

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// testKey derives a deterministic x-only public key for test fixtures.
func testKey(t *testing.T, b byte) *btcec.PublicKey {
	t.Helper()

	var keyBytes [32]byte
	keyBytes[0] = b
	keyBytes[31] = 1

	_, pub := btcec.PrivKeyFromBytes(keyBytes[:])

	xOnly, err := schnorr.ParsePubKey(schnorr.SerializePubKey(pub))
	require.NoError(t, err)

	return xOnly
}

// TestTransferLeafScript pins the exact byte layout of the transfer leaf.
func TestTransferLeafScript(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)

	script, err := TransferLeafScript(ownerKey, serverKey)
	require.NoError(t, err)

	// <32-byte owner> OP_CHECKSIGVERIFY <32-byte server> OP_CHECKSIG
	require.Len(t, script, 68)
	require.EqualValues(t, txscript.OP_DATA_32, script[0])
	require.Equal(t, schnorr.SerializePubKey(ownerKey), script[1:33])
	require.EqualValues(t, txscript.OP_CHECKSIGVERIFY, script[33])
	require.EqualValues(t, txscript.OP_DATA_32, script[34])
	require.Equal(t, schnorr.SerializePubKey(serverKey), script[35:67])
	require.EqualValues(t, txscript.OP_CHECKSIG, script[67])
}

// TestBuyLeafScript pins the exact byte layout of the buy leaf.
func TestBuyLeafScript(t *testing.T) {
	t.Parallel()

	serverKey := testKey(t, 0x02)

	script, err := BuyLeafScript(serverKey)
	require.NoError(t, err)

	// <32-byte server> OP_CHECKSIG
	require.Len(t, script, 34)
	require.EqualValues(t, txscript.OP_DATA_32, script[0])
	require.Equal(t, schnorr.SerializePubKey(serverKey), script[1:33])
	require.EqualValues(t, txscript.OP_CHECKSIG, script[33])
}

// TestListLeafScript checks that the list leaf carries the same signing
// requirements as the transfer leaf.
func TestListLeafScript(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)

	transferScript, err := TransferLeafScript(ownerKey, serverKey)
	require.NoError(t, err)

	listScript, err := ListLeafScript(ownerKey, serverKey)
	require.NoError(t, err)

	require.Equal(t, transferScript, listScript)
}

// TestNewPunkScriptTree assembles the full tree and checks its shape, the
// NUMS internal key and the determinism of the derived taproot key.
func TestNewPunkScriptTree(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)

	tree, err := NewPunkScriptTree(ownerKey, serverKey)
	require.NoError(t, err)

	require.Equal(t, NUMSPubKey, tree.InternalKey)
	require.Len(t, tree.TapscriptTree.LeafMerkleProofs, 3)
	require.Len(t, tree.TapscriptRoot, 32)

	// Leaves appear in the documented order.
	transferScript, err := TransferLeafScript(ownerKey, serverKey)
	require.NoError(t, err)
	buyScript, err := BuyLeafScript(serverKey)
	require.NoError(t, err)

	leaf, err := tree.LeafScript(TransferLeafIndex)
	require.NoError(t, err)
	require.Equal(t, transferScript, leaf)

	leaf, err = tree.LeafScript(BuyLeafIndex)
	require.NoError(t, err)
	require.Equal(t, buyScript, leaf)

	leaf, err = tree.LeafScript(ListLeafIndex)
	require.NoError(t, err)
	require.Equal(t, transferScript, leaf)

	// The taproot key is the NUMS key tweaked by the merkle root.
	expectedKey := txscript.ComputeTaprootOutputKey(
		NUMSPubKey, tree.TapscriptRoot,
	)
	require.Equal(
		t, schnorr.SerializePubKey(expectedKey),
		schnorr.SerializePubKey(tree.TaprootKey),
	)

	// Rebuilding with the same keys gives the identical output key.
	again, err := NewPunkScriptTree(ownerKey, serverKey)
	require.NoError(t, err)
	require.Equal(
		t, schnorr.SerializePubKey(tree.TaprootKey),
		schnorr.SerializePubKey(again.TaprootKey),
	)

	// A different owner key changes the output key.
	other, err := NewPunkScriptTree(testKey(t, 0x03), serverKey)
	require.NoError(t, err)
	require.NotEqual(
		t, schnorr.SerializePubKey(tree.TaprootKey),
		schnorr.SerializePubKey(other.TaprootKey),
	)
}

// TestControlBlocks parses every leaf's control block and verifies its
// inclusion proof leads back to the committed merkle root.
func TestControlBlocks(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)

	tree, err := NewPunkScriptTree(ownerKey, serverKey)
	require.NoError(t, err)

	for _, leafIndex := range []int{
		TransferLeafIndex, BuyLeafIndex, ListLeafIndex,
	} {
		ctrlBlockBytes, err := tree.ControlBlock(leafIndex)
		require.NoError(t, err)

		ctrlBlock, err := txscript.ParseControlBlock(ctrlBlockBytes)
		require.NoError(t, err)

		require.Equal(
			t, schnorr.SerializePubKey(NUMSPubKey),
			schnorr.SerializePubKey(ctrlBlock.InternalKey),
		)

		leafScript, err := tree.LeafScript(leafIndex)
		require.NoError(t, err)

		rootHash := ctrlBlock.RootHash(leafScript)
		require.Equal(t, tree.TapscriptRoot, rootHash)
	}
}

// TestLeafWitness checks the witness stack ordering: signatures first, then
// the leaf script, then the control block.
func TestLeafWitness(t *testing.T) {
	t.Parallel()

	tree, err := NewPunkScriptTree(testKey(t, 0x01), testKey(t, 0x02))
	require.NoError(t, err)

	ownerSig := []byte{0x01, 0x02}
	serverSig := []byte{0x03, 0x04}

	witness, err := tree.LeafWitness(
		TransferLeafIndex, serverSig, ownerSig,
	)
	require.NoError(t, err)
	require.Len(t, witness, 4)

	require.Equal(t, serverSig, witness[0])
	require.Equal(t, ownerSig, witness[1])

	leafScript, err := tree.LeafScript(TransferLeafIndex)
	require.NoError(t, err)
	require.Equal(t, leafScript, witness[2])

	ctrlBlockBytes, err := tree.ControlBlock(TransferLeafIndex)
	require.NoError(t, err)
	require.Equal(t, ctrlBlockBytes, witness[3])
}

// TestLeafIndexOutOfRange rejects indices outside the three leaves.
func TestLeafIndexOutOfRange(t *testing.T) {
	t.Parallel()

	tree, err := NewPunkScriptTree(testKey(t, 0x01), testKey(t, 0x02))
	require.NoError(t, err)

	_, err = tree.LeafScript(-1)
	require.Error(t, err)

	_, err = tree.LeafScript(3)
	require.Error(t, err)

	_, err = tree.ControlBlock(3)
	require.Error(t, err)
}
