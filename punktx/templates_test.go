package punktx

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkscript"
)

const testHRP = "tark"

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

// testFundingVtxo builds a plain funding VTXO with a synthetic outpoint.
func testFundingVtxo(t *testing.T, b byte, amount btcutil.Amount) Vtxo {
	t.Helper()

	txid := strings.Repeat("0", 63) + string(rune('1'+b%9))
	outpoint, err := NewOutpoint(txid, uint32(b))
	require.NoError(t, err)

	return Vtxo{
		Outpoint: *outpoint,
		Amount:   amount,
		Address:  "tark1funding",
	}
}

func testPayload(t *testing.T) punk.Payload {
	t.Helper()

	payload, err := punk.NewPayloadFromHex("6c0700000003")
	require.NoError(t, err)

	return payload
}

// TestParseOutpoint covers the valid and invalid outpoint renderings.
func TestParseOutpoint(t *testing.T) {
	t.Parallel()

	txid := strings.Repeat("ab", 32)

	outpoint, err := ParseOutpoint(txid + ":7")
	require.NoError(t, err)
	require.EqualValues(t, 7, outpoint.Index)
	require.Equal(t, txid, outpoint.Hash.String())

	// Round trip through the canonical rendering.
	again, err := ParseOutpoint(outpoint.String())
	require.NoError(t, err)
	require.Equal(t, outpoint, again)

	_, err = ParseOutpoint("no separator")
	require.Error(t, err)

	_, err = ParseOutpoint("nothex:0")
	require.Error(t, err)

	_, err = ParseOutpoint(txid + ":notanumber")
	require.Error(t, err)

	_, err = ParseOutpoint(txid + ":4294967296")
	require.Error(t, err)
}

// TestSelectFundingSmallestFirst checks the coin selection picks the
// smallest VTXOs first and reports exact change.
func TestSelectFundingSmallestFirst(t *testing.T) {
	t.Parallel()

	funding := []Vtxo{
		testFundingVtxo(t, 0, 50_000),
		testFundingVtxo(t, 1, 5_000),
		testFundingVtxo(t, 2, 8_000),
	}

	selected, change, err := selectFunding(funding, 10_000)
	require.NoError(t, err)

	// 5k then 8k covers the 10k target with 3k change; the 50k VTXO
	// stays untouched.
	require.Len(t, selected, 2)
	require.EqualValues(t, 5_000, selected[0].Amount)
	require.EqualValues(t, 8_000, selected[1].Amount)
	require.EqualValues(t, 3_000, change)
}

// TestSelectFundingSkipsSpent makes sure spent VTXOs never enter a
// selection.
func TestSelectFundingSkipsSpent(t *testing.T) {
	t.Parallel()

	spent := testFundingVtxo(t, 0, 100_000)
	spent.Spent = true

	funding := []Vtxo{spent, testFundingVtxo(t, 1, 12_000)}

	selected, change, err := selectFunding(funding, 10_000)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.EqualValues(t, 12_000, selected[0].Amount)
	require.EqualValues(t, 2_000, change)
}

// TestSelectFundingInsufficient checks the sentinel when the target can't
// be covered.
func TestSelectFundingInsufficient(t *testing.T) {
	t.Parallel()

	funding := []Vtxo{
		testFundingVtxo(t, 0, 3_000),
		testFundingVtxo(t, 1, 4_000),
	}

	_, _, err := selectFunding(funding, 10_000)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// TestMintPunk builds a mint template and checks the punk output, the
// change output and the key-path funding inputs.
func TestMintPunk(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)
	payload := testPayload(t)

	packet, err := MintPunk(MintParams{
		Payload:       payload,
		OwnerKey:      ownerKey,
		ServerKey:     serverKey,
		Reserve:       10_000,
		Funding:       []Vtxo{testFundingVtxo(t, 0, 15_000)},
		ChangeAddress: "tark1change",
		HRP:           testHRP,
	})
	require.NoError(t, err)

	require.Len(t, packet.Inputs, 1)
	require.Equal(t, -1, packet.Inputs[0].LeafIndex)
	require.False(t, packet.Inputs[0].NeedsOwnerSig)
	require.False(t, packet.Inputs[0].NeedsServerSig)

	require.Len(t, packet.Outputs, 2)

	punkAddr, err := punkscript.PunkAddress(ownerKey, serverKey, testHRP)
	require.NoError(t, err)

	punkOut := packet.Outputs[0]
	require.Equal(t, punkAddr, punkOut.Address)
	require.EqualValues(t, 10_000, punkOut.Amount)
	require.NotNil(t, punkOut.Punk)
	require.Equal(t, payload.ID(), punkOut.Punk.ID)
	require.Equal(t, payload, punkOut.Punk.Payload)
	require.EqualValues(t, 0, punkOut.Punk.ListingPrice)
	require.EqualValues(t, 10_000, punkOut.Punk.Value)

	changeOut := packet.Outputs[1]
	require.Equal(t, "tark1change", changeOut.Address)
	require.EqualValues(t, 5_000, changeOut.Amount)
	require.Nil(t, changeOut.Punk)
}

// TestMintPunkExactFunding checks that exact funding produces no change
// output.
func TestMintPunkExactFunding(t *testing.T) {
	t.Parallel()

	packet, err := MintPunk(MintParams{
		Payload:       testPayload(t),
		OwnerKey:      testKey(t, 0x01),
		ServerKey:     testKey(t, 0x02),
		Reserve:       10_000,
		Funding:       []Vtxo{testFundingVtxo(t, 0, 10_000)},
		ChangeAddress: "tark1change",
		HRP:           testHRP,
	})
	require.NoError(t, err)
	require.Len(t, packet.Outputs, 1)
}

// TestTransferPunk checks the transfer template spends the transfer leaf
// with both signatures and recreates the punk delisted at the new owner.
func TestTransferPunk(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)
	newOwnerKey := testKey(t, 0x03)
	payload := testPayload(t)

	current := &punk.Vtxo{
		ID:           payload.ID(),
		OwnerKey:     ownerKey,
		ServerKey:    serverKey,
		ListingPrice: 50_000,
		Payload:      payload,
		Value:        10_000,
	}
	punkVtxo := testFundingVtxo(t, 0, 10_000)

	packet, err := TransferPunk(current, punkVtxo, newOwnerKey, testHRP)
	require.NoError(t, err)

	require.Len(t, packet.Inputs, 1)
	in := packet.Inputs[0]
	require.Equal(t, punkscript.TransferLeafIndex, in.LeafIndex)
	require.True(t, in.NeedsOwnerSig)
	require.True(t, in.NeedsServerSig)

	newAddr, err := punkscript.PunkAddress(newOwnerKey, serverKey, testHRP)
	require.NoError(t, err)

	require.Len(t, packet.Outputs, 1)
	out := packet.Outputs[0]
	require.Equal(t, newAddr, out.Address)
	require.EqualValues(t, 10_000, out.Amount)
	require.NotNil(t, out.Punk)
	require.Equal(t, current.ID, out.Punk.ID)
	require.Equal(
		t, schnorr.SerializePubKey(newOwnerKey),
		schnorr.SerializePubKey(out.Punk.OwnerKey),
	)

	// The transfer always delists.
	require.EqualValues(t, 0, out.Punk.ListingPrice)
}

// TestListPunk checks the list template keeps the punk at its own address
// and only flips the listing price.
func TestListPunk(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)
	payload := testPayload(t)

	current := &punk.Vtxo{
		ID:        payload.ID(),
		OwnerKey:  ownerKey,
		ServerKey: serverKey,
		Payload:   payload,
		Value:     10_000,
	}
	punkVtxo := testFundingVtxo(t, 0, 10_000)

	packet, err := ListPunk(current, punkVtxo, 75_000, testHRP)
	require.NoError(t, err)

	require.Len(t, packet.Inputs, 1)
	require.Equal(t, punkscript.ListLeafIndex, packet.Inputs[0].LeafIndex)
	require.True(t, packet.Inputs[0].NeedsOwnerSig)
	require.True(t, packet.Inputs[0].NeedsServerSig)

	sameAddr, err := punkscript.PunkAddress(ownerKey, serverKey, testHRP)
	require.NoError(t, err)

	require.Len(t, packet.Outputs, 1)
	out := packet.Outputs[0]
	require.Equal(t, sameAddr, out.Address)
	require.NotNil(t, out.Punk)
	require.EqualValues(t, 75_000, out.Punk.ListingPrice)

	// Price zero delists.
	delist, err := ListPunk(current, punkVtxo, 0, testHRP)
	require.NoError(t, err)
	require.EqualValues(t, 0, delist.Outputs[0].Punk.ListingPrice)
}

// TestBuyPunk checks the tapscript buy template: buy leaf spend with the
// server signature only, payment to the seller, punk to the buyer.
func TestBuyPunk(t *testing.T) {
	t.Parallel()

	ownerKey := testKey(t, 0x01)
	serverKey := testKey(t, 0x02)
	buyerKey := testKey(t, 0x03)
	payload := testPayload(t)

	current := &punk.Vtxo{
		ID:           payload.ID(),
		OwnerKey:     ownerKey,
		ServerKey:    serverKey,
		ListingPrice: 50_000,
		Payload:      payload,
		Value:        10_000,
	}

	packet, err := BuyPunk(BuyParams{
		Current:       current,
		PunkVtxo:      testFundingVtxo(t, 0, 10_000),
		BuyerKey:      buyerKey,
		SellerAddress: "tark1seller",
		Payment:       []Vtxo{testFundingVtxo(t, 1, 60_000)},
		ChangeAddress: "tark1change",
		HRP:           testHRP,
	})
	require.NoError(t, err)

	require.Len(t, packet.Inputs, 2)

	punkIn := packet.Inputs[0]
	require.Equal(t, punkscript.BuyLeafIndex, punkIn.LeafIndex)
	require.False(t, punkIn.NeedsOwnerSig)
	require.True(t, punkIn.NeedsServerSig)
	require.Equal(t, -1, packet.Inputs[1].LeafIndex)

	buyerAddr, err := punkscript.PunkAddress(buyerKey, serverKey, testHRP)
	require.NoError(t, err)

	require.Len(t, packet.Outputs, 3)
	require.Equal(t, buyerAddr, packet.Outputs[0].Address)
	require.Equal(t, current.ID, packet.Outputs[0].Punk.ID)

	require.Equal(t, "tark1seller", packet.Outputs[1].Address)
	require.EqualValues(t, 50_000, packet.Outputs[1].Amount)
	require.Nil(t, packet.Outputs[1].Punk)

	require.Equal(t, "tark1change", packet.Outputs[2].Address)
	require.EqualValues(t, 10_000, packet.Outputs[2].Amount)
}

// TestBuyPunkNotListed rejects buying an unlisted punk.
func TestBuyPunkNotListed(t *testing.T) {
	t.Parallel()

	payload := testPayload(t)
	current := &punk.Vtxo{
		ID:        payload.ID(),
		OwnerKey:  testKey(t, 0x01),
		ServerKey: testKey(t, 0x02),
		Payload:   payload,
		Value:     10_000,
	}

	_, err := BuyPunk(BuyParams{
		Current:  current,
		PunkVtxo: testFundingVtxo(t, 0, 10_000),
		BuyerKey: testKey(t, 0x03),
		Payment:  []Vtxo{testFundingVtxo(t, 1, 60_000)},
		HRP:      testHRP,
	})
	require.ErrorIs(t, err, ErrNotListed)
}

// TestBuyPunkInsufficientPayment surfaces the funding sentinel.
func TestBuyPunkInsufficientPayment(t *testing.T) {
	t.Parallel()

	payload := testPayload(t)
	current := &punk.Vtxo{
		ID:           payload.ID(),
		OwnerKey:     testKey(t, 0x01),
		ServerKey:    testKey(t, 0x02),
		ListingPrice: 50_000,
		Payload:      payload,
		Value:        10_000,
	}

	_, err := BuyPunk(BuyParams{
		Current:  current,
		PunkVtxo: testFundingVtxo(t, 0, 10_000),
		BuyerKey: testKey(t, 0x03),
		Payment:  []Vtxo{testFundingVtxo(t, 1, 10_000)},
		HRP:      testHRP,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}
