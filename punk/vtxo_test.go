package punk

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

// testKey derives a deterministic public key for test fixtures.
func testKey(t *testing.T, b byte) *btcec.PublicKey {
	t.Helper()

	var keyBytes [32]byte
	keyBytes[0] = b
	keyBytes[31] = 1

	priv, pub := btcec.PrivKeyFromBytes(keyBytes[:])
	require.NotNil(t, priv)

	// Normalize to the x-only representation, since that is what survives
	// the wire round trip.
	xOnly, err := schnorr.ParsePubKey(schnorr.SerializePubKey(pub))
	require.NoError(t, err)

	return xOnly
}

func testVtxo(t *testing.T) *Vtxo {
	t.Helper()

	payload, err := NewPayloadFromHex("6c0700000003")
	require.NoError(t, err)

	return &Vtxo{
		ID:           payload.ID(),
		OwnerKey:     testKey(t, 0x01),
		ServerKey:    testKey(t, 0x02),
		ListingPrice: 50_000,
		Payload:      payload,
		Value:        10_000,
	}
}

// TestVtxoRoundTrip serializes a punk VTXO record and checks the decoded
// copy is identical, field by field.
func TestVtxoRoundTrip(t *testing.T) {
	t.Parallel()

	v := testVtxo(t)

	encoded, err := v.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeVtxo(encoded)
	require.NoError(t, err)

	require.Equal(t, v.ID, decoded.ID)
	require.Equal(
		t, schnorr.SerializePubKey(v.OwnerKey),
		schnorr.SerializePubKey(decoded.OwnerKey),
	)
	require.Equal(
		t, schnorr.SerializePubKey(v.ServerKey),
		schnorr.SerializePubKey(decoded.ServerKey),
	)
	require.Equal(t, v.ListingPrice, decoded.ListingPrice)
	require.Equal(t, v.Payload, decoded.Payload)
	require.Equal(t, v.Value, decoded.Value)
}

// TestVtxoZeroListingPrice checks that an unlisted punk survives the round
// trip with its zero price intact.
func TestVtxoZeroListingPrice(t *testing.T) {
	t.Parallel()

	v := testVtxo(t)
	v.ListingPrice = 0

	encoded, err := v.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeVtxo(encoded)
	require.NoError(t, err)
	require.EqualValues(t, 0, decoded.ListingPrice)
}

// TestVtxoUnknownOddType makes sure a record with an unknown odd TLV type is
// rejected instead of silently dropped.
func TestVtxoUnknownOddType(t *testing.T) {
	t.Parallel()

	v := testVtxo(t)

	encoded, err := v.Bytes()
	require.NoError(t, err)

	// Append an unknown odd record after the highest known type: type 11,
	// length 1, a single zero byte.
	tampered := append(bytes.Clone(encoded), 0x0b, 0x01, 0x00)

	_, err = DecodeVtxo(tampered)
	require.Error(t, err)
	require.ErrorAs(t, err, &ErrUnknownVtxoType{})
	require.Contains(t, err.Error(), "unknown vtxo record type 11")
}

// TestVtxoUnknownEvenType makes sure an unknown even TLV type is tolerated,
// so future optional extensions don't break old readers.
func TestVtxoUnknownEvenType(t *testing.T) {
	t.Parallel()

	v := testVtxo(t)

	encoded, err := v.Bytes()
	require.NoError(t, err)

	// Type 12, length 1, a single zero byte.
	extended := append(bytes.Clone(encoded), 0x0c, 0x01, 0x00)

	decoded, err := DecodeVtxo(extended)
	require.NoError(t, err)
	require.Equal(t, v.ID, decoded.ID)
}
