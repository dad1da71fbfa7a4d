package punkdb

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkscript"
)

// newTestRegistry creates a registry over a fresh test database with the
// given supply cap.
func newTestRegistry(t *testing.T, maxPunks int64) *Registry {
	t.Helper()

	db := NewTestSqliteDB(t)

	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return NewRegistry(NewBatchedRegistryStore(db), RegistryConfig{
		ServerKey: serverKey,
		MaxPunks:  maxPunks,
		HRP:       punkscript.TestHRP,
	})
}

// testID builds a deterministic punk id for fixtures.
func testID(b byte) punk.ID {
	var id punk.ID
	id[0] = b
	id[31] = 0xff

	return id
}

// TestRecordAndFetchPunk mints a punk row and checks the fetched copy,
// including its attestation.
func TestRecordAndFetchPunk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t, 10)

	id := testID(0x01)
	err := registry.RecordPunk(ctx, id, "tark1owner", "6c0700000003")
	require.NoError(t, err)

	fetched, err := registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, fetched.ID)
	require.Equal(t, "tark1owner", fetched.Owner)
	require.Equal(t, "6c0700000003", fetched.Compressed)
	require.NotEmpty(t, fetched.Signature)
	require.False(t, fetched.MintedAt.IsZero())

	// The stored signature verifies against the server key.
	require.True(t, registry.IsOfficial(fetched))

	// Minting twice is a conflict.
	err = registry.RecordPunk(ctx, id, "tark1other", "")
	require.ErrorIs(t, err, ErrDuplicatePunk)

	// The mint wrote the genesis history row.
	history, err := registry.FetchHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Empty(t, history[0].From)
	require.Equal(t, "tark1owner", history[0].To)
}

// TestFetchPunkNotFound surfaces the sentinel for unknown ids.
func TestFetchPunkNotFound(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 10)

	_, err := registry.FetchPunk(context.Background(), testID(0x42))
	require.ErrorIs(t, err, ErrPunkNotFound)
}

// TestSupplyCap fills the registry to its cap and checks further mints are
// rejected.
func TestSupplyCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t, 2)

	require.NoError(t, registry.RecordPunk(ctx, testID(1), "tark1a", ""))
	require.NoError(t, registry.RecordPunk(ctx, testID(2), "tark1a", ""))

	err := registry.RecordPunk(ctx, testID(3), "tark1a", "")
	require.ErrorIs(t, err, ErrSupplyExhausted)

	minted, maxSupply, err := registry.Supply(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, minted)
	require.EqualValues(t, 2, maxSupply)
}

// TestTransferOwner moves a punk between owners and checks the guards and
// the history trail.
func TestTransferOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t, 10)

	id := testID(0x01)
	require.NoError(t, registry.RecordPunk(ctx, id, "tark1seller", ""))

	// The declared sender has to match the current owner.
	err := registry.TransferOwner(ctx, id, "tark1stranger", "tark1buyer")
	require.ErrorIs(t, err, ErrOwnershipConflict)

	// Unknown punks can't be transferred.
	err = registry.TransferOwner(
		ctx, testID(0x99), "tark1seller", "tark1buyer",
	)
	require.ErrorIs(t, err, ErrPunkNotFound)

	require.NoError(t, registry.TransferOwner(
		ctx, id, "tark1seller", "tark1buyer",
	))

	fetched, err := registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "tark1buyer", fetched.Owner)

	history, err := registry.FetchHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "tark1seller", history[1].From)
	require.Equal(t, "tark1buyer", history[1].To)
}

// TestFetchPunksByOwner partitions the registry by holder.
func TestFetchPunksByOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t, 10)

	require.NoError(t, registry.RecordPunk(ctx, testID(1), "tark1a", ""))
	require.NoError(t, registry.RecordPunk(ctx, testID(2), "tark1b", ""))
	require.NoError(t, registry.RecordPunk(ctx, testID(3), "tark1a", ""))

	all, err := registry.FetchAllPunks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	mine, err := registry.FetchPunksByOwner(ctx, "tark1a")
	require.NoError(t, err)
	require.Len(t, mine, 2)

	none, err := registry.FetchPunksByOwner(ctx, "tark1nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

// TestIsOfficial exercises the attestation check and the legacy whitelist.
func TestIsOfficial(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 10)

	legacyID := testID(0x10)
	registry.cfg.LegacyWhitelist[legacyID] = struct{}{}

	// Whitelisted legacy rows are official without a signature.
	require.True(t, registry.IsOfficial(&RegisteredPunk{ID: legacyID}))

	// A row with no signature and no whitelist entry is not.
	require.False(t, registry.IsOfficial(&RegisteredPunk{
		ID: testID(0x11),
	}))

	// A tampered signature fails verification.
	require.False(t, registry.IsOfficial(&RegisteredPunk{
		ID:        testID(0x12),
		Signature: []byte{0x01, 0x02, 0x03},
	}))
}

// TestVerifyAttestation signs through the registry and verifies against the
// matching and a mismatched key.
func TestVerifyAttestation(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 10)

	id := testID(0x01)
	sig, err := registry.attest(id)
	require.NoError(t, err)

	serverPub := registry.cfg.ServerKey.PubKey()
	require.True(t, VerifyAttestation(serverPub, id, sig))

	// A different punk id doesn't verify under the same signature.
	require.False(t, VerifyAttestation(serverPub, testID(0x02), sig))

	otherKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.False(t, VerifyAttestation(otherKey.PubKey(), id, sig))
}

// TestRecoverablePunks finds rows held at the minter's derived punk
// address.
func TestRecoverablePunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t, 10)

	minterKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	mintAddr, err := punkscript.PunkAddress(
		minterKey.PubKey(), registry.cfg.ServerKey.PubKey(),
		punkscript.TestHRP,
	)
	require.NoError(t, err)

	id := testID(0x01)
	require.NoError(t, registry.RecordPunk(ctx, id, mintAddr, ""))
	require.NoError(t, registry.RecordPunk(
		ctx, testID(0x02), "tark1elsewhere", "",
	))

	recoverable, err := registry.RecoverablePunks(ctx, minterKey.PubKey())
	require.NoError(t, err)
	require.Len(t, recoverable, 1)
	require.Equal(t, id, recoverable[0].ID)
}
