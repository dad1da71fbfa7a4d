package punkdb

import (
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkscript"
)

// newTestMarket creates a marketplace store and a registry over the same
// test database, so sales can exercise the atomic owner rewrite.
func newTestMarket(t *testing.T) (*MarketplaceStore, *Registry) {
	t.Helper()

	db := NewTestSqliteDB(t)

	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	registry := NewRegistry(NewBatchedRegistryStore(db), RegistryConfig{
		ServerKey: serverKey,
		MaxPunks:  100,
		HRP:       punkscript.TestHRP,
	})

	return NewMarketplaceStore(NewBatchedMarketStore(db)), registry
}

func testListing(id punk.ID) *Listing {
	return &Listing{
		PunkID:        id,
		SellerAddress: "tark1seller",
		SellerPubkey:  []byte{0x02, 0x03},
		PriceSats:     50_000,
		EscrowAddress: "tark1escrow",
	}
}

// TestListingLifecycle drives a listing through pending, deposited and sold
// and checks every guard along the way.
func TestListingLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, registry := newTestMarket(t)

	id := testID(0x01)
	require.NoError(t, registry.RecordPunk(ctx, id, "tark1seller", ""))

	require.NoError(t, market.CreateListing(ctx, testListing(id)))

	fetched, err := market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, fetched.Status)
	require.EqualValues(t, 50_000, fetched.PriceSats)
	require.Equal(t, "tark1escrow", fetched.EscrowAddress)

	// A second open listing for the same punk is a conflict.
	err = market.CreateListing(ctx, testListing(id))
	require.ErrorIs(t, err, ErrListingExists)

	// Selling before the deposit is verified is rejected.
	err = market.CommitSale(ctx, id, "tark1buyer", []byte{0x02})
	require.ErrorIs(t, err, ErrListingState)

	outpoint := strings.Repeat("ab", 32) + ":0"
	require.NoError(t, market.MarkDeposited(ctx, id, outpoint))

	fetched, err = market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusDeposited, fetched.Status)
	require.Equal(t, outpoint, fetched.PunkVtxoOutpoint)
	require.False(t, fetched.DepositedAt.IsZero())

	// The deposit transition only applies to pending listings.
	err = market.MarkDeposited(ctx, id, outpoint)
	require.ErrorIs(t, err, ErrListingState)

	require.NoError(t, market.CommitSale(
		ctx, id, "tark1buyer", []byte{0x02},
	))

	// The sale rewrote the registry owner and appended history.
	row, err := registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "tark1buyer", row.Owner)

	history, err := registry.FetchHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "tark1seller", history[1].From)
	require.Equal(t, "tark1buyer", history[1].To)

	// Exactly one commit can win; the retry observes the state guard.
	err = market.CommitSale(ctx, id, "tark1buyer2", []byte{0x03})
	require.ErrorIs(t, err, ErrListingState)

	fetched, err = market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusSold, fetched.Status)
	require.Equal(t, "tark1buyer", fetched.BuyerAddress)
	require.False(t, fetched.SoldAt.IsZero())

	// Sold listings can't be cancelled.
	err = market.Cancel(ctx, id)
	require.ErrorIs(t, err, ErrListingState)
}

// TestListingPaymentTxids records the payout and the reserve return.
func TestListingPaymentTxids(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, registry := newTestMarket(t)

	id := testID(0x01)
	require.NoError(t, registry.RecordPunk(ctx, id, "tark1seller", ""))
	require.NoError(t, market.CreateListing(ctx, testListing(id)))
	require.NoError(t, market.MarkDeposited(
		ctx, id, strings.Repeat("ab", 32)+":0",
	))
	require.NoError(t, market.CommitSale(
		ctx, id, "tark1buyer", []byte{0x02},
	))

	paymentTxid := strings.Repeat("cd", 32)
	returnTxid := strings.Repeat("ef", 32)
	require.NoError(t, market.RecordPayment(ctx, id, paymentTxid))
	require.NoError(t, market.RecordDepositReturn(ctx, id, returnTxid))

	fetched, err := market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, paymentTxid, fetched.PaymentTxid)
	require.Equal(t, returnTxid, fetched.DepositReturnTxid)
}

// TestCancelAndRelist cancels an open listing and checks the punk can be
// listed again afterwards.
func TestCancelAndRelist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, registry := newTestMarket(t)

	id := testID(0x01)
	require.NoError(t, registry.RecordPunk(ctx, id, "tark1seller", ""))

	// Cancelling without a listing is a state error.
	err := market.Cancel(ctx, id)
	require.ErrorIs(t, err, ErrListingState)

	require.NoError(t, market.CreateListing(ctx, testListing(id)))
	require.NoError(t, market.Cancel(ctx, id))

	fetched, err := market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, fetched.Status)
	require.False(t, fetched.CancelledAt.IsZero())

	// The terminal row is cleared on relist.
	require.NoError(t, market.CreateListing(ctx, testListing(id)))

	fetched, err = market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, fetched.Status)
	require.True(t, fetched.CancelledAt.IsZero())
}

// TestActiveListings returns only pending and deposited rows.
func TestActiveListings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, registry := newTestMarket(t)

	for b := byte(1); b <= 3; b++ {
		id := testID(b)
		require.NoError(t, registry.RecordPunk(
			ctx, id, "tark1seller", "",
		))
		require.NoError(t, market.CreateListing(ctx, testListing(id)))
	}

	require.NoError(t, market.MarkDeposited(
		ctx, testID(2), strings.Repeat("ab", 32)+":0",
	))
	require.NoError(t, market.Cancel(ctx, testID(3)))

	active, err := market.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
}

// TestSalesAndStats records sales and checks the aggregates.
func TestSalesAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, _ := newTestMarket(t)

	// No sales yet: all aggregates are zero.
	stats, err := market.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.NumSales)
	require.EqualValues(t, 0, stats.VolumeSats)

	for i, price := range []uint64{30_000, 50_000, 40_000} {
		require.NoError(t, market.RecordSale(ctx, &Sale{
			PunkID:      testID(byte(i + 1)),
			PriceSats:   price,
			Seller:      "tark1seller",
			Buyer:       "tark1buyer",
			PaymentTxid: strings.Repeat("ab", 32),
		}))
	}

	sales, err := market.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 3)

	stats, err = market.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.NumSales)
	require.EqualValues(t, 30_000, stats.FloorSats)
	require.EqualValues(t, 50_000, stats.HighSats)
	require.EqualValues(t, 120_000, stats.VolumeSats)
	require.EqualValues(t, 40_000, stats.AvgSats)
}

// TestAuditTrail appends audit rows and reads them back newest first,
// honoring the limit.
func TestAuditTrail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	market, _ := newTestMarket(t)

	id := testID(0x01)
	require.NoError(t, market.Audit(ctx, &AuditEvent{
		Action:     AuditListCreated,
		PunkID:     &id,
		Seller:     "tark1seller",
		AmountSats: 50_000,
		Status:     AuditSuccess,
	}))
	require.NoError(t, market.Audit(ctx, &AuditEvent{
		Action: AuditPaymentFailed,
		PunkID: &id,
		Buyer:  "tark1buyer",
		Status: AuditFailed,
		Error:  "wallet unreachable",
	}))

	events, err := market.AuditTrail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	require.Equal(t, AuditPaymentFailed, events[0].Action)
	require.Equal(t, "wallet unreachable", events[0].Error)
	require.Equal(t, AuditListCreated, events[1].Action)
	require.Equal(t, "tark1seller", events[1].Seller)
	require.EqualValues(t, 50_000, events[1].AmountSats)
	require.NotNil(t, events[1].PunkID)
	require.Equal(t, id, *events[1].PunkID)

	limited, err := market.AuditTrail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, AuditPaymentFailed, limited[0].Action)
}
