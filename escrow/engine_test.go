package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkdb"
	"github.com/arkpunks/punkd/punkscript"
	"github.com/arkpunks/punkd/punktx"
)

const (
	testReserve = btcutil.Amount(10_000)

	testEscrowAddress = "tark1escrow"
	testSellerAddress = "tark1seller"
	testBuyerAddress  = "tark1buyer"
)

// mockSend records one outbound payment the engine made.
type mockSend struct {
	addr   string
	amount btcutil.Amount
}

// mockWallet is an in-memory ArkClient double.
type mockWallet struct {
	mu sync.Mutex

	vtxos   []punktx.Vtxo
	balance btcutil.Amount

	// sendErr, when set, fails every send.
	sendErr error

	sends []mockSend
}

var _ punktx.ArkClient = (*mockWallet)(nil)

func (m *mockWallet) Send(_ context.Context, addr string,
	amount btcutil.Amount) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return "", m.sendErr
	}

	m.sends = append(m.sends, mockSend{addr: addr, amount: amount})

	return fmt.Sprintf("%064x", len(m.sends)), nil
}

func (m *mockWallet) GetVtxos(_ context.Context) ([]punktx.Vtxo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.vtxos, nil
}

func (m *mockWallet) GetBalance(_ context.Context) (btcutil.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balance, nil
}

func (m *mockWallet) GetBoardingAddress(_ context.Context) (string, error) {
	return "bc1qboarding", nil
}

func (m *mockWallet) numSends() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sends)
}

// testHarness bundles the engine with its backing stores.
type testHarness struct {
	engine   *Engine
	wallet   *mockWallet
	market   *punkdb.MarketplaceStore
	registry *punkdb.Registry
}

// newTestHarness wires an engine over a fresh database and the mock wallet.
func newTestHarness(t *testing.T, feePercent uint64,
	strict bool) *testHarness {

	t.Helper()

	db := punkdb.NewTestSqliteDB(t)

	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	registry := punkdb.NewRegistry(
		punkdb.NewBatchedRegistryStore(db), punkdb.RegistryConfig{
			ServerKey: serverKey,
			MaxPunks:  100,
			HRP:       punkscript.TestHRP,
		},
	)
	market := punkdb.NewMarketplaceStore(punkdb.NewBatchedMarketStore(db))

	wallet := &mockWallet{balance: 1_000_000}

	engine := NewEngine(EngineConfig{
		Wallet:        wallet,
		Store:         market,
		Registry:      registry,
		EscrowAddress: testEscrowAddress,
		Reserve:       testReserve,
		FeePercent:    feePercent,
		StrictPayment: strict,
	})

	return &testHarness{
		engine:   engine,
		wallet:   wallet,
		market:   market,
		registry: registry,
	}
}

func testID(b byte) punk.ID {
	var id punk.ID
	id[0] = b
	id[31] = 0xff

	return id
}

func testOutpoint(t *testing.T) string {
	t.Helper()

	return strings.Repeat("ab", 32) + ":0"
}

// depositVtxo places the reserve VTXO for the given outpoint into the mock
// escrow wallet.
func (h *testHarness) depositVtxo(t *testing.T, outpoint string,
	amount btcutil.Amount, spent bool) {

	t.Helper()

	parsed, err := punktx.ParseOutpoint(outpoint)
	require.NoError(t, err)

	h.wallet.mu.Lock()
	defer h.wallet.mu.Unlock()

	h.wallet.vtxos = append(h.wallet.vtxos, punktx.Vtxo{
		Outpoint: *parsed,
		Amount:   amount,
		Address:  testEscrowAddress,
		Spent:    spent,
	})
}

// list registers the punk to the seller and opens a listing for it.
func (h *testHarness) list(t *testing.T, id punk.ID,
	price uint64) *punkdb.Listing {

	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.registry.RecordPunk(
		ctx, id, testSellerAddress, "",
	))

	listing, err := h.engine.List(ctx, ListParams{
		PunkID:        id,
		SellerAddress: testSellerAddress,
		SellerPubkey:  []byte{0x02, 0x03},
		PriceSats:     price,
	})
	require.NoError(t, err)

	return listing
}

// deposit moves a pending listing into deposited with a verified VTXO.
func (h *testHarness) deposit(t *testing.T, id punk.ID) {
	t.Helper()

	outpoint := testOutpoint(t)
	h.depositVtxo(t, outpoint, testReserve, false)
	require.NoError(t, h.engine.ConfirmDeposit(
		context.Background(), id, outpoint,
	))
}

// TestListChecksOwnership rejects listings from anyone but the registered
// owner.
func TestListChecksOwnership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)

	// Unregistered punks can't be listed.
	_, err := h.engine.List(ctx, ListParams{
		PunkID:        id,
		SellerAddress: testSellerAddress,
		PriceSats:     50_000,
	})
	require.ErrorIs(t, err, punkdb.ErrPunkNotFound)

	require.NoError(t, h.registry.RecordPunk(ctx, id, "tark1other", ""))

	_, err = h.engine.List(ctx, ListParams{
		PunkID:        id,
		SellerAddress: testSellerAddress,
		PriceSats:     50_000,
	})
	require.ErrorIs(t, err, ErrNotOwner)
}

// TestListOpensPendingListing checks the happy path of List.
func TestListOpensPendingListing(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 0, false)

	listing := h.list(t, testID(0x01), 50_000)
	require.Equal(t, punkdb.StatusPending, listing.Status)
	require.Equal(t, testEscrowAddress, listing.EscrowAddress)
	require.EqualValues(t, 50_000, listing.PriceSats)
}

// TestConfirmDeposit verifies the exact-amount deposit check against the
// live wallet state.
func TestConfirmDeposit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("exact amount succeeds", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 0, false)
		id := testID(0x01)
		h.list(t, id, 50_000)

		outpoint := testOutpoint(t)
		h.depositVtxo(t, outpoint, testReserve, false)

		require.NoError(t, h.engine.ConfirmDeposit(ctx, id, outpoint))

		listing, err := h.market.FetchListing(ctx, id)
		require.NoError(t, err)
		require.Equal(t, punkdb.StatusDeposited, listing.Status)
		require.Equal(t, outpoint, listing.PunkVtxoOutpoint)

		// A deposited listing can't be confirmed again.
		err = h.engine.ConfirmDeposit(ctx, id, outpoint)
		require.ErrorIs(t, err, punkdb.ErrListingState)
	})

	t.Run("wrong amount fails", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 0, false)
		id := testID(0x01)
		h.list(t, id, 50_000)

		outpoint := testOutpoint(t)
		h.depositVtxo(t, outpoint, 9_000, false)

		err := h.engine.ConfirmDeposit(ctx, id, outpoint)
		require.ErrorIs(t, err, ErrDepositUnverified)

		listing, err := h.market.FetchListing(ctx, id)
		require.NoError(t, err)
		require.Equal(t, punkdb.StatusPending, listing.Status)
	})

	t.Run("missing outpoint fails", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 0, false)
		id := testID(0x01)
		h.list(t, id, 50_000)

		err := h.engine.ConfirmDeposit(ctx, id, testOutpoint(t))
		require.ErrorIs(t, err, ErrDepositUnverified)
	})

	t.Run("spent vtxo fails", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 0, false)
		id := testID(0x01)
		h.list(t, id, 50_000)

		outpoint := testOutpoint(t)
		h.depositVtxo(t, outpoint, testReserve, true)

		err := h.engine.ConfirmDeposit(ctx, id, outpoint)
		require.ErrorIs(t, err, ErrDepositUnverified)
	})

	t.Run("malformed outpoint fails", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 0, false)
		id := testID(0x01)
		h.list(t, id, 50_000)

		err := h.engine.ConfirmDeposit(ctx, id, "not an outpoint")
		require.ErrorIs(t, err, ErrDepositUnverified)
	})
}

// TestQuoteBuy only quotes deposited listings.
func TestQuoteBuy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	h.list(t, id, 50_000)

	// Pending listings aren't buyable yet.
	_, err := h.engine.QuoteBuy(ctx, id)
	require.ErrorIs(t, err, punkdb.ErrListingState)

	h.deposit(t, id)

	quote, err := h.engine.QuoteBuy(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, quote.PunkID)
	require.EqualValues(t, 50_000, quote.PriceSats)
	require.Equal(t, testEscrowAddress, quote.PayTo)
}

// TestExecuteHappyPath runs the full swap: commit, payout minus fee, and
// the reserve return.
func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 2, true)

	id := testID(0x01)
	h.list(t, id, 50_000)
	h.deposit(t, id)

	result, err := h.engine.Execute(
		ctx, id, testBuyerAddress, []byte{0x02},
	)
	require.NoError(t, err)
	require.EqualValues(t, 50_000, result.PriceSats)
	require.EqualValues(t, 1_000, result.FeeSats)
	require.NotEmpty(t, result.PaymentTxid)
	require.NotEmpty(t, result.DepositReturnTxid)

	// Two sends: the discounted payout, then the reserve return.
	require.Equal(t, 2, h.wallet.numSends())
	require.Equal(t, testSellerAddress, h.wallet.sends[0].addr)
	require.EqualValues(t, 49_000, h.wallet.sends[0].amount)
	require.Equal(t, testSellerAddress, h.wallet.sends[1].addr)
	require.Equal(t, testReserve, h.wallet.sends[1].amount)

	// The buyer owns the punk and the listing is terminal.
	row, err := h.registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, testBuyerAddress, row.Owner)

	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusSold, listing.Status)
	require.Equal(t, result.PaymentTxid, listing.PaymentTxid)
	require.Equal(t, result.DepositReturnTxid, listing.DepositReturnTxid)

	// The sale made it into the history.
	sales, err := h.market.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, id, sales[0].PunkID)

	// Re-executing a sold listing is a state error.
	_, err = h.engine.Execute(ctx, id, testBuyerAddress, []byte{0x02})
	require.ErrorIs(t, err, punkdb.ErrListingState)
}

// TestExecutePaymentFailure checks the commit-then-pay ordering: a failed
// payout leaves the punk with the buyer and records the retryable failure
// sentinel.
func TestExecutePaymentFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	h.list(t, id, 50_000)
	h.deposit(t, id)

	h.wallet.sendErr = errors.New("wallet unreachable")

	_, err := h.engine.Execute(ctx, id, testBuyerAddress, []byte{0x02})
	require.ErrorIs(t, err, ErrPaymentFailed)

	// The ownership commit happened before the payout attempt.
	row, err := h.registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, testBuyerAddress, row.Owner)

	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusSold, listing.Status)
	require.True(t, strings.HasPrefix(
		listing.PaymentTxid, PaymentFailedPrefix,
	))

	// A blind retry is rejected; the recorded sentinel demands manual
	// adjudication.
	h.wallet.sendErr = nil
	_, err = h.engine.Execute(ctx, id, testBuyerAddress, []byte{0x02})
	require.ErrorIs(t, err, punkdb.ErrListingState)
}

// TestExecuteInsufficientEscrow probes the strict balance check before any
// state moves.
func TestExecuteInsufficientEscrow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, true)

	id := testID(0x01)
	h.list(t, id, 50_000)
	h.deposit(t, id)

	h.wallet.mu.Lock()
	h.wallet.balance = 40_000
	h.wallet.mu.Unlock()

	_, err := h.engine.Execute(ctx, id, testBuyerAddress, []byte{0x02})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusDeposited, listing.Status)

	row, err := h.registry.FetchPunk(ctx, id)
	require.NoError(t, err)
	require.Equal(t, testSellerAddress, row.Owner)
	require.Zero(t, h.wallet.numSends())
}

// TestCancelPending withdraws a pending listing without touching the
// wallet.
func TestCancelPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	h.list(t, id, 50_000)

	// Only the seller may cancel.
	err := h.engine.Cancel(ctx, id, "tark1stranger")
	require.ErrorIs(t, err, ErrNotSeller)

	require.NoError(t, h.engine.Cancel(ctx, id, testSellerAddress))
	require.Zero(t, h.wallet.numSends())

	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusCancelled, listing.Status)
}

// TestCancelDeposited refunds the reserve before marking the listing
// cancelled.
func TestCancelDeposited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	h.list(t, id, 50_000)
	h.deposit(t, id)

	require.NoError(t, h.engine.Cancel(ctx, id, testSellerAddress))

	require.Equal(t, 1, h.wallet.numSends())
	require.Equal(t, testSellerAddress, h.wallet.sends[0].addr)
	require.Equal(t, testReserve, h.wallet.sends[0].amount)

	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusCancelled, listing.Status)
	require.NotEmpty(t, listing.DepositReturnTxid)
}

// TestCancelRefundFailure keeps the listing deposited when the refund can't
// be sent, so the cancel can be retried.
func TestCancelRefundFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	h.list(t, id, 50_000)
	h.deposit(t, id)

	h.wallet.sendErr = errors.New("wallet unreachable")

	err := h.engine.Cancel(ctx, id, testSellerAddress)
	require.ErrorIs(t, err, ErrRefundFailed)

	listing, err := h.market.FetchListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, punkdb.StatusDeposited, listing.Status)

	// Once the wallet recovers the cancel goes through.
	h.wallet.sendErr = nil
	require.NoError(t, h.engine.Cancel(ctx, id, testSellerAddress))
}

// TestPunkBusy fails fast when another operation holds the punk's mutation
// slot.
func TestPunkBusy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	id := testID(0x01)
	require.NoError(t, h.registry.RecordPunk(
		ctx, id, testSellerAddress, "",
	))

	unlock, err := h.engine.lockPunk(id)
	require.NoError(t, err)

	_, err = h.engine.List(ctx, ListParams{
		PunkID:        id,
		SellerAddress: testSellerAddress,
		PriceSats:     50_000,
	})
	require.ErrorIs(t, err, ErrPunkBusy)

	// Operations on a different punk are unaffected.
	otherID := testID(0x02)
	require.NoError(t, h.registry.RecordPunk(
		ctx, otherID, testSellerAddress, "",
	))
	_, err = h.engine.List(ctx, ListParams{
		PunkID:        otherID,
		SellerAddress: testSellerAddress,
		SellerPubkey:  []byte{0x02, 0x03},
		PriceSats:     50_000,
	})
	require.NoError(t, err)

	unlock()

	_, err = h.engine.List(ctx, ListParams{
		PunkID:        id,
		SellerAddress: testSellerAddress,
		SellerPubkey:  []byte{0x02, 0x03},
		PriceSats:     50_000,
	})
	require.NoError(t, err)
}

// TestClaimReserves pays out the reserve shortfall of a punk-holding
// wallet.
func TestClaimReserves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	owner := "tark1holder"
	require.NoError(t, h.registry.RecordPunk(ctx, testID(1), owner, ""))
	require.NoError(t, h.registry.RecordPunk(ctx, testID(2), owner, ""))

	// Two punks at 10k reserve each, 5k on hand: 15k owed.
	owed, txid, err := h.engine.ClaimReserves(ctx, ClaimParams{
		Address:       owner,
		WalletBalance: 5_000,
	})
	require.NoError(t, err)
	require.EqualValues(t, 15_000, owed)
	require.NotEmpty(t, txid)

	require.Equal(t, 1, h.wallet.numSends())
	require.Equal(t, owner, h.wallet.sends[0].addr)
	require.EqualValues(t, 15_000, h.wallet.sends[0].amount)
}

// TestClaimReservesGuards checks the minimum claim and balance bounds.
func TestClaimReservesGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 0, false)

	owner := "tark1holder"
	require.NoError(t, h.registry.RecordPunk(ctx, testID(1), owner, ""))

	// Balance already covers the expected reserves.
	_, _, err := h.engine.ClaimReserves(ctx, ClaimParams{
		Address:       owner,
		WalletBalance: 10_000,
	})
	require.ErrorIs(t, err, ErrClaimTooSmall)

	// Shortfall below the minimum claim.
	_, _, err = h.engine.ClaimReserves(ctx, ClaimParams{
		Address:       owner,
		WalletBalance: 9_500,
	})
	require.ErrorIs(t, err, ErrClaimTooSmall)

	// The escrow itself can't cover the minimum.
	h.wallet.mu.Lock()
	h.wallet.balance = 500
	h.wallet.mu.Unlock()

	_, _, err = h.engine.ClaimReserves(ctx, ClaimParams{
		Address:       owner,
		WalletBalance: 2_000,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}
