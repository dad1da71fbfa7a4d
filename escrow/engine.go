// Package escrow implements the server-mediated marketplace: the
// pending -> deposited -> sold/cancelled listing state machine, verified
// reserve deposits, the lock-then-pay atomic swap and the reserve-claim
// repair path. The engine is the only component that issues sends from
// the escrow wallet.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkdb"
	"github.com/arkpunks/punkd/punktx"
)

const (
	// DefaultSendTimeout is the hard deadline applied to every outbound
	// wallet send. A timed out send is never retried within the same
	// request.
	DefaultSendTimeout = 30 * time.Second

	// DefaultReserve is the deposit every listed punk VTXO carries, in
	// sats.
	DefaultReserve = 10_000

	// MinReserveClaim is the smallest reserve shortfall the claim repair
	// path will pay out.
	MinReserveClaim = 1_000

	// PaymentFailedPrefix marks a payment_txid column value as a failure
	// sentinel rather than a real txid.
	PaymentFailedPrefix = "PAYMENT_FAILED: "
)

var (
	// ErrPunkBusy is returned when another mutating operation on the same
	// punk is in flight.
	ErrPunkBusy = errors.New("escrow: concurrent operation on punk")

	// ErrNotSeller is returned when the caller of a seller-only operation
	// isn't the listing's seller.
	ErrNotSeller = errors.New("escrow: caller is not the seller")

	// ErrNotOwner is returned when a punk is listed by an address that
	// doesn't own it.
	ErrNotOwner = errors.New("escrow: caller does not own the punk")

	// ErrDepositUnverified is returned when a claimed deposit outpoint is
	// missing from the escrow wallet or carries the wrong amount.
	ErrDepositUnverified = errors.New("escrow: deposit not verified")

	// ErrInsufficientFunds is returned when the escrow balance doesn't
	// cover the payment the operation needs to make.
	ErrInsufficientFunds = errors.New("escrow: insufficient escrow funds")

	// ErrPaymentFailed is returned when the punk has been transferred but
	// the seller payout could not be sent. The failure is recorded and
	// manually retryable.
	ErrPaymentFailed = errors.New("escrow: seller payment failed")

	// ErrRefundFailed is returned when a cancel could not refund the
	// reserve. The listing stays deposited so the refund can be retried.
	ErrRefundFailed = errors.New("escrow: reserve refund failed")

	// ErrClaimTooSmall is returned when a reserve claim falls below the
	// minimum payout threshold.
	ErrClaimTooSmall = errors.New("escrow: claim below minimum")
)

// EngineConfig bundles the resources the escrow engine operates on.
type EngineConfig struct {
	// Wallet is the escrow wallet capability. All sends the daemon makes
	// go through it.
	Wallet punktx.ArkClient

	// Store is the persistence layer for listings, sales and audit rows.
	Store *punkdb.MarketplaceStore

	// Registry is the ownership authority consulted before listing and
	// updated on sale.
	Registry *punkdb.Registry

	// EscrowAddress is the Ark address sellers deposit into and buyers
	// pay.
	EscrowAddress string

	// EscrowPubkey is the escrow wallet's public key, published through
	// the info endpoint.
	EscrowPubkey *btcec.PublicKey

	// Reserve is the exact deposit amount every listed punk carries.
	Reserve btcutil.Amount

	// FeePercent is the marketplace fee in whole percent, deducted from
	// the seller payout.
	FeePercent uint64

	// SendTimeout bounds every outbound wallet send.
	SendTimeout time.Duration

	// StrictPayment requires the escrow balance to cover the listing
	// price before an execute is attempted. Disabling it skips the
	// balance probe, for deployments where the wallet's balance endpoint
	// lags behind settled payments.
	StrictPayment bool
}

// Engine drives the escrow state machine. Mutating operations on a single
// punk are mutually exclusive; operations on distinct punks proceed in
// parallel. Outbound wallet sends are additionally serialised across the
// whole engine, one VTXO spend at a time.
type Engine struct {
	cfg EngineConfig

	// punkLocks tracks the in-flight mutating operation per punk.
	punkLocks sync.Map

	// sendMu serialises sends from the escrow wallet.
	sendMu sync.Mutex
}

// NewEngine creates a new escrow engine from the given config.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Reserve == 0 {
		cfg.Reserve = DefaultReserve
	}

	return &Engine{
		cfg: cfg,
	}
}

// lockPunk claims the per-punk mutation slot, failing fast when another
// operation holds it.
func (e *Engine) lockPunk(id punk.ID) (func(), error) {
	if _, loaded := e.punkLocks.LoadOrStore(id, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %v", ErrPunkBusy, id)
	}

	return func() {
		e.punkLocks.Delete(id)
	}, nil
}

// send performs one serialised, deadline-bounded send from the escrow
// wallet.
func (e *Engine) send(ctx context.Context, addr string,
	amount btcutil.Amount) (string, error) {

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()

	return e.cfg.Wallet.Send(sendCtx, addr, amount)
}

// Info describes the escrow wallet to clients.
type Info struct {
	// Address is the escrow deposit and payment address.
	Address string

	// Pubkey is the escrow wallet's public key.
	Pubkey *btcec.PublicKey

	// Reserve is the required deposit amount in sats.
	Reserve btcutil.Amount

	// FeePercent is the marketplace fee.
	FeePercent uint64
}

// Info returns the static escrow parameters.
func (e *Engine) Info() *Info {
	return &Info{
		Address:    e.cfg.EscrowAddress,
		Pubkey:     e.cfg.EscrowPubkey,
		Reserve:    e.cfg.Reserve,
		FeePercent: e.cfg.FeePercent,
	}
}

// ListParams describe a new listing request.
type ListParams struct {
	// PunkID is the punk to list.
	PunkID punk.ID

	// SellerAddress is the seller's Ark address; it must own the punk.
	SellerAddress string

	// SellerPubkey is the seller's public key in x-only serialized form.
	SellerPubkey []byte

	// PriceSats is the asking price.
	PriceSats uint64

	// Compressed is the punk's hex trait payload, if the seller supplies
	// it.
	Compressed string
}

// List opens a new pending listing, after checking the seller actually
// owns the punk.
func (e *Engine) List(ctx context.Context,
	p ListParams) (*punkdb.Listing, error) {

	unlock, err := e.lockPunk(p.PunkID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	registered, err := e.cfg.Registry.FetchPunk(ctx, p.PunkID)
	if err != nil {
		return nil, err
	}
	if registered.Owner != p.SellerAddress {
		return nil, fmt.Errorf("%w: punk %v is owned by %v",
			ErrNotOwner, p.PunkID, registered.Owner)
	}

	listing := &punkdb.Listing{
		PunkID:             p.PunkID,
		SellerAddress:      p.SellerAddress,
		SellerPubkey:       p.SellerPubkey,
		PriceSats:          p.PriceSats,
		EscrowAddress:      e.cfg.EscrowAddress,
		CompressedMetadata: p.Compressed,
	}
	if err := e.cfg.Store.CreateListing(ctx, listing); err != nil {
		e.audit(ctx, &punkdb.AuditEvent{
			Action: punkdb.AuditListCreated,
			PunkID: &p.PunkID,
			Seller: p.SellerAddress,
			Status: punkdb.AuditFailed,
			Error:  err.Error(),
		})
		return nil, err
	}

	e.audit(ctx, &punkdb.AuditEvent{
		Action:     punkdb.AuditListCreated,
		PunkID:     &p.PunkID,
		Seller:     p.SellerAddress,
		AmountSats: p.PriceSats,
		Status:     punkdb.AuditSuccess,
	})

	log.Infof("Listed punk %v for %d sats by %v", p.PunkID, p.PriceSats,
		p.SellerAddress)
	log.Tracef("New listing: %v", spew.Sdump(listing))

	return e.cfg.Store.FetchListing(ctx, p.PunkID)
}

// ConfirmDeposit verifies the seller's claimed deposit outpoint against
// the live escrow wallet state and moves the listing to deposited. The
// deposit must be an unspent VTXO of exactly the reserve amount.
func (e *Engine) ConfirmDeposit(ctx context.Context, id punk.ID,
	outpoint string) error {

	unlock, err := e.lockPunk(id)
	if err != nil {
		return err
	}
	defer unlock()

	listing, err := e.cfg.Store.FetchListing(ctx, id)
	if err != nil {
		return err
	}
	if listing.Status != punkdb.StatusPending {
		return fmt.Errorf("%w: punk %v is %v", punkdb.ErrListingState,
			id, listing.Status)
	}

	if err := e.verifyDeposit(ctx, outpoint); err != nil {
		e.audit(ctx, &punkdb.AuditEvent{
			Action: punkdb.AuditDepositConfirmed,
			PunkID: &id,
			Seller: listing.SellerAddress,
			Status: punkdb.AuditFailed,
			Error:  err.Error(),
		})
		return err
	}

	if err := e.cfg.Store.MarkDeposited(ctx, id, outpoint); err != nil {
		return err
	}

	e.audit(ctx, &punkdb.AuditEvent{
		Action:     punkdb.AuditDepositConfirmed,
		PunkID:     &id,
		Seller:     listing.SellerAddress,
		AmountSats: uint64(e.cfg.Reserve),
		Txid:       outpoint,
		Status:     punkdb.AuditSuccess,
	})

	log.Infof("Confirmed deposit %v for punk %v", outpoint, id)

	return nil
}

// verifyDeposit scans the escrow wallet for an unspent VTXO at the given
// outpoint carrying exactly the reserve amount. Equality, not at-least,
// so mis-sized deposits surface immediately.
func (e *Engine) verifyDeposit(ctx context.Context, outpoint string) error {
	want, err := punktx.ParseOutpoint(outpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDepositUnverified, err)
	}

	vtxos, err := e.cfg.Wallet.GetVtxos(ctx)
	if err != nil {
		return err
	}

	for _, v := range vtxos {
		if v.Spent || v.Outpoint != *want {
			continue
		}

		if v.Amount != e.cfg.Reserve {
			return fmt.Errorf("%w: outpoint %v carries %v, "+
				"want %v", ErrDepositUnverified, outpoint,
				v.Amount, e.cfg.Reserve)
		}

		return nil
	}

	return fmt.Errorf("%w: outpoint %v not found in escrow wallet",
		ErrDepositUnverified, outpoint)
}

// Quote is the buyer-facing description of a deposited listing.
type Quote struct {
	// PunkID is the listed punk.
	PunkID punk.ID

	// PriceSats is the amount the buyer must send.
	PriceSats uint64

	// PayTo is the escrow address the payment goes to.
	PayTo string
}

// QuoteBuy returns the payment instructions for a deposited listing.
func (e *Engine) QuoteBuy(ctx context.Context, id punk.ID) (*Quote, error) {
	listing, err := e.cfg.Store.FetchListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != punkdb.StatusDeposited {
		return nil, fmt.Errorf("%w: punk %v is %v",
			punkdb.ErrListingState, id, listing.Status)
	}

	return &Quote{
		PunkID:    id,
		PriceSats: listing.PriceSats,
		PayTo:     e.cfg.EscrowAddress,
	}, nil
}

// SaleResult describes a completed execute.
type SaleResult struct {
	// PunkID is the sold punk.
	PunkID punk.ID

	// PriceSats is the sale price.
	PriceSats uint64

	// FeeSats is the marketplace fee withheld from the seller.
	FeeSats uint64

	// PaymentTxid is the seller payout transaction.
	PaymentTxid string

	// DepositReturnTxid is the reserve refund transaction.
	DepositReturnTxid string
}

// Execute runs the atomic swap for a deposited listing. The ownership
// commit happens first, in one registry transaction; only then is the
// seller paid. A payment failure after the commit leaves the punk with
// the buyer and records a retryable failure sentinel instead of a txid.
func (e *Engine) Execute(ctx context.Context, id punk.ID,
	buyerAddress string, buyerPubkey []byte) (*SaleResult, error) {

	unlock, err := e.lockPunk(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	listing, err := e.cfg.Store.FetchListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != punkdb.StatusDeposited {
		return nil, fmt.Errorf("%w: punk %v is %v",
			punkdb.ErrListingState, id, listing.Status)
	}
	if listing.PaymentTxid != "" {
		return nil, fmt.Errorf("%w: payment already recorded for "+
			"punk %v", punkdb.ErrListingState, id)
	}

	price := btcutil.Amount(listing.PriceSats)

	// Probe the escrow balance so an unpaid buyer is caught before any
	// state moves.
	if e.cfg.StrictPayment {
		balance, err := e.cfg.Wallet.GetBalance(ctx)
		if err != nil {
			return nil, err
		}
		if balance < price {
			return nil, fmt.Errorf("%w: have %v, need %v",
				ErrInsufficientFunds, balance, price)
		}
	}

	// Commit point: owner, history and buyer binding move in one
	// transaction. From here the buyer owns the punk.
	err = e.cfg.Store.CommitSale(ctx, id, buyerAddress, buyerPubkey)
	if err != nil {
		return nil, err
	}

	fee := listing.PriceSats * e.cfg.FeePercent / 100
	payout := price - btcutil.Amount(fee)

	result := &SaleResult{
		PunkID:    id,
		PriceSats: listing.PriceSats,
		FeeSats:   fee,
	}

	paymentTxid, err := e.send(ctx, listing.SellerAddress, payout)
	if err != nil {
		sentinel := PaymentFailedPrefix + err.Error()
		if dbErr := e.cfg.Store.RecordPayment(ctx, id,
			sentinel); dbErr != nil {

			log.Errorf("Unable to record payment sentinel for "+
				"punk %v: %v", id, dbErr)
		}

		e.audit(ctx, &punkdb.AuditEvent{
			Action:     punkdb.AuditPaymentFailed,
			PunkID:     &id,
			Seller:     listing.SellerAddress,
			Buyer:      buyerAddress,
			AmountSats: uint64(payout),
			Status:     punkdb.AuditFailed,
			Error:      err.Error(),
		})

		return nil, fmt.Errorf("%w: punk %v transferred to %v but "+
			"payout failed: %v", ErrPaymentFailed, id,
			buyerAddress, err)
	}

	result.PaymentTxid = paymentTxid
	if err := e.cfg.Store.RecordPayment(ctx, id, paymentTxid); err != nil {
		return nil, err
	}

	e.audit(ctx, &punkdb.AuditEvent{
		Action:     punkdb.AuditSaleCompleted,
		PunkID:     &id,
		Seller:     listing.SellerAddress,
		Buyer:      buyerAddress,
		AmountSats: uint64(payout),
		Txid:       paymentTxid,
		Status:     punkdb.AuditSuccess,
	})

	// The seller's reserve goes back in a separate send. A failure here
	// is repairable through the reserve-claim path, so the sale still
	// completes.
	returnTxid, err := e.send(ctx, listing.SellerAddress, e.cfg.Reserve)
	if err != nil {
		e.audit(ctx, &punkdb.AuditEvent{
			Action:     punkdb.AuditRefundFailed,
			PunkID:     &id,
			Seller:     listing.SellerAddress,
			AmountSats: uint64(e.cfg.Reserve),
			Status:     punkdb.AuditFailed,
			Error:      err.Error(),
		})

		log.Warnf("Reserve return for punk %v failed: %v", id, err)
	} else {
		result.DepositReturnTxid = returnTxid
		err := e.cfg.Store.RecordDepositReturn(ctx, id, returnTxid)
		if err != nil {
			return nil, err
		}

		e.audit(ctx, &punkdb.AuditEvent{
			Action:     punkdb.AuditSaleCompleted,
			PunkID:     &id,
			Seller:     listing.SellerAddress,
			AmountSats: uint64(e.cfg.Reserve),
			Txid:       returnTxid,
			Status:     punkdb.AuditSuccess,
			Details:    `{"payout":"reserve_return"}`,
		})
	}

	err = e.cfg.Store.RecordSale(ctx, &punkdb.Sale{
		PunkID:      id,
		PriceSats:   listing.PriceSats,
		Seller:      listing.SellerAddress,
		Buyer:       buyerAddress,
		SoldAt:      time.Now().UTC(),
		PaymentTxid: paymentTxid,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Executed sale of punk %v: %v -> %v for %d sats (fee %d)",
		id, listing.SellerAddress, buyerAddress, listing.PriceSats,
		fee)

	return result, nil
}

// Cancel withdraws an open listing. A deposited listing has its reserve
// refunded first; the listing is only marked cancelled once the refund
// txid is in hand.
func (e *Engine) Cancel(ctx context.Context, id punk.ID,
	sellerAddress string) error {

	unlock, err := e.lockPunk(id)
	if err != nil {
		return err
	}
	defer unlock()

	listing, err := e.cfg.Store.FetchListing(ctx, id)
	if err != nil {
		return err
	}
	if listing.SellerAddress != sellerAddress {
		return fmt.Errorf("%w: listing for punk %v belongs to %v",
			ErrNotSeller, id, listing.SellerAddress)
	}

	switch listing.Status {
	case punkdb.StatusPending:
		// No deposit was made, nothing to refund.

	case punkdb.StatusDeposited:
		refundTxid, err := e.send(ctx, listing.SellerAddress,
			e.cfg.Reserve)
		if err != nil {
			e.audit(ctx, &punkdb.AuditEvent{
				Action:     punkdb.AuditRefundFailed,
				PunkID:     &id,
				Seller:     listing.SellerAddress,
				AmountSats: uint64(e.cfg.Reserve),
				Status:     punkdb.AuditFailed,
				Error:      err.Error(),
			})

			return fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}

		err = e.cfg.Store.RecordDepositReturn(ctx, id, refundTxid)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: punk %v is %v", punkdb.ErrListingState,
			id, listing.Status)
	}

	if err := e.cfg.Store.Cancel(ctx, id); err != nil {
		return err
	}

	e.audit(ctx, &punkdb.AuditEvent{
		Action: punkdb.AuditListingCancelled,
		PunkID: &id,
		Seller: listing.SellerAddress,
		Status: punkdb.AuditSuccess,
	})

	log.Infof("Cancelled listing for punk %v", id)

	return nil
}

// ClaimParams describe a reserve-claim repair request.
type ClaimParams struct {
	// Address is the wallet claiming missing reserves.
	Address string

	// WalletBalance is the wallet's current spendable balance, as
	// reported by the claiming wallet.
	WalletBalance btcutil.Amount
}

// ClaimReserves pays out the reserve shortfall of a wallet whose punk
// count exceeds what its balance accounts for. The operation is bounded
// below by the minimum claim and above by the escrow's own balance, and
// is idempotent: once topped up, the shortfall is zero.
func (e *Engine) ClaimReserves(ctx context.Context,
	p ClaimParams) (btcutil.Amount, string, error) {

	punks, err := e.cfg.Registry.FetchPunksByOwner(ctx, p.Address)
	if err != nil {
		return 0, "", err
	}

	expected := btcutil.Amount(int64(len(punks))) * e.cfg.Reserve
	if p.WalletBalance >= expected {
		return 0, "", fmt.Errorf("%w: wallet %v holds %v for %d "+
			"punks", ErrClaimTooSmall, p.Address, p.WalletBalance,
			len(punks))
	}

	owed := expected - p.WalletBalance
	if owed < MinReserveClaim {
		return 0, "", fmt.Errorf("%w: shortfall %v below minimum %d",
			ErrClaimTooSmall, owed, int64(MinReserveClaim))
	}

	escrowBalance, err := e.cfg.Wallet.GetBalance(ctx)
	if err != nil {
		return 0, "", err
	}
	if owed > escrowBalance {
		owed = escrowBalance
	}
	if owed < MinReserveClaim {
		return 0, "", fmt.Errorf("%w: escrow balance %v can't cover "+
			"minimum claim", ErrInsufficientFunds, escrowBalance)
	}

	txid, err := e.send(ctx, p.Address, owed)
	if err != nil {
		return 0, "", err
	}

	details, _ := json.Marshal(map[string]interface{}{
		"claim":      "reserve_shortfall",
		"punk_count": len(punks),
	})
	e.audit(ctx, &punkdb.AuditEvent{
		Action:     punkdb.AuditSaleCompleted,
		Seller:     p.Address,
		AmountSats: uint64(owed),
		Txid:       txid,
		Status:     punkdb.AuditSuccess,
		Details:    string(details),
	})

	log.Infof("Paid reserve claim of %v to %v", owed, p.Address)

	return owed, txid, nil
}

// audit writes one audit row, never failing the caller's path.
func (e *Engine) audit(ctx context.Context, event *punkdb.AuditEvent) {
	event.Timestamp = time.Now().UTC()
	_ = e.cfg.Store.Audit(ctx, event)
}
