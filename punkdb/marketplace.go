package punkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkdb/sqlite"
)

type (
	// NewListingRow holds the arguments to open a listing.
	NewListingRow = sqlite.NewListingParams

	// ListingRow is a raw listing row.
	ListingRow = sqlite.Listing

	// ListingDeposit holds the arguments to mark a listing deposited.
	ListingDeposit = sqlite.MarkListingDepositedParams

	// SaleCommit holds the arguments to bind a buyer to a listing.
	SaleCommit = sqlite.CommitListingSaleParams

	// NewSaleRow holds the arguments to append a completed sale.
	NewSaleRow = sqlite.InsertSaleParams

	// SaleRow is a raw sales row.
	SaleRow = sqlite.Sale

	// NewAuditRow holds the arguments to append an audit event.
	NewAuditRow = sqlite.InsertAuditEventParams

	// AuditRow is a raw audit log row.
	AuditRow = sqlite.AuditEvent
)

var (
	// ErrListingNotFound is returned when a punk has no listing row.
	ErrListingNotFound = errors.New("punkdb: listing not found")

	// ErrListingExists is returned when a punk already has an open
	// listing.
	ErrListingExists = errors.New("punkdb: listing already exists")

	// ErrListingState is returned when a listing is not in the state the
	// requested transition demands.
	ErrListingState = errors.New("punkdb: listing in wrong state")
)

// ListingStatus enumerates the escrow listing states.
type ListingStatus string

const (
	// StatusPending is a freshly opened listing awaiting the seller's
	// punk deposit.
	StatusPending ListingStatus = "pending"

	// StatusDeposited is a listing whose reserve deposit has been
	// verified against live wallet state.
	StatusDeposited ListingStatus = "deposited"

	// StatusSold is a terminal, completed listing.
	StatusSold ListingStatus = "sold"

	// StatusCancelled is a terminal, withdrawn listing.
	StatusCancelled ListingStatus = "cancelled"
)

// Audit actions, one per privileged marketplace operation.
const (
	AuditListCreated      = "LIST_CREATED"
	AuditDepositConfirmed = "DEPOSIT_CONFIRMED"
	AuditSaleCompleted    = "SALE_COMPLETED"
	AuditPaymentFailed    = "PAYMENT_FAILED"
	AuditListingCancelled = "LISTING_CANCELLED"
	AuditRefundFailed     = "REFUND_FAILED"
)

// Audit statuses.
const (
	AuditSuccess = "SUCCESS"
	AuditFailed  = "FAILED"
	AuditPending = "PENDING"
)

// MarketStore is a sub-set of the main sqlite.Querier interface that
// contains the methods needed to drive the escrow marketplace, plus the
// registry writes that a sale commits atomically with the listing update.
type MarketStore interface {
	NewListing(ctx context.Context, arg NewListingRow) error
	FetchListing(ctx context.Context, punkID []byte) (ListingRow, error)
	FetchActiveListings(ctx context.Context) ([]ListingRow, error)
	MarkListingDeposited(ctx context.Context,
		arg ListingDeposit) (int64, error)
	CommitListingSale(ctx context.Context, arg SaleCommit) (int64, error)
	SetListingPaymentTxid(ctx context.Context,
		arg sqlite.SetListingPaymentTxidParams) error
	SetListingDepositReturnTxid(ctx context.Context,
		arg sqlite.SetListingDepositReturnTxidParams) error
	CancelListing(ctx context.Context,
		arg sqlite.CancelListingParams) (int64, error)
	DeleteListing(ctx context.Context, punkID []byte) error

	FetchPunk(ctx context.Context, punkID []byte) (PunkRow, error)
	UpdatePunkOwner(ctx context.Context, arg OwnerUpdate) error
	InsertOwnershipHistory(ctx context.Context, arg NewHistoryRow) error

	InsertSale(ctx context.Context, arg NewSaleRow) error
	FetchSales(ctx context.Context) ([]SaleRow, error)
	FetchSalesStats(ctx context.Context) (sqlite.FetchSalesStatsRow,
		error)

	InsertAuditEvent(ctx context.Context, arg NewAuditRow) error
	FetchAuditEvents(ctx context.Context,
		limit int64) ([]AuditRow, error)
}

// MarketTxOptions defines the set of db txn options the MarketStore
// understands.
type MarketTxOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (m *MarketTxOptions) ReadOnly() bool {
	return m.readOnly
}

// NewMarketReadTx creates a new read transaction option set.
func NewMarketReadTx() MarketTxOptions {
	return MarketTxOptions{
		readOnly: true,
	}
}

// BatchedMarketStore combines the MarketStore interface with the
// BatchedTx interface, allowing for multiple queries to be executed in a
// single SQL transaction.
type BatchedMarketStore interface {
	MarketStore

	BatchedTx[MarketStore, TxOptions]
}

// MarketplaceStore is the persistence layer of the escrow engine.
type MarketplaceStore struct {
	db BatchedMarketStore
}

// NewMarketplaceStore creates a new MarketplaceStore from the specified
// BatchedMarketStore interface.
func NewMarketplaceStore(db BatchedMarketStore) *MarketplaceStore {
	return &MarketplaceStore{
		db: db,
	}
}

// Listing is a listing row in its domain form.
type Listing struct {
	PunkID             punk.ID
	SellerAddress      string
	SellerPubkey       []byte
	PriceSats          uint64
	Status             ListingStatus
	EscrowAddress      string
	PunkVtxoOutpoint   string
	CreatedAt          time.Time
	DepositedAt        time.Time
	SoldAt             time.Time
	CancelledAt        time.Time
	BuyerAddress       string
	BuyerPubkey        []byte
	PaymentTxid        string
	DepositReturnTxid  string
	CompressedMetadata string
}

// Sale is a completed sale in its domain form.
type Sale struct {
	PunkID      punk.ID
	PriceSats   uint64
	Seller      string
	Buyer       string
	SoldAt      time.Time
	PaymentTxid string
}

// SalesStats aggregates the marketplace's sales history.
type SalesStats struct {
	NumSales   int64
	FloorSats  uint64
	HighSats   uint64
	VolumeSats uint64
	AvgSats    float64
}

// AuditEvent is an audit row in its domain form.
type AuditEvent struct {
	Timestamp  time.Time
	Action     string
	PunkID     *punk.ID
	Seller     string
	Buyer      string
	AmountSats uint64
	Txid       string
	Status     string
	Error      string
	Details    string
}

// CreateListing opens a new pending listing for the punk. A terminal
// listing row from an earlier sale or cancellation is cleared first so the
// punk can be relisted; an open listing is a conflict.
func (m *MarketplaceStore) CreateListing(ctx context.Context,
	l *Listing) error {

	now := time.Now().UTC()

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		existing, err := q.FetchListing(ctx, l.PunkID[:])
		switch {
		case err == nil:
			status := ListingStatus(existing.Status)
			if status == StatusPending ||
				status == StatusDeposited {

				return fmt.Errorf("%w: punk %v is %v",
					ErrListingExists, l.PunkID, status)
			}

			if err := q.DeleteListing(ctx,
				l.PunkID[:]); err != nil {

				return err
			}

		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		return q.NewListing(ctx, NewListingRow{
			PunkID:             l.PunkID[:],
			SellerAddress:      l.SellerAddress,
			SellerPubkey:       l.SellerPubkey,
			PriceSats:          int64(l.PriceSats),
			EscrowAddress:      l.EscrowAddress,
			CompressedMetadata: sqlStr(l.CompressedMetadata),
			CreatedAt:          now,
		})
	})
}

// FetchListing returns the listing row of a punk.
func (m *MarketplaceStore) FetchListing(ctx context.Context,
	id punk.ID) (*Listing, error) {

	var row ListingRow

	readOpts := NewMarketReadTx()
	err := m.db.ExecTx(ctx, &readOpts, func(q MarketStore) error {
		var err error
		row, err = q.FetchListing(ctx, id[:])
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", ErrListingNotFound, id)

	case err != nil:
		return nil, err
	}

	return marshalListingRow(row)
}

// ActiveListings returns every pending or deposited listing.
func (m *MarketplaceStore) ActiveListings(ctx context.Context) ([]*Listing,
	error) {

	var rows []ListingRow

	readOpts := NewMarketReadTx()
	err := m.db.ExecTx(ctx, &readOpts, func(q MarketStore) error {
		var err error
		rows, err = q.FetchActiveListings(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	listings := make([]*Listing, 0, len(rows))
	for _, row := range rows {
		l, err := marshalListingRow(row)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}

	return listings, nil
}

// MarkDeposited moves a pending listing into the deposited state with the
// verified deposit outpoint.
func (m *MarketplaceStore) MarkDeposited(ctx context.Context, id punk.ID,
	outpoint string) error {

	now := time.Now().UTC()

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		rows, err := q.MarkListingDeposited(ctx, ListingDeposit{
			PunkVtxoOutpoint: outpoint,
			DepositedAt:      now,
			PunkID:           id[:],
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: punk %v is not pending",
				ErrListingState, id)
		}

		return nil
	})
}

// CommitSale atomically transfers the punk to the buyer: the owner
// rewrite, the history row and the listing's buyer binding commit in a
// single transaction. The guarded listing update means exactly one of any
// number of concurrent commits can succeed; the rest observe
// ErrListingState.
func (m *MarketplaceStore) CommitSale(ctx context.Context, id punk.ID,
	buyerAddress string, buyerPubkey []byte) error {

	now := time.Now().UTC()

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		listing, err := q.FetchListing(ctx, id[:])
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: %v", ErrListingNotFound, id)

		case err != nil:
			return err
		}

		rows, err := q.CommitListingSale(ctx, SaleCommit{
			BuyerAddress: buyerAddress,
			BuyerPubkey:  buyerPubkey,
			SoldAt:       now,
			PunkID:       id[:],
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: punk %v is not deposited or "+
				"payment already recorded", ErrListingState,
				id)
		}

		err = q.UpdatePunkOwner(ctx, OwnerUpdate{
			OwnerAddress: buyerAddress,
			UpdatedAt:    now,
			PunkID:       id[:],
		})
		if err != nil {
			return err
		}

		return q.InsertOwnershipHistory(ctx, NewHistoryRow{
			PunkID:   id[:],
			FromAddr: sqlStr(listing.SellerAddress),
			ToAddr:   buyerAddress,
			Ts:       now,
		})
	})
}

// RecordPayment writes the seller payout txid, or the failure sentinel
// when the payout could not be sent.
func (m *MarketplaceStore) RecordPayment(ctx context.Context, id punk.ID,
	txid string) error {

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		return q.SetListingPaymentTxid(ctx,
			sqlite.SetListingPaymentTxidParams{
				PaymentTxid: txid,
				PunkID:      id[:],
			},
		)
	})
}

// RecordDepositReturn writes the txid of the reserve returned to the
// seller.
func (m *MarketplaceStore) RecordDepositReturn(ctx context.Context,
	id punk.ID, txid string) error {

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		return q.SetListingDepositReturnTxid(ctx,
			sqlite.SetListingDepositReturnTxidParams{
				DepositReturnTxid: txid,
				PunkID:            id[:],
			},
		)
	})
}

// Cancel moves an open listing into the cancelled state.
func (m *MarketplaceStore) Cancel(ctx context.Context, id punk.ID) error {
	now := time.Now().UTC()

	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		rows, err := q.CancelListing(ctx, sqlite.CancelListingParams{
			CancelledAt: now,
			PunkID:      id[:],
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: punk %v has no open listing",
				ErrListingState, id)
		}

		return nil
	})
}

// RecordSale appends the completed sale to the sales history.
func (m *MarketplaceStore) RecordSale(ctx context.Context, s *Sale) error {
	var writeTxOpts MarketTxOptions
	return m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		return q.InsertSale(ctx, NewSaleRow{
			PunkID:      s.PunkID[:],
			PriceSats:   int64(s.PriceSats),
			Seller:      s.Seller,
			Buyer:       s.Buyer,
			SoldAt:      s.SoldAt,
			PaymentTxid: s.PaymentTxid,
		})
	})
}

// Sales returns every recorded sale, newest first.
func (m *MarketplaceStore) Sales(ctx context.Context) ([]*Sale, error) {
	var rows []SaleRow

	readOpts := NewMarketReadTx()
	err := m.db.ExecTx(ctx, &readOpts, func(q MarketStore) error {
		var err error
		rows, err = q.FetchSales(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	sales := make([]*Sale, 0, len(rows))
	for _, row := range rows {
		id, err := punk.NewIDFromBytes(row.PunkID)
		if err != nil {
			return nil, err
		}

		sales = append(sales, &Sale{
			PunkID:      id,
			PriceSats:   uint64(row.PriceSats),
			Seller:      row.Seller,
			Buyer:       row.Buyer,
			SoldAt:      row.SoldAt,
			PaymentTxid: row.PaymentTxid,
		})
	}

	return sales, nil
}

// Stats returns the marketplace aggregates over all sales.
func (m *MarketplaceStore) Stats(ctx context.Context) (*SalesStats,
	error) {

	var row sqlite.FetchSalesStatsRow

	readOpts := NewMarketReadTx()
	err := m.db.ExecTx(ctx, &readOpts, func(q MarketStore) error {
		var err error
		row, err = q.FetchSalesStats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &SalesStats{
		NumSales:   row.NumSales,
		FloorSats:  uint64(row.FloorSats),
		HighSats:   uint64(row.HighSats),
		VolumeSats: uint64(row.VolumeSats),
		AvgSats:    row.AvgSats,
	}, nil
}

// Audit appends a row to the audit log in its own short transaction.
func (m *MarketplaceStore) Audit(ctx context.Context,
	event *AuditEvent) error {

	row := NewAuditRow{
		Timestamp:   event.Timestamp,
		Action:      event.Action,
		Seller:      sqlStr(event.Seller),
		Buyer:       sqlStr(event.Buyer),
		Txid:        sqlStr(event.Txid),
		Status:      event.Status,
		Error:       sqlStr(event.Error),
		DetailsJson: sqlStr(event.Details),
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	if event.PunkID != nil {
		row.PunkID = event.PunkID[:]
	}
	if event.AmountSats != 0 {
		row.AmountSats = sqlInt64(event.AmountSats)
	}

	var writeTxOpts MarketTxOptions
	err := m.db.ExecTx(ctx, &writeTxOpts, func(q MarketStore) error {
		return q.InsertAuditEvent(ctx, row)
	})
	if err != nil {
		log.Errorf("Unable to write audit row %v: %v", event.Action,
			err)
	}

	return err
}

// AuditTrail returns the most recent audit rows, newest first.
func (m *MarketplaceStore) AuditTrail(ctx context.Context,
	limit int64) ([]*AuditEvent, error) {

	var rows []AuditRow

	readOpts := NewMarketReadTx()
	err := m.db.ExecTx(ctx, &readOpts, func(q MarketStore) error {
		var err error
		rows, err = q.FetchAuditEvents(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]*AuditEvent, 0, len(rows))
	for _, row := range rows {
		event := &AuditEvent{
			Timestamp: row.Timestamp,
			Action:    row.Action,
			Seller:    extractSqlStr(row.Seller),
			Buyer:     extractSqlStr(row.Buyer),
			Txid:      extractSqlStr(row.Txid),
			Status:    row.Status,
			Error:     extractSqlStr(row.Error),
			Details:   extractSqlStr(row.DetailsJson),
		}
		if len(row.PunkID) != 0 {
			id, err := punk.NewIDFromBytes(row.PunkID)
			if err != nil {
				return nil, err
			}
			event.PunkID = &id
		}
		if row.AmountSats.Valid {
			event.AmountSats = extractSqlInt64[uint64](
				row.AmountSats,
			)
		}

		events = append(events, event)
	}

	return events, nil
}

func marshalListingRow(row ListingRow) (*Listing, error) {
	id, err := punk.NewIDFromBytes(row.PunkID)
	if err != nil {
		return nil, err
	}

	l := &Listing{
		PunkID:             id,
		SellerAddress:      row.SellerAddress,
		SellerPubkey:       row.SellerPubkey,
		PriceSats:          uint64(row.PriceSats),
		Status:             ListingStatus(row.Status),
		EscrowAddress:      row.EscrowAddress,
		PunkVtxoOutpoint:   extractSqlStr(row.PunkVtxoOutpoint),
		CreatedAt:          row.CreatedAt,
		BuyerAddress:       extractSqlStr(row.BuyerAddress),
		BuyerPubkey:        row.BuyerPubkey,
		PaymentTxid:        extractSqlStr(row.PaymentTxid),
		DepositReturnTxid:  extractSqlStr(row.DepositReturnTxid),
		CompressedMetadata: extractSqlStr(row.CompressedMetadata),
	}
	if row.DepositedAt.Valid {
		l.DepositedAt = row.DepositedAt.Time
	}
	if row.SoldAt.Valid {
		l.SoldAt = row.SoldAt.Time
	}
	if row.CancelledAt.Valid {
		l.CancelledAt = row.CancelledAt.Time
	}

	return l, nil
}
