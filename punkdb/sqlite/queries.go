package sqlite

import (
	"context"
	"database/sql"
	"time"
)

const insertPunk = `
INSERT INTO punks (
    punk_id, owner_address, compressed_metadata, server_signature,
    minted_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?)
`

// InsertPunkParams holds the arguments of InsertPunk.
type InsertPunkParams struct {
	PunkID             []byte
	OwnerAddress       string
	CompressedMetadata sql.NullString
	ServerSignature    []byte
	MintedAt           time.Time
	UpdatedAt          time.Time
}

// InsertPunk inserts a new punk row.
func (q *Queries) InsertPunk(ctx context.Context,
	arg InsertPunkParams) error {

	_, err := q.db.ExecContext(ctx, insertPunk, arg.PunkID,
		arg.OwnerAddress, arg.CompressedMetadata, arg.ServerSignature,
		arg.MintedAt, arg.UpdatedAt)
	return err
}

const fetchPunk = `
SELECT punk_id, owner_address, compressed_metadata, server_signature,
       minted_at, updated_at
FROM punks
WHERE punk_id = ?
`

// FetchPunk fetches the punk row with the given id.
func (q *Queries) FetchPunk(ctx context.Context,
	punkID []byte) (Punk, error) {

	row := q.db.QueryRowContext(ctx, fetchPunk, punkID)

	var p Punk
	err := row.Scan(&p.PunkID, &p.OwnerAddress, &p.CompressedMetadata,
		&p.ServerSignature, &p.MintedAt, &p.UpdatedAt)
	return p, err
}

const fetchAllPunks = `
SELECT punk_id, owner_address, compressed_metadata, server_signature,
       minted_at, updated_at
FROM punks
ORDER BY minted_at
`

// FetchAllPunks returns every punk row in mint order.
func (q *Queries) FetchAllPunks(ctx context.Context) ([]Punk, error) {
	rows, err := q.db.QueryContext(ctx, fetchAllPunks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punks []Punk
	for rows.Next() {
		var p Punk
		if err := rows.Scan(&p.PunkID, &p.OwnerAddress,
			&p.CompressedMetadata, &p.ServerSignature, &p.MintedAt,
			&p.UpdatedAt); err != nil {

			return nil, err
		}
		punks = append(punks, p)
	}

	return punks, rows.Err()
}

const fetchPunksByOwner = `
SELECT punk_id, owner_address, compressed_metadata, server_signature,
       minted_at, updated_at
FROM punks
WHERE owner_address = ?
ORDER BY minted_at
`

// FetchPunksByOwner returns the punks held by the given address.
func (q *Queries) FetchPunksByOwner(ctx context.Context,
	ownerAddress string) ([]Punk, error) {

	rows, err := q.db.QueryContext(ctx, fetchPunksByOwner, ownerAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punks []Punk
	for rows.Next() {
		var p Punk
		if err := rows.Scan(&p.PunkID, &p.OwnerAddress,
			&p.CompressedMetadata, &p.ServerSignature, &p.MintedAt,
			&p.UpdatedAt); err != nil {

			return nil, err
		}
		punks = append(punks, p)
	}

	return punks, rows.Err()
}

const countPunks = `
SELECT COUNT(*) FROM punks
`

// CountPunks returns the number of minted punks.
func (q *Queries) CountPunks(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPunks)

	var count int64
	err := row.Scan(&count)
	return count, err
}

const updatePunkOwner = `
UPDATE punks
SET owner_address = ?, updated_at = ?
WHERE punk_id = ?
`

// UpdatePunkOwnerParams holds the arguments of UpdatePunkOwner.
type UpdatePunkOwnerParams struct {
	OwnerAddress string
	UpdatedAt    time.Time
	PunkID       []byte
}

// UpdatePunkOwner rewrites the owner of an existing punk row.
func (q *Queries) UpdatePunkOwner(ctx context.Context,
	arg UpdatePunkOwnerParams) error {

	_, err := q.db.ExecContext(ctx, updatePunkOwner, arg.OwnerAddress,
		arg.UpdatedAt, arg.PunkID)
	return err
}

const touchPunk = `
UPDATE punks
SET updated_at = ?,
    compressed_metadata = COALESCE(?, compressed_metadata)
WHERE punk_id = ?
`

// TouchPunkParams holds the arguments of TouchPunk.
type TouchPunkParams struct {
	UpdatedAt          time.Time
	CompressedMetadata sql.NullString
	PunkID             []byte
}

// TouchPunk refreshes a punk row's updated_at stamp and replaces its
// compressed metadata when a new value is supplied; a NULL value keeps the
// stored one.
func (q *Queries) TouchPunk(ctx context.Context,
	arg TouchPunkParams) error {

	_, err := q.db.ExecContext(ctx, touchPunk, arg.UpdatedAt,
		arg.CompressedMetadata, arg.PunkID)
	return err
}

const insertOwnershipHistory = `
INSERT INTO ownership_history (punk_id, from_addr, to_addr, ts)
VALUES (?, ?, ?, ?)
`

// InsertOwnershipHistoryParams holds the arguments of
// InsertOwnershipHistory.
type InsertOwnershipHistoryParams struct {
	PunkID   []byte
	FromAddr sql.NullString
	ToAddr   string
	Ts       time.Time
}

// InsertOwnershipHistory appends an ownership change to the history
// trail.
func (q *Queries) InsertOwnershipHistory(ctx context.Context,
	arg InsertOwnershipHistoryParams) error {

	_, err := q.db.ExecContext(ctx, insertOwnershipHistory, arg.PunkID,
		arg.FromAddr, arg.ToAddr, arg.Ts)
	return err
}

const fetchHistoryForPunk = `
SELECT id, punk_id, from_addr, to_addr, ts
FROM ownership_history
WHERE punk_id = ?
ORDER BY id
`

// FetchHistoryForPunk returns the ownership trail of a punk, oldest
// first.
func (q *Queries) FetchHistoryForPunk(ctx context.Context,
	punkID []byte) ([]OwnershipHistory, error) {

	rows, err := q.db.QueryContext(ctx, fetchHistoryForPunk, punkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []OwnershipHistory
	for rows.Next() {
		var h OwnershipHistory
		if err := rows.Scan(&h.ID, &h.PunkID, &h.FromAddr, &h.ToAddr,
			&h.Ts); err != nil {

			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

const newListing = `
INSERT INTO listings (
    punk_id, seller_address, seller_pubkey, price_sats, status,
    escrow_address, compressed_metadata, created_at
) VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
`

// NewListingParams holds the arguments of NewListing.
type NewListingParams struct {
	PunkID             []byte
	SellerAddress      string
	SellerPubkey       []byte
	PriceSats          int64
	EscrowAddress      string
	CompressedMetadata sql.NullString
	CreatedAt          time.Time
}

// NewListing opens a fresh listing in the pending state.
func (q *Queries) NewListing(ctx context.Context,
	arg NewListingParams) error {

	_, err := q.db.ExecContext(ctx, newListing, arg.PunkID,
		arg.SellerAddress, arg.SellerPubkey, arg.PriceSats,
		arg.EscrowAddress, arg.CompressedMetadata, arg.CreatedAt)
	return err
}

const fetchListing = `
SELECT punk_id, seller_address, seller_pubkey, price_sats, status,
       escrow_address, punk_vtxo_outpoint, created_at, deposited_at,
       sold_at, cancelled_at, buyer_address, buyer_pubkey, payment_txid,
       deposit_return_txid, compressed_metadata
FROM listings
WHERE punk_id = ?
`

// FetchListing returns the listing row of a punk.
func (q *Queries) FetchListing(ctx context.Context,
	punkID []byte) (Listing, error) {

	row := q.db.QueryRowContext(ctx, fetchListing, punkID)

	var l Listing
	err := row.Scan(&l.PunkID, &l.SellerAddress, &l.SellerPubkey,
		&l.PriceSats, &l.Status, &l.EscrowAddress, &l.PunkVtxoOutpoint,
		&l.CreatedAt, &l.DepositedAt, &l.SoldAt, &l.CancelledAt,
		&l.BuyerAddress, &l.BuyerPubkey, &l.PaymentTxid,
		&l.DepositReturnTxid, &l.CompressedMetadata)
	return l, err
}

const fetchActiveListings = `
SELECT punk_id, seller_address, seller_pubkey, price_sats, status,
       escrow_address, punk_vtxo_outpoint, created_at, deposited_at,
       sold_at, cancelled_at, buyer_address, buyer_pubkey, payment_txid,
       deposit_return_txid, compressed_metadata
FROM listings
WHERE status IN ('pending', 'deposited')
ORDER BY created_at
`

// FetchActiveListings returns every listing still open for sale.
func (q *Queries) FetchActiveListings(ctx context.Context) ([]Listing,
	error) {

	rows, err := q.db.QueryContext(ctx, fetchActiveListings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanListings(rows)
}

func scanListings(rows *sql.Rows) ([]Listing, error) {
	var listings []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.PunkID, &l.SellerAddress,
			&l.SellerPubkey, &l.PriceSats, &l.Status,
			&l.EscrowAddress, &l.PunkVtxoOutpoint, &l.CreatedAt,
			&l.DepositedAt, &l.SoldAt, &l.CancelledAt,
			&l.BuyerAddress, &l.BuyerPubkey, &l.PaymentTxid,
			&l.DepositReturnTxid,
			&l.CompressedMetadata); err != nil {

			return nil, err
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

const markListingDeposited = `
UPDATE listings
SET status = 'deposited', punk_vtxo_outpoint = ?, deposited_at = ?
WHERE punk_id = ? AND status = 'pending'
`

// MarkListingDepositedParams holds the arguments of
// MarkListingDeposited.
type MarkListingDepositedParams struct {
	PunkVtxoOutpoint string
	DepositedAt      time.Time
	PunkID           []byte
}

// MarkListingDeposited moves a pending listing into the deposited state,
// recording the verified deposit outpoint.
func (q *Queries) MarkListingDeposited(ctx context.Context,
	arg MarkListingDepositedParams) (int64, error) {

	res, err := q.db.ExecContext(ctx, markListingDeposited,
		arg.PunkVtxoOutpoint, arg.DepositedAt, arg.PunkID)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const commitListingSale = `
UPDATE listings
SET status = 'sold', buyer_address = ?, buyer_pubkey = ?, sold_at = ?
WHERE punk_id = ? AND status = 'deposited' AND payment_txid IS NULL
`

// CommitListingSaleParams holds the arguments of CommitListingSale.
type CommitListingSaleParams struct {
	BuyerAddress string
	BuyerPubkey  []byte
	SoldAt       time.Time
	PunkID       []byte
}

// CommitListingSale binds the buyer to a deposited listing and marks it
// sold. The status and payment guards make the update a no-op when the
// sale was already committed, which the caller detects via the affected
// row count.
func (q *Queries) CommitListingSale(ctx context.Context,
	arg CommitListingSaleParams) (int64, error) {

	res, err := q.db.ExecContext(ctx, commitListingSale,
		arg.BuyerAddress, arg.BuyerPubkey, arg.SoldAt, arg.PunkID)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const setListingPaymentTxid = `
UPDATE listings
SET payment_txid = ?
WHERE punk_id = ?
`

// SetListingPaymentTxidParams holds the arguments of
// SetListingPaymentTxid.
type SetListingPaymentTxidParams struct {
	PaymentTxid string
	PunkID      []byte
}

// SetListingPaymentTxid records the seller payout txid, or the failure
// sentinel when the payout could not be sent.
func (q *Queries) SetListingPaymentTxid(ctx context.Context,
	arg SetListingPaymentTxidParams) error {

	_, err := q.db.ExecContext(ctx, setListingPaymentTxid,
		arg.PaymentTxid, arg.PunkID)
	return err
}

const setListingDepositReturnTxid = `
UPDATE listings
SET deposit_return_txid = ?
WHERE punk_id = ?
`

// SetListingDepositReturnTxidParams holds the arguments of
// SetListingDepositReturnTxid.
type SetListingDepositReturnTxidParams struct {
	DepositReturnTxid string
	PunkID            []byte
}

// SetListingDepositReturnTxid records the txid of the reserve returned
// to the seller.
func (q *Queries) SetListingDepositReturnTxid(ctx context.Context,
	arg SetListingDepositReturnTxidParams) error {

	_, err := q.db.ExecContext(ctx, setListingDepositReturnTxid,
		arg.DepositReturnTxid, arg.PunkID)
	return err
}

const cancelListing = `
UPDATE listings
SET status = 'cancelled', cancelled_at = ?
WHERE punk_id = ? AND status IN ('pending', 'deposited')
`

// CancelListingParams holds the arguments of CancelListing.
type CancelListingParams struct {
	CancelledAt time.Time
	PunkID      []byte
}

// CancelListing moves an open listing into the cancelled state.
func (q *Queries) CancelListing(ctx context.Context,
	arg CancelListingParams) (int64, error) {

	res, err := q.db.ExecContext(ctx, cancelListing, arg.CancelledAt,
		arg.PunkID)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const deleteListing = `
DELETE FROM listings
WHERE punk_id = ? AND status IN ('sold', 'cancelled')
`

// DeleteListing removes a terminal listing row so the punk can be listed
// again.
func (q *Queries) DeleteListing(ctx context.Context,
	punkID []byte) error {

	_, err := q.db.ExecContext(ctx, deleteListing, punkID)
	return err
}

const insertSale = `
INSERT INTO sales (punk_id, price_sats, seller, buyer, sold_at,
                   payment_txid)
VALUES (?, ?, ?, ?, ?, ?)
`

// InsertSaleParams holds the arguments of InsertSale.
type InsertSaleParams struct {
	PunkID      []byte
	PriceSats   int64
	Seller      string
	Buyer       string
	SoldAt      time.Time
	PaymentTxid string
}

// InsertSale appends a completed sale.
func (q *Queries) InsertSale(ctx context.Context,
	arg InsertSaleParams) error {

	_, err := q.db.ExecContext(ctx, insertSale, arg.PunkID,
		arg.PriceSats, arg.Seller, arg.Buyer, arg.SoldAt,
		arg.PaymentTxid)
	return err
}

const fetchSales = `
SELECT id, punk_id, price_sats, seller, buyer, sold_at, payment_txid
FROM sales
ORDER BY sold_at DESC
`

// FetchSales returns every recorded sale, newest first.
func (q *Queries) FetchSales(ctx context.Context) ([]Sale, error) {
	rows, err := q.db.QueryContext(ctx, fetchSales)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.PunkID, &s.PriceSats, &s.Seller,
			&s.Buyer, &s.SoldAt, &s.PaymentTxid); err != nil {

			return nil, err
		}
		sales = append(sales, s)
	}

	return sales, rows.Err()
}

const fetchSalesStats = `
SELECT COUNT(*),
       COALESCE(MIN(price_sats), 0),
       COALESCE(MAX(price_sats), 0),
       COALESCE(SUM(price_sats), 0),
       COALESCE(AVG(price_sats), 0)
FROM sales
`

// FetchSalesStatsRow is the aggregate row returned by FetchSalesStats.
type FetchSalesStatsRow struct {
	NumSales   int64
	FloorSats  int64
	HighSats   int64
	VolumeSats int64
	AvgSats    float64
}

// FetchSalesStats returns the marketplace aggregates over all sales.
func (q *Queries) FetchSalesStats(ctx context.Context) (
	FetchSalesStatsRow, error) {

	row := q.db.QueryRowContext(ctx, fetchSalesStats)

	var s FetchSalesStatsRow
	err := row.Scan(&s.NumSales, &s.FloorSats, &s.HighSats,
		&s.VolumeSats, &s.AvgSats)
	return s, err
}

const insertAuditEvent = `
INSERT INTO audit_log (timestamp, action, punk_id, seller, buyer,
                       amount_sats, txid, status, error, details_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertAuditEventParams holds the arguments of InsertAuditEvent.
type InsertAuditEventParams struct {
	Timestamp   time.Time
	Action      string
	PunkID      []byte
	Seller      sql.NullString
	Buyer       sql.NullString
	AmountSats  sql.NullInt64
	Txid        sql.NullString
	Status      string
	Error       sql.NullString
	DetailsJson sql.NullString
}

// InsertAuditEvent appends a row to the audit log.
func (q *Queries) InsertAuditEvent(ctx context.Context,
	arg InsertAuditEventParams) error {

	_, err := q.db.ExecContext(ctx, insertAuditEvent, arg.Timestamp,
		arg.Action, arg.PunkID, arg.Seller, arg.Buyer, arg.AmountSats,
		arg.Txid, arg.Status, arg.Error, arg.DetailsJson)
	return err
}

const fetchAuditEvents = `
SELECT id, timestamp, action, punk_id, seller, buyer, amount_sats, txid,
       status, error, details_json
FROM audit_log
ORDER BY id DESC
LIMIT ?
`

// FetchAuditEvents returns the most recent audit rows, newest first.
func (q *Queries) FetchAuditEvents(ctx context.Context,
	limit int64) ([]AuditEvent, error) {

	rows, err := q.db.QueryContext(ctx, fetchAuditEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.PunkID,
			&e.Seller, &e.Buyer, &e.AmountSats, &e.Txid, &e.Status,
			&e.Error, &e.DetailsJson); err != nil {

			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
