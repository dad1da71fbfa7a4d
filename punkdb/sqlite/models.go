package sqlite

import (
	"database/sql"
	"time"
)

// Punk is a row of the punks table.
type Punk struct {
	PunkID             []byte
	OwnerAddress       string
	CompressedMetadata sql.NullString
	ServerSignature    []byte
	MintedAt           time.Time
	UpdatedAt          time.Time
}

// OwnershipHistory is a row of the ownership_history table.
type OwnershipHistory struct {
	ID       int64
	PunkID   []byte
	FromAddr sql.NullString
	ToAddr   string
	Ts       time.Time
}

// Listing is a row of the listings table.
type Listing struct {
	PunkID             []byte
	SellerAddress      string
	SellerPubkey       []byte
	PriceSats          int64
	Status             string
	EscrowAddress      string
	PunkVtxoOutpoint   sql.NullString
	CreatedAt          time.Time
	DepositedAt        sql.NullTime
	SoldAt             sql.NullTime
	CancelledAt        sql.NullTime
	BuyerAddress       sql.NullString
	BuyerPubkey        []byte
	PaymentTxid        sql.NullString
	DepositReturnTxid  sql.NullString
	CompressedMetadata sql.NullString
}

// Sale is a row of the sales table.
type Sale struct {
	ID          int64
	PunkID      []byte
	PriceSats   int64
	Seller      string
	Buyer       string
	SoldAt      time.Time
	PaymentTxid string
}

// AuditEvent is a row of the audit_log table.
type AuditEvent struct {
	ID          int64
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
