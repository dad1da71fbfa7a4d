package sqlite

import (
	"context"
)

// Querier is the full set of named queries the registry schema supports.
type Querier interface {
	InsertPunk(ctx context.Context, arg InsertPunkParams) error
	FetchPunk(ctx context.Context, punkID []byte) (Punk, error)
	FetchAllPunks(ctx context.Context) ([]Punk, error)
	FetchPunksByOwner(ctx context.Context,
		ownerAddress string) ([]Punk, error)
	CountPunks(ctx context.Context) (int64, error)
	UpdatePunkOwner(ctx context.Context,
		arg UpdatePunkOwnerParams) error
	TouchPunk(ctx context.Context, arg TouchPunkParams) error

	InsertOwnershipHistory(ctx context.Context,
		arg InsertOwnershipHistoryParams) error
	FetchHistoryForPunk(ctx context.Context,
		punkID []byte) ([]OwnershipHistory, error)

	NewListing(ctx context.Context, arg NewListingParams) error
	FetchListing(ctx context.Context, punkID []byte) (Listing, error)
	FetchActiveListings(ctx context.Context) ([]Listing, error)
	MarkListingDeposited(ctx context.Context,
		arg MarkListingDepositedParams) (int64, error)
	CommitListingSale(ctx context.Context,
		arg CommitListingSaleParams) (int64, error)
	SetListingPaymentTxid(ctx context.Context,
		arg SetListingPaymentTxidParams) error
	SetListingDepositReturnTxid(ctx context.Context,
		arg SetListingDepositReturnTxidParams) error
	CancelListing(ctx context.Context,
		arg CancelListingParams) (int64, error)
	DeleteListing(ctx context.Context, punkID []byte) error

	InsertSale(ctx context.Context, arg InsertSaleParams) error
	FetchSales(ctx context.Context) ([]Sale, error)
	FetchSalesStats(ctx context.Context) (FetchSalesStatsRow, error)

	InsertAuditEvent(ctx context.Context,
		arg InsertAuditEventParams) error
	FetchAuditEvents(ctx context.Context,
		limit int64) ([]AuditEvent, error)
}

// A compile time assertion that Queries implements Querier.
var _ Querier = (*Queries)(nil)
