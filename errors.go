package punkd

import (
	"errors"
	"net/http"

	"github.com/arkpunks/punkd/escrow"
	"github.com/arkpunks/punkd/punkdb"
	"github.com/arkpunks/punkd/punktx"
)

// ErrKind classifies an error for the RPC surface. Every error returned to a
// client is reduced to exactly one kind which determines the HTTP status
// code of the response.
type ErrKind uint8

const (
	// KindInternal is the fallback for unclassified server errors.
	KindInternal ErrKind = iota

	// KindInvalidArgument means the request itself was malformed.
	KindInvalidArgument

	// KindNotFound means the referenced punk or listing does not exist.
	KindNotFound

	// KindConflict means the operation collided with existing state, for
	// example a duplicate punk or an active listing for the same punk.
	KindConflict

	// KindForbidden means the caller is not authorized for the operation,
	// for example cancelling somebody else's listing.
	KindForbidden

	// KindPreconditionFailed means the listing is not in the state the
	// operation requires, or another operation on the same punk is
	// already in flight.
	KindPreconditionFailed

	// KindDepositUnverified means the declared escrow deposit could not
	// be confirmed on the escrow wallet.
	KindDepositUnverified

	// KindInsufficientFunds means the escrow wallet balance does not cover
	// the payment the operation needs to make.
	KindInsufficientFunds

	// KindUpstreamFailure means the Ark wallet backend failed or was
	// unreachable while the operation was in flight.
	KindUpstreamFailure
)

// ErrInvalidRequest wraps request decoding failures so they map to a 400.
var ErrInvalidRequest = errors.New("invalid request")

// ClassifyErr reduces an error returned by the registry, marketplace or
// escrow engine to its RPC kind.
func ClassifyErr(err error) ErrKind {
	switch {
	case err == nil:
		return KindInternal

	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidArgument

	case errors.Is(err, punkdb.ErrPunkNotFound),
		errors.Is(err, punkdb.ErrListingNotFound):

		return KindNotFound

	case errors.Is(err, punkdb.ErrDuplicatePunk),
		errors.Is(err, punkdb.ErrListingExists),
		errors.Is(err, punkdb.ErrOwnershipConflict):

		return KindConflict

	case errors.Is(err, escrow.ErrNotSeller),
		errors.Is(err, escrow.ErrNotOwner):

		return KindForbidden

	case errors.Is(err, punkdb.ErrListingState),
		errors.Is(err, punkdb.ErrSupplyExhausted),
		errors.Is(err, escrow.ErrClaimTooSmall),
		errors.Is(err, escrow.ErrPunkBusy):

		return KindPreconditionFailed

	case errors.Is(err, escrow.ErrDepositUnverified):
		return KindDepositUnverified

	case errors.Is(err, escrow.ErrInsufficientFunds):
		return KindInsufficientFunds

	case errors.Is(err, punktx.ErrWalletUnavailable),
		errors.Is(err, escrow.ErrPaymentFailed),
		errors.Is(err, escrow.ErrRefundFailed):

		return KindUpstreamFailure

	default:
		return KindInternal
	}
}

// HTTPStatus maps an error kind to the status code of the JSON error
// response.
func (k ErrKind) HTTPStatus() int {
	switch k {
	case KindInvalidArgument:
		return http.StatusBadRequest

	case KindNotFound:
		return http.StatusNotFound

	case KindConflict:
		return http.StatusConflict

	case KindForbidden:
		return http.StatusForbidden

	case KindPreconditionFailed:
		return http.StatusPreconditionFailed

	case KindDepositUnverified:
		return http.StatusUnprocessableEntity

	case KindInsufficientFunds:
		return http.StatusPaymentRequired

	case KindUpstreamFailure:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
