package punkdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/arkpunks/punkd/punk"
)

// RegisterAction describes what the registry did with one declared punk.
type RegisterAction string

const (
	// ActionRegistered means the punk was unknown and has been inserted
	// and attested.
	ActionRegistered RegisterAction = "registered"

	// ActionRefreshed means the punk was already owned by the declaring
	// wallet; only its timestamp and metadata were refreshed.
	ActionRefreshed RegisterAction = "refreshed"

	// ActionMigrated means the punk moved from a declared alternate
	// address of the same wallet to its primary address.
	ActionMigrated RegisterAction = "migrated"

	// ActionConflict means the punk belongs to an unrelated address; the
	// row was left untouched for operator adjudication.
	ActionConflict RegisterAction = "conflict"

	// ActionRejected means the punk was unknown and could not be
	// registered because the supply cap was hit.
	ActionRejected RegisterAction = "rejected"
)

// DeclaredPunk is one punk a wallet claims to hold.
type DeclaredPunk struct {
	// ID is the declared punk id.
	ID punk.ID

	// MintedAt is the wallet's local mint timestamp, zero when unknown.
	MintedAt time.Time

	// Compressed is the hex trait payload, empty when the wallet doesn't
	// carry it.
	Compressed string
}

// RegistrationRequest is a wallet's declaration of its punk holdings.
type RegistrationRequest struct {
	// Address is the wallet's primary Ark address.
	Address string

	// AltAddresses are other addresses the wallet also controls, used to
	// recognise migrations.
	AltAddresses []string

	// Punks are the declared holdings.
	Punks []DeclaredPunk
}

// RegistrationResult is the per-punk outcome of a registration.
type RegistrationResult struct {
	// ID is the declared punk id.
	ID punk.ID

	// Action is what the registry did with it.
	Action RegisterAction

	// Detail carries the error text for conflict/rejected outcomes.
	Detail string
}

// RegistrationSummary aggregates the outcomes of one registration call.
type RegistrationSummary struct {
	// Registered counts freshly inserted punks.
	Registered int

	// Refreshed counts already-owned punks that were touched.
	Refreshed int

	// Migrated counts punks moved from an alternate address.
	Migrated int

	// Conflicts counts punks owned by unrelated addresses.
	Conflicts int

	// Rejected counts punks turned away at the supply cap.
	Rejected int
}

// RegisterWallet applies a wallet's punk declaration to the registry. Each
// declared punk lands in exactly one of the register actions. The whole
// declaration is applied in a single transaction, so a database error
// midway leaves no partial state; hitting the supply cap only rejects the
// punks past the cap, and the ones registered before it are kept.
func (r *Registry) RegisterWallet(ctx context.Context,
	req *RegistrationRequest) (*RegistrationSummary,
	[]*RegistrationResult, error) {

	now := time.Now().UTC()

	altSet := make(map[string]struct{}, len(req.AltAddresses))
	for _, addr := range req.AltAddresses {
		altSet[addr] = struct{}{}
	}

	summary := &RegistrationSummary{}
	results := make([]*RegistrationResult, 0, len(req.Punks))

	var writeTxOpts RegistryTxOptions
	dbErr := r.db.ExecTx(ctx, &writeTxOpts, func(q RegistryStore) error {
		for _, declared := range req.Punks {
			res, err := r.registerOne(ctx, q, req.Address, altSet,
				declared, now)
			if err != nil {
				return err
			}

			switch res.Action {
			case ActionRegistered:
				summary.Registered++
			case ActionRefreshed:
				summary.Refreshed++
			case ActionMigrated:
				summary.Migrated++
			case ActionConflict:
				summary.Conflicts++
			case ActionRejected:
				summary.Rejected++
			}

			results = append(results, res)
		}

		return nil
	})
	if dbErr != nil {
		return nil, nil, dbErr
	}

	log.Infof("Wallet %v registered %d punks: %d new, %d refreshed, "+
		"%d migrated, %d conflicts", req.Address, len(req.Punks),
		summary.Registered, summary.Refreshed, summary.Migrated,
		summary.Conflicts)

	return summary, results, nil
}

// registerOne decides and applies the register action for a single
// declared punk inside the registration transaction.
func (r *Registry) registerOne(ctx context.Context, q RegistryStore,
	address string, altSet map[string]struct{}, declared DeclaredPunk,
	now time.Time) (*RegistrationResult, error) {

	row, err := q.FetchPunk(ctx, declared.ID[:])
	switch {
	// Unknown punk: insert, attest, write genesis history.
	case errors.Is(err, sql.ErrNoRows):
		err := r.insertPunk(ctx, q, declared.ID, address,
			declared.Compressed, now)
		switch {
		case errors.Is(err, ErrSupplyExhausted):
			return &RegistrationResult{
				ID:     declared.ID,
				Action: ActionRejected,
				Detail: err.Error(),
			}, nil

		case err != nil:
			return nil, err
		}

		return &RegistrationResult{
			ID:     declared.ID,
			Action: ActionRegistered,
		}, nil

	case err != nil:
		return nil, err
	}

	// Known punk, same owner: refresh only.
	if row.OwnerAddress == address {
		err := q.TouchPunk(ctx, PunkTouch{
			UpdatedAt:          now,
			CompressedMetadata: sqlStr(declared.Compressed),
			PunkID:             declared.ID[:],
		})
		if err != nil {
			return nil, err
		}

		return &RegistrationResult{
			ID:     declared.ID,
			Action: ActionRefreshed,
		}, nil
	}

	// Known punk held by one of the wallet's declared alternate
	// addresses: migrate it to the primary address with a history row.
	if _, ok := altSet[row.OwnerAddress]; ok {
		err := q.UpdatePunkOwner(ctx, OwnerUpdate{
			OwnerAddress: address,
			UpdatedAt:    now,
			PunkID:       declared.ID[:],
		})
		if err != nil {
			return nil, err
		}

		err = q.InsertOwnershipHistory(ctx, NewHistoryRow{
			PunkID:   declared.ID[:],
			FromAddr: sqlStr(row.OwnerAddress),
			ToAddr:   address,
			Ts:       now,
		})
		if err != nil {
			return nil, err
		}

		return &RegistrationResult{
			ID:     declared.ID,
			Action: ActionMigrated,
		}, nil
	}

	// Unrelated owner: never overwrite, surface the conflict.
	return &RegistrationResult{
		ID:     declared.ID,
		Action: ActionConflict,
		Detail: "punk is owned by " + row.OwnerAddress,
	}, nil
}
