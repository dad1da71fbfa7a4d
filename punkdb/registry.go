// Package punkdb implements the persistent ownership registry of the punk
// daemon: the canonical punkId -> owner mapping, the supply cap, the
// server attestation signatures, ownership history, escrow listings,
// sales and the audit log. All state lives in a single embedded sqlite
// database.
package punkdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkdb/sqlite"
	"github.com/arkpunks/punkd/punkscript"
)

type (
	// NewPunkRow holds the arguments to insert a new punk row.
	NewPunkRow = sqlite.InsertPunkParams

	// PunkRow is a raw punk registry row.
	PunkRow = sqlite.Punk

	// OwnerUpdate holds the arguments to rewrite a punk's owner.
	OwnerUpdate = sqlite.UpdatePunkOwnerParams

	// PunkTouch holds the arguments to refresh a punk row.
	PunkTouch = sqlite.TouchPunkParams

	// NewHistoryRow holds the arguments to append an ownership change.
	NewHistoryRow = sqlite.InsertOwnershipHistoryParams

	// HistoryRow is a raw ownership history row.
	HistoryRow = sqlite.OwnershipHistory
)

var (
	// ErrPunkNotFound is returned when a punk id has no registry row.
	ErrPunkNotFound = errors.New("punkdb: punk not found")

	// ErrDuplicatePunk is returned when a punk id is minted twice.
	ErrDuplicatePunk = errors.New("punkdb: punk already registered")

	// ErrSupplyExhausted is returned when a mint would exceed the global
	// punk cap.
	ErrSupplyExhausted = errors.New("punkdb: supply cap reached")

	// ErrOwnershipConflict is returned when a transfer names a sender that
	// is not the punk's current owner.
	ErrOwnershipConflict = errors.New("punkdb: ownership conflict")
)

// RegistryStore is a sub-set of the main sqlite.Querier interface that
// contains only the methods needed to maintain the punk ownership
// registry.
type RegistryStore interface {
	// InsertPunk inserts a new punk row.
	InsertPunk(ctx context.Context, arg NewPunkRow) error

	// FetchPunk fetches the punk row with the given id.
	FetchPunk(ctx context.Context, punkID []byte) (PunkRow, error)

	// FetchAllPunks returns every punk row in mint order.
	FetchAllPunks(ctx context.Context) ([]PunkRow, error)

	// FetchPunksByOwner returns the punks held by the given address.
	FetchPunksByOwner(ctx context.Context,
		ownerAddress string) ([]PunkRow, error)

	// CountPunks returns the number of minted punks.
	CountPunks(ctx context.Context) (int64, error)

	// UpdatePunkOwner rewrites the owner of an existing punk row.
	UpdatePunkOwner(ctx context.Context, arg OwnerUpdate) error

	// TouchPunk refreshes a punk row's updated_at stamp.
	TouchPunk(ctx context.Context, arg PunkTouch) error

	// InsertOwnershipHistory appends an ownership change.
	InsertOwnershipHistory(ctx context.Context,
		arg NewHistoryRow) error

	// FetchHistoryForPunk returns the ownership trail of a punk.
	FetchHistoryForPunk(ctx context.Context,
		punkID []byte) ([]HistoryRow, error)
}

// RegistryTxOptions defines the set of db txn options the RegistryStore
// understands.
type RegistryTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (r *RegistryTxOptions) ReadOnly() bool {
	return r.readOnly
}

// NewRegistryReadTx creates a new read transaction option set.
func NewRegistryReadTx() RegistryTxOptions {
	return RegistryTxOptions{
		readOnly: true,
	}
}

// BatchedRegistryStore combines the RegistryStore interface with the
// BatchedTx interface, allowing for multiple queries to be executed in a
// single SQL transaction.
type BatchedRegistryStore interface {
	RegistryStore

	BatchedTx[RegistryStore, TxOptions]
}

// RegistryConfig bundles the boot-time constants of the registry.
type RegistryConfig struct {
	// ServerKey is the daemon's attestation signing key.
	ServerKey *btcec.PrivateKey

	// MaxPunks is the global supply cap.
	MaxPunks int64

	// HRP is the network address prefix used to derive punk addresses
	// during recovery.
	HRP string

	// LegacyWhitelist is the set of pre-attestation punk ids considered
	// official despite carrying no server signature.
	LegacyWhitelist map[punk.ID]struct{}
}

// Registry is the supply and ownership authority of the daemon, backed by
// the batched registry store.
type Registry struct {
	cfg RegistryConfig

	db BatchedRegistryStore
}

// NewRegistry creates a new Registry from the specified
// BatchedRegistryStore interface.
func NewRegistry(db BatchedRegistryStore, cfg RegistryConfig) *Registry {
	if cfg.LegacyWhitelist == nil {
		cfg.LegacyWhitelist = make(map[punk.ID]struct{})
	}

	return &Registry{
		cfg: cfg,
		db:  db,
	}
}

// RegisteredPunk is a registry row in its domain form.
type RegisteredPunk struct {
	// ID is the punk's identity.
	ID punk.ID

	// Owner is the Ark address currently holding the punk.
	Owner string

	// Compressed is the hex rendering of the punk's trait payload, empty
	// when the wallet never supplied it.
	Compressed string

	// Signature is the server's attestation over SHA-256(ID), nil for
	// legacy rows.
	Signature []byte

	// MintedAt is when the row was first inserted.
	MintedAt time.Time

	// UpdatedAt is when the row was last written.
	UpdatedAt time.Time
}

// HistoryEntry is one hop of a punk's ownership trail.
type HistoryEntry struct {
	// PunkID is the punk the entry belongs to.
	PunkID punk.ID

	// From is the previous owner, empty for the initial mint.
	From string

	// To is the new owner.
	To string

	// At is when the change was recorded.
	At time.Time
}

// attest produces the server's Schnorr signature over the SHA-256 digest
// of the raw punk id bytes.
func (r *Registry) attest(id punk.ID) ([]byte, error) {
	digest := sha256.Sum256(id[:])
	sig, err := schnorr.Sign(r.cfg.ServerKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("punkdb: unable to attest punk %v: %w",
			id, err)
	}

	return sig.Serialize(), nil
}

// VerifyAttestation checks a stored attestation signature against the
// server's public key.
func VerifyAttestation(serverKey *btcec.PublicKey, id punk.ID,
	sigBytes []byte) bool {

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(id[:])
	return sig.Verify(digest[:], serverKey)
}

// IsOfficial reports whether a punk carries a valid attestation or is on
// the legacy whitelist.
func (r *Registry) IsOfficial(p *RegisteredPunk) bool {
	if _, ok := r.cfg.LegacyWhitelist[p.ID]; ok {
		return true
	}
	if len(p.Signature) == 0 {
		return false
	}

	return VerifyAttestation(r.cfg.ServerKey.PubKey(), p.ID, p.Signature)
}

// insertPunk performs the cap-checked insert of a brand new punk plus its
// genesis history row, inside an already open transaction.
func (r *Registry) insertPunk(ctx context.Context, q RegistryStore,
	id punk.ID, owner, compressed string, now time.Time) error {

	count, err := q.CountPunks(ctx)
	if err != nil {
		return err
	}
	if count >= r.cfg.MaxPunks {
		return fmt.Errorf("%w: %d of %d punks minted",
			ErrSupplyExhausted, count, r.cfg.MaxPunks)
	}

	sig, err := r.attest(id)
	if err != nil {
		return err
	}

	err = q.InsertPunk(ctx, NewPunkRow{
		PunkID:             id[:],
		OwnerAddress:       owner,
		CompressedMetadata: sqlStr(compressed),
		ServerSignature:    sig,
		MintedAt:           now,
		UpdatedAt:          now,
	})
	if err != nil {
		return err
	}

	return q.InsertOwnershipHistory(ctx, NewHistoryRow{
		PunkID: id[:],
		ToAddr: owner,
		Ts:     now,
	})
}

// RecordPunk mints a new registry row for the given punk, signing the
// attestation and appending the genesis history entry. The insert is
// rejected when the supply cap is reached or the id already exists.
func (r *Registry) RecordPunk(ctx context.Context, id punk.ID,
	owner, compressed string) error {

	now := time.Now().UTC()

	var writeTxOpts RegistryTxOptions
	return r.db.ExecTx(ctx, &writeTxOpts, func(q RegistryStore) error {
		_, err := q.FetchPunk(ctx, id[:])
		switch {
		case err == nil:
			return fmt.Errorf("%w: %v", ErrDuplicatePunk, id)

		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := r.insertPunk(ctx, q, id, owner, compressed,
			now); err != nil {

			return err
		}

		log.Infof("Recorded punk %v for owner %v", id, owner)
		return nil
	})
}

// TransferOwner rewrites a punk's owner and appends the matching history
// row in one transaction.
func (r *Registry) TransferOwner(ctx context.Context, id punk.ID,
	from, to string) error {

	now := time.Now().UTC()

	var writeTxOpts RegistryTxOptions
	return r.db.ExecTx(ctx, &writeTxOpts, func(q RegistryStore) error {
		row, err := q.FetchPunk(ctx, id[:])
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: %v", ErrPunkNotFound, id)

		case err != nil:
			return err
		}

		if row.OwnerAddress != from {
			return fmt.Errorf("%w: punk %v is owned by %v",
				ErrOwnershipConflict, id, row.OwnerAddress)
		}

		err = q.UpdatePunkOwner(ctx, OwnerUpdate{
			OwnerAddress: to,
			UpdatedAt:    now,
			PunkID:       id[:],
		})
		if err != nil {
			return err
		}

		return q.InsertOwnershipHistory(ctx, NewHistoryRow{
			PunkID:   id[:],
			FromAddr: sqlStr(from),
			ToAddr:   to,
			Ts:       now,
		})
	})
}

// FetchPunk returns the registry row of a single punk.
func (r *Registry) FetchPunk(ctx context.Context,
	id punk.ID) (*RegisteredPunk, error) {

	var row PunkRow

	readOpts := NewRegistryReadTx()
	err := r.db.ExecTx(ctx, &readOpts, func(q RegistryStore) error {
		var err error
		row, err = q.FetchPunk(ctx, id[:])
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", ErrPunkNotFound, id)

	case err != nil:
		return nil, err
	}

	return marshalPunkRow(row)
}

// FetchAllPunks returns the full registry in mint order.
func (r *Registry) FetchAllPunks(ctx context.Context) ([]*RegisteredPunk,
	error) {

	var rows []PunkRow

	readOpts := NewRegistryReadTx()
	err := r.db.ExecTx(ctx, &readOpts, func(q RegistryStore) error {
		var err error
		rows, err = q.FetchAllPunks(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return marshalPunkRows(rows)
}

// FetchPunksByOwner returns the punks held by the given address.
func (r *Registry) FetchPunksByOwner(ctx context.Context,
	owner string) ([]*RegisteredPunk, error) {

	var rows []PunkRow

	readOpts := NewRegistryReadTx()
	err := r.db.ExecTx(ctx, &readOpts, func(q RegistryStore) error {
		var err error
		rows, err = q.FetchPunksByOwner(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}

	return marshalPunkRows(rows)
}

// Supply returns the number of minted punks and the cap.
func (r *Registry) Supply(ctx context.Context) (int64, int64, error) {
	var count int64

	readOpts := NewRegistryReadTx()
	err := r.db.ExecTx(ctx, &readOpts, func(q RegistryStore) error {
		var err error
		count, err = q.CountPunks(ctx)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	return count, r.cfg.MaxPunks, nil
}

// FetchHistory returns the ownership trail of a punk, oldest first.
func (r *Registry) FetchHistory(ctx context.Context,
	id punk.ID) ([]*HistoryEntry, error) {

	var rows []HistoryRow

	readOpts := NewRegistryReadTx()
	err := r.db.ExecTx(ctx, &readOpts, func(q RegistryStore) error {
		var err error
		rows, err = q.FetchHistoryForPunk(ctx, id[:])
		return err
	})
	if err != nil {
		return nil, err
	}

	history := make([]*HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entryID, err := punk.NewIDFromBytes(row.PunkID)
		if err != nil {
			return nil, err
		}

		history = append(history, &HistoryEntry{
			PunkID: entryID,
			From:   extractSqlStr(row.FromAddr),
			To:     row.ToAddr,
			At:     row.Ts,
		})
	}

	return history, nil
}

// RecoverablePunks finds legacy registry rows held at the punk address
// derived from the given minter pubkey, so the wallet can reclaim them via
// the standard register path.
func (r *Registry) RecoverablePunks(ctx context.Context,
	minterKey *btcec.PublicKey) ([]*RegisteredPunk, error) {

	addr, err := punkscript.PunkAddress(minterKey,
		r.cfg.ServerKey.PubKey(), r.cfg.HRP)
	if err != nil {
		return nil, err
	}

	return r.FetchPunksByOwner(ctx, addr)
}

func marshalPunkRow(row PunkRow) (*RegisteredPunk, error) {
	id, err := punk.NewIDFromBytes(row.PunkID)
	if err != nil {
		return nil, err
	}

	return &RegisteredPunk{
		ID:         id,
		Owner:      row.OwnerAddress,
		Compressed: extractSqlStr(row.CompressedMetadata),
		Signature:  row.ServerSignature,
		MintedAt:   row.MintedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func marshalPunkRows(rows []PunkRow) ([]*RegisteredPunk, error) {
	punks := make([]*RegisteredPunk, 0, len(rows))
	for _, row := range rows {
		p, err := marshalPunkRow(row)
		if err != nil {
			return nil, err
		}
		punks = append(punks, p)
	}

	return punks, nil
}
