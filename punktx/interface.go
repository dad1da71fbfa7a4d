// Package punktx builds the transaction templates that realise punk state
// transitions on the Ark layer: mint, transfer, list, buy. Templates are
// pure descriptions of inputs, outputs and required signatures; submitting
// and signing them is the wallet's concern, reached through the ArkClient
// capability.
package punktx

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Vtxo is a virtual UTXO held by an Ark wallet.
type Vtxo struct {
	// Outpoint identifies the VTXO. Ark refresh rounds rewrite the
	// outpoint of still-unspent VTXOs, so it's a volatile hint, never an
	// identity.
	Outpoint wire.OutPoint

	// Amount is the VTXO value in sats.
	Amount btcutil.Amount

	// Address is the Ark address the VTXO is locked to.
	Address string

	// Spent is true once the VTXO has been consumed.
	Spent bool
}

// String returns the canonical "txid:index" rendering of the VTXO's
// outpoint.
func (v *Vtxo) String() string {
	return v.Outpoint.String()
}

// ParseOutpoint parses a "txid:index" string into a wire outpoint.
func ParseOutpoint(s string) (*wire.OutPoint, error) {
	sepIdx := strings.LastIndex(s, ":")
	if sepIdx < 0 {
		return nil, fmt.Errorf("punktx: invalid outpoint %q", s)
	}

	hash, err := chainhash.NewHashFromStr(s[:sepIdx])
	if err != nil {
		return nil, fmt.Errorf("punktx: invalid outpoint %q: %w", s,
			err)
	}
	index, err := strconv.ParseUint(s[sepIdx+1:], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("punktx: invalid outpoint %q: %w", s,
			err)
	}

	return wire.NewOutPoint(hash, uint32(index)), nil
}

// NewOutpoint builds a wire outpoint from a txid string and output index.
func NewOutpoint(txid string, index uint32) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("punktx: invalid txid %q: %w", txid,
			err)
	}

	return wire.NewOutPoint(hash, index), nil
}

// ArkClient is the opaque wallet capability every template and the escrow
// engine operate against. Implementations wrap the low-level Ark
// signing/settlement RPC.
type ArkClient interface {
	// Send transfers the given amount to an Ark address and returns the
	// resulting transaction id.
	Send(ctx context.Context, addr string,
		amount btcutil.Amount) (string, error)

	// GetVtxos returns the wallet's current VTXO set, spent entries
	// included.
	GetVtxos(ctx context.Context) ([]Vtxo, error)

	// GetBalance returns the wallet's spendable balance in sats.
	GetBalance(ctx context.Context) (btcutil.Amount, error)

	// GetBoardingAddress returns an on-chain address that boards funds
	// into the Ark.
	GetBoardingAddress(ctx context.Context) (string, error)
}
