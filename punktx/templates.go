package punktx

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkscript"
)

var (
	// ErrInsufficientFunds is returned when the funding VTXOs can't
	// cover the template's target amount.
	ErrInsufficientFunds = errors.New("punktx: insufficient funds")

	// ErrNotListed is returned when a buy template is requested for a
	// punk whose listing price is zero.
	ErrNotListed = errors.New("punktx: punk is not listed")
)

// Input is a VTXO consumed by a template, annotated with the Taproot leaf
// it spends and the signatures that leaf demands.
type Input struct {
	// Vtxo is the consumed virtual output.
	Vtxo Vtxo

	// LeafIndex is the punk script tree leaf this input spends, or -1
	// for a plain funding input spent via its own key path.
	LeafIndex int

	// NeedsOwnerSig is true when the leaf requires the owner's Schnorr
	// signature.
	NeedsOwnerSig bool

	// NeedsServerSig is true when the leaf requires the server's
	// co-signature.
	NeedsServerSig bool
}

// Output is a VTXO produced by a template.
type Output struct {
	// Address is the Ark address the output is locked to.
	Address string

	// Amount is the output value in sats.
	Amount btcutil.Amount

	// Punk is the punk record carried by this output, nil for plain
	// value outputs.
	Punk *punk.Vtxo
}

// Packet is a fully described punk state transition, ready to be signed
// and submitted through an Ark wallet.
type Packet struct {
	// Inputs are the consumed VTXOs with their signing requirements.
	Inputs []Input

	// Outputs are the produced VTXOs.
	Outputs []Output
}

// fundingInput wraps a plain VTXO as a key-path funding input.
func fundingInput(v Vtxo) Input {
	return Input{Vtxo: v, LeafIndex: -1}
}

// selectFunding picks funding VTXOs smallest-first until the target is
// covered, returning the selection and the change left over.
func selectFunding(funding []Vtxo, target btcutil.Amount) ([]Vtxo,
	btcutil.Amount, error) {

	available := make([]Vtxo, 0, len(funding))
	for _, v := range funding {
		if v.Spent {
			continue
		}
		available = append(available, v)
	}
	sort.Slice(available, func(i, j int) bool {
		return available[i].Amount < available[j].Amount
	})

	var (
		selected []Vtxo
		total    btcutil.Amount
	)
	for _, v := range available {
		selected = append(selected, v)
		total += v.Amount
		if total >= target {
			return selected, total - target, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: have %v, need %v",
		ErrInsufficientFunds, total, target)
}

// MintParams describe a punk mint.
type MintParams struct {
	// Payload is the canonical trait encoding of the new punk.
	Payload punk.Payload

	// OwnerKey is the minting owner.
	OwnerKey *btcec.PublicKey

	// ServerKey is the deployment's co-signing authority.
	ServerKey *btcec.PublicKey

	// Reserve is the value the punk VTXO will carry.
	Reserve btcutil.Amount

	// Funding is the spendable VTXO set of the minting wallet.
	Funding []Vtxo

	// ChangeAddress receives any funding surplus.
	ChangeAddress string

	// HRP is the network address prefix.
	HRP string
}

// MintPunk builds the template that creates a new punk VTXO at the
// (owner, server) punk address, funded from the owner's plain VTXOs.
func MintPunk(p MintParams) (*Packet, error) {
	selected, change, err := selectFunding(p.Funding, p.Reserve)
	if err != nil {
		return nil, err
	}

	punkAddr, err := punkscript.PunkAddress(p.OwnerKey, p.ServerKey, p.HRP)
	if err != nil {
		return nil, err
	}

	packet := &Packet{}
	for _, v := range selected {
		packet.Inputs = append(packet.Inputs, fundingInput(v))
	}

	packet.Outputs = append(packet.Outputs, Output{
		Address: punkAddr,
		Amount:  p.Reserve,
		Punk: &punk.Vtxo{
			ID:        p.Payload.ID(),
			OwnerKey:  p.OwnerKey,
			ServerKey: p.ServerKey,
			Payload:   p.Payload,
			Value:     uint64(p.Reserve),
		},
	})
	if change > 0 {
		packet.Outputs = append(packet.Outputs, Output{
			Address: p.ChangeAddress,
			Amount:  change,
		})
	}

	return packet, nil
}

// TransferPunk builds the template that moves a punk to a new owner. The
// punk VTXO is spent through the transfer leaf and recreated at the new
// owner's punk address with a zero listing price.
func TransferPunk(current *punk.Vtxo, punkVtxo Vtxo,
	newOwnerKey *btcec.PublicKey, hrp string) (*Packet, error) {

	newAddr, err := punkscript.PunkAddress(newOwnerKey, current.ServerKey,
		hrp)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Inputs: []Input{{
			Vtxo:           punkVtxo,
			LeafIndex:      punkscript.TransferLeafIndex,
			NeedsOwnerSig:  true,
			NeedsServerSig: true,
		}},
		Outputs: []Output{{
			Address: newAddr,
			Amount:  punkVtxo.Amount,
			Punk: &punk.Vtxo{
				ID:        current.ID,
				OwnerKey:  newOwnerKey,
				ServerKey: current.ServerKey,
				Payload:   current.Payload,
				Value:     current.Value,
			},
		}},
	}, nil
}

// ListPunk builds the template that updates a punk's listing price. The
// punk VTXO is spent through the list leaf and recreated at the same punk
// address with the new price; a price of zero delists.
func ListPunk(current *punk.Vtxo, punkVtxo Vtxo, price uint64,
	hrp string) (*Packet, error) {

	addr, err := punkscript.PunkAddress(current.OwnerKey,
		current.ServerKey, hrp)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Inputs: []Input{{
			Vtxo:           punkVtxo,
			LeafIndex:      punkscript.ListLeafIndex,
			NeedsOwnerSig:  true,
			NeedsServerSig: true,
		}},
		Outputs: []Output{{
			Address: addr,
			Amount:  punkVtxo.Amount,
			Punk: &punk.Vtxo{
				ID:           current.ID,
				OwnerKey:     current.OwnerKey,
				ServerKey:    current.ServerKey,
				ListingPrice: price,
				Payload:      current.Payload,
				Value:        current.Value,
			},
		}},
	}, nil
}

// BuyParams describe the on-chain tapscript buy variant.
type BuyParams struct {
	// Current is the listed punk record being bought.
	Current *punk.Vtxo

	// PunkVtxo is the VTXO currently carrying the punk.
	PunkVtxo Vtxo

	// BuyerKey becomes the new owner.
	BuyerKey *btcec.PublicKey

	// SellerAddress receives the payment output.
	SellerAddress string

	// Payment is the buyer's spendable VTXO set.
	Payment []Vtxo

	// ChangeAddress receives the buyer's surplus.
	ChangeAddress string

	// HRP is the network address prefix.
	HRP string
}

// BuyPunk builds the on-chain tapscript buy template: the listed punk is
// spent through the buy leaf together with buyer payment VTXOs, producing
// the punk at the buyer's address, the payment to the seller, and buyer
// change. The escrow-mediated path is the production default; this
// template keeps the pure tapscript variant constructible.
func BuyPunk(p BuyParams) (*Packet, error) {
	if p.Current.ListingPrice == 0 {
		return nil, fmt.Errorf("%w: punk %v", ErrNotListed,
			p.Current.ID)
	}

	price := btcutil.Amount(p.Current.ListingPrice)
	selected, change, err := selectFunding(p.Payment, price)
	if err != nil {
		return nil, err
	}

	buyerAddr, err := punkscript.PunkAddress(p.BuyerKey,
		p.Current.ServerKey, p.HRP)
	if err != nil {
		return nil, err
	}

	packet := &Packet{
		Inputs: []Input{{
			Vtxo:           p.PunkVtxo,
			LeafIndex:      punkscript.BuyLeafIndex,
			NeedsServerSig: true,
		}},
	}
	for _, v := range selected {
		packet.Inputs = append(packet.Inputs, fundingInput(v))
	}

	packet.Outputs = append(packet.Outputs,
		Output{
			Address: buyerAddr,
			Amount:  p.PunkVtxo.Amount,
			Punk: &punk.Vtxo{
				ID:        p.Current.ID,
				OwnerKey:  p.BuyerKey,
				ServerKey: p.Current.ServerKey,
				Payload:   p.Current.Payload,
				Value:     p.Current.Value,
			},
		},
		Output{
			Address: p.SellerAddress,
			Amount:  price,
		},
	)
	if change > 0 {
		packet.Outputs = append(packet.Outputs, Output{
			Address: p.ChangeAddress,
			Amount:  change,
		})
	}

	return packet, nil
}
