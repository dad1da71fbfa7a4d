package punkscript

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// MainnetHRP is the human readable prefix of mainnet Ark addresses.
	MainnetHRP = "ark"

	// TestHRP is the human readable prefix of mutinynet and regtest Ark
	// addresses.
	TestHRP = "tark"
)

var (
	// ErrInvalidAddress is returned when an Ark address fails to parse.
	ErrInvalidAddress = errors.New("punkscript: invalid ark address")
)

// Address is a decoded Ark address: the server's signer key plus the
// taproot output key of the VTXO script.
type Address struct {
	// HRP is the address prefix the address was encoded with.
	HRP string

	// ServerKey is the Ark operator's signer key.
	ServerKey *btcec.PublicKey

	// VtxoTapKey is the tweaked taproot output key of the VTXO script.
	VtxoTapKey *btcec.PublicKey
}

// EncodeAddress renders the address in its bech32m form. Ark addresses
// exceed the 90 character segwit limit, which is why decoding goes through
// the no-limit variant.
func (a *Address) EncodeAddress() (string, error) {
	data := make([]byte, 0, 2*schnorr.PubKeyBytesLen)
	data = append(data, schnorr.SerializePubKey(a.ServerKey)...)
	data = append(data, schnorr.SerializePubKey(a.VtxoTapKey)...)

	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("unable to convert address bits: %w",
			err)
	}

	return bech32.EncodeM(a.HRP, converted)
}

// DecodeAddress parses a bech32m Ark address back into its key pair.
func DecodeAddress(addr string) (*Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != MainnetHRP && hrp != TestHRP {
		return nil, fmt.Errorf("%w: unknown prefix %q",
			ErrInvalidAddress, hrp)
	}

	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != 2*schnorr.PubKeyBytesLen {
		return nil, fmt.Errorf("%w: unexpected payload length %d",
			ErrInvalidAddress, len(decoded))
	}

	serverKey, err := schnorr.ParsePubKey(
		decoded[:schnorr.PubKeyBytesLen],
	)
	if err != nil {
		return nil, fmt.Errorf("%w: server key: %v",
			ErrInvalidAddress, err)
	}
	vtxoTapKey, err := schnorr.ParsePubKey(
		decoded[schnorr.PubKeyBytesLen:],
	)
	if err != nil {
		return nil, fmt.Errorf("%w: vtxo key: %v", ErrInvalidAddress,
			err)
	}

	return &Address{
		HRP:        hrp,
		ServerKey:  serverKey,
		VtxoTapKey: vtxoTapKey,
	}, nil
}

// PunkAddress derives the Ark address of the punk output gated by the
// given owner and server keys. The address is a deterministic function of
// the two keys and the network prefix only.
func PunkAddress(ownerKey, serverKey *btcec.PublicKey,
	hrp string) (string, error) {

	scriptTree, err := NewPunkScriptTree(ownerKey, serverKey)
	if err != nil {
		return "", err
	}

	addr := &Address{
		HRP:        hrp,
		ServerKey:  serverKey,
		VtxoTapKey: scriptTree.TaprootKey,
	}

	return addr.EncodeAddress()
}
