package punk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// ErrUnknownVtxoType is returned when a punk VTXO record carries an odd TLV
// type we don't know of.
type ErrUnknownVtxoType struct {
	// UnknownType is the type that was unknown.
	UnknownType tlv.Type
}

// Error returns the error message for the ErrUnknownVtxoType.
func (e ErrUnknownVtxoType) Error() string {
	return fmt.Sprintf("punk: unknown vtxo record type %d", e.UnknownType)
}

// Vtxo is the punk state carried alongside a punk VTXO. It mirrors the
// on-chain reality: the owner and server keys gate the Taproot leaves, the
// listing price is zero unless the punk is listed, and the payload is
// carried for on-chain recoverability.
type Vtxo struct {
	// ID is the punk's permanent identity.
	ID ID

	// OwnerKey is the current holder's x-only public key.
	OwnerKey *btcec.PublicKey

	// ServerKey is the co-signing authority's x-only public key. It's a
	// constant per deployment.
	ServerKey *btcec.PublicKey

	// ListingPrice is the asking price in sats. Zero means not listed.
	ListingPrice uint64

	// Payload is the canonical six-byte trait encoding.
	Payload Payload

	// Value is the reserve carried by the punk VTXO, in sats.
	Value uint64
}

// encodeRecords returns the TLV records of the punk VTXO in ascending type
// order.
func (v *Vtxo) encodeRecords() []tlv.Record {
	return []tlv.Record{
		newVtxoIDRecord(&v.ID),
		newVtxoOwnerKeyRecord(&v.OwnerKey),
		newVtxoServerKeyRecord(&v.ServerKey),
		newVtxoListingPriceRecord(&v.ListingPrice),
		newVtxoPayloadRecord(&v.Payload),
		newVtxoValueRecord(&v.Value),
	}
}

// decodeRecords returns the TLV records of the punk VTXO for decoding.
func (v *Vtxo) decodeRecords() []tlv.Record {
	return v.encodeRecords()
}

// Encode writes the punk VTXO record as a TLV stream.
func (v *Vtxo) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(v.encodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a punk VTXO record from a TLV stream. Unknown odd types are
// rejected so a stale reader can't silently drop punk state it doesn't
// understand.
func (v *Vtxo) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(v.decodeRecords()...)
	if err != nil {
		return err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	for parsedType := range parsedTypes {
		if parsedType%2 == 0 {
			continue
		}
		if _, known := KnownVtxoTypes[parsedType]; !known {
			return ErrUnknownVtxoType{UnknownType: parsedType}
		}
	}

	return nil
}

// Bytes returns the serialized TLV stream of the punk VTXO record.
func (v *Vtxo) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeVtxo parses a serialized punk VTXO record.
func DecodeVtxo(b []byte) (*Vtxo, error) {
	var v Vtxo
	if err := v.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &v, nil
}
