package punk

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/lightningnetwork/lnd/tlv"
)

// VtxoTlvType represents the different TLV types of the punk VTXO record.
type VtxoTlvType = tlv.Type

const (
	VtxoID           VtxoTlvType = 0
	VtxoOwnerKey     VtxoTlvType = 2
	VtxoServerKey    VtxoTlvType = 4
	VtxoListingPrice VtxoTlvType = 6
	VtxoPayload      VtxoTlvType = 8
	VtxoValue        VtxoTlvType = 10
)

// KnownVtxoTypes is the set of all known punk VTXO record types.
var KnownVtxoTypes = map[tlv.Type]struct{}{
	VtxoID: {}, VtxoOwnerKey: {}, VtxoServerKey: {},
	VtxoListingPrice: {}, VtxoPayload: {}, VtxoValue: {},
}

func IDEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*ID); ok {
		id := [32]byte(*t)
		return tlv.EBytes32(w, &id, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "punk.ID")
}

func IDDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*ID); ok {
		var id [32]byte
		if err := tlv.DBytes32(r, &id, buf, l); err != nil {
			return err
		}
		*typ = ID(id)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "punk.ID", 32, l)
}

func SchnorrPubKeyEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(**btcec.PublicKey); ok {
		var keyBytes [schnorr.PubKeyBytesLen]byte
		copy(keyBytes[:], schnorr.SerializePubKey(*t))
		return tlv.EBytes32(w, &keyBytes, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "*btcec.PublicKey")
}

func SchnorrPubKeyDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(**btcec.PublicKey); ok {
		var keyBytes [schnorr.PubKeyBytesLen]byte
		if err := tlv.DBytes32(r, &keyBytes, buf, l); err != nil {
			return err
		}
		key, err := schnorr.ParsePubKey(keyBytes[:])
		if err != nil {
			return err
		}
		*typ = key
		return nil
	}
	return tlv.NewTypeForDecodingErr(
		val, "*btcec.PublicKey", schnorr.PubKeyBytesLen, l,
	)
}

func PayloadEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*Payload); ok {
		payload := t[:]
		return tlv.EVarBytes(w, &payload, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "punk.Payload")
}

func PayloadDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*Payload); ok {
		var payload []byte
		if err := tlv.DVarBytes(r, &payload, buf, l); err != nil {
			return err
		}
		p, err := NewPayloadFromBytes(payload)
		if err != nil {
			return err
		}
		*typ = p
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "punk.Payload", PayloadLen, l)
}

func newVtxoIDRecord(id *ID) tlv.Record {
	return tlv.MakeStaticRecord(VtxoID, id, 32, IDEncoder, IDDecoder)
}

func newVtxoOwnerKeyRecord(key **btcec.PublicKey) tlv.Record {
	return tlv.MakeStaticRecord(
		VtxoOwnerKey, key, schnorr.PubKeyBytesLen,
		SchnorrPubKeyEncoder, SchnorrPubKeyDecoder,
	)
}

func newVtxoServerKeyRecord(key **btcec.PublicKey) tlv.Record {
	return tlv.MakeStaticRecord(
		VtxoServerKey, key, schnorr.PubKeyBytesLen,
		SchnorrPubKeyEncoder, SchnorrPubKeyDecoder,
	)
}

func newVtxoListingPriceRecord(price *uint64) tlv.Record {
	return tlv.MakePrimitiveRecord(VtxoListingPrice, price)
}

func newVtxoPayloadRecord(payload *Payload) tlv.Record {
	return tlv.MakeStaticRecord(
		VtxoPayload, payload, PayloadLen, PayloadEncoder,
		PayloadDecoder,
	)
}

func newVtxoValueRecord(value *uint64) tlv.Record {
	return tlv.MakePrimitiveRecord(VtxoValue, value)
}
