package punk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	// PayloadLen is the exact byte length of the on-chain punk payload.
	// The payload has no framing and no length prefix; six bytes carry
	// the full trait state of a punk.
	PayloadLen = 6

	// MaxAttributes is the maximum number of attribute entries a single
	// type table may carry. The attribute set is represented as a 32-bit
	// bitmap, so bit indices above 31 are unrepresentable.
	MaxAttributes = 32

	// TableVersion is the version of the frozen trait tables. Changing
	// any table is a breaking protocol change and requires bumping this
	// constant.
	TableVersion = 1
)

// ID is the unique identifier of a punk. It's the SHA-256 digest of the
// canonical six-byte payload and is stable across VTXO refreshes and
// ownership transfers.
type ID [sha256.Size]byte

// String returns the hex encoded representation of the punk ID.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// NewIDFromBytes creates a new ID from a 32-byte slice.
func NewIDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != sha256.Size {
		return id, fmt.Errorf("punk: invalid id length %d", len(b))
	}

	copy(id[:], b)
	return id, nil
}

// NewIDFromStr creates a new ID from its hex string rendering.
func NewIDFromStr(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("punk: invalid id hex: %w", err)
	}

	return NewIDFromBytes(b)
}

// SerializedKey is a type for representing a public key in its Schnorr
// serialized, x-only 32-byte form.
type SerializedKey [schnorr.PubKeyBytesLen]byte

// ToPubKey returns the public key parsed from the serialized key.
func (s SerializedKey) ToPubKey() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(s[:])
}

// CopyBytes returns a copy of the underlying array as a byte slice.
func (s SerializedKey) CopyBytes() []byte {
	c := make([]byte, schnorr.PubKeyBytesLen)
	copy(c, s[:])

	return c
}

// ToSerialized serializes a public key in its x-only 32-byte form.
func ToSerialized(pubKey *btcec.PublicKey) SerializedKey {
	var serialized SerializedKey
	copy(serialized[:], schnorr.SerializePubKey(pubKey))

	return serialized
}

// Type is the punk archetype. Exactly five types exist; the numeric tag is
// part of the six-byte payload and therefore frozen.
type Type uint8

const (
	// TypeMale is the common male punk archetype.
	TypeMale Type = 0

	// TypeFemale is the common female punk archetype.
	TypeFemale Type = 1

	// TypeZombie is the uncommon zombie archetype.
	TypeZombie Type = 2

	// TypeAlien is the rarest archetype.
	TypeAlien Type = 3

	// TypeApe is the second rarest archetype.
	TypeApe Type = 4

	// NumTypes is the number of defined punk types.
	NumTypes = 5
)

// String returns the human readable name of the punk type.
func (t Type) String() string {
	switch t {
	case TypeMale:
		return "Male"
	case TypeFemale:
		return "Female"
	case TypeZombie:
		return "Zombie"
	case TypeAlien:
		return "Alien"
	case TypeApe:
		return "Ape"
	default:
		return fmt.Sprintf("<unknown_type_%d>", uint8(t))
	}
}

// Valid returns true if the type tag is one of the five defined archetypes.
func (t Type) Valid() bool {
	return uint8(t) < NumTypes
}

// Background identifies the backdrop of a punk. At most 16 backgrounds can
// exist since the tag occupies a 4-bit field of the payload.
type Background uint8

// String returns the human readable name of the background.
func (b Background) String() string {
	if int(b) >= len(backgroundTable) {
		return fmt.Sprintf("<unknown_background_%d>", uint8(b))
	}

	return backgroundTable[b]
}

// Valid returns true if the background tag references an entry of the
// frozen background table.
func (b Background) Valid() bool {
	return int(b) < len(backgroundTable)
}

// Metadata is the full decoded trait state of a punk.
type Metadata struct {
	// Type is the punk archetype.
	Type Type

	// Background is the backdrop tag.
	Background Background

	// Attributes is the set of attribute bit indices within the type's
	// attribute table, canonically sorted ascending.
	Attributes []uint8
}

// AttributeNames resolves the attribute indices against the type's frozen
// table. Unknown indices yield an error.
func (m *Metadata) AttributeNames() ([]string, error) {
	table, ok := attributeTables[m.Type]
	if !ok {
		return nil, ErrInvalidType
	}

	names := make([]string, 0, len(m.Attributes))
	for _, idx := range m.Attributes {
		if int(idx) >= len(table) {
			return nil, fmt.Errorf("%w: index %d",
				ErrUnknownAttribute, idx)
		}
		names = append(names, table[idx])
	}

	return names, nil
}
