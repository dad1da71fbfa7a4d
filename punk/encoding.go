package punk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/exp/slices"
)

var (
	// ErrInvalidType is returned when a metadata record references a punk
	// type outside the five defined archetypes.
	ErrInvalidType = errors.New("punk: invalid punk type")

	// ErrInvalidBackground is returned when a metadata record references
	// a background outside the frozen background table.
	ErrInvalidBackground = errors.New("punk: invalid background")

	// ErrUnknownAttribute is returned when an attribute index has no
	// entry in the type's attribute table.
	ErrUnknownAttribute = errors.New("punk: unknown attribute")

	// ErrAttributeIndexOutOfRange is returned when an attribute index
	// exceeds the 32-bit bitmap.
	ErrAttributeIndexOutOfRange = errors.New(
		"punk: attribute index out of range",
	)

	// ErrCountMismatch is returned when the stored attribute count
	// disagrees with the population count of the attribute bitmap.
	ErrCountMismatch = errors.New("punk: attribute count mismatch")

	// ErrInvalidLength is returned when a payload isn't exactly six
	// bytes.
	ErrInvalidLength = errors.New("punk: invalid payload length")

	// ErrInvalidTypeIndex is returned when a decoded type tag is out of
	// range.
	ErrInvalidTypeIndex = errors.New("punk: invalid type index")

	// ErrInvalidBackgroundIndex is returned when a decoded background tag
	// is out of range.
	ErrInvalidBackgroundIndex = errors.New("punk: invalid background index")

	// ErrIDMismatch is returned when the punk ID supplied alongside a
	// payload doesn't match the payload's digest.
	ErrIDMismatch = errors.New("punk: id does not match payload")
)

// Payload is the canonical six-byte on-chain encoding of a punk's traits:
//
//	byte 0     : [ type:3 | background:4 | reserved:1 ]
//	bytes 1..4 : u32 attribute bitmap, little endian
//	byte 5     : u8 attribute count
type Payload [PayloadLen]byte

// String returns the hex rendering of the payload.
func (p Payload) String() string {
	return hex.EncodeToString(p[:])
}

// ID returns the punk ID of the payload, the SHA-256 digest over the six
// canonical bytes.
func (p Payload) ID() ID {
	return ID(sha256.Sum256(p[:]))
}

// NewPayloadFromBytes creates a payload from a raw byte slice, enforcing
// the exact six-byte length.
func NewPayloadFromBytes(b []byte) (Payload, error) {
	var p Payload
	if len(b) != PayloadLen {
		return p, fmt.Errorf("%w: got %d bytes", ErrInvalidLength,
			len(b))
	}

	copy(p[:], b)
	return p, nil
}

// NewPayloadFromHex creates a payload from its hex rendering.
func NewPayloadFromHex(s string) (Payload, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("punk: invalid payload hex: %w",
			err)
	}

	return NewPayloadFromBytes(b)
}

// canonicalAttributes returns the attribute indices sorted ascending with
// duplicates removed. The canonical order of an attribute set is ascending
// bit index.
func canonicalAttributes(attrs []uint8) []uint8 {
	out := make([]uint8, len(attrs))
	copy(out, attrs)
	slices.Sort(out)

	return slices.Compact(out)
}

// Encode serializes the metadata into its canonical six-byte payload. The
// attribute list is sorted ascending before encoding, so two metadata
// records listing the same traits in a different order produce the same
// bytes. A list that names an attribute more than once is rejected with
// ErrCountMismatch.
func Encode(m *Metadata) (Payload, error) {
	var p Payload

	if !m.Type.Valid() {
		return p, fmt.Errorf("%w: %d", ErrInvalidType, uint8(m.Type))
	}
	if !m.Background.Valid() {
		return p, fmt.Errorf("%w: %d", ErrInvalidBackground,
			uint8(m.Background))
	}

	table := attributeTables[m.Type]
	attrs := canonicalAttributes(m.Attributes)

	// Deduplication must not have collapsed anything, otherwise the
	// caller's count is wrong.
	if len(attrs) != len(m.Attributes) {
		return p, fmt.Errorf("%w: duplicate attribute",
			ErrCountMismatch)
	}

	var bitmap uint32
	for _, idx := range attrs {
		if idx >= MaxAttributes {
			return p, fmt.Errorf("%w: index %d",
				ErrAttributeIndexOutOfRange, idx)
		}
		if int(idx) >= len(table) {
			return p, fmt.Errorf("%w: index %d for type %v",
				ErrUnknownAttribute, idx, m.Type)
		}

		bitmap |= 1 << idx
	}

	if bits.OnesCount32(bitmap) != len(attrs) {
		return p, ErrCountMismatch
	}

	p[0] = uint8(m.Type)<<5 | uint8(m.Background)<<1
	binary.LittleEndian.PutUint32(p[1:5], bitmap)
	p[5] = uint8(len(attrs))

	return p, nil
}

// Decode parses a six-byte payload back into its metadata, verifying that
// the supplied punk ID matches the payload digest.
func Decode(payload []byte, id ID) (*Metadata, error) {
	p, err := NewPayloadFromBytes(payload)
	if err != nil {
		return nil, err
	}

	if p.ID() != id {
		return nil, ErrIDMismatch
	}

	return DecodePayload(p)
}

// DecodePayload parses a payload into its metadata without an ID check.
func DecodePayload(p Payload) (*Metadata, error) {
	typeTag := Type(p[0] >> 5)
	if !typeTag.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTypeIndex,
			uint8(typeTag))
	}

	bgTag := Background(p[0] >> 1 & 0x0f)
	if !bgTag.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBackgroundIndex,
			uint8(bgTag))
	}

	bitmap := binary.LittleEndian.Uint32(p[1:5])
	if bits.OnesCount32(bitmap) != int(p[5]) {
		return nil, fmt.Errorf("%w: bitmap has %d bits, count byte "+
			"says %d", ErrCountMismatch, bits.OnesCount32(bitmap),
			p[5])
	}

	table := attributeTables[typeTag]
	attrs := make([]uint8, 0, p[5])
	for idx := uint8(0); idx < MaxAttributes; idx++ {
		if bitmap&(1<<idx) == 0 {
			continue
		}
		if int(idx) >= len(table) {
			return nil, fmt.Errorf("%w: index %d for type %v",
				ErrUnknownAttribute, idx, typeTag)
		}

		attrs = append(attrs, idx)
	}

	return &Metadata{
		Type:       typeTag,
		Background: bgTag,
		Attributes: attrs,
	}, nil
}

// VerifyIntegrity re-encodes the metadata and compares the result
// byte-for-byte against the supplied payload.
func VerifyIntegrity(m *Metadata, payload Payload) bool {
	reencoded, err := Encode(m)
	if err != nil {
		return false
	}

	return reencoded == payload
}
