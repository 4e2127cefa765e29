package codec

import (
	"bytes"
	"fmt"
)

// ContentKind is the on-disk discriminator of a Content value.
type ContentKind uint8

// Discriminators are part of the persisted format and must never change.
const (
	KindEncrypted ContentKind = 0
	KindPlain     ContentKind = 1
)

func (k ContentKind) String() string {
	switch k {
	case KindEncrypted:
		return "encrypted"
	case KindPlain:
		return "plain"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Content is the body of a post. It is a closed sum type: the only
// implementations are Plain and Encrypted.
type Content interface {
	Kind() ContentKind
	Bytes() []byte
	sealed()
}

// Plain is content that can be used directly.
type Plain []byte

// Encrypted is opaque ciphertext. Quill never decrypts it.
type Encrypted []byte

func (Plain) Kind() ContentKind     { return KindPlain }
func (p Plain) Bytes() []byte       { return p }
func (Plain) sealed()               {}
func (Encrypted) Kind() ContentKind { return KindEncrypted }
func (e Encrypted) Bytes() []byte   { return e }
func (Encrypted) sealed()           {}

// NewContent builds the variant named by kind.
func NewContent(kind ContentKind, b []byte) (Content, error) {
	switch kind {
	case KindPlain:
		return Plain(b), nil
	case KindEncrypted:
		return Encrypted(b), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, uint8(kind))
	}
}

// ContentEqual compares two content values by variant and bytes.
func ContentEqual(a, b Content) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && bytes.Equal(a.Bytes(), b.Bytes())
}
