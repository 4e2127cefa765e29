package dispatch

import (
	"errors"
	"fmt"

	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/ledger"
)

// Kind classifies a dispatch failure.
type Kind uint8

const (
	KindStorage Kind = iota
	KindBadOrigin
	KindConflict
	KindStorageOverflow
	// KindNoneValue is reserved; no call currently produces it.
	KindNoneValue
	KindMigrationPending
)

func (k Kind) String() string {
	switch k {
	case KindBadOrigin:
		return "BadOrigin"
	case KindConflict:
		return "Conflict"
	case KindStorageOverflow:
		return "StorageOverflow"
	case KindNoneValue:
		return "NoneValue"
	case KindMigrationPending:
		return "MigrationPending"
	default:
		return "Storage"
	}
}

// Error is returned by every failed call. Two errors match under errors.Is
// when their kinds are equal, so callers compare against the sentinels below.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a dispatch error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errors
var (
	ErrBadOrigin        = &Error{Kind: KindBadOrigin}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrStorageOverflow  = &Error{Kind: KindStorageOverflow}
	ErrNoneValue        = &Error{Kind: KindNoneValue}
	ErrMigrationPending = &Error{Kind: KindMigrationPending}
	ErrStorage          = &Error{Kind: KindStorage}
)

// classify wraps err in the dispatch error of the matching kind.
func classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	kind := KindStorage
	switch {
	case errors.Is(err, auth.ErrUnsigned), errors.Is(err, auth.ErrInvalidToken):
		kind = KindBadOrigin
	case errors.Is(err, ledger.ErrConflict):
		kind = KindConflict
	case errors.Is(err, ledger.ErrStorageOverflow):
		kind = KindStorageOverflow
	case errors.Is(err, ledger.ErrMigrationPending):
		kind = KindMigrationPending
	}
	return &Error{Kind: kind, Err: err}
}
