package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("truncated input")
	ErrUnknownVariant     = errors.New("unknown content variant")
	ErrTrailingBytes      = errors.New("trailing bytes after record")
	ErrTooLarge           = errors.New("field exceeds maximum encodable length")
	ErrNilContent         = errors.New("post has no content")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// DecodeError reports where and why a record failed to decode.
type DecodeError struct {
	Version SchemaVersion
	Offset  int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode v%d record at offset %d: %v", e.Version, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
