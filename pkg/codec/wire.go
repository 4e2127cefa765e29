package codec

import (
	"encoding/binary"
	"math"
)

const lenPrefixSize = 4

func putBytes(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func checkLen(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return ErrTooLarge
	}
	return nil
}

// reader walks an encoded record and remembers the first failure so that
// decoders can read every field and check the error once.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.fail(ErrTruncated)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bytes() []byte {
	head := r.take(lenPrefixSize)
	if head == nil {
		return nil
	}
	n := binary.LittleEndian.Uint32(head)
	if uint64(n) > uint64(len(r.data)-r.off) {
		r.fail(ErrTruncated)
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	// decoded records must not alias the caller's buffer
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) identity() Identity {
	var id Identity
	b := r.take(IdentitySize)
	if b != nil {
		copy(id[:], b)
	}
	return id
}

func (r *reader) finish(version SchemaVersion) error {
	if r.err == nil && r.off != len(r.data) {
		r.fail(ErrTrailingBytes)
	}
	if r.err != nil {
		return &DecodeError{Version: version, Offset: r.off, Err: r.err}
	}
	return nil
}
