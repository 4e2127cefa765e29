// Package snapshot exports every persisted slot of a backend to a compressed
// stream and restores it.
//
// A snapshot is a zstd stream holding one JSON header line followed by
// Entries frames of [KeySize(4)][Key][ValueSize(4)][Value] and a trailing
// xxhash64 digest of the frames.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/ssargent/quill/pkg/storage"
)

// FormatVersion is the snapshot layout written by Export.
const FormatVersion = 1

// Errors
var (
	ErrFormat   = errors.New("malformed snapshot")
	ErrChecksum = errors.New("snapshot checksum mismatch")
	ErrNotEmpty = errors.New("target backend is not empty")
)

// Header is the first line of a snapshot.
type Header struct {
	Format    int       `json:"format"`
	Entries   int       `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
}

type kv struct {
	key, value []byte
}

// Export writes every key of backend to w.
func Export(ctx context.Context, backend storage.Reader, w io.Writer) (Header, error) {
	var entries []kv
	err := backend.Iterate(nil, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries = append(entries, kv{key, value})
		return nil
	})
	if err != nil {
		return Header{}, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return Header{}, err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	header := Header{Format: FormatVersion, Entries: len(entries), CreatedAt: time.Now().UTC()}
	hb, err := json.Marshal(header)
	if err != nil {
		enc.Close()
		return Header{}, err
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return Header{}, err
	}

	digest := xxhash.New()
	out := io.MultiWriter(bw, digest)
	for _, e := range entries {
		if err := writeFrame(out, e.key); err != nil {
			enc.Close()
			return Header{}, err
		}
		if err := writeFrame(out, e.value); err != nil {
			enc.Close()
			return Header{}, err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, digest.Sum64()); err != nil {
		enc.Close()
		return Header{}, err
	}

	if err := bw.Flush(); err != nil {
		enc.Close()
		return Header{}, err
	}
	return header, enc.Close()
}

// Import restores a snapshot into an empty backend in one batch.
func Import(ctx context.Context, backend storage.Backend, r io.Reader) (Header, error) {
	empty := true
	if err := backend.Iterate(nil, func(key, value []byte) error {
		empty = false
		return storage.ErrStop
	}); err != nil {
		return Header{}, err
	}
	if !empty {
		return Header{}, ErrNotEmpty
	}

	header, entries, err := read(ctx, r)
	if err != nil {
		return Header{}, err
	}

	batch := backend.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		batch.Set(e.key, e.value)
	}
	if err := batch.Commit(); err != nil {
		return Header{}, err
	}
	return header, nil
}

// Inspect reads and verifies a snapshot without restoring it.
func Inspect(ctx context.Context, r io.Reader) (Header, error) {
	header, _, err := read(ctx, r)
	return header, err
}

func read(ctx context.Context, r io.Reader) (Header, []kv, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	var header Header
	if err := json.Unmarshal(line, &header); err != nil {
		return Header{}, nil, fmt.Errorf("%w: decoding header: %v", ErrFormat, err)
	}
	if header.Format != FormatVersion {
		return Header{}, nil, fmt.Errorf("%w: unsupported format %d", ErrFormat, header.Format)
	}
	if header.Entries < 0 {
		return Header{}, nil, fmt.Errorf("%w: negative entry count", ErrFormat)
	}

	digest := xxhash.New()
	in := io.TeeReader(br, digest)
	entries := make([]kv, 0, min(header.Entries, maxPrealloc))
	for i := 0; i < header.Entries; i++ {
		if err := ctx.Err(); err != nil {
			return Header{}, nil, err
		}
		key, err := readFrame(in)
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: entry %d key: %v", ErrFormat, i, err)
		}
		value, err := readFrame(in)
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: entry %d value: %v", ErrFormat, i, err)
		}
		entries = append(entries, kv{key, value})
	}

	var sum uint64
	if err := binary.Read(br, binary.LittleEndian, &sum); err != nil {
		return Header{}, nil, fmt.Errorf("%w: reading checksum: %v", ErrFormat, err)
	}
	if sum != digest.Sum64() {
		return Header{}, nil, ErrChecksum
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return Header{}, nil, fmt.Errorf("%w: trailing data", ErrFormat)
	}
	return header, entries, nil
}

// maxFrame bounds a single key or value.
const maxFrame = 1 << 30

// maxPrealloc caps capacity reserved from the header's entry count.
const maxPrealloc = 1024

func writeFrame(w io.Writer, b []byte) error {
	if len(b) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(b))
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(b)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(size[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile exports backend to path.
func WriteFile(ctx context.Context, backend storage.Reader, path string) (Header, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Header{}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Header{}, err
	}

	header, err := Export(ctx, backend, f)
	if err != nil {
		f.Close()
		return Header{}, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Header{}, err
	}
	return header, f.Close()
}

// ReadFile imports the snapshot at path into backend.
func ReadFile(ctx context.Context, backend storage.Backend, path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return Import(ctx, backend, f)
}
