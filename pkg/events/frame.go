package events

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/quill/pkg/codec"
)

const (
	// Header: CRC32(4) + IDSize(4) + PayloadSize(4) + Timestamp(8)
	frameHeaderSize = 20
	payloadSize     = 4 + codec.IdentitySize
)

// Entry is one journaled event.
type Entry struct {
	ID        ksuid.KSUID
	Timestamp time.Time
	Event     RecordStored
}

// encodeFrame serializes an entry.
// Format: [CRC32(4)][IDSize(4)][PayloadSize(4)][Timestamp(8)][ID][Payload]
func encodeFrame(e Entry) []byte {
	id := e.ID.Bytes()
	buf := make([]byte, frameHeaderSize+len(id)+payloadSize)

	binary.LittleEndian.PutUint32(buf[4:], uint32(len(id)))
	binary.LittleEndian.PutUint32(buf[8:], payloadSize)
	binary.LittleEndian.PutUint64(buf[12:], uint64(e.Timestamp.UnixNano()))
	copy(buf[frameHeaderSize:], id)

	payload := buf[frameHeaderSize+len(id):]
	binary.LittleEndian.PutUint32(payload, e.Event.PostID)
	copy(payload[4:], e.Event.Author[:])

	binary.LittleEndian.PutUint32(buf[0:], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// frameSizes reads the body length announced by a header.
func frameSizes(header []byte) (idSize, bodySize uint32) {
	idSize = binary.LittleEndian.Uint32(header[4:8])
	return idSize, idSize + binary.LittleEndian.Uint32(header[8:12])
}

// decodeFrame validates and parses a complete frame.
func decodeFrame(data []byte) (Entry, error) {
	if len(data) < frameHeaderSize {
		return Entry{}, ErrCorruption
	}
	idSize, bodySize := frameSizes(data)
	if uint64(len(data)) != frameHeaderSize+uint64(bodySize) {
		return Entry{}, ErrCorruption
	}
	if binary.LittleEndian.Uint32(data[0:4]) != crc32.ChecksumIEEE(data[4:]) {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", ErrCorruption)
	}
	if idSize != uint32(len(ksuid.Nil)) || bodySize-idSize != payloadSize {
		return Entry{}, fmt.Errorf("%w: unexpected frame sizes", ErrCorruption)
	}

	id, err := ksuid.FromBytes(data[frameHeaderSize : frameHeaderSize+idSize])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	payload := data[frameHeaderSize+idSize:]

	e := Entry{
		ID:        id,
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[12:20]))),
	}
	e.Event.PostID = binary.LittleEndian.Uint32(payload)
	copy(e.Event.Author[:], payload[4:])
	return e, nil
}

// Errors
var (
	ErrCorruption = &Error{"journal corruption detected"}
	ErrClosed     = &Error{"journal is closed"}
)

// Error represents a journal error
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
