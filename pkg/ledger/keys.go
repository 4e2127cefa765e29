package ledger

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

var (
	postsPrefix       = []byte("quill/posts/")
	nextPostKey       = []byte("quill/next_post")
	storageVersionKey = []byte("quill/storage_version")
)

const (
	postHashSize = 8
	postIDSize   = 4
)

// PostKey returns the backend key of post id.
func PostKey(id uint32) []byte {
	var raw [postIDSize]byte
	binary.LittleEndian.PutUint32(raw[:], id)

	key := make([]byte, 0, len(postsPrefix)+postHashSize+postIDSize)
	key = append(key, postsPrefix...)
	key = binary.LittleEndian.AppendUint64(key, xxhash.Sum64(raw[:]))
	return append(key, raw[:]...)
}

// PostsPrefix returns the prefix shared by every post key.
func PostsPrefix() []byte {
	return append([]byte(nil), postsPrefix...)
}

// NextPostKey returns the backend key of the id counter.
func NextPostKey() []byte {
	return append([]byte(nil), nextPostKey...)
}

// StorageVersionKey returns the backend key of the schema version marker.
func StorageVersionKey() []byte {
	return append([]byte(nil), storageVersionKey...)
}

// IDFromKey recovers the post id from a post key. It rejects keys whose hash
// segment does not match the id.
func IDFromKey(key []byte) (uint32, bool) {
	if len(key) != len(postsPrefix)+postHashSize+postIDSize || !bytes.HasPrefix(key, postsPrefix) {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(key[len(key)-postIDSize:])
	if !bytes.Equal(key, PostKey(id)) {
		return 0, false
	}
	return id, true
}

func encodeU32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, ErrCorruptSlot
	}
	return binary.LittleEndian.Uint32(b), nil
}

func encodeU16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func decodeU16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, ErrCorruptSlot
	}
	return binary.LittleEndian.Uint16(b), nil
}
