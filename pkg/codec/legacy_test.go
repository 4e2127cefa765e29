package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgrade(t *testing.T) {
	legacy := []PostV1{
		{Title: []byte("hi"), Content: []byte("world"), Author: testIdentity(0xaa)},
		{Title: []byte{}, Content: []byte{}, Author: testIdentity(0)},
		{Title: []byte{0x00, 0xff}, Content: []byte{0x01, 0x00, 0x00, 0x00}, Author: testIdentity(3)},
	}

	for _, l := range legacy {
		up := Upgrade(l)
		assert.Equal(t, l.Title, up.Title)
		assert.Equal(t, l.Author, up.Author)
		require.IsType(t, Plain(nil), up.Content)
		assert.Equal(t, l.Content, up.Content.Bytes())
	}
}

func TestPostV1_RoundTrip(t *testing.T) {
	l := PostV1{Title: []byte("old"), Content: []byte("layout"), Author: testIdentity(9)}

	encoded, err := EncodePostV1(l)
	require.NoError(t, err)

	decoded, err := DecodePostV1(encoded)
	require.NoError(t, err)
	assert.True(t, l.Equal(decoded))
}

func TestDecodePostV1_Errors(t *testing.T) {
	encoded, err := EncodePostV1(PostV1{Title: []byte("a"), Content: []byte("b"), Author: testIdentity(1)})
	require.NoError(t, err)

	_, err = DecodePostV1(encoded[:len(encoded)-4])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodePostV1(append(encoded, 0x01))
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeVersion(t *testing.T) {
	author := testIdentity(0xaa)
	v1, err := EncodePostV1(PostV1{Title: []byte("hi"), Content: []byte("world"), Author: author})
	require.NoError(t, err)
	v2, err := EncodePost(Post{Title: []byte("hi"), Content: Encrypted("world"), Author: author})
	require.NoError(t, err)

	fromV1, err := DecodeVersion(SchemaV1, v1)
	require.NoError(t, err)
	assert.True(t, fromV1.Equal(Post{Title: []byte("hi"), Content: Plain("world"), Author: author}))

	fromV2, err := DecodeVersion(SchemaV2, v2)
	require.NoError(t, err)
	assert.True(t, fromV2.Equal(Post{Title: []byte("hi"), Content: Encrypted("world"), Author: author}))

	_, err = DecodeVersion(SchemaVersion(9), v2)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	assert.True(t, SchemaV1.Supported())
	assert.True(t, CurrentSchema.Supported())
	assert.False(t, SchemaVersion(0).Supported())
}

func TestDecodeAny(t *testing.T) {
	author := testIdentity(0xaa)

	v2, err := EncodePost(Post{Title: []byte("hi"), Content: Encrypted("x"), Author: author})
	require.NoError(t, err)
	p, version, err := DecodeAny(v2)
	require.NoError(t, err)
	assert.Equal(t, SchemaV2, version)
	assert.Equal(t, KindEncrypted, p.Content.Kind())

	// content length 5 puts 0x05 where v2 expects the tag
	v1, err := EncodePostV1(PostV1{Title: []byte("hi"), Content: []byte("world"), Author: author})
	require.NoError(t, err)
	p, version, err = DecodeAny(v1)
	require.NoError(t, err)
	assert.Equal(t, SchemaV1, version)
	assert.Equal(t, Plain("world"), p.Content)

	_, _, err = DecodeAny([]byte{0x01})
	assert.ErrorIs(t, err, ErrTruncated)
}
