package codec

import (
	"encoding/hex"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// The golden files pin the persisted layouts. A diff here means records
// already on disk would be read differently.
func TestGoldenLayouts(t *testing.T) {
	g := goldie.New(t)
	author := testIdentity(0xaa)

	plain, err := EncodePost(Post{Title: []byte("hi"), Content: Plain("world"), Author: author})
	require.NoError(t, err)
	g.Assert(t, "post_v2_plain", []byte(hex.EncodeToString(plain)+"\n"))

	encrypted, err := EncodePost(Post{Title: []byte("t"), Content: Encrypted("cipher"), Author: author})
	require.NoError(t, err)
	g.Assert(t, "post_v2_encrypted", []byte(hex.EncodeToString(encrypted)+"\n"))

	legacy, err := EncodePostV1(PostV1{Title: []byte("hi"), Content: []byte("world"), Author: author})
	require.NoError(t, err)
	g.Assert(t, "post_v1", []byte(hex.EncodeToString(legacy)+"\n"))
}
