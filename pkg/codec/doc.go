// Package codec provides the binary layouts used to persist posts in Quill.
//
// Two schema versions exist. Writers only ever produce the current one (v2);
// the legacy layout (v1) stays decodable so that historical storage can be
// upgraded by the ledger's migration sweep.
//
// # Post Format (v2, current)
//
//	[TitleLen(4)][Title][Tag(1)][ContentLen(4)][Content][Author(32)]
//
// Fields:
//   - TitleLen: 32-bit unsigned title length (little-endian)
//   - Title: opaque title bytes
//   - Tag: content discriminator, 0 = Encrypted, 1 = Plain
//   - ContentLen: 32-bit unsigned content length (little-endian)
//   - Content: plaintext or ciphertext bytes, depending on Tag
//   - Author: the signer identity, 32 raw bytes
//
// Discriminator values are frozen. Reassigning them would silently change the
// meaning of bytes already on disk.
//
// # Post Format (v1, legacy)
//
//	[TitleLen(4)][Title][ContentLen(4)][Content][Author(32)]
//
// v1 content has no discriminator and is always treated as plaintext. The two
// layouts cannot be told apart reliably from the bytes alone, so the layout
// of stored values is tracked out of band (see SchemaVersion). DecodeAny exists
// for diagnostics only.
//
// # Usage
//
//	data, err := codec.EncodePost(codec.Post{
//	    Title:   []byte("hello"),
//	    Content: codec.Plain("world"),
//	    Author:  author,
//	})
//
//	post, err := codec.DecodeVersion(codec.SchemaV1, legacyBytes)
//
// # Error Handling
//
// Decoding fails with a *DecodeError wrapping ErrTruncated, ErrUnknownVariant
// or ErrTrailingBytes. Use errors.Is against those sentinels.
package codec
