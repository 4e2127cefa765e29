// Package ledger owns the persisted post state: the Posts map (post id ->
// encoded post), the NextPost counter and the StorageVersion marker.
//
// # Slots
//
//	quill/posts/<xxhash64(le32 id)><le32 id>  -> codec v2 post (v1 until migrated)
//	quill/next_post                           -> le32 counter, absent = 0
//	quill/storage_version                     -> le16 schema version
//
// Post keys hash the id before concatenating it, so keys spread evenly over
// the keyspace while the id stays recoverable from the last four bytes.
//
// # Writes
//
// All mutation goes through a Tx. A Tx buffers its writes and applies them as
// one backend batch on Commit; Discard drops them, including any counter
// increment made by AllocateID. Only one Tx may be open at a time.
//
// # Migration
//
// Stores written by older binaries carry StorageVersion 1. Until Migrate has
// run, reads and writes fail with ErrMigrationPending; nothing upgrades
// records lazily on read.
package ledger
