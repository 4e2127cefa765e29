package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/config"
	"github.com/ssargent/quill/pkg/di"
	"github.com/ssargent/quill/pkg/dispatch"
	"github.com/ssargent/quill/pkg/ledger"
	"github.com/ssargent/quill/pkg/storage"
)

func newTestContainer(t *testing.T, dataDir string) *di.Container {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Storage.Backend = storage.KindPebble
	cfg.Storage.Sync = false
	c := di.NewContainer(cfg, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestKey(t *testing.T) (string, codec.Identity) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "author.key")
	id, err := generateKeyFile(path)
	require.NoError(t, err)
	return path, id
}

func TestInitialize(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "quill.yaml")
	dataDir := filepath.Join(tmpDir, "data")

	t.Run("Successful initialization", func(t *testing.T) {
		result, err := initialize(configPath, dataDir, false, false)
		require.NoError(t, err)

		assert.DirExists(t, dataDir)
		assert.FileExists(t, configPath)
		assert.Empty(t, result.KeyPath)
		assert.Empty(t, result.DevToken)
		assert.Equal(t, dataDir, result.Config.DataDir)
	})

	t.Run("Existing config requires force", func(t *testing.T) {
		_, err := initialize(configPath, dataDir, false, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("Dev mode issues a key and token", func(t *testing.T) {
		result, err := initialize(configPath, dataDir, true, true)
		require.NoError(t, err)

		assert.FileExists(t, result.KeyPath)
		assert.NotEmpty(t, result.DevToken)
		assert.False(t, result.Identity.IsZero())

		loaded, err := config.LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, config.AuthModeBoth, loaded.Auth.Mode)
		assert.Equal(t, result.Identity.String(), loaded.Auth.StaticTokens[result.DevToken])

		priv, err := readKeyFile(result.KeyPath)
		require.NoError(t, err)
		id, err := identityOf(priv)
		require.NoError(t, err)
		assert.Equal(t, result.Identity, id)
	})

	t.Run("Invalid data directory", func(t *testing.T) {
		blocker := filepath.Join(tmpDir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

		_, err := initialize(filepath.Join(tmpDir, "other.yaml"), filepath.Join(blocker, "data"), false, false)
		assert.Error(t, err)
	})
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()

	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(dir, "keys", "a.key")
		id, err := generateKeyFile(path)
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		priv, err := readKeyFile(path)
		require.NoError(t, err)
		got, err := identityOf(priv)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("full private key accepted", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		path := filepath.Join(dir, "full.key")
		require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0600))

		got, err := readKeyFile(path)
		require.NoError(t, err)
		assert.Equal(t, priv, got)
	})

	t.Run("not hex", func(t *testing.T) {
		path := filepath.Join(dir, "bad.key")
		require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))
		_, err := readKeyFile(path)
		assert.Error(t, err)
	})

	t.Run("wrong size", func(t *testing.T) {
		path := filepath.Join(dir, "short.key")
		require.NoError(t, os.WriteFile(path, []byte("abcd"), 0600))
		_, err := readKeyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "holds 2 bytes")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := readKeyFile(filepath.Join(dir, "nope.key"))
		assert.Error(t, err)
	})
}

func TestResolveOrigin(t *testing.T) {
	keyPath, _ := newTestKey(t)

	origin, err := resolveOrigin("explicit", keyPath)
	require.NoError(t, err)
	assert.Equal(t, "explicit", origin.Token)

	origin, err = resolveOrigin("", keyPath)
	require.NoError(t, err)
	assert.NotEmpty(t, origin.Token)

	_, err = resolveOrigin("", "")
	assert.Error(t, err)
}

func TestPostGetListEvents(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	keyPath, author := newTestKey(t)

	c := newTestContainer(t, dataDir)

	var out bytes.Buffer
	require.NoError(t, runPost(ctx, c, postOptions{Title: []byte("hi"), Content: []byte("world"), KeyPath: keyPath}, &out))

	var receipt dispatch.Receipt
	require.NoError(t, json.Unmarshal(out.Bytes(), &receipt))
	assert.Equal(t, uint32(0), receipt.ID)
	assert.Equal(t, author, receipt.Author)

	out.Reset()
	require.NoError(t, runPost(ctx, c, postOptions{Title: []byte("t"), Content: []byte{0xde, 0xad}, Encrypted: true, KeyPath: keyPath}, &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), &receipt))
	assert.Equal(t, uint32(1), receipt.ID)

	t.Run("summary", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runGet(ctx, c, 0, getModeSummary, &buf))
		assert.Contains(t, buf.String(), "Title:   hi")
		assert.Contains(t, buf.String(), "Kind:    plain")
		assert.Contains(t, buf.String(), "Content: world")
		assert.Contains(t, buf.String(), author.String())
	})

	t.Run("raw encrypted", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runGet(ctx, c, 1, getModeRaw, &buf))
		assert.Equal(t, []byte{0xde, 0xad}, buf.Bytes())
	})

	t.Run("html refuses encrypted", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, runGet(ctx, c, 1, getModeHTML, &buf))
	})

	t.Run("missing post", func(t *testing.T) {
		var buf bytes.Buffer
		err := runGet(ctx, c, 7, getModeSummary, &buf)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runList(ctx, c, 0, 10, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "0\tplain\t"))
		assert.True(t, strings.HasPrefix(lines[1], "1\tencrypted\t"))
	})

	t.Run("bad origin", func(t *testing.T) {
		var buf bytes.Buffer
		err := runPost(ctx, c, postOptions{Title: []byte("x"), Content: []byte("y"), Token: "forged"}, &buf)
		assert.ErrorIs(t, err, dispatch.ErrBadOrigin)
	})

	// Closing flushes the journal so it can be replayed from disk.
	journalPath := c.Config().JournalPath()
	require.NoError(t, c.Close())

	t.Run("events", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runEvents(ctx, journalPath, false, 0, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "post=0")
		assert.Contains(t, lines[1], "post=1")
	})

	t.Run("events json with limit", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runEvents(ctx, journalPath, true, 1, &buf))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, float64(0), line["post_id"])
		assert.Equal(t, author.String(), line["author"])
	})

	t.Run("events without journal", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runEvents(ctx, filepath.Join(t.TempDir(), "none.log"), false, 0, &buf))
		assert.Contains(t, buf.String(), "No events recorded")
	})
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, t.TempDir())

	backend, err := c.Backend()
	require.NoError(t, err)

	legacy := []codec.PostV1{
		{Title: []byte("a"), Content: []byte("first"), Author: codec.Identity{1}},
		{Title: []byte("b"), Content: []byte("second"), Author: codec.Identity{2}},
	}
	batch := backend.NewBatch()
	for i, p := range legacy {
		raw, err := codec.EncodePostV1(p)
		require.NoError(t, err)
		batch.Set(ledger.PostKey(uint32(i)), raw)
	}
	batch.Set(ledger.NextPostKey(), binary.LittleEndian.AppendUint32(nil, uint32(len(legacy))))
	require.NoError(t, batch.Commit())

	t.Run("dry run", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runMigrate(ctx, c, di.MigrateOptions{Backup: true, DryRun: true}, &buf))
		assert.Contains(t, buf.String(), "Would migrate 2 posts from v1 to v2")
		assert.NotContains(t, buf.String(), "Backup written")
	})

	t.Run("with backup", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runMigrate(ctx, c, di.MigrateOptions{Backup: true}, &buf))
		assert.Contains(t, buf.String(), "Backup written to")
		assert.Contains(t, buf.String(), "Migrated 2 posts from v1 to v2")

		matches, err := filepath.Glob(filepath.Join(c.Config().DataDir, "backups", "*.snap"))
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("already current", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runMigrate(ctx, c, di.MigrateOptions{}, &buf))
		assert.Contains(t, buf.String(), "already at v2")
	})

	var buf bytes.Buffer
	require.NoError(t, runGet(ctx, c, 1, getModeSummary, &buf))
	assert.Contains(t, buf.String(), "Content: second")
	assert.Contains(t, buf.String(), "Kind:    plain")
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	keyPath, _ := newTestKey(t)
	snapPath := filepath.Join(t.TempDir(), "ledger.snap")

	src := newTestContainer(t, t.TempDir())
	var out bytes.Buffer
	require.NoError(t, runPost(ctx, src, postOptions{Title: []byte("keep"), Content: []byte("me"), KeyPath: keyPath}, &out))

	out.Reset()
	require.NoError(t, runExport(ctx, src, snapPath, &out))
	assert.Contains(t, out.String(), "Exported 3 entries")

	out.Reset()
	require.NoError(t, runInspect(ctx, snapPath, &out))
	assert.Contains(t, out.String(), "Entries: 3")

	dst := newTestContainer(t, t.TempDir())
	out.Reset()
	require.NoError(t, runImport(ctx, dst, snapPath, &out))
	assert.Contains(t, out.String(), "Imported 3 entries")

	out.Reset()
	require.NoError(t, runGet(ctx, dst, 0, getModeSummary, &out))
	assert.Contains(t, out.String(), "Content: me")

	t.Run("import into non-empty ledger", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, runImport(ctx, dst, snapPath, &buf))
	})
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	_, err = parseID("-1")
	assert.Error(t, err)
	_, err = parseID("4294967296")
	assert.Error(t, err)
}

func TestCommandStructure(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "serve", "post", "get", "list", "migrate", "export", "import", "keygen", "token", "events"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("data-dir"))
	assert.NotNil(t, postCmd.Flags().Lookup("encrypted"))
	assert.NotNil(t, migrateCmd.Flags().Lookup("dry-run"))
}
