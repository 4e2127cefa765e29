package di

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/quill/pkg/api"
	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/config"
	"github.com/ssargent/quill/pkg/events"
	"github.com/ssargent/quill/pkg/ledger"
	"github.com/ssargent/quill/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Backend = storage.KindMemory
	cfg.Auth.Mode = config.AuthModeBoth
	cfg.Auth.StaticTokens = map[string]string{"dev": codec.Identity{0xd0}.String()}
	return cfg
}

func TestContainer_DispatchEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg, nil)
	defer c.Close()

	d, err := c.Dispatcher(context.Background())
	require.NoError(t, err)

	sub := c.Bus().Subscribe(4)
	receipt, err := d.Post(context.Background(), auth.Origin{Token: "dev"}, []byte("hi"), []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), receipt.ID)
	assert.Equal(t, codec.Identity{0xd0}, receipt.Author)

	assert.Equal(t, events.RecordStored{PostID: 0, Author: codec.Identity{0xd0}}, <-sub.C())

	journal, err := c.Journal()
	require.NoError(t, err)
	require.NotNil(t, journal)
	var replayed []events.Entry
	require.NoError(t, journal.Replay(context.Background(), func(e events.Entry) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Len(t, replayed, 1)
	assert.Equal(t, uint32(0), replayed[0].Event.PostID)

	again, err := c.Dispatcher(context.Background())
	require.NoError(t, err)
	assert.Same(t, d, again)
}

func TestContainer_SignedTokens(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg, nil)
	defer c.Close()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	token, err := auth.SignToken(priv, time.Minute, time.Now())
	require.NoError(t, err)

	d, err := c.Dispatcher(context.Background())
	require.NoError(t, err)
	receipt, err := d.PostEncrypted(context.Background(), auth.Origin{Token: token}, nil, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), receipt.Author[:])
}

func TestContainer_AuthModes(t *testing.T) {
	for _, mode := range []string{config.AuthModeToken, config.AuthModeStatic, config.AuthModeBoth} {
		cfg := testConfig(t)
		cfg.Auth.Mode = mode
		a, err := NewContainer(cfg, nil).Authenticator()
		require.NoError(t, err, mode)
		assert.NotNil(t, a)
	}

	cfg := testConfig(t)
	cfg.Auth.Mode = "nobody"
	_, err := NewContainer(cfg, nil).Authenticator()
	assert.Error(t, err)
}

func TestContainer_JournalDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Journal = ""
	c := NewContainer(cfg, nil)
	defer c.Close()

	j, err := c.Journal()
	require.NoError(t, err)
	assert.Nil(t, j)

	_, err = c.Dispatcher(context.Background())
	require.NoError(t, err)
}

// legacyBackend returns a memory backend holding one v1 post and no version
// marker.
func legacyBackend(t *testing.T) storage.Backend {
	t.Helper()
	backend := storage.NewMemory()
	raw, err := codec.EncodePostV1(codec.PostV1{Title: []byte("old"), Content: []byte("x")})
	require.NoError(t, err)
	batch := backend.NewBatch()
	batch.Set(ledger.PostKey(0), raw)
	batch.Set(ledger.NextPostKey(), []byte{1, 0, 0, 0})
	require.NoError(t, batch.Commit())
	return backend
}

func TestContainer_MigrateWithBackup(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg, nil)
	c.SetBackendFactory(func(storage.Options) (storage.Backend, error) { return legacyBackend(t), nil })
	c.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer c.Close()

	store, err := c.Ledger(context.Background())
	require.NoError(t, err)
	assert.True(t, store.MigrationPending())

	report, backup, err := c.Migrate(context.Background(), MigrateOptions{Backup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, filepath.Join(cfg.DataDir, "backups", "pre-migrate-20250102T030405Z.snap"), backup)
	_, err = os.Stat(backup)
	assert.NoError(t, err)

	got, err := store.Get(0)
	require.NoError(t, err)
	assert.Equal(t, codec.Plain("x"), got.Content)
}

func TestContainer_AutoMigrate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Migration.Auto = true
	cfg.Migration.Backup = false
	c := NewContainer(cfg, nil)
	c.SetBackendFactory(func(storage.Options) (storage.Backend, error) { return legacyBackend(t), nil })
	defer c.Close()

	store, err := c.Ledger(context.Background())
	require.NoError(t, err)
	assert.False(t, store.MigrationPending())
	_, err = os.Stat(filepath.Join(cfg.DataDir, "backups"))
	assert.True(t, os.IsNotExist(err))
}

type recordingStarter struct {
	started bool
	config  api.ServerConfig
}

func (s *recordingStarter) StartServer(ctx context.Context, server *api.Server, config api.ServerConfig) error {
	s.started = true
	s.config = config
	return nil
}

type recordingFactory struct{ starter *recordingStarter }

func (f recordingFactory) CreateServerStarter() api.ServerStarter { return f.starter }

func TestContainer_ServerFactoryOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 9191
	c := NewContainer(cfg, nil)
	defer c.Close()

	starter := &recordingStarter{}
	c.SetServerFactory(recordingFactory{starter})

	server, err := c.Server(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.GetServerFactory().CreateServerStarter().StartServer(context.Background(), server, c.ServerConfig()))
	assert.True(t, starter.started)
	assert.Equal(t, 9191, starter.config.Port)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.Logging{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	NewLogger(&buf, config.Logging{Level: "debug"}).Debug("text")
	assert.Contains(t, buf.String(), "msg=text")
}
