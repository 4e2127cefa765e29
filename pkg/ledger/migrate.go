package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ssargent/quill/pkg/codec"
)

// MigrateOptions controls a migration run.
type MigrateOptions struct {
	// DryRun decodes and upgrades every entry but writes nothing.
	DryRun bool
}

// SkippedEntry is a stored post that could not be decoded with the layout
// named by the storage version. It is left in place untouched.
type SkippedEntry struct {
	Key []byte
	ID  uint32
	Err error
}

// MigrationReport summarizes a migration run.
type MigrationReport struct {
	From           codec.SchemaVersion
	To             codec.SchemaVersion
	AlreadyCurrent bool
	DryRun         bool
	Migrated       int
	Skipped        []SkippedEntry
	Duration       time.Duration
}

// Migrate rewrites every stored post in the current layout and bumps the
// storage version, all in one atomic batch. Running it on a current store is
// a no-op. The id counter, titles and authors are never changed.
func (s *Store) Migrate(ctx context.Context, opts MigrateOptions) (*MigrationReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	from := s.Version()
	report := &MigrationReport{From: from, To: codec.CurrentSchema, DryRun: opts.DryRun}

	if from > codec.CurrentSchema {
		return nil, fmt.Errorf("%w: found %s", ErrFutureSchema, from)
	}
	if !from.Supported() {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedVersion, from)
	}
	if from == codec.CurrentSchema {
		report.AlreadyCurrent = true
		report.Duration = time.Since(start)
		return report, nil
	}

	batch := s.backend.NewBatch()
	defer batch.Close()
	err := s.backend.Iterate(postsPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := IDFromKey(key)
		if !ok {
			report.Skipped = append(report.Skipped, SkippedEntry{
				Key: append([]byte(nil), key...),
				Err: fmt.Errorf("%w: unexpected key", ErrCorruptSlot),
			})
			return nil
		}
		post, err := codec.DecodeVersion(from, value)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedEntry{
				Key: append([]byte(nil), key...),
				ID:  id,
				Err: err,
			})
			return nil
		}
		encoded, err := codec.EncodePost(post)
		if err != nil {
			return fmt.Errorf("post %d: %w", id, err)
		}
		batch.Set(key, encoded)
		report.Migrated++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migration scan failed: %w", err)
	}

	for _, sk := range report.Skipped {
		s.logger.Warn("skipping undecodable post",
			"id", sk.ID, "key", fmt.Sprintf("%x", sk.Key), "error", sk.Err)
	}

	if opts.DryRun {
		report.Duration = time.Since(start)
		return report, nil
	}

	batch.Set(storageVersionKey, encodeU16(uint16(codec.CurrentSchema)))
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("migration commit failed: %w", err)
	}

	s.mu.Lock()
	s.version = codec.CurrentSchema
	s.mu.Unlock()

	report.Duration = time.Since(start)
	s.logger.Info("storage migrated",
		"from", from.String(),
		"to", codec.CurrentSchema.String(),
		"migrated", report.Migrated,
		"skipped", len(report.Skipped),
		"duration", report.Duration)
	return report, nil
}
