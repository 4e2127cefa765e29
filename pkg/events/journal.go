package events

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// JournalConfig holds configuration for the event journal
type JournalConfig struct {
	FilePath      string        // Path to the journal file
	FsyncInterval time.Duration // How often to fsync (0 = every write)
	BufferSize    int           // Write buffer size
	Logger        *slog.Logger
}

// RecoveryResult describes what OpenJournal found on disk.
type RecoveryResult struct {
	EntriesValidated int64
	BytesTruncated   int64
	FileSizeBefore   int64
	FileSizeAfter    int64
	RecoveryTime     time.Duration
}

// Journal is an append-only file of RecordStored events.
type Journal struct {
	file       *os.File
	writer     *bufio.Writer
	fsyncTimer *time.Timer
	config     JournalConfig
	logger     *slog.Logger
	mutex      sync.Mutex
	offset     int64
	entries    int64
	closed     bool
	now        func() time.Time
}

// OpenJournal opens (or creates) the journal at config.FilePath. A torn or
// corrupt tail left by a crash is truncated before appending resumes.
func OpenJournal(config JournalConfig) (*Journal, *RecoveryResult, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 64 * 1024
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, nil, err
	}

	recovery, err := recoverJournal(config.FilePath)
	if err != nil {
		return nil, nil, err
	}
	if recovery.BytesTruncated > 0 {
		logger.Warn("truncated corrupt journal tail",
			"path", config.FilePath,
			"bytes", recovery.BytesTruncated,
			"entries_kept", recovery.EntriesValidated)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, err
	}

	j := &Journal{
		file:    file,
		writer:  bufio.NewWriterSize(file, config.BufferSize),
		config:  config,
		logger:  logger,
		offset:  recovery.FileSizeAfter,
		entries: recovery.EntriesValidated,
		now:     time.Now,
	}

	if config.FsyncInterval > 0 {
		j.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			j.mutex.Lock()
			defer j.mutex.Unlock()
			if j.closed {
				return
			}
			if err := j.sync(); err != nil {
				j.logger.Error("journal fsync failed", "error", err)
			}
		})
	}

	return j, recovery, nil
}

// Emit implements Sink by appending the event.
func (j *Journal) Emit(ctx context.Context, ev RecordStored) error {
	_, err := j.Append(ev)
	return err
}

// Append writes ev and returns the stored entry.
func (j *Journal) Append(ev RecordStored) (Entry, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return Entry{}, ErrClosed
	}

	now := j.now()
	id, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{ID: id, Timestamp: now, Event: ev}

	n, err := j.writer.Write(encodeFrame(entry))
	if err != nil {
		return Entry{}, err
	}
	j.offset += int64(n)
	j.entries++

	if j.config.FsyncInterval == 0 {
		if err := j.sync(); err != nil {
			return Entry{}, err
		}
	} else if j.fsyncTimer != nil {
		j.fsyncTimer.Reset(j.config.FsyncInterval)
	}

	return entry, nil
}

// Sync flushes buffered entries and fsyncs the file.
func (j *Journal) Sync() error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.sync()
}

func (j *Journal) sync() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Size returns the journal size in bytes, including buffered entries.
func (j *Journal) Size() int64 {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.offset
}

// Entries returns the number of entries in the journal.
func (j *Journal) Entries() int64 {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.entries
}

// Path returns the file path
func (j *Journal) Path() string {
	return j.config.FilePath
}

// Replay flushes pending writes and then reads every entry in order.
func (j *Journal) Replay(ctx context.Context, fn func(Entry) error) error {
	if err := j.Sync(); err != nil {
		return err
	}
	return ReplayFile(ctx, j.config.FilePath, fn)
}

// Close syncs and closes the journal.
func (j *Journal) Close() error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if j.fsyncTimer != nil {
		j.fsyncTimer.Stop()
	}

	if err := j.sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// ReplayFile reads every entry of the journal at path in order. Returning
// ErrStop from fn ends the replay without error. A corrupt entry ends the
// replay with ErrCorruption.
func ReplayFile(ctx context.Context, path string, fn func(Entry) error) error {
	r, err := newJournalReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := r.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ErrStop can be returned by a replay callback to stop early.
var ErrStop = errors.New("stop replay")

type journalReader struct {
	file   *os.File
	reader *bufio.Reader
	offset int64
}

func newJournalReader(path string) (*journalReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &journalReader{file: file, reader: bufio.NewReader(file)}, nil
}

// next returns io.EOF at a clean end of file and ErrCorruption for a torn or
// damaged entry.
func (r *journalReader) next() (Entry, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r.reader, header)
	if err == io.EOF {
		return Entry{}, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return Entry{}, ErrCorruption
	}
	if err != nil {
		return Entry{}, err
	}

	_, bodySize := frameSizes(header)
	if bodySize > maxFrameBody {
		return Entry{}, ErrCorruption
	}
	frame := make([]byte, frameHeaderSize+int(bodySize))
	copy(frame, header)
	m, err := io.ReadFull(r.reader, frame[frameHeaderSize:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return Entry{}, ErrCorruption
	}
	if err != nil {
		return Entry{}, err
	}

	entry, err := decodeFrame(frame)
	if err != nil {
		return Entry{}, err
	}
	r.offset += int64(n + m)
	return entry, nil
}

func (r *journalReader) Close() error {
	return r.file.Close()
}

// maxFrameBody bounds the allocation for a frame whose header is garbage.
const maxFrameBody = 1 << 16

// recoverJournal validates the journal and truncates it after the last intact
// entry.
func recoverJournal(path string) (*RecoveryResult, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &RecoveryResult{RecoveryTime: time.Since(start)}, nil
	}
	if err != nil {
		return nil, err
	}

	r, err := newJournalReader(path)
	if err != nil {
		return nil, err
	}

	result := &RecoveryResult{FileSizeBefore: info.Size()}
	for {
		_, err := r.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCorruption) {
			break
		}
		if err != nil {
			r.Close()
			return nil, err
		}
		result.EntriesValidated++
	}
	lastValid := r.offset
	r.Close()

	result.FileSizeAfter = lastValid
	if lastValid < info.Size() {
		if err := os.Truncate(path, lastValid); err != nil {
			return nil, err
		}
		result.BytesTruncated = info.Size() - lastValid
	}
	result.RecoveryTime = time.Since(start)
	return result, nil
}
