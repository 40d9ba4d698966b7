package services

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"chairlink/models"

	"github.com/temoto/extremofile"
	"go.uber.org/zap"
)

type fileStorage interface {
	Read() ([]byte, error)
	io.Writer
}

// FileBacking keeps each key in its own directory as a checksummed file with a
// backup copy, written atomically.
type FileBacking struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]fileStorage
}

func NewFileBacking(root string, logger *zap.Logger) *FileBacking {
	return &FileBacking{
		root:   root,
		logger: logger,
		files:  make(map[string]fileStorage),
	}
}

func (f *FileBacking) storage(key string) fileStorage {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.files[key]; ok {
		return s
	}
	s := extremofile.New(extremofile.Config{
		Dir:      filepath.Join(f.root, StorageSafeKey(key)),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	f.files[key] = s
	return s
}

// Load reads the calendar document for key
func (f *FileBacking) Load(_ context.Context, key string) ([]models.EventRecord, error) {
	tbegin := time.Now()
	b, err := f.storage(key).Read()
	f.logger.Debug("Calendar file read",
		zap.String("key", key),
		zap.Duration("duration", time.Since(tbegin)))

	if b == nil {
		// nil data with nil error means nothing stored yet
		return nil, err
	}
	if err != nil {
		f.logger.Warn("Calendar file recovered from backup copy",
			zap.String("key", key),
			zap.Error(err))
	}
	return decodeDocument(b)
}

// Save replaces the calendar document for key
func (f *FileBacking) Save(_ context.Context, key string, records []models.EventRecord) error {
	b, err := encodeDocument(key, records)
	if err != nil {
		return err
	}

	tbegin := time.Now()
	_, err = f.storage(key).Write(b)
	f.logger.Debug("Calendar file write",
		zap.String("key", key),
		zap.Int("events", len(records)),
		zap.Duration("duration", time.Since(tbegin)))

	if err != nil && !extremofile.IsCritical(err) {
		// main copy is written, only the backup failed
		f.logger.Warn("Calendar backup copy not written", zap.String("key", key), zap.Error(err))
		return nil
	}
	return err
}

// Close is a no-op; every write is already synced
func (f *FileBacking) Close() error {
	return nil
}
