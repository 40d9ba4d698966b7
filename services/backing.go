package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chairlink/config"
	"chairlink/models"

	"go.uber.org/zap"
)

// storageVersion is bumped when the persisted document layout changes
const storageVersion = 1

// EventBacking is durable storage for one device's calendar, addressed by key.
// Load returns nil records and no error when nothing was stored yet.
type EventBacking interface {
	Load(ctx context.Context, key string) ([]models.EventRecord, error)
	Save(ctx context.Context, key string, records []models.EventRecord) error
}

// storeDocument is the versioned envelope every backing writes
type storeDocument struct {
	Version int                  `json:"version"`
	Key     string               `json:"key"`
	Data    []models.EventRecord `json:"data"`
}

// CalendarStorageKey is the backing key for a device's hygiene calendar
func CalendarStorageKey(uniqueID string) string {
	return StorageSafeKey(fmt.Sprintf("chairlink_calendar_%s", uniqueID))
}

// StorageSafeKey replaces everything outside [A-Za-z0-9_-] so the key is valid as
// a directory name, an RTDB path segment and a NATS KV key.
func StorageSafeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}

func encodeDocument(key string, records []models.EventRecord) ([]byte, error) {
	if records == nil {
		records = []models.EventRecord{}
	}
	return json.Marshal(storeDocument{Version: storageVersion, Key: key, Data: records})
}

func decodeDocument(b []byte) ([]models.EventRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc storeDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse calendar document: %w", err)
	}
	if doc.Version > storageVersion {
		return nil, fmt.Errorf("calendar document version %d is newer than supported %d", doc.Version, storageVersion)
	}
	return doc.Data, nil
}

// ClosableBacking is an EventBacking holding a connection or handles
type ClosableBacking interface {
	EventBacking
	io.Closer
}

// OpenBacking opens the backing selected by cfg.StorageBackend
func OpenBacking(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ClosableBacking, error) {
	switch cfg.StorageBackend {
	case config.StorageFile:
		return NewFileBacking(cfg.StorageDir, logger), nil
	case config.StorageFirebase:
		fb, err := NewFirebaseBacking(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, logger)
		if err != nil {
			return nil, err
		}
		return fb, nil
	case config.StorageNATS:
		nb, err := NewNATSBacking(ctx, cfg.NATSURL, cfg.NATSBucket, logger)
		if err != nil {
			return nil, err
		}
		return nb, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
