package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chairlink/models"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// calendarsRoot is the RTDB node holding one child per storage key
const calendarsRoot = "calendars"

// firebaseRef is the part of *db.Ref the backing uses
type firebaseRef interface {
	Get(ctx context.Context, v interface{}) error
	Set(ctx context.Context, v interface{}) error
}

// FirebaseBacking stores calendars in the Firebase Realtime Database
type FirebaseBacking struct {
	newRef func(path string) firebaseRef
	logger *zap.Logger
}

func NewFirebaseBacking(ctx context.Context, dbURL, serviceAccountJSON string, logger *zap.Logger) (*FirebaseBacking, error) {
	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fb := &FirebaseBacking{
		newRef: func(path string) firebaseRef { return client.NewRef(path) },
		logger: logger,
	}

	if err := fb.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fb, nil
}

// testConnection reads the calendars node with retry
func (fb *FirebaseBacking) testConnection(ctx context.Context) error {
	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fb.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var root interface{}
		err = fb.newRef(calendarsRoot).Get(ctx, &root)
		if err == nil {
			fb.logger.Info("Firebase connection successful")
			return nil
		}

		fb.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts: %w", maxRetries, err)
}

func (fb *FirebaseBacking) path(key string) string {
	return calendarsRoot + "/" + StorageSafeKey(key)
}

// Load reads calendars/<key>; a missing node yields no records
func (fb *FirebaseBacking) Load(ctx context.Context, key string) ([]models.EventRecord, error) {
	var raw json.RawMessage
	if err := fb.newRef(fb.path(key)).Get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("error getting calendar %s: %w", key, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeDocument(raw)
}

// Save overwrites calendars/<key> with the full event list
func (fb *FirebaseBacking) Save(ctx context.Context, key string, records []models.EventRecord) error {
	b, err := encodeDocument(key, records)
	if err != nil {
		return err
	}
	// Set takes a JSON-marshalable value; RawMessage keeps the envelope byte-exact
	if err := fb.newRef(fb.path(key)).Set(ctx, json.RawMessage(b)); err != nil {
		return fmt.Errorf("error saving calendar %s: %w", key, err)
	}

	fb.logger.Debug("Calendar written to Firebase",
		zap.String("key", key),
		zap.Int("events", len(records)))
	return nil
}

// Close is a no-op; the RTDB client holds no connection to release
func (fb *FirebaseBacking) Close() error {
	fb.logger.Info("Closing Firebase backing")
	return nil
}
