package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"chairlink/config"
	"chairlink/services"

	"go.uber.org/zap"
)

var (
	asJSON   = flag.Bool("json", false, "Print events as JSON records")
	upcoming = flag.Bool("upcoming", false, "Only print events that have not ended")
	backend  = flag.String("backend", "", "Override STORAGE_BACKEND (file, firebase, nats)")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *backend != "" {
		cfg.StorageBackend = *backend
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backing, err := services.OpenBacking(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open calendar storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer backing.Close()

	key := services.CalendarStorageKey(cfg.DeviceUniqueID)
	store := services.NewEventStore(key, backing, logger, nil)
	if err := store.Load(ctx); err != nil {
		logger.Fatal("Failed to read calendar", zap.String("key", key), zap.Error(err))
	}

	events := store.Events()
	if *upcoming {
		now := time.Now()
		kept := events[:0]
		for _, ev := range events {
			if ev.End.After(now) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, ev := range events {
			if err := enc.Encode(ev.Record()); err != nil {
				logger.Fatal("Failed to encode event", zap.Error(err))
			}
		}
		return
	}

	fmt.Printf("Calendar %s (%s): %d events\n", key, cfg.StorageBackend, len(events))
	for _, ev := range events {
		fmt.Printf("Key: %s\n", ev.UID)
		fmt.Printf("  %s  %s -> %s\n", ev.Summary, ev.Start.Format(time.RFC3339), ev.End.Format("15:04:05"))
		fmt.Printf("  %s @ %s\n", ev.Description, ev.Location)
		fmt.Println("---")
	}
}
