package orchestrator

import (
	"context"
	"log/slog"

	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/events"
	"github.com/maltedev/grocery-tracker/internal/storage"
)

// OpenResults opens the snapshot file named by RESULTS_FILE. It returns nil
// when no file is configured.
func OpenResults(cfg *config.Config) (*storage.SnapshotStore, error) {
	if cfg.Extraction.ResultsFile == "" {
		return nil, nil
	}
	return storage.NewSnapshotStore(cfg.Extraction.ResultsFile)
}

// NewEmitter builds the result sink from config: the Redis stream when
// REDIS_URL is set, otherwise the log, plus store when it is non-nil.
func NewEmitter(ctx context.Context, cfg *config.Config, store *storage.SnapshotStore, logger *slog.Logger) (events.Emitter, error) {
	primary, err := events.NewEmitter(ctx, cfg.Redis.URL, events.StreamConfig{
		Stream: cfg.Redis.Stream,
		MaxLen: cfg.Redis.MaxLen,
	}, logger)
	if err != nil {
		return nil, err
	}

	if store == nil {
		return primary, nil
	}
	return events.Fanout{primary, store}, nil
}
