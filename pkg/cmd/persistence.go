// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/persistence/memory"
	"github.com/zosmed/engine/pkg/persistence/postgresql"
)

// NewPersistence opens PostgreSQL for postgres:// and postgresql:// URLs and
// falls back to the in-process store for an empty URL or memory://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		logger.WarnContext(ctx, "Using in-memory persistence; data is lost on restart")

		return memory.NewPersistence(), nil
	}
}

// Counters is a counter store that also deduplicates trigger events.
type Counters interface {
	counters.Store
	counters.Deduplicator
}

// NewCounterStore connects to Redis when redisURL is set. The in-memory store
// is returned otherwise, together with it as a sweeper for housekeeping.
func NewCounterStore(ctx context.Context, logger *slog.Logger, redisURL string) (Counters, *counters.MemoryStore, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "Using in-memory counters; budgets are per process")

		store := counters.NewMemoryStore(clockwork.NewRealClock())

		return store, store, nil
	}

	store, err := counters.NewRedisStore(ctx, logger, redisURL)
	if err != nil {
		return nil, nil, err
	}

	return store, nil, nil
}

func parseProvider(url string) string {
	provider, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}

	return provider
}
