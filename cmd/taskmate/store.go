package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alecgard/taskmate/internal/api"
	"github.com/alecgard/taskmate/internal/config"
	"github.com/alecgard/taskmate/internal/metrics"
	"github.com/alecgard/taskmate/internal/store/memory"
	"github.com/alecgard/taskmate/internal/store/postgres"
	"github.com/alecgard/taskmate/internal/team"
)

// backend is the configured team store plus what the server needs around it.
type backend struct {
	store  team.Store
	pinger api.Pinger // nil for the memory store
	stat   metrics.PoolStatFunc
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case "memory":
		slog.Warn("using in-memory team store; data is lost on restart")
		return &backend{store: memory.New(), close: func() {}}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("creating database pool: %w", err)
		}
		pg := postgres.NewStore(pool)
		if err := pg.Ping(ctx, cfg.Store.Timeout); err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("connected to database")
		return &backend{store: pg, pinger: pg, stat: pg.PoolStats, close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func serviceOptions(cfg *config.Config, observer team.Observer) team.Options {
	return team.Options{
		KeyLength:   cfg.Teams.KeyLength,
		KeyAttempts: cfg.Teams.KeyAttempts,
		NamePolicy:  team.NamePolicy(cfg.Teams.NamePolicy),
		Timeout:     cfg.Store.Timeout,
		Observer:    observer,
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
