package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vishwatch/internal/config"
	"vishwatch/internal/model"
)

// Store journals poll cycles. Alerts and the watermark are never persisted.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveCycle(ctx context.Context, cycle model.PollCycle) error
	RecentCycles(ctx context.Context, limit int) ([]model.PollCycle, error)
}

const defaultRecentLimit = 50

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultRecentLimit
	}
	return limit
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
