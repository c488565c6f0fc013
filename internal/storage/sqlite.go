package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vishwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:vishwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps in-memory databases shared across queries
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS poll_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			calls INTEGER NOT NULL,
			watermark TEXT,
			alert_id TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_poll_cycles_started ON poll_cycles(started_at)`,
	})
}

func (s *sqliteStore) SaveCycle(ctx context.Context, cycle model.PollCycle) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_cycles (seq, started_at, finished_at, outcome, calls, watermark, alert_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(cycle.Seq),
		cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		cycle.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(cycle.Outcome),
		cycle.Calls,
		nullable(cycle.Watermark),
		nullable(cycle.AlertID),
		nullable(cycle.Error),
	)
	return err
}

func (s *sqliteStore) RecentCycles(ctx context.Context, limit int) ([]model.PollCycle, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, started_at, finished_at, outcome, calls, watermark, alert_id, error
		FROM poll_cycles ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PollCycle{}
	for rows.Next() {
		var (
			c                          model.PollCycle
			seq                        int64
			started, finished, outcome string
			watermark, alertID, errMsg sql.NullString
		)
		if err := rows.Scan(&seq, &started, &finished, &outcome, &c.Calls, &watermark, &alertID, &errMsg); err != nil {
			return nil, err
		}
		if c.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if c.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		c.Seq = uint64(seq)
		c.Outcome = model.CycleOutcome(outcome)
		c.Watermark = watermark.String
		c.AlertID = alertID.String
		c.Error = errMsg.String
		out = append(out, c)
	}
	return out, rows.Err()
}
