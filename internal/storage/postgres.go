package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vishwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/vishwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS poll_cycles (
			id BIGSERIAL PRIMARY KEY,
			seq BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			calls INTEGER NOT NULL,
			watermark TEXT,
			alert_id TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_poll_cycles_started ON poll_cycles(started_at)`,
	})
}

func (s *postgresStore) SaveCycle(ctx context.Context, cycle model.PollCycle) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_cycles (seq, started_at, finished_at, outcome, calls, watermark, alert_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		int64(cycle.Seq),
		cycle.StartedAt.UTC(),
		cycle.FinishedAt.UTC(),
		string(cycle.Outcome),
		cycle.Calls,
		nullable(cycle.Watermark),
		nullable(cycle.AlertID),
		nullable(cycle.Error),
	)
	return err
}

func (s *postgresStore) RecentCycles(ctx context.Context, limit int) ([]model.PollCycle, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, started_at, finished_at, outcome, calls, watermark, alert_id, error
		FROM poll_cycles ORDER BY id DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PollCycle{}
	for rows.Next() {
		var (
			c                          model.PollCycle
			seq                        int64
			outcome                    string
			watermark, alertID, errMsg sql.NullString
		)
		if err := rows.Scan(&seq, &c.StartedAt, &c.FinishedAt, &outcome, &c.Calls, &watermark, &alertID, &errMsg); err != nil {
			return nil, err
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
