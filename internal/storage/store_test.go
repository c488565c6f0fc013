package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vishwatch/internal/config"
	"vishwatch/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "journal.db")
	st, err := NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewStoreDisabled(t *testing.T) {
	st, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mysql"})
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

// newPostgresForTest needs a reachable server named by VISHWATCH_TEST_POSTGRES_DSN.
func newPostgresForTest(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("VISHWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VISHWATCH_TEST_POSTGRES_DSN not set")
	}
	st, err := NewStore(config.StorageConfig{Enabled: true, Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Init(ctx))
	_, err = st.(*postgresStore).db.ExecContext(ctx, `TRUNCATE poll_cycles`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteJournalRoundTrip(t *testing.T) {
	checkJournalRoundTrip(t, newSQLiteForTest(t))
}

func TestPostgresJournalRoundTrip(t *testing.T) {
	checkJournalRoundTrip(t, newPostgresForTest(t))
}

func TestPostgresDriverRegisteredAndInitReportsConnectErrors(t *testing.T) {
	st, err := NewStore(config.StorageConfig{
		Enabled: true,
		Driver:  "PostgreSQL",
		DSN:     "postgres://vishwatch@127.0.0.1:1/vishwatch?sslmode=disable&connect_timeout=1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.IsType(t, &postgresStore{}, st)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.Error(t, st.Init(ctx))
	_, err = st.RecentCycles(ctx, 10)
	require.Error(t, err)
}

func checkJournalRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)

	cycles := []model.PollCycle{
		{Seq: 1, StartedAt: start, FinishedAt: start.Add(40 * time.Millisecond), Outcome: model.CycleOK, Calls: 1, Watermark: "a"},
		{Seq: 2, StartedAt: start.Add(5 * time.Second), FinishedAt: start.Add(5*time.Second + 30*time.Millisecond), Outcome: model.CycleOK, Calls: 2, Watermark: "b", AlertID: "b"},
		{Seq: 3, StartedAt: start.Add(10 * time.Second), FinishedAt: start.Add(30 * time.Second), Outcome: model.CycleFailed, Watermark: "b", Error: "network: timeout"},
	}
	for _, c := range cycles {
		require.NoError(t, st.SaveCycle(ctx, c))
	}

	got, err := st.RecentCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, model.CycleFailed, got[0].Outcome)
	assert.Equal(t, "network: timeout", got[0].Error)
	assert.Empty(t, got[0].AlertID)
	assert.Equal(t, "b", got[1].AlertID)
	assert.True(t, got[1].StartedAt.Equal(cycles[1].StartedAt))
}

func TestSQLiteRecentDefaultsLimit(t *testing.T) {
	st := newSQLiteForTest(t)
	got, err := st.RecentCycles(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
