//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/events"
	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/persistence/postgres"
	"example.com/retirement/internal/timeline"
)

func TestEventLogHandlerStoresEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewEventLogHandler(pool)

	payload := json.RawMessage(`{"activity_id":"abc","tenant_id":"tenant-123","user_id":"user-1"}`)
	msg := Message{
		EventType:     "timeline.period_removed",
		TenantID:      "tenant-123",
		SchemaID:      42,
		SchemaSubject: "timeline_events-timeline.period_removed",
		Topic:         "timeline_events",
		Partition:     0,
		Offset:        5,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	require.NoError(t, handler.Handle(ctx, msg))

	var storedPayload []byte
	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_event_log`).Scan(&count))
	require.Equal(t, 1, count)
	err := pool.QueryRow(ctx, `SELECT payload FROM timeline_event_log LIMIT 1`).Scan(&storedPayload)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(storedPayload))
}

func TestProjectionIntoPostgres(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := postgres.NewRepository(pool)
	owner := domain.Owner{TenantID: "tenant-123", UserID: "user-1"}
	require.NoError(t, repo.SaveProfile(ctx, owner, timeline.DefaultProfile(2025)))
	work := timeline.Activity{ID: "a1", StartAge: 25, EndAge: 44, Detail: timeline.Work{Contract: pension.ContractEmployment, Salary: 6000}}
	require.NoError(t, repo.InsertActivity(ctx, owner, work))

	payload, err := events.NewPeriodRecorded(events.Meta{TenantID: owner.TenantID, UserID: owner.UserID, OccurredAt: time.Now().UTC()}, work).Encode()
	require.NoError(t, err)
	msg := Message{
		Topic:     "timeline_events",
		Offset:    9,
		EventType: events.TypePeriodRecorded,
		TenantID:  owner.TenantID,
		DedupeKey: "a1:timeline.period_recorded:1",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	handler := Chain{NewEventLogHandler(pool), NewProjectionHandler(repo, WithProjectionLogger(testLogger()))}
	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, NewProjectionHandler(repo, WithProjectionLogger(testLogger())).Handle(ctx, msg))

	history, _, err := repo.ListForecasts(ctx, owner, nil, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, msg.DedupeKey, history[0].SourceEvent)
	require.Equal(t, 20, history[0].Forecast.TotalWorkYears)
	require.Greater(t, history[0].Forecast.MonthlyPension, 0.0)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("retirement"),
		postgrescontainer.WithUsername("retirement"),
		postgrescontainer.WithPassword("retirement"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsPath := resolvePath(t, "../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
