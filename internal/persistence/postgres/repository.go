package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/events"
	"example.com/retirement/internal/observability"
	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/timeline"
)

// Repository provides Postgres-backed persistence for timelines, forecasts and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// inTenant runs fn in a transaction scoped to the tenant's row-level security policy.
func (r *Repository) inTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Load implements domain.TimelineRepository.
func (r *Repository) Load(ctx context.Context, owner domain.Owner) (*domain.Timeline, error) {
	const profileQuery = `SELECT current_age, gender, birth_year, legal_retirement_age, planned_retirement_age, updated_at
        FROM timelines WHERE tenant_id=$1 AND user_id=$2`
	const activityQuery = `SELECT activity_id, start_age, end_age, row_index, kind, contract_type, salary::float8
        FROM timeline_activities WHERE tenant_id=$1 AND user_id=$2 ORDER BY seq`

	tl := domain.Timeline{Owner: owner}
	err := r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		var gender string
		row := tx.QueryRow(ctx, profileQuery, owner.TenantID, owner.UserID)
		if err := row.Scan(&tl.Profile.CurrentAge, &gender, &tl.Profile.BirthYear, &tl.Profile.LegalRetirementAge, &tl.Profile.PlannedRetirementAge, &tl.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrTimelineNotFound
			}
			return err
		}
		tl.Profile.Gender = pension.Gender(gender)

		rows, err := tx.Query(ctx, activityQuery, owner.TenantID, owner.UserID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				a        timeline.Activity
				kind     string
				contract *string
				salary   *float64
			)
			if err := rows.Scan(&a.ID, &a.StartAge, &a.EndAge, &a.Row, &kind, &contract, &salary); err != nil {
				return err
			}
			detail, err := decodeDetail(kind, contract, salary)
			if err != nil {
				return fmt.Errorf("activity %s: %w", a.ID, err)
			}
			a.Detail = detail
			tl.Activities = append(tl.Activities, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// SaveProfile implements domain.TimelineRepository.
func (r *Repository) SaveProfile(ctx context.Context, owner domain.Owner, profile timeline.Profile) error {
	const stmt = `INSERT INTO timelines (tenant_id, user_id, current_age, gender, birth_year, legal_retirement_age, planned_retirement_age, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, user_id) DO UPDATE SET
            current_age = EXCLUDED.current_age,
            gender = EXCLUDED.gender,
            birth_year = EXCLUDED.birth_year,
            legal_retirement_age = EXCLUDED.legal_retirement_age,
            planned_retirement_age = EXCLUDED.planned_retirement_age,
            updated_at = EXCLUDED.updated_at`

	now := r.now()
	return r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, stmt,
			owner.TenantID,
			owner.UserID,
			profile.CurrentAge,
			string(profile.Gender),
			profile.BirthYear,
			profile.LegalRetirementAge,
			profile.PlannedRetirementAge,
			now,
		); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, events.NewProfileChanged(meta(owner, now), profile))
	})
}

// InsertActivity implements domain.TimelineRepository.
func (r *Repository) InsertActivity(ctx context.Context, owner domain.Owner, activity timeline.Activity) error {
	const stmt = `INSERT INTO timeline_activities (tenant_id, user_id, activity_id, start_age, end_age, row_index, kind, contract_type, salary, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`

	now := r.now()
	contract, salary := encodeDetail(activity)
	return r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, stmt,
			owner.TenantID,
			owner.UserID,
			activity.ID,
			activity.StartAge,
			activity.EndAge,
			activity.Row,
			string(activity.Kind()),
			contract,
			salary,
			now,
		); err != nil {
			return err
		}
		if err := touch(ctx, tx, owner, now); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, events.NewPeriodRecorded(meta(owner, now), activity))
	})
}

// UpdateActivity implements domain.TimelineRepository.
func (r *Repository) UpdateActivity(ctx context.Context, owner domain.Owner, activity timeline.Activity) error {
	const stmt = `UPDATE timeline_activities SET kind=$4, contract_type=$5, salary=$6, updated_at=$7
        WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3`

	now := r.now()
	contract, salary := encodeDetail(activity)
	return r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, owner.TenantID, owner.UserID, activity.ID, string(activity.Kind()), contract, salary, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return timeline.ErrActivityNotFound
		}
		if err := touch(ctx, tx, owner, now); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, events.NewPeriodRevised(meta(owner, now), activity))
	})
}

// DeleteActivity implements domain.TimelineRepository.
func (r *Repository) DeleteActivity(ctx context.Context, owner domain.Owner, activityID string) error {
	const stmt = `DELETE FROM timeline_activities WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3`

	now := r.now()
	return r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, owner.TenantID, owner.UserID, activityID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return timeline.ErrActivityNotFound
		}
		if err := touch(ctx, tx, owner, now); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, events.NewPeriodRemoved(meta(owner, now), activityID))
	})
}

// SaveForecast implements domain.ForecastStore. A forecast for an already
// projected source event is skipped.
func (r *Repository) SaveForecast(ctx context.Context, f domain.StoredForecast) error {
	const stmt = `INSERT INTO pension_calculations (calculation_id, tenant_id, user_id, monthly_pension, total_contributions, life_expectancy_months, total_work_years, retirement_age, breakdown, source_event, calculated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (tenant_id, source_event) DO NOTHING`

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CalculatedAt.IsZero() {
		f.CalculatedAt = r.now()
	}
	breakdown, err := json.Marshal(f.Forecast.Breakdown)
	if err != nil {
		return err
	}

	err = r.inTenant(ctx, f.Owner.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			f.ID,
			f.Owner.TenantID,
			f.Owner.UserID,
			f.Forecast.MonthlyPension,
			f.Forecast.TotalContributions,
			f.Forecast.LifeExpectancyMonths,
			f.Forecast.TotalWorkYears,
			f.Forecast.RetirementAge,
			breakdown,
			f.SourceEvent,
			f.CalculatedAt,
		)
		return err
	})
	if err != nil {
		return err
	}
	observability.RecordForecastStored(f.Forecast.MonthlyPension, f.CalculatedAt)
	return nil
}

// ListForecasts returns stored forecasts for the owner, newest first.
func (r *Repository) ListForecasts(ctx context.Context, owner domain.Owner, cursor *domain.Cursor, limit int) ([]domain.StoredForecast, *domain.Cursor, error) {
	args := []interface{}{owner.TenantID, owner.UserID, limit}
	query := `SELECT calculation_id::text, monthly_pension::float8, total_contributions::float8, life_expectancy_months, total_work_years, retirement_age, breakdown, source_event, calculated_at
        FROM pension_calculations WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		query += ` AND (calculated_at, calculation_id::text) < ($4, $5)`
		args = append(args, cursor.CalculatedAt, cursor.ID)
	}
	query += ` ORDER BY calculated_at DESC, calculation_id::text DESC LIMIT $3`

	results := make([]domain.StoredForecast, 0, limit)
	err := r.inTenant(ctx, owner.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				f         = domain.StoredForecast{Owner: owner}
				breakdown []byte
			)
			if err := rows.Scan(&f.ID, &f.Forecast.MonthlyPension, &f.Forecast.TotalContributions, &f.Forecast.LifeExpectancyMonths,
				&f.Forecast.TotalWorkYears, &f.Forecast.RetirementAge, &breakdown, &f.SourceEvent, &f.CalculatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(breakdown, &f.Forecast.Breakdown); err != nil {
				return fmt.Errorf("forecast %s breakdown: %w", f.ID, err)
			}
			results = append(results, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CalculatedAt: last.CalculatedAt, ID: last.ID}
	}
	return results, next, nil
}

func touch(ctx context.Context, tx pgx.Tx, owner domain.Owner, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE timelines SET updated_at=$3 WHERE tenant_id=$1 AND user_id=$2`, owner.TenantID, owner.UserID, now)
	return err
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	route, ok := eventCatalog[env.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", env.Type)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		env.Meta.TenantID,
		route.AggregateType,
		env.AggregateID,
		env.Type,
		route.Topic,
		route.SchemaSubject,
		partitionKey(env.Meta),
		body,
		fmt.Sprintf("%s:%s:%s", env.AggregateID, env.Type, uuid.NewString()),
	)
	return err
}

func meta(owner domain.Owner, now time.Time) events.Meta {
	return events.Meta{TenantID: owner.TenantID, UserID: owner.UserID, OccurredAt: now}
}

// partitionKey keeps every event of one owner on one partition so the
// projector sees them in commit order.
func partitionKey(m events.Meta) string {
	return m.TenantID + ":" + m.UserID
}

func encodeDetail(a timeline.Activity) (*string, *float64) {
	w, ok := a.WorkTerms()
	if !ok {
		return nil, nil
	}
	contract := string(w.Contract)
	salary := w.Salary
	return &contract, &salary
}

func decodeDetail(kind string, contract *string, salary *float64) (timeline.Detail, error) {
	k, err := timeline.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	var c *pension.Contract
	if contract != nil {
		parsed, err := pension.ParseContract(*contract)
		if err != nil {
			return nil, err
		}
		c = &parsed
	}
	return timeline.NewDetail(k, c, salary)
}

// EventRoute describes how to route an outbox event.
type EventRoute struct {
	AggregateType string
	Topic         string
	SchemaSubject string
}

// TimelineTopic carries every timeline event.
const TimelineTopic = "timeline_events"

var eventCatalog = map[string]EventRoute{
	events.TypePeriodRecorded: route("activity", events.TypePeriodRecorded),
	events.TypePeriodRevised:  route("activity", events.TypePeriodRevised),
	events.TypePeriodRemoved:  route("activity", events.TypePeriodRemoved),
	events.TypeProfileChanged: route("timeline", events.TypeProfileChanged),
}

// route registers each event type under its own subject on the shared topic.
func route(aggregateType, eventType string) EventRoute {
	return EventRoute{
		AggregateType: aggregateType,
		Topic:         TimelineTopic,
		SchemaSubject: TimelineTopic + "-" + eventType,
	}
}
