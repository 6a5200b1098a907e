package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter persists failed events for investigation.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records a failed outbox message in the DLQ alongside the supplied reason.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	return inTenant(ctx, w.pool, msg.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, dedupe_key, next_retry_at)
	         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11, ''), NOW())`,
			msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey, msg.DedupeKey,
		)
		return err
	})
}

// ReplayConfig bounds how often a dead-lettered event is retried.
type ReplayConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	BatchSize  int
	Interval   time.Duration
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	return c
}

// Replayer moves due DLQ entries back into the outbox and quarantines the
// ones that exhausted their retries. Requeued rows keep their dedupe key so
// the projector can skip events it already applied.
type Replayer struct {
	pool   *pgxpool.Pool
	cfg    ReplayConfig
	logger log.Interface
}

// NewReplayer constructs a Replayer.
func NewReplayer(pool *pgxpool.Pool, cfg ReplayConfig, opts ...Option) *Replayer {
	o := buildOptions(opts)
	return &Replayer{
		pool:   pool,
		cfg:    cfg.withDefaults(),
		logger: o.logger.WithField("component", "dlq_replayer"),
	}
}

// Start runs RunOnce every interval until ctx is cancelled.
func (r *Replayer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WithError(err).Error("replay dlq")
		} else if n > 0 {
			r.logger.WithField("count", n).Info("requeued dlq entries")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes a batch of DLQ entries and returns the count of
// successfully requeued messages.
func (r *Replayer) RunOnce(ctx context.Context) (int, error) {
	const query = `SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, COALESCE(dedupe_key, ''), retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := r.pool.Query(ctx, query, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	entries := make([]dlqEntry, 0)
	for rows.Next() {
		var e dlqEntry
		if scanErr := rows.Scan(&e.ID, &e.TenantID, &e.EventID, &e.EventType, &e.Topic, &e.Payload, &e.Reason, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.DedupeKey, &e.RetryCount); scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	var errs error
	for _, entry := range entries {
		requeued, procErr := r.handleEntry(ctx, entry)
		if procErr != nil {
			errs = errors.Join(errs, procErr)
			continue
		}
		if requeued {
			processed++
		}
	}
	r.updateBacklog(ctx)
	return processed, errs
}

func (r *Replayer) handleEntry(ctx context.Context, entry dlqEntry) (bool, error) {
	requeued := false
	err := inTenant(ctx, r.pool, entry.TenantID, func(tx pgx.Tx) error {
		if entry.RetryCount >= r.cfg.MaxRetries {
			if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
				return err
			}
			dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
			r.logger.WithFields(log.Fields{"dlq_id": entry.ID, "event_type": entry.EventType}).Warn("quarantined dlq entry")
			return nil
		}

		if reqErr := requeueOutbox(ctx, tx, entry); reqErr != nil {
			delay := backoffDelay(r.cfg.BaseDelay, entry.RetryCount+1)
			if _, err := tx.Exec(ctx,
				`UPDATE outbox_dlq
                    SET retry_count = retry_count + 1,
                        last_attempt_at = NOW(),
                        next_retry_at = NOW() + $1::interval,
                        reason = $2
                  WHERE dlq_id = $3`,
				delay, reqErr.Error(), entry.ID,
			); err != nil {
				return err
			}
			dlqRetryCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
			return err
		}
		requeued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if requeued {
		dlqRequeuedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
	}
	return requeued, nil
}

func (r *Replayer) updateBacklog(ctx context.Context) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
}

// backoffDelay doubles base per attempt, capped at one hour.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}
	if _, ok := schemaCatalog[entry.EventType]; !ok {
		return fmt.Errorf("no schema metadata for event_type=%s", entry.EventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''))`

	_, err := tx.Exec(ctx, stmt,
		entry.TenantID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
		entry.DedupeKey,
	)
	return err
}

type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	DedupeKey     string
	RetryCount    int
}
