package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/events"
)

// Chain runs handlers in order and stops at the first error.
type Chain []Handler

// Handle implements Handler.
func (c Chain) Handle(ctx context.Context, msg Message) error {
	for _, h := range c {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// EventLogHandler writes consumed events into Postgres for auditing.
type EventLogHandler struct {
	pool *pgxpool.Pool
}

// NewEventLogHandler constructs a handler backed by the provided pool.
func NewEventLogHandler(pool *pgxpool.Pool) *EventLogHandler {
	return &EventLogHandler{pool: pool}
}

// Handle stores the event payload in the timeline_event_log table.
func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO timeline_event_log (event_type, tenant_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		msg.EventType,
		msg.TenantID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

// ProjectionHandler recomputes the stored pension forecast of the timeline an
// event belongs to.
type ProjectionHandler struct {
	store  domain.ForecastStore
	logger log.Interface
	now    func() time.Time
}

// ProjectionOption configures a ProjectionHandler.
type ProjectionOption func(*ProjectionHandler)

// WithProjectionLogger sets the handler logger.
func WithProjectionLogger(l log.Interface) ProjectionOption {
	return func(h *ProjectionHandler) { h.logger = l }
}

// WithProjectionClock overrides the clock used for the forecast year and timestamp.
func WithProjectionClock(now func() time.Time) ProjectionOption {
	return func(h *ProjectionHandler) { h.now = now }
}

// NewProjectionHandler constructs a ProjectionHandler.
func NewProjectionHandler(store domain.ForecastStore, opts ...ProjectionOption) *ProjectionHandler {
	h := &ProjectionHandler{
		store:  store,
		logger: log.Log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements Handler. Events for unknown event types or timelines that
// no longer exist are acknowledged without a projection.
func (h *ProjectionHandler) Handle(ctx context.Context, msg Message) error {
	if !knownEvent(msg.EventType) {
		recordProjection("skipped")
		return nil
	}

	meta, err := events.DecodeMeta(msg.Payload)
	if err != nil {
		return err
	}
	if msg.TenantID != "" && msg.TenantID != meta.TenantID {
		return fmt.Errorf("tenant header %q does not match payload tenant %q", msg.TenantID, meta.TenantID)
	}

	owner := domain.Owner{TenantID: meta.TenantID, UserID: meta.UserID}
	tl, err := h.store.Load(ctx, owner)
	if errors.Is(err, domain.ErrTimelineNotFound) {
		h.logger.WithFields(log.Fields{"tenant_id": owner.TenantID, "user_id": owner.UserID}).Debug("timeline gone, skipping projection")
		recordProjection("skipped")
		return nil
	}
	if err != nil {
		recordProjection("failed")
		return err
	}

	now := h.now()
	stored := domain.StoredForecast{
		Owner:        owner,
		Forecast:     domain.ComputeForecast(*tl, now.Year()),
		SourceEvent:  msg.SourceEvent(),
		CalculatedAt: now,
	}
	if err := h.store.SaveForecast(ctx, stored); err != nil {
		recordProjection("failed")
		return err
	}

	h.logger.WithFields(log.Fields{
		"tenant_id":       owner.TenantID,
		"user_id":         owner.UserID,
		"event_type":      msg.EventType,
		"monthly_pension": stored.Forecast.MonthlyPension,
	}).Info("forecast projected")
	recordProjection("stored")
	return nil
}

func knownEvent(eventType string) bool {
	for _, t := range events.Types {
		if t == eventType {
			return true
		}
	}
	return false
}
