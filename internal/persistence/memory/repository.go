// Package memory provides an in-process timeline repository for local
// development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/events"
	"example.com/retirement/internal/timeline"
)

// Repository stores timelines and forecasts in memory.
type Repository struct {
	mu        sync.RWMutex
	timelines map[domain.Owner]*domain.Timeline
	forecasts map[domain.Owner][]domain.StoredForecast
	recorded  []events.Envelope
	now       func() time.Time
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		timelines: make(map[domain.Owner]*domain.Timeline),
		forecasts: make(map[domain.Owner][]domain.StoredForecast),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load implements domain.TimelineRepository.
func (r *Repository) Load(ctx context.Context, owner domain.Owner) (*domain.Timeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tl, ok := r.timelines[owner]
	if !ok {
		return nil, domain.ErrTimelineNotFound
	}
	out := *tl
	out.Activities = append([]timeline.Activity(nil), tl.Activities...)
	return &out, nil
}

// SaveProfile implements domain.TimelineRepository.
func (r *Repository) SaveProfile(ctx context.Context, owner domain.Owner, profile timeline.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl := r.timeline(owner)
	tl.Profile = profile
	tl.UpdatedAt = r.now()
	r.record(events.NewProfileChanged(r.meta(owner), profile))
	return nil
}

// InsertActivity implements domain.TimelineRepository.
func (r *Repository) InsertActivity(ctx context.Context, owner domain.Owner, activity timeline.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl := r.timeline(owner)
	tl.Activities = append(tl.Activities, activity)
	tl.UpdatedAt = r.now()
	r.record(events.NewPeriodRecorded(r.meta(owner), activity))
	return nil
}

// UpdateActivity implements domain.TimelineRepository.
func (r *Repository) UpdateActivity(ctx context.Context, owner domain.Owner, activity timeline.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl, ok := r.timelines[owner]
	if !ok {
		return domain.ErrTimelineNotFound
	}
	for i := range tl.Activities {
		if tl.Activities[i].ID == activity.ID {
			tl.Activities[i] = activity
			tl.UpdatedAt = r.now()
			r.record(events.NewPeriodRevised(r.meta(owner), activity))
			return nil
		}
	}
	return timeline.ErrActivityNotFound
}

// DeleteActivity implements domain.TimelineRepository.
func (r *Repository) DeleteActivity(ctx context.Context, owner domain.Owner, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl, ok := r.timelines[owner]
	if !ok {
		return domain.ErrTimelineNotFound
	}
	for i := range tl.Activities {
		if tl.Activities[i].ID == activityID {
			tl.Activities = append(tl.Activities[:i:i], tl.Activities[i+1:]...)
			tl.UpdatedAt = r.now()
			r.record(events.NewPeriodRemoved(r.meta(owner), activityID))
			return nil
		}
	}
	return timeline.ErrActivityNotFound
}

// SaveForecast implements domain.ForecastStore. A forecast for an already
// projected source event is skipped.
func (r *Repository) SaveForecast(ctx context.Context, forecast domain.StoredForecast) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if forecast.SourceEvent != "" {
		for _, stored := range r.forecasts[forecast.Owner] {
			if stored.SourceEvent == forecast.SourceEvent {
				return nil
			}
		}
	}

	if strings.TrimSpace(forecast.ID) == "" {
		forecast.ID = uuid.NewString()
	}
	if forecast.CalculatedAt.IsZero() {
		forecast.CalculatedAt = r.now()
	}
	r.forecasts[forecast.Owner] = append(r.forecasts[forecast.Owner], forecast)
	return nil
}

// ListForecasts implements domain.TimelineRepository. Results are ordered
// newest first and paged by (calculated_at, id).
func (r *Repository) ListForecasts(ctx context.Context, owner domain.Owner, cursor *domain.Cursor, limit int) ([]domain.StoredForecast, *domain.Cursor, error) {
	r.mu.RLock()
	all := append([]domain.StoredForecast(nil), r.forecasts[owner]...)
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CalculatedAt.Equal(all[j].CalculatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CalculatedAt.After(all[j].CalculatedAt)
	})

	out := make([]domain.StoredForecast, 0, limit)
	for _, f := range all {
		if cursor != nil && !before(f, *cursor) {
			continue
		}
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = &domain.Cursor{CalculatedAt: last.CalculatedAt, ID: last.ID}
	}
	return out, next, nil
}

// Events returns the domain events recorded so far, oldest first.
func (r *Repository) Events() []events.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]events.Envelope(nil), r.recorded...)
}

func before(f domain.StoredForecast, c domain.Cursor) bool {
	if f.CalculatedAt.Equal(c.CalculatedAt) {
		return f.ID < c.ID
	}
	return f.CalculatedAt.Before(c.CalculatedAt)
}

func (r *Repository) timeline(owner domain.Owner) *domain.Timeline {
	tl, ok := r.timelines[owner]
	if !ok {
		tl = &domain.Timeline{Owner: owner}
		r.timelines[owner] = tl
	}
	return tl
}

func (r *Repository) meta(owner domain.Owner) events.Meta {
	return events.Meta{TenantID: owner.TenantID, UserID: owner.UserID, OccurredAt: r.now()}
}

func (r *Repository) record(env events.Envelope) {
	r.recorded = append(r.recorded, env)
}
