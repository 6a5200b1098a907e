// Package domain defines the business logic of the retirement timeline service.
package domain

import (
	"context"
	"errors"
	"time"

	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/timeline"
)

var (
	// ErrTimelineNotFound is returned when the owner has never saved a timeline.
	ErrTimelineNotFound = errors.New("timeline not found")
	// ErrInvalidAction is returned for work-period commands with an unknown action.
	ErrInvalidAction = errors.New("unknown work-period action")
	// ErrInvalidPointerEvent is returned for pointer events the editor cannot interpret.
	ErrInvalidPointerEvent = errors.New("invalid pointer event")
	// ErrInvalidProfile is returned when profile updates fail validation.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrPersistence wraps repository failures after the session has been rolled back.
	ErrPersistence = errors.New("timeline could not be saved")
)

// Owner identifies whose timeline is being edited.
type Owner struct {
	TenantID string
	UserID   string
}

func (o Owner) key() string {
	return o.TenantID + "/" + o.UserID
}

// Timeline is the persisted part of an owner's editor state.
type Timeline struct {
	Owner      Owner
	Profile    timeline.Profile
	Activities []timeline.Activity
	UpdatedAt  time.Time
}

// StoredForecast is a pension forecast projected from timeline events.
type StoredForecast struct {
	ID           string
	Owner        Owner
	Forecast     pension.Forecast
	SourceEvent  string
	CalculatedAt time.Time
}

// Cursor models the pagination token of the forecast history.
type Cursor struct {
	CalculatedAt time.Time
	ID           string
}

// TimelineRepository captures persistence operations. Each mutating call is
// expected to record the matching domain event atomically with the change.
type TimelineRepository interface {
	Load(ctx context.Context, owner Owner) (*Timeline, error)
	SaveProfile(ctx context.Context, owner Owner, profile timeline.Profile) error
	InsertActivity(ctx context.Context, owner Owner, activity timeline.Activity) error
	UpdateActivity(ctx context.Context, owner Owner, activity timeline.Activity) error
	DeleteActivity(ctx context.Context, owner Owner, activityID string) error
	ListForecasts(ctx context.Context, owner Owner, cursor *Cursor, limit int) ([]StoredForecast, *Cursor, error)
}

// ForecastStore is the write side used by the event projector.
type ForecastStore interface {
	Load(ctx context.Context, owner Owner) (*Timeline, error)
	SaveForecast(ctx context.Context, forecast StoredForecast) error
}

// ComputeForecast runs the full calculator over the stored timeline. The
// forecast is evaluated at the planned retirement age.
func ComputeForecast(tl Timeline, currentYear int) pension.Forecast {
	calc := pension.NewCalculator(currentYear)
	return calc.Calculate(pension.ForecastInput{
		BirthYear:     tl.Profile.BirthYear,
		Gender:        tl.Profile.Gender,
		RetirementAge: tl.Profile.PlannedRetirementAge,
		Periods:       timeline.WorkPeriods(tl.Activities),
	})
}
