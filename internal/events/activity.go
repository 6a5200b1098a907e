// Package events defines the timeline event payloads published through the outbox.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/retirement/internal/timeline"
)

// Event types carried in the outbox and the Kafka event_type header.
const (
	TypePeriodRecorded = "timeline.period_recorded"
	TypePeriodRevised  = "timeline.period_revised"
	TypePeriodRemoved  = "timeline.period_removed"
	TypeProfileChanged = "timeline.profile_changed"
)

// Types lists every event type in catalog order.
var Types = []string{TypePeriodRecorded, TypePeriodRevised, TypePeriodRemoved, TypeProfileChanged}

// Meta identifies the timeline an event belongs to.
type Meta struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PeriodRecorded is emitted when an activity is added to a timeline.
type PeriodRecorded struct {
	Meta
	ActivityID   string   `json:"activity_id"`
	Kind         string   `json:"kind"`
	StartAge     int      `json:"start_age"`
	EndAge       int      `json:"end_age"`
	Row          int      `json:"row"`
	ContractType *string  `json:"contract_type,omitempty"`
	Salary       *float64 `json:"salary,omitempty"`
}

// PeriodRevised is emitted when an activity's kind or work terms change.
type PeriodRevised PeriodRecorded

// PeriodRemoved is emitted when an activity is deleted.
type PeriodRemoved struct {
	Meta
	ActivityID string `json:"activity_id"`
}

// ProfileChanged is emitted when the current age, gender or retirement ages change.
type ProfileChanged struct {
	Meta
	CurrentAge           int    `json:"current_age"`
	Gender               string `json:"gender"`
	BirthYear            int    `json:"birth_year"`
	LegalRetirementAge   int    `json:"legal_retirement_age"`
	PlannedRetirementAge int    `json:"planned_retirement_age"`
}

// Envelope pairs an event payload with its routing information.
type Envelope struct {
	Type        string
	AggregateID string
	Meta        Meta
	Payload     any
}

// Encode serialises the payload as JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return data, nil
}

func period(meta Meta, a timeline.Activity) PeriodRecorded {
	p := PeriodRecorded{
		Meta:       meta,
		ActivityID: a.ID,
		Kind:       string(a.Kind()),
		StartAge:   a.StartAge,
		EndAge:     a.EndAge,
		Row:        a.Row,
	}
	if w, ok := a.WorkTerms(); ok {
		contract := string(w.Contract)
		salary := w.Salary
		p.ContractType = &contract
		p.Salary = &salary
	}
	return p
}

// NewPeriodRecorded builds the event for a newly stored activity.
func NewPeriodRecorded(meta Meta, a timeline.Activity) Envelope {
	return Envelope{Type: TypePeriodRecorded, AggregateID: a.ID, Meta: meta, Payload: period(meta, a)}
}

// NewPeriodRevised builds the event for an edited activity.
func NewPeriodRevised(meta Meta, a timeline.Activity) Envelope {
	return Envelope{Type: TypePeriodRevised, AggregateID: a.ID, Meta: meta, Payload: PeriodRevised(period(meta, a))}
}

// NewPeriodRemoved builds the event for a deleted activity.
func NewPeriodRemoved(meta Meta, activityID string) Envelope {
	return Envelope{
		Type:        TypePeriodRemoved,
		AggregateID: activityID,
		Meta:        meta,
		Payload:     PeriodRemoved{Meta: meta, ActivityID: activityID},
	}
}

// NewProfileChanged builds the event for a saved profile. The aggregate is
// the owner's timeline, keyed by user ID.
func NewProfileChanged(meta Meta, p timeline.Profile) Envelope {
	return Envelope{
		Type:        TypeProfileChanged,
		AggregateID: meta.UserID,
		Meta:        meta,
		Payload: ProfileChanged{
			Meta:                 meta,
			CurrentAge:           p.CurrentAge,
			Gender:               string(p.Gender),
			BirthYear:            p.BirthYear,
			LegalRetirementAge:   p.LegalRetirementAge,
			PlannedRetirementAge: p.PlannedRetirementAge,
		},
	}
}

// DecodeMeta extracts the owner fields common to every timeline event.
func DecodeMeta(data []byte) (Meta, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("decode event: %w", err)
	}
	if meta.TenantID == "" || meta.UserID == "" {
		return Meta{}, fmt.Errorf("decode event: missing tenant_id or user_id")
	}
	return meta, nil
}
