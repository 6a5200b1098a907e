package outbox

import "example.com/retirement/internal/events"

const periodProperties = `
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "activity_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["work", "sick_leave", "break"]},
    "start_age": {"type": "integer", "minimum": 0},
    "end_age": {"type": "integer", "minimum": 0},
    "row": {"type": "integer", "minimum": 0},
    "contract_type": {"type": "string"},
    "salary": {"type": "number", "minimum": 0}`

const periodRecordedSchema = `{
  "type": "object",
  "title": "PeriodRecorded",
  "properties": {` + periodProperties + `
  },
  "required": ["tenant_id", "user_id", "occurred_at", "activity_id", "kind", "start_age", "end_age", "row"],
  "additionalProperties": false
}`

const periodRevisedSchema = `{
  "type": "object",
  "title": "PeriodRevised",
  "properties": {` + periodProperties + `
  },
  "required": ["tenant_id", "user_id", "occurred_at", "activity_id", "kind", "start_age", "end_age", "row"],
  "additionalProperties": false
}`

const periodRemovedSchema = `{
  "type": "object",
  "title": "PeriodRemoved",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "activity_id": {"type": "string"}
  },
  "required": ["tenant_id", "user_id", "occurred_at", "activity_id"],
  "additionalProperties": false
}`

const profileChangedSchema = `{
  "type": "object",
  "title": "ProfileChanged",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "current_age": {"type": "integer", "minimum": 0},
    "gender": {"type": "string", "enum": ["M", "K"]},
    "birth_year": {"type": "integer"},
    "legal_retirement_age": {"type": "integer", "minimum": 0},
    "planned_retirement_age": {"type": "integer", "minimum": 0}
  },
  "required": ["tenant_id", "user_id", "occurred_at", "current_age", "gender", "birth_year", "legal_retirement_age", "planned_retirement_age"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.TypePeriodRecorded: periodRecordedSchema,
	events.TypePeriodRevised:  periodRevisedSchema,
	events.TypePeriodRemoved:  periodRemovedSchema,
	events.TypeProfileChanged: profileChangedSchema,
}
