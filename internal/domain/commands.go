package domain

import (
	"fmt"
	"strings"

	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/timeline"
)

// Work-period actions accepted by Service.Apply.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// WorkPeriodCommand is the action-keyed mutation sent by the page.
type WorkPeriodCommand struct {
	Action       string   `json:"action"`
	ID           string   `json:"id,omitempty"`
	StartAge     *int     `json:"start_age,omitempty"`
	EndAge       *int     `json:"end_age,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	ContractType *string  `json:"contract_type,omitempty"`
	Salary       *float64 `json:"salary,omitempty"`
	Confirmed    bool     `json:"confirmed,omitempty"`
}

// WorkPeriodResult is the answer to a WorkPeriodCommand.
type WorkPeriodResult struct {
	Success  bool                      `json:"success"`
	Error    string                    `json:"error,omitempty"`
	Activity *timeline.PayloadActivity `json:"activity,omitempty"`
	Summary  pension.Summary           `json:"summary"`
}

func (c WorkPeriodCommand) kind() (timeline.Kind, error) {
	if strings.TrimSpace(c.Kind) == "" {
		return timeline.KindWork, nil
	}
	return timeline.ParseKind(c.Kind)
}

func (c WorkPeriodCommand) contract() (*pension.Contract, error) {
	if c.ContractType == nil {
		return nil, nil
	}
	contract, err := pension.ParseContract(*c.ContractType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrMissingWorkTerms, err)
	}
	return &contract, nil
}

func (c WorkPeriodCommand) detail() (timeline.Detail, error) {
	kind, err := c.kind()
	if err != nil {
		return nil, err
	}
	contract, err := c.contract()
	if err != nil {
		return nil, err
	}
	return timeline.NewDetail(kind, contract, c.Salary)
}

// Pointer event types.
const (
	PointerPress   = "press"
	PointerMove    = "move"
	PointerRelease = "release"
)

// Pointer targets.
const (
	TargetGrid   = "grid"
	TargetMarker = "marker"
)

// PointerEvent is a press, move or release forwarded from the page. Age is the
// grid cell under the pointer; Position, when set, is the pointer offset as a
// percentage of the grid width and takes precedence.
type PointerEvent struct {
	Type     string   `json:"event"`
	Target   string   `json:"target,omitempty"`
	Marker   string   `json:"marker,omitempty"`
	Age      int      `json:"age"`
	Position *float64 `json:"position,omitempty"`
}

func (ev PointerEvent) age(settings timeline.Settings) int {
	if ev.Position != nil {
		return timeline.AgeAt(settings, *ev.Position)
	}
	return ev.Age
}

func toPayloadActivity(a timeline.Activity) *timeline.PayloadActivity {
	state := timeline.State{Activities: []timeline.Activity{a}}
	pa := timeline.ToPayload(state).Activities[0]
	return &pa
}
