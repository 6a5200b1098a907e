package timeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/retirement/internal/pension"
)

var (
	ErrActivityNotFound     = errors.New("activity not found")
	ErrNoPendingSelection   = errors.New("no selection awaiting an activity kind")
	ErrConfirmationRequired = errors.New("deleting an activity requires confirmation")
	ErrRangeOutOfBounds     = errors.New("age range is outside the timeline")
	ErrAgeOutOfBounds       = errors.New("age is outside the timeline")
)

// DisplayMode selects how axis labels are rendered.
type DisplayMode string

const (
	ModeAge  DisplayMode = "age"
	ModeYear DisplayMode = "year"
)

// Marker names a vertical reference line.
type Marker string

const (
	MarkerCurrentAge        Marker = "current_age"
	MarkerLegalRetirement   Marker = "legal_retirement"
	MarkerPlannedRetirement Marker = "planned_retirement"
)

// Draggable reports whether the owner may move the marker. The legal
// retirement age is fixed by gender.
func (m Marker) Draggable() bool {
	return m == MarkerCurrentAge || m == MarkerPlannedRetirement
}

// Settings bound the grid and parameterise the summary estimate.
type Settings struct {
	MinAge   int                    `yaml:"min_age"`
	MaxAge   int                    `yaml:"max_age"`
	Estimate pension.EstimateParams `yaml:"estimate"`
}

// DefaultSettings returns a 10-80 grid with the default estimate constants.
func DefaultSettings() Settings {
	return Settings{MinAge: 10, MaxAge: 80, Estimate: pension.DefaultEstimateParams()}
}

func (s Settings) contains(age int) bool {
	return age >= s.MinAge && age <= s.MaxAge
}

func (s Settings) clamp(age int) int {
	if age < s.MinAge {
		return s.MinAge
	}
	if age > s.MaxAge {
		return s.MaxAge
	}
	return age
}

// Selection is an in-progress drag over the grid.
type Selection struct {
	Start int
	End   int
	// Reversed is set while the pointer sits left of Start.
	Reversed bool
}

// Prompt is a committed selection waiting for the owner to pick a kind.
type Prompt struct {
	StartAge int `json:"start_age"`
	EndAge   int `json:"end_age"`
}

// State is the complete editor state. Rendering is a function of State only.
type State struct {
	Profile    Profile
	Activities []Activity
	Mode       DisplayMode
	Selection  *Selection
	Prompt     *Prompt
	Dragging   Marker
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Activities = append([]Activity(nil), s.Activities...)
	if s.Selection != nil {
		sel := *s.Selection
		out.Selection = &sel
	}
	if s.Prompt != nil {
		p := *s.Prompt
		out.Prompt = &p
	}
	return out
}

// Option customises an Editor.
type Option func(*Editor)

// WithIDGenerator overrides how activity IDs are produced.
func WithIDGenerator(fn func() string) Option {
	return func(e *Editor) {
		e.newID = fn
	}
}

// Editor owns the activity list and the interaction state of one timeline.
// It is not safe for concurrent use; callers serialise events.
type Editor struct {
	settings Settings
	state    State
	newID    func() string
}

// NewEditor constructs an empty editor for the profile.
func NewEditor(settings Settings, profile Profile, opts ...Option) *Editor {
	e := &Editor{
		settings: settings,
		state:    State{Profile: profile, Mode: ModeAge},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings returns the editor's grid settings.
func (e *Editor) Settings() Settings {
	return e.settings
}

// Snapshot returns a copy of the current state.
func (e *Editor) Snapshot() State {
	return e.state.Clone()
}

// Restore replaces the state with a snapshot taken earlier.
func (e *Editor) Restore(s State) {
	e.state = s.Clone()
}

// Activities returns a copy of the stored activities.
func (e *Editor) Activities() []Activity {
	return append([]Activity(nil), e.state.Activities...)
}

// Profile returns the current profile.
func (e *Editor) Profile() Profile {
	return e.state.Profile
}

// Activity looks an activity up by ID.
func (e *Editor) Activity(id string) (Activity, bool) {
	if i := e.indexOf(id); i >= 0 {
		return e.state.Activities[i], true
	}
	return Activity{}, false
}

// BeginSelection anchors a new drag at age. It does nothing when age is off
// the grid, when a marker is being dragged or while a prompt is open.
func (e *Editor) BeginSelection(age int) bool {
	if !e.settings.contains(age) || e.state.Dragging != "" || e.state.Prompt != nil {
		return false
	}
	e.state.Selection = &Selection{Start: age, End: age}
	return true
}

// ExtendSelection moves the end of the drag. Only rightward extension is
// honoured: a position left of the anchor is ignored.
func (e *Editor) ExtendSelection(age int) bool {
	sel := e.state.Selection
	if sel == nil {
		return false
	}
	age = e.settings.clamp(age)
	if age < sel.Start {
		sel.Reversed = true
		return false
	}
	sel.End = age
	sel.Reversed = false
	return true
}

// CommitSelection ends the drag. A forward selection opens the kind prompt;
// anything else is discarded.
func (e *Editor) CommitSelection() (*Prompt, bool) {
	sel := e.state.Selection
	e.state.Selection = nil
	if sel == nil || sel.Reversed || sel.End < sel.Start {
		return nil, false
	}
	e.state.Prompt = &Prompt{StartAge: sel.Start, EndAge: sel.End}
	p := *e.state.Prompt
	return &p, true
}

// CancelPrompt dismisses an open prompt without creating an activity.
func (e *Editor) CancelPrompt() {
	e.state.Prompt = nil
}

// ChooseKind answers the open prompt and stores the new activity.
func (e *Editor) ChooseKind(kind Kind, contract *pension.Contract, salary *float64) (Activity, error) {
	if e.state.Prompt == nil {
		return Activity{}, ErrNoPendingSelection
	}
	detail, err := NewDetail(kind, contract, salary)
	if err != nil {
		return Activity{}, err
	}
	prompt := *e.state.Prompt
	a, err := e.place(e.newID(), prompt.StartAge, prompt.EndAge, detail)
	if err != nil {
		return Activity{}, err
	}
	e.state.Prompt = nil
	return a, nil
}

// AddActivity stores an activity for an explicit range, bypassing the drag.
func (e *Editor) AddActivity(start, end int, detail Detail) (Activity, error) {
	return e.place(e.newID(), start, end, detail)
}

func (e *Editor) place(id string, start, end int, detail Detail) (Activity, error) {
	if detail == nil {
		return Activity{}, ErrUnknownKind
	}
	if start > end || !e.settings.contains(start) || !e.settings.contains(end) {
		return Activity{}, fmt.Errorf("%w: [%d, %d]", ErrRangeOutOfBounds, start, end)
	}
	if id == "" || e.indexOf(id) >= 0 {
		id = e.newID()
	}
	a := Activity{
		ID:       id,
		StartAge: start,
		EndAge:   end,
		Row:      AssignRow(e.state.Activities, start, end),
		Detail:   detail,
	}
	e.state.Activities = append(e.state.Activities, a)
	return a, nil
}

// EditActivity swaps the kind-specific detail of an activity in place. The
// age range and row are kept.
func (e *Editor) EditActivity(id string, kind Kind, contract *pension.Contract, salary *float64) (Activity, error) {
	i := e.indexOf(id)
	if i < 0 {
		return Activity{}, ErrActivityNotFound
	}
	detail, err := NewDetail(kind, contract, salary)
	if err != nil {
		return Activity{}, err
	}
	e.state.Activities[i].Detail = detail
	return e.state.Activities[i], nil
}

// DeleteActivity removes an activity once the owner has confirmed.
func (e *Editor) DeleteActivity(id string, confirmed bool) (Activity, error) {
	i := e.indexOf(id)
	if i < 0 {
		return Activity{}, ErrActivityNotFound
	}
	if !confirmed {
		return Activity{}, ErrConfirmationRequired
	}
	removed := e.state.Activities[i]
	e.state.Activities = append(e.state.Activities[:i:i], e.state.Activities[i+1:]...)
	return removed, nil
}

// ToggleDisplayMode flips axis labels between ages and calendar years.
func (e *Editor) ToggleDisplayMode() DisplayMode {
	if e.state.Mode == ModeYear {
		e.state.Mode = ModeAge
	} else {
		e.state.Mode = ModeYear
	}
	return e.state.Mode
}

// BeginMarkerDrag starts dragging a marker. It is refused while a range
// selection is active or a prompt is open.
func (e *Editor) BeginMarkerDrag(m Marker) bool {
	if !m.Draggable() || e.state.Selection != nil || e.state.Prompt != nil || e.state.Dragging != "" {
		return false
	}
	e.state.Dragging = m
	return true
}

// MoveMarker places the dragged marker at age, clamped to the grid.
func (e *Editor) MoveMarker(age int) bool {
	if e.state.Dragging == "" {
		return false
	}
	e.setMarker(e.state.Dragging, e.settings.clamp(age))
	return true
}

// EndMarkerDrag releases the dragged marker and reports its final age.
func (e *Editor) EndMarkerDrag() (Marker, int, bool) {
	m := e.state.Dragging
	if m == "" {
		return "", 0, false
	}
	e.state.Dragging = ""
	return m, e.MarkerAge(m), true
}

// MarkerAge returns the age a marker is drawn at.
func (e *Editor) MarkerAge(m Marker) int {
	return markerAge(e.state.Profile, m)
}

func (e *Editor) setMarker(m Marker, age int) {
	p := &e.state.Profile
	switch m {
	case MarkerCurrentAge:
		p.BirthYear += p.CurrentAge - age
		p.CurrentAge = age
	case MarkerPlannedRetirement:
		p.PlannedRetirementAge = age
	}
}

// SetPlannedRetirement moves the planned retirement marker directly.
func (e *Editor) SetPlannedRetirement(age int) error {
	if !e.settings.contains(age) {
		return fmt.Errorf("%w: %d", ErrAgeOutOfBounds, age)
	}
	e.state.Profile.PlannedRetirementAge = age
	return nil
}

// UpdateProfile changes the current age and gender. The legal retirement
// age follows the gender.
func (e *Editor) UpdateProfile(currentAge int, gender pension.Gender, currentYear int) error {
	if !e.settings.contains(currentAge) {
		return fmt.Errorf("%w: %d", ErrAgeOutOfBounds, currentAge)
	}
	p := &e.state.Profile
	p.CurrentAge = currentAge
	p.BirthYear = currentYear - currentAge
	p.Gender = gender
	p.LegalRetirementAge = pension.LegalRetirementAge(gender)
	return nil
}

// RecomputePensionSummary derives the quick estimate from the work activities.
func (e *Editor) RecomputePensionSummary() pension.Summary {
	return pension.Estimate(WorkPeriods(e.state.Activities), e.state.Profile.Gender, e.settings.Estimate)
}

func (e *Editor) indexOf(id string) int {
	for i, a := range e.state.Activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}
