package timeline

import (
	"strconv"

	"example.com/retirement/internal/pension"
)

// AxisLabel is one label on the header axis. Left is a percentage of the grid width.
type AxisLabel struct {
	Age  int     `json:"age"`
	Text string  `json:"text"`
	Left float64 `json:"left"`
}

// Bar is the drawable form of an activity.
type Bar struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Contract string   `json:"contract_type,omitempty"`
	Salary   *float64 `json:"salary,omitempty"`
	StartAge int      `json:"start_age"`
	EndAge   int      `json:"end_age"`
	Row      int      `json:"row"`
	Label    string   `json:"label"`
	Left     float64  `json:"left"`
	Width    float64  `json:"width"`
}

// MarkerLine is a vertical reference line.
type MarkerLine struct {
	Marker    Marker  `json:"marker"`
	Age       int     `json:"age"`
	Label     string  `json:"label"`
	Left      float64 `json:"left"`
	Draggable bool    `json:"draggable"`
}

// SelectionBox is the overlay drawn while dragging.
type SelectionBox struct {
	StartAge int     `json:"start_age"`
	EndAge   int     `json:"end_age"`
	Left     float64 `json:"left"`
	Width    float64 `json:"width"`
}

// View is everything the page needs to draw the timeline.
type View struct {
	Mode             DisplayMode     `json:"mode"`
	MinAge           int             `json:"min_age"`
	MaxAge           int             `json:"max_age"`
	BirthYear        int             `json:"birth_year"`
	Labels           []AxisLabel     `json:"labels"`
	Lanes            int             `json:"lanes"`
	Bars             []Bar           `json:"bars"`
	Markers          []MarkerLine    `json:"markers"`
	Selection        *SelectionBox   `json:"selection,omitempty"`
	Prompt           *Prompt         `json:"prompt,omitempty"`
	Dragging         Marker          `json:"dragging,omitempty"`
	Summary          pension.Summary `json:"summary"`
	FormattedPension string          `json:"formatted_pension"`
}

// BuildView derives the view model from the editor state. It has no side effects.
func BuildView(state State, settings Settings, labelStep int) View {
	g := grid{min: settings.MinAge, max: settings.MaxAge}
	summary := pension.Estimate(WorkPeriods(state.Activities), state.Profile.Gender, settings.Estimate)

	view := View{
		Mode:             state.Mode,
		MinAge:           g.min,
		MaxAge:           g.max,
		BirthYear:        state.Profile.BirthYear,
		Lanes:            RowCount(state.Activities),
		Bars:             make([]Bar, 0, len(state.Activities)),
		Summary:          summary,
		FormattedPension: pension.FormatPLN(summary.EstimatedPension),
		Dragging:         state.Dragging,
	}

	if labelStep <= 0 {
		labelStep = 10
	}
	for age := g.min; age <= g.max; age += labelStep {
		view.Labels = append(view.Labels, AxisLabel{
			Age:  age,
			Text: axisText(state, age),
			Left: g.left(age),
		})
	}

	for _, a := range state.Activities {
		bar := Bar{
			ID:       a.ID,
			Kind:     a.Kind(),
			StartAge: a.StartAge,
			EndAge:   a.EndAge,
			Row:      a.Row,
			Label:    a.Label(),
			Left:     g.left(a.StartAge),
			Width:    g.width(a.StartAge, a.EndAge),
		}
		if w, ok := a.WorkTerms(); ok {
			salary := w.Salary
			bar.Contract = string(w.Contract)
			bar.Salary = &salary
		}
		view.Bars = append(view.Bars, bar)
	}

	for _, m := range []Marker{MarkerCurrentAge, MarkerLegalRetirement, MarkerPlannedRetirement} {
		age := markerAge(state.Profile, m)
		view.Markers = append(view.Markers, MarkerLine{
			Marker:    m,
			Age:       age,
			Label:     markerLabel(m),
			Left:      g.left(age),
			Draggable: m.Draggable(),
		})
	}

	if sel := state.Selection; sel != nil {
		view.Selection = &SelectionBox{
			StartAge: sel.Start,
			EndAge:   sel.End,
			Left:     g.left(sel.Start),
			Width:    g.width(sel.Start, sel.End),
		}
	}
	if state.Prompt != nil {
		p := *state.Prompt
		view.Prompt = &p
	}
	return view
}

func axisText(state State, age int) string {
	if state.Mode == ModeYear {
		return strconv.Itoa(state.Profile.BirthYear + age)
	}
	return strconv.Itoa(age)
}

func markerAge(p Profile, m Marker) int {
	switch m {
	case MarkerCurrentAge:
		return p.CurrentAge
	case MarkerLegalRetirement:
		return p.LegalRetirementAge
	default:
		return p.PlannedRetirementAge
	}
}

func markerLabel(m Marker) string {
	switch m {
	case MarkerCurrentAge:
		return "Today"
	case MarkerLegalRetirement:
		return "Legal retirement"
	default:
		return "Planned retirement"
	}
}

// grid converts ages into percentages of the grid width. Each age is one
// unit cell, so the grid holds max-min+1 cells.
type grid struct {
	min, max int
}

func (g grid) cells() int {
	if g.max < g.min {
		return 1
	}
	return g.max - g.min + 1
}

func (g grid) left(age int) float64 {
	return float64(age-g.min) / float64(g.cells()) * 100
}

func (g grid) width(start, end int) float64 {
	return float64(end-start+1) / float64(g.cells()) * 100
}

// AgeAt converts a pointer position, as a percentage of the grid width, into
// the age of the cell under it. Positions are clamped to the grid.
func AgeAt(settings Settings, percent float64) int {
	g := grid{min: settings.MinAge, max: settings.MaxAge}
	if percent < 0 {
		percent = 0
	}
	if percent >= 100 {
		return g.max
	}
	return g.min + int(percent/100*float64(g.cells()))
}
