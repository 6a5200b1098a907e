package timeline

import (
	"encoding/json"
	"strings"

	"example.com/retirement/internal/pension"
)

// Default profile values used when no payload is available.
const (
	DefaultCurrentAge = 30
	DefaultGender     = pension.GenderMale
)

// Profile holds the owner data the timeline markers are drawn from.
type Profile struct {
	CurrentAge           int
	Gender               pension.Gender
	BirthYear            int
	LegalRetirementAge   int
	PlannedRetirementAge int
}

// DefaultProfile returns the profile used when nothing else is known.
func DefaultProfile(currentYear int) Profile {
	legal := pension.LegalRetirementAge(DefaultGender)
	return Profile{
		CurrentAge:           DefaultCurrentAge,
		Gender:               DefaultGender,
		BirthYear:            currentYear - DefaultCurrentAge,
		LegalRetirementAge:   legal,
		PlannedRetirementAge: legal,
	}
}

// Payload is the structured document embedded in the page at startup.
type Payload struct {
	CurrentAge           *int              `json:"current_age"`
	Gender               string            `json:"gender"`
	BirthYear            *int              `json:"birth_year"`
	LegalRetirementAge   *int              `json:"legal_retirement_age"`
	PlannedRetirementAge *int              `json:"planned_retirement_age"`
	Activities           []PayloadActivity `json:"activities"`
}

// PayloadActivity is a stored activity as it appears in the payload.
type PayloadActivity struct {
	ID           string   `json:"id"`
	StartAge     int      `json:"start_age"`
	EndAge       int      `json:"end_age"`
	Kind         string   `json:"kind"`
	ContractType *string  `json:"contract_type,omitempty"`
	Salary       *float64 `json:"salary,omitempty"`
}

// LoadPayload builds an editor from the embedded payload. A missing or
// malformed payload yields the default profile; activities that do not
// validate are dropped and the rest are laid out first-fit in payload order.
func LoadPayload(raw []byte, settings Settings, currentYear int, opts ...Option) *Editor {
	editor := NewEditor(settings, DefaultProfile(currentYear), opts...)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return editor
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return editor
	}

	editor.state.Profile = payload.profile(settings, currentYear)
	for _, pa := range payload.Activities {
		detail, err := pa.detail()
		if err != nil {
			continue
		}
		if _, err := editor.place(pa.ID, pa.StartAge, pa.EndAge, detail); err != nil {
			continue
		}
	}
	return editor
}

func (p Payload) profile(settings Settings, currentYear int) Profile {
	profile := DefaultProfile(currentYear)
	if gender, err := pension.ParseGender(p.Gender); err == nil {
		profile.Gender = gender
		profile.LegalRetirementAge = pension.LegalRetirementAge(gender)
		profile.PlannedRetirementAge = profile.LegalRetirementAge
	}
	if p.CurrentAge != nil && settings.contains(*p.CurrentAge) {
		profile.CurrentAge = *p.CurrentAge
		profile.BirthYear = currentYear - profile.CurrentAge
	}
	if p.BirthYear != nil && *p.BirthYear > 0 {
		profile.BirthYear = *p.BirthYear
	}
	if p.LegalRetirementAge != nil && settings.contains(*p.LegalRetirementAge) {
		profile.LegalRetirementAge = *p.LegalRetirementAge
	}
	if p.PlannedRetirementAge != nil && settings.contains(*p.PlannedRetirementAge) {
		profile.PlannedRetirementAge = *p.PlannedRetirementAge
	}
	return profile
}

func (pa PayloadActivity) detail() (Detail, error) {
	kind, err := ParseKind(pa.Kind)
	if err != nil {
		return nil, err
	}
	var contract *pension.Contract
	if pa.ContractType != nil {
		c, err := pension.ParseContract(*pa.ContractType)
		if err != nil {
			return nil, err
		}
		contract = &c
	}
	return NewDetail(kind, contract, pa.Salary)
}

// ToPayload converts the editor state back into the payload document.
func ToPayload(state State) Payload {
	profile := state.Profile
	payload := Payload{
		CurrentAge:           &profile.CurrentAge,
		Gender:               string(profile.Gender),
		BirthYear:            &profile.BirthYear,
		LegalRetirementAge:   &profile.LegalRetirementAge,
		PlannedRetirementAge: &profile.PlannedRetirementAge,
		Activities:           make([]PayloadActivity, 0, len(state.Activities)),
	}
	for _, a := range state.Activities {
		pa := PayloadActivity{
			ID:       a.ID,
			StartAge: a.StartAge,
			EndAge:   a.EndAge,
			Kind:     string(a.Kind()),
		}
		if w, ok := a.WorkTerms(); ok {
			contract := string(w.Contract)
			salary := w.Salary
			pa.ContractType = &contract
			pa.Salary = &salary
		}
		payload.Activities = append(payload.Activities, pa)
	}
	return payload
}
