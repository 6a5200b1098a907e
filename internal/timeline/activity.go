// Package timeline implements the interactive life timeline: a bounded age
// grid on which the owner drags out periods of work, sick leave and breaks,
// together with the retirement markers and the derived pension summary.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"example.com/retirement/internal/pension"
)

// Kind enumerates the activity variants.
type Kind string

const (
	KindWork      Kind = "work"
	KindSickLeave Kind = "sick_leave"
	KindBreak     Kind = "break"
)

// ParseKind resolves a kind name, accepting dashes and upper case.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch k {
	case KindWork, KindSickLeave, KindBreak:
		return k, nil
	case "sickleave":
		return KindSickLeave, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

var (
	ErrUnknownKind         = errors.New("unknown activity kind")
	ErrMissingWorkTerms    = errors.New("work requires a contract type and a positive salary")
	ErrUnexpectedWorkTerms = errors.New("contract type and salary are only allowed for work")
)

// Detail is the kind-specific part of an Activity. The set of
// implementations is closed: Work, SickLeave and Break.
type Detail interface {
	Kind() Kind
	isDetail()
}

// Work carries the contract and monthly gross salary of a work period.
type Work struct {
	Contract pension.Contract
	Salary   float64
}

// SickLeave marks a period of sick leave.
type SickLeave struct{}

// Break marks a period without work.
type Break struct{}

func (Work) Kind() Kind      { return KindWork }
func (SickLeave) Kind() Kind { return KindSickLeave }
func (Break) Kind() Kind     { return KindBreak }

func (Work) isDetail()      {}
func (SickLeave) isDetail() {}
func (Break) isDetail()     {}

// MaxSalary is the exclusive upper bound of a monthly salary; salaries are
// stored with two decimal places and at most ten integer digits.
const MaxSalary = 1e10

// NewDetail builds the variant for kind. Salaries are rounded to grosze. Contract and salary must be given
// exactly when kind is work: a nil contract and a nil salary mean "absent".
func NewDetail(kind Kind, contract *pension.Contract, salary *float64) (Detail, error) {
	switch kind {
	case KindWork:
		if contract == nil || salary == nil {
			return nil, ErrMissingWorkTerms
		}
		if !contract.Valid() {
			return nil, fmt.Errorf("%w: unknown contract %q", ErrMissingWorkTerms, *contract)
		}
		amount := math.Round(*salary*100) / 100
		if !(amount > 0 && amount < MaxSalary) {
			return nil, fmt.Errorf("%w: salary %v outside (0, %v)", ErrMissingWorkTerms, *salary, MaxSalary)
		}
		return Work{Contract: *contract, Salary: amount}, nil
	case KindSickLeave, KindBreak:
		if contract != nil || salary != nil {
			return nil, ErrUnexpectedWorkTerms
		}
		if kind == KindSickLeave {
			return SickLeave{}, nil
		}
		return Break{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Activity is a recorded life period on the timeline.
type Activity struct {
	ID       string
	StartAge int
	EndAge   int
	Row      int
	Detail   Detail
}

// Kind is a shorthand for a.Detail.Kind().
func (a Activity) Kind() Kind {
	if a.Detail == nil {
		return ""
	}
	return a.Detail.Kind()
}

// WorkTerms returns the work detail when the activity is a work period.
func (a Activity) WorkTerms() (Work, bool) {
	w, ok := a.Detail.(Work)
	return w, ok
}

// Years returns the inclusive length of the activity in years.
func (a Activity) Years() int {
	return a.EndAge - a.StartAge + 1
}

// Label is the text drawn on the activity bar.
func (a Activity) Label() string {
	switch d := a.Detail.(type) {
	case Work:
		return d.Contract.Label()
	case SickLeave:
		return "Sick leave"
	case Break:
		return "Break"
	}
	return ""
}

// WorkPeriods extracts the contribution-relevant work periods.
func WorkPeriods(activities []Activity) []pension.WorkPeriod {
	out := make([]pension.WorkPeriod, 0, len(activities))
	for _, a := range activities {
		if w, ok := a.WorkTerms(); ok {
			out = append(out, pension.WorkPeriod{
				StartAge: a.StartAge,
				EndAge:   a.EndAge,
				Contract: w.Contract,
				Salary:   w.Salary,
			})
		}
	}
	return out
}
