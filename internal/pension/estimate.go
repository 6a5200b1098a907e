package pension

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Gender selects the life expectancy and legal retirement constants.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "K"
)

// ParseGender accepts M/K as well as the F spelling for women.
func ParseGender(raw string) (Gender, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M":
		return GenderMale, nil
	case "K", "F":
		return GenderFemale, nil
	}
	return "", fmt.Errorf("unknown gender %q", raw)
}

// LegalRetirementAge returns the statutory retirement age for the gender.
func LegalRetirementAge(g Gender) int {
	if g == GenderFemale {
		return 60
	}
	return 65
}

// WorkPeriod is the contribution-relevant view of a work activity.
type WorkPeriod struct {
	StartAge int
	EndAge   int
	Contract Contract
	Salary   float64
}

// Years returns the number of calendar years the period covers, both ends inclusive.
func (p WorkPeriod) Years() int {
	if p.EndAge < p.StartAge {
		return 0
	}
	return p.EndAge - p.StartAge + 1
}

// EstimateParams holds the constants of the quick estimate.
type EstimateParams struct {
	MaleLifeExpectancyMonths   int     `yaml:"male_life_expectancy_months"`
	FemaleLifeExpectancyMonths int     `yaml:"female_life_expectancy_months"`
	StandardRate               float64 `yaml:"standard_rate"`
}

// DefaultEstimateParams returns the constants used when nothing is configured.
func DefaultEstimateParams() EstimateParams {
	return EstimateParams{
		MaleLifeExpectancyMonths:   220,
		FemaleLifeExpectancyMonths: 260,
		StandardRate:               StandardRate,
	}
}

func (p EstimateParams) lifeExpectancy(g Gender) int {
	if g == GenderFemale {
		return p.FemaleLifeExpectancyMonths
	}
	return p.MaleLifeExpectancyMonths
}

func (p EstimateParams) rate(c Contract) float64 {
	if c.Rate() == 0 {
		return 0
	}
	return p.StandardRate
}

// Summary is the quick, non-authoritative pension estimate.
type Summary struct {
	TotalWorkYears       int     `json:"total_work_years"`
	TotalContributions   float64 `json:"total_contributions"`
	LifeExpectancyMonths int     `json:"life_expectancy_months"`
	EstimatedPension     float64 `json:"estimated_pension"`
}

// Estimate sums salary*12*years*rate over the work periods and divides the
// result by the gender's life expectancy in months.
func Estimate(periods []WorkPeriod, gender Gender, params EstimateParams) Summary {
	var summary Summary
	for _, p := range periods {
		years := p.Years()
		summary.TotalWorkYears += years
		summary.TotalContributions += p.Salary * 12 * float64(years) * params.rate(p.Contract)
	}
	summary.LifeExpectancyMonths = params.lifeExpectancy(gender)
	if summary.LifeExpectancyMonths > 0 {
		summary.EstimatedPension = summary.TotalContributions / float64(summary.LifeExpectancyMonths)
	}
	return summary
}

// FormatPLN renders an amount with space-separated thousands, e.g. "117 120.00 zł".
func FormatPLN(amount float64) string {
	negative := amount < 0
	raw := strconv.FormatFloat(math.Abs(roundCents(amount)), 'f', 2, 64)
	whole, frac, _ := strings.Cut(raw, ".")

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	b.WriteString(" zł")
	return b.String()
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
