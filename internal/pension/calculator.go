package pension

import "math"

const (
	// MinimumContributionBase is the monthly salary floor for contributing contracts.
	MinimumContributionBase = 4300.00
	// ValorizationRate is the average yearly indexation of recorded contributions.
	ValorizationRate = 1.035
	// MinimumPension applies once the owner has enough contribution years.
	MinimumPension = 1780.96
	// MinimumPensionYears is the number of work years that entitles to MinimumPension.
	MinimumPensionYears = 20
)

// lifeExpectancyTable lists average remaining life in months by retirement age.
var lifeExpectancyTable = map[int]map[Gender]int{
	60: {GenderFemale: 254, GenderMale: 210},
	61: {GenderFemale: 244, GenderMale: 202},
	62: {GenderFemale: 235, GenderMale: 194},
	63: {GenderFemale: 226, GenderMale: 186},
	64: {GenderFemale: 217, GenderMale: 178},
	65: {GenderFemale: 208, GenderMale: 170},
	66: {GenderFemale: 200, GenderMale: 162},
	67: {GenderFemale: 192, GenderMale: 154},
	68: {GenderFemale: 184, GenderMale: 147},
	69: {GenderFemale: 176, GenderMale: 140},
	70: {GenderFemale: 169, GenderMale: 133},
}

// YearContribution is a single calendar year's annual contribution.
type YearContribution struct {
	Year   int     `json:"year"`
	Amount float64 `json:"amount"`
}

// Forecast is the result of the valorised pension calculation.
type Forecast struct {
	MonthlyPension       float64            `json:"monthly_pension"`
	TotalContributions   float64            `json:"total_contributions"`
	LifeExpectancyMonths int                `json:"life_expectancy_months"`
	TotalWorkYears       int                `json:"total_work_years"`
	RetirementAge        int                `json:"retirement_age"`
	Breakdown            []YearContribution `json:"breakdown"`
}

// ForecastInput describes the owner the forecast is computed for.
type ForecastInput struct {
	BirthYear     int
	Gender        Gender
	RetirementAge int
	Periods       []WorkPeriod
}

// Calculator produces valorised forecasts relative to CurrentYear.
type Calculator struct {
	CurrentYear int
}

// NewCalculator constructs a Calculator anchored at currentYear.
func NewCalculator(currentYear int) *Calculator {
	return &Calculator{CurrentYear: currentYear}
}

// MonthlyContribution returns the contribution for one month of salary,
// rounded to the grosz.
func (c *Calculator) MonthlyContribution(salary float64, contract Contract) float64 {
	if contract.subjectToMinimumBase() {
		salary = math.Max(salary, MinimumContributionBase)
	}
	return roundCents(salary * contract.Rate())
}

// AnnualContribution returns twelve monthly contributions.
func (c *Calculator) AnnualContribution(salary float64, contract Contract) float64 {
	return c.MonthlyContribution(salary, contract) * 12
}

// Valorize indexes each yearly contribution up to the current year and sums them.
func (c *Calculator) Valorize(contributions []YearContribution) float64 {
	var total float64
	for _, yc := range contributions {
		total += yc.Amount * math.Pow(ValorizationRate, float64(c.CurrentYear-yc.Year))
	}
	return roundCents(total)
}

// LifeExpectancyMonths looks the retirement age up in the table and
// extrapolates outside of it.
func (c *Calculator) LifeExpectancyMonths(retirementAge int, gender Gender) int {
	if gender != GenderFemale {
		gender = GenderMale
	}
	if row, ok := lifeExpectancyTable[retirementAge]; ok {
		return row[gender]
	}
	if retirementAge < 60 {
		return lifeExpectancyTable[60][gender] + (60-retirementAge)*12
	}
	months := lifeExpectancyTable[70][gender] - (retirementAge-70)*6
	if months < 120 {
		return 120
	}
	return months
}

// Calculate computes the valorised forecast for the input.
func (c *Calculator) Calculate(in ForecastInput) Forecast {
	var forecast Forecast
	for _, p := range in.Periods {
		annual := c.AnnualContribution(p.Salary, p.Contract)
		for age := p.StartAge; age <= p.EndAge; age++ {
			forecast.Breakdown = append(forecast.Breakdown, YearContribution{
				Year:   in.BirthYear + age,
				Amount: annual,
			})
			forecast.TotalWorkYears++
		}
	}

	forecast.TotalContributions = c.Valorize(forecast.Breakdown)
	forecast.RetirementAge = in.RetirementAge
	forecast.LifeExpectancyMonths = c.LifeExpectancyMonths(in.RetirementAge, in.Gender)

	if forecast.LifeExpectancyMonths > 0 {
		forecast.MonthlyPension = forecast.TotalContributions / float64(forecast.LifeExpectancyMonths)
	}
	if forecast.MonthlyPension < MinimumPension && forecast.TotalWorkYears >= MinimumPensionYears {
		forecast.MonthlyPension = MinimumPension
	}
	forecast.MonthlyPension = roundCents(forecast.MonthlyPension)
	return forecast
}

// ReplacementRate returns pension as a percentage of the last salary, one decimal.
func ReplacementRate(pension, lastSalary float64) float64 {
	if lastSalary <= 0 {
		return 0
	}
	return math.Round(pension/lastSalary*1000) / 10
}
