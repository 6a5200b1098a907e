// Package pension holds the contribution tables and the two pension
// estimates used by the timeline: the quick summary shown next to the
// timeline and the fuller valorised forecast.
package pension

import (
	"fmt"
	"strings"
)

// Contract identifies the legal form of a work period.
type Contract string

const (
	ContractEmployment Contract = "EMPLOYMENT"
	ContractMandate    Contract = "MANDATE"
	ContractTask       Contract = "TASK"
	ContractBusiness   Contract = "BUSINESS"
	ContractB2B        Contract = "B2B"
)

// Contracts lists every supported contract in display order.
var Contracts = []Contract{
	ContractEmployment,
	ContractMandate,
	ContractTask,
	ContractBusiness,
	ContractB2B,
}

var contractLabels = map[Contract]string{
	ContractEmployment: "Employment contract",
	ContractMandate:    "Mandate contract",
	ContractTask:       "Task contract",
	ContractBusiness:   "Own business",
	ContractB2B:        "B2B contract",
}

// StandardRate is the pension contribution rate applied to contributing contracts.
const StandardRate = 0.1952

// ParseContract resolves a contract code, accepting any letter case.
func ParseContract(raw string) (Contract, error) {
	c := Contract(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := contractLabels[c]; !ok {
		return "", fmt.Errorf("unknown contract type %q", raw)
	}
	return c, nil
}

// Valid reports whether c is one of the supported contracts.
func (c Contract) Valid() bool {
	_, ok := contractLabels[c]
	return ok
}

// Label returns the human readable contract name.
func (c Contract) Label() string {
	if label, ok := contractLabels[c]; ok {
		return label
	}
	return string(c)
}

// Rate returns the contribution rate for the contract. Task contracts and
// B2B engagements do not contribute.
func (c Contract) Rate() float64 {
	switch c {
	case ContractTask, ContractB2B:
		return 0
	default:
		return StandardRate
	}
}

// subjectToMinimumBase reports whether contributions are computed from at
// least the statutory minimum salary.
func (c Contract) subjectToMinimumBase() bool {
	switch c {
	case ContractEmployment, ContractMandate, ContractBusiness:
		return true
	}
	return false
}
