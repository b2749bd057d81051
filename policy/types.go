/*
Package policy holds the leave policy catalog.

PURPOSE:
  Leave types, leave policies (named bundles of per-type rules), the
  per-(policy, leave type) TypeRules configuration, and resolution of the
  policy that applies to an employee.

KEY CONCEPTS:
  LeaveType:  what kind of leave (annual, sick, ...), paid or unpaid
  Policy:     a named bundle, matched to employees by an expression
  TypeRules:  quota, accrual, application, restriction, sandwich,
              approval and year-end rules for one leave type in one policy
  Catalog:    operations over the above, enforcing the single-default
              and one-rules-per-type invariants

SEE ALSO:
  - rules.go: TypeRules sub-configurations (tagged unions)
  - expression.go: appliesTo expression language
  - catalog.go: Catalog operations
*/
package policy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

type LeaveTypeID string
type PolicyID string
type RulesID string

// LeaveType has no update path; a changed type is a new type.
type LeaveType struct {
	ID             LeaveTypeID
	TenantID       string
	Code           string
	Name           string
	IsPaid         bool
	MaxDaysPerYear *decimal.Decimal
	CreatedAt      time.Time
}

type Policy struct {
	ID        PolicyID
	TenantID  string
	Name      string
	AppliesTo string
	IsDefault bool
	CreatedAt time.Time
}

// Employee is the view of an employee the engine needs. It is supplied by
// the directory collaborator.
type Employee struct {
	ID               generic.EntityID
	TenantID         string
	Name             string
	DepartmentID     string
	Location         string
	JoinDate         generic.TimePoint
	ProbationEndDate *generic.TimePoint
	NoticeStartDate  *generic.TimePoint
	Attributes       map[string]string
}

// Attribute looks up an attribute by name, case-insensitively. Built-in
// fields shadow free-form attributes.
func (e Employee) Attribute(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "id":
		return string(e.ID), true
	case "department", "department_id":
		return e.DepartmentID, e.DepartmentID != ""
	case "location":
		return e.Location, e.Location != ""
	}
	for k, v := range e.Attributes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// InNoticePeriod reports whether the employee is serving notice on a date.
func (e Employee) InNoticePeriod(on generic.TimePoint) bool {
	return e.NoticeStartDate != nil && on.AfterOrEqual(*e.NoticeStartDate)
}
