package executor

import (
	"fmt"
	"slices"
)

// SQLUnit is one SQL text with its ordered parameters. It cannot be changed
// after creation; decorators that rewrite SQL build a new unit.
type SQLUnit struct {
	sql        string
	parameters []any
}

// NewSQLUnit creates a unit. The parameters are copied.
func NewSQLUnit(sql string, parameters ...any) SQLUnit {
	return SQLUnit{sql: sql, parameters: slices.Clone(parameters)}
}

// SQL returns the statement text.
func (u SQLUnit) SQL() string { return u.sql }

// Parameters returns a copy of the statement parameters.
func (u SQLUnit) Parameters() []any { return slices.Clone(u.parameters) }

// WithSQL returns a unit with the same parameters and different text.
func (u SQLUnit) WithSQL(sql string) SQLUnit {
	return SQLUnit{sql: sql, parameters: u.parameters}
}

func (u SQLUnit) String() string {
	if len(u.parameters) == 0 {
		return u.sql
	}
	return fmt.Sprintf("%s %v", u.sql, u.parameters)
}

// ExecutionUnit targets one SQL unit at one data source.
type ExecutionUnit struct {
	DataSourceName string
	SQLUnit        SQLUnit
}

// NewExecutionUnit is a shorthand for building an ExecutionUnit.
func NewExecutionUnit(dataSourceName, sql string, parameters ...any) ExecutionUnit {
	return ExecutionUnit{DataSourceName: dataSourceName, SQLUnit: NewSQLUnit(sql, parameters...)}
}

// RouteContext describes the routing that produced the units. The executor
// does not look inside it; it is handed to decorators unchanged.
type RouteContext struct {
	// RuleTypes lists the rules that took part in routing.
	RuleTypes []string
	// Attributes carries router specific values.
	Attributes map[string]string
}

// HasRule reports whether ruleType took part in routing.
func (r *RouteContext) HasRule(ruleType string) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.RuleTypes, ruleType)
}
