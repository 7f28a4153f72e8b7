// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package query provides parameterized SQL fragment builders for the
// database package.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
//
//	wb := query.NewWhereBuilder()
//	wb.AddClause("s.cohort_id = ?", cohortID)
//	wb.AddMin("s.watchers", 5)
//	where, args := wb.BuildWithPrefix()
//	// WHERE s.cohort_id = ? AND s.watchers >= ?
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates an empty WhereBuilder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause adds a raw condition with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddMin adds "column >= ?" when min is positive.
func (wb *WhereBuilder) AddMin(column string, min int) *WhereBuilder {
	if min > 0 {
		wb.AddClause(column+" >= ?", min)
	}
	return wb
}

// AddTimeRange adds inclusive bounds on a timestamp column. Nil bounds are skipped.
func (wb *WhereBuilder) AddTimeRange(column string, since, until *time.Time) *WhereBuilder {
	if since != nil {
		wb.AddClause(column+" >= ?", *since)
	}
	if until != nil {
		wb.AddClause(column+" <= ?", *until)
	}
	return wb
}

// AddStrings adds "column IN (?, ...)". An empty list is skipped.
func (wb *WhereBuilder) AddStrings(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return wb.AddClause(fmt.Sprintf("%s IN (%s)", column, Placeholders(len(values))), args...)
}

// AddInt64s adds "column IN (?, ...)". An empty list is skipped.
func (wb *WhereBuilder) AddInt64s(column string, values []int64) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return wb.AddClause(fmt.Sprintf("%s IN (%s)", column, Placeholders(len(values))), args...)
}

// Build returns the joined clauses and their arguments. An empty builder
// yields "1=1".
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns Build prefixed with "WHERE ".
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	clause, args := wb.Build()
	return "WHERE " + clause, args
}

// IsEmpty reports whether no clauses were added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}

// Placeholders returns n comma-separated "?" placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
