package database

import (
	"fmt"
	"strings"
)

// queryBuilder builds parameterized WHERE clauses for dynamic queries.
type queryBuilder struct {
	where  []string
	args   []any
	argIdx int
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{argIdx: 1}
}

// Add appends a WHERE condition. The clause should contain %s which will be replaced with $N.
func (qb *queryBuilder) Add(clause string, val any) {
	qb.where = append(qb.where, strings.Replace(clause, "%s", qb.next(), 1))
	qb.args = append(qb.args, val)
}

// AddRaw appends a WHERE condition with no parameters.
func (qb *queryBuilder) AddRaw(clause string) {
	qb.where = append(qb.where, clause)
}

// Param appends a bare argument (LIMIT, OFFSET) and returns its placeholder.
func (qb *queryBuilder) Param(val any) string {
	p := qb.next()
	qb.args = append(qb.args, val)
	return p
}

func (qb *queryBuilder) next() string {
	p := fmt.Sprintf("$%d", qb.argIdx)
	qb.argIdx++
	return p
}

// WhereClause returns the full WHERE clause (including "WHERE") or empty string if no conditions.
func (qb *queryBuilder) WhereClause() string {
	if len(qb.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(qb.where, " AND ")
}

// Args returns all accumulated arguments.
func (qb *queryBuilder) Args() []any {
	return qb.args
}

// pqString converts "" to nil so PostgreSQL stores NULL.
func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// escapeLike escapes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
