package sqlstore

import (
	"strconv"
	"strings"
)

// dialect captures the few places SQLite and Postgres disagree.
type dialect struct {
	name      string
	driver    string
	boolType  string
	floatType string
	greatest  string
	unlimited string
	dollar    bool
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite",
		boolType:  "INTEGER",
		floatType: "REAL",
		greatest:  "MAX",
		unlimited: "-1",
	}
	postgresDialect = dialect{
		name:      "postgres",
		driver:    "postgres",
		boolType:  "BOOLEAN",
		floatType: "DOUBLE PRECISION",
		greatest:  "GREATEST",
		unlimited: "ALL",
		dollar:    true,
	}
)

// rebind rewrites ? placeholders as $1, $2, ... for Postgres. Queries in this
// package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.dollar || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// page appends LIMIT and OFFSET clauses.
func (d dialect) page(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += " LIMIT ?"
		args = append(args, limit)
	case offset > 0:
		query += " LIMIT " + d.unlimited
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
