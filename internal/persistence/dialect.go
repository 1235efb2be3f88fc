package persistence

import (
	"fmt"
	"strings"
)

// Dialect covers the few places Postgres and SQLite SQL differ for this schema
type Dialect struct {
	Name   string
	Driver string

	// numbered placeholders ($1) versus positional (?)
	numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Driver: "postgres", numbered: true}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite3"}
)

// DialectFor maps a driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("persistence: unsupported driver %q", driver)
	}
}

// Placeholder returns the n-th (1-based) bind marker
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Tuple returns "(p1, ..., pn)" starting after offset markers
func (d Dialect) Tuple(offset, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(offset + i + 1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
