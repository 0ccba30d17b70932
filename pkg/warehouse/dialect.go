package warehouse

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported warehouses.
type Dialect string

const (
	Snowflake Dialect = "snowflake"
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	SQLite    Dialect = "sqlite"
)

// ParseDialect maps a --driver value to a Dialect. Empty means Snowflake.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "snowflake":
		return Snowflake, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", s)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	default:
		return string(d)
	}
}

// Placeholder returns the bind marker for the n-th (1-based) parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// QuoteIdent quotes a single identifier, escaping embedded quote characters.
func (d Dialect) QuoteIdent(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// FoldCase applies the warehouse's folding of unquoted identifiers.
func (d Dialect) FoldCase(name string) string {
	switch d {
	case Snowflake:
		return strings.ToUpper(name)
	case Postgres:
		return strings.ToLower(name)
	default:
		return name
	}
}

// SupportsStreams reports whether change streams can be read transactionally.
func (d Dialect) SupportsStreams() bool {
	return d == Snowflake
}

// ColumnsQuery returns the catalog query listing an object's columns in
// ordinal order, with its bind arguments. The query yields one column.
func (d Dialect) ColumnsQuery(id Identifier) (string, []any) {
	database, schema, object := id.catalogParts(d)

	switch d {
	case SQLite:
		if schema != "" {
			return "SELECT name FROM pragma_table_info(?, ?) ORDER BY cid", []any{object, schema}
		}
		return "SELECT name FROM pragma_table_info(?) ORDER BY cid", []any{object}

	case Snowflake:
		catalog := "INFORMATION_SCHEMA.COLUMNS"
		if database != "" {
			catalog = id.parts[0].render(d) + "." + catalog
		}
		q := "SELECT COLUMN_NAME FROM " + catalog + " WHERE TABLE_NAME = ?"
		args := []any{object}
		if schema != "" {
			q += " AND TABLE_SCHEMA = ?"
			args = append(args, schema)
		} else {
			q += " AND TABLE_SCHEMA = CURRENT_SCHEMA()"
		}
		return q + " ORDER BY ORDINAL_POSITION", args

	default:
		q := "SELECT column_name FROM information_schema.columns WHERE table_name = " + d.Placeholder(1)
		args := []any{object}
		switch {
		case schema != "":
			q += " AND table_schema = " + d.Placeholder(2)
			args = append(args, schema)
		case d == Postgres:
			q += " AND table_schema = current_schema()"
		default:
			q += " AND table_schema = DATABASE()"
		}
		return q + " ORDER BY ordinal_position", args
	}
}

func (p identPart) render(d Dialect) string {
	if p.quoted {
		return d.QuoteIdent(p.name)
	}
	return p.name
}
